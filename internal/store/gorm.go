package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/snaprepair/backend/internal/models"
)

// NewGormStores builds every repository on top of one gorm connection.
func NewGormStores(db *gorm.DB) *Stores {
	return &Stores{
		Users:    &gormUserStore{db: db},
		Issues:   &gormIssueStore{db: db},
		Messages: &gormMessageStore{db: db},
		Payments: &gormPaymentStore{db: db},
		Feedback: &gormFeedbackStore{db: db},
	}
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}

// --- Users -------------------------------------------------------------------

type gormUserStore struct {
	db *gorm.DB
}

func (s *gormUserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *gormUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(email)).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *gormUserStore) Create(ctx context.Context, user *models.User) error {
	user.Email = strings.ToLower(user.Email)
	return translate(s.db.WithContext(ctx).Create(user).Error)
}

func (s *gormUserStore) Update(ctx context.Context, user *models.User) error {
	return translate(s.db.WithContext(ctx).Model(user).Select("name", "phone", "password", "is_expert").Updates(user).Error)
}

// --- Issues ------------------------------------------------------------------

type gormIssueStore struct {
	db *gorm.DB
}

func (s *gormIssueStore) Create(ctx context.Context, issue *models.Issue) error {
	return translate(s.db.WithContext(ctx).Create(issue).Error)
}

func (s *gormIssueStore) GetByID(ctx context.Context, id string) (*models.Issue, error) {
	var issue models.Issue
	if err := s.db.WithContext(ctx).First(&issue, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &issue, nil
}

func (s *gormIssueStore) Update(ctx context.Context, issue *models.Issue) error {
	expected := issue.Version
	next := issue.Clone()
	next.Version = expected + 1

	result := s.db.WithContext(ctx).
		Model(next).
		Where("version = ? AND status <> ?", expected, models.StatusClosed).
		Select("device_type", "diagnosis", "status", "assisted_mode", "version", "updated_at").
		Updates(next)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		current, err := s.GetByID(ctx, issue.ID)
		if err != nil {
			return err
		}
		if current.Status == models.StatusClosed {
			return ErrIssueClosed
		}
		return ErrStaleIssue
	}

	issue.Version = next.Version
	issue.UpdatedAt = next.UpdatedAt
	return nil
}

func (s *gormIssueStore) ListByOwner(ctx context.Context, ownerID string) ([]models.Issue, error) {
	var issues []models.Issue
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&issues).Error
	return issues, translate(err)
}

func (s *gormIssueStore) List(ctx context.Context, query models.IssueQuery) ([]models.Issue, error) {
	tx := s.db.WithContext(ctx).Model(&models.Issue{})

	switch query.Filter {
	case models.FilterOpen:
		tx = tx.Where("status <> ?", models.StatusClosed)
	case models.FilterResolved:
		tx = tx.Where("status = ?", models.StatusClosed)
	}
	if search := strings.TrimSpace(query.Search); search != "" {
		pattern := "%" + search + "%"
		tx = tx.Where("description ILIKE ? OR device_type ILIKE ?", pattern, pattern)
	}

	var issues []models.Issue
	err := tx.Order("created_at DESC").Find(&issues).Error
	return issues, translate(err)
}

// --- Messages ----------------------------------------------------------------

type gormMessageStore struct {
	db *gorm.DB
}

func (s *gormMessageStore) Append(ctx context.Context, msg *models.Message) error {
	return translate(s.db.WithContext(ctx).Create(msg).Error)
}

// AppendIfOpen takes a share lock on the issue row for the insert, which
// blocks a concurrent close until the message is committed.
func (s *gormMessageStore) AppendIfOpen(ctx context.Context, msg *models.Message) error {
	return translate(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var issue models.Issue
		err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Select("id", "status").
			First(&issue, "id = ?", msg.IssueID).Error
		if err != nil {
			return err
		}
		if issue.Status == models.StatusClosed {
			return ErrIssueClosed
		}
		return tx.Create(msg).Error
	}))
}

func (s *gormMessageStore) GetByID(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	if err := s.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &msg, nil
}

func (s *gormMessageStore) ListByIssue(ctx context.Context, issueID string) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.WithContext(ctx).
		Where("issue_id = ?", issueID).
		Order("created_at ASC, seq ASC").
		Find(&messages).Error
	return messages, translate(err)
}

// --- Payments ----------------------------------------------------------------

type gormPaymentStore struct {
	db *gorm.DB
}

func (s *gormPaymentStore) Create(ctx context.Context, payment *models.Payment) error {
	return translate(s.db.WithContext(ctx).Create(payment).Error)
}

func (s *gormPaymentStore) Update(ctx context.Context, payment *models.Payment) error {
	return translate(s.db.WithContext(ctx).
		Model(payment).
		Select("status", "provider_ref", "failure_reason", "updated_at").
		Updates(payment).Error)
}

func (s *gormPaymentStore) ListByIssue(ctx context.Context, issueID string) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.WithContext(ctx).
		Where("issue_id = ?", issueID).
		Order("created_at ASC").
		Find(&payments).Error
	return payments, translate(err)
}

func (s *gormPaymentStore) FindCompleted(ctx context.Context, issueID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.WithContext(ctx).
		Where("issue_id = ? AND status = ?", issueID, models.PaymentCompleted).
		Order("created_at ASC").
		First(&payment).Error
	if err != nil {
		return nil, translate(err)
	}
	return &payment, nil
}

func (s *gormPaymentStore) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.PaymentPending, cutoff).
		Find(&payments).Error
	return payments, translate(err)
}

// --- Feedback ----------------------------------------------------------------

type gormFeedbackStore struct {
	db *gorm.DB
}

func (s *gormFeedbackStore) Create(ctx context.Context, feedback *models.Feedback) error {
	return translate(s.db.WithContext(ctx).Create(feedback).Error)
}

func (s *gormFeedbackStore) ListByIssue(ctx context.Context, issueID string) ([]models.Feedback, error) {
	var feedback []models.Feedback
	err := s.db.WithContext(ctx).
		Where("issue_id = ?", issueID).
		Order("created_at ASC").
		Find(&feedback).Error
	return feedback, translate(err)
}

func (s *gormFeedbackStore) ListAll(ctx context.Context) ([]models.Feedback, error) {
	var feedback []models.Feedback
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&feedback).Error
	return feedback, translate(err)
}
