package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/snaprepair/backend/internal/models"
)

// NewMemoryStores returns map-backed repositories for tests and local runs
// without Postgres.
func NewMemoryStores() *Stores {
	issues := NewMemoryIssueStore()
	return &Stores{
		Users:    NewMemoryUserStore(),
		Issues:   issues,
		Messages: NewMemoryMessageStore(issues),
		Payments: NewMemoryPaymentStore(),
		Feedback: NewMemoryFeedbackStore(),
	}
}

// --- Users -------------------------------------------------------------------

type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]models.User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]models.User)}
}

func (s *MemoryUserStore) GetByID(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (s *MemoryUserStore) GetByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = strings.ToLower(email)
	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryUserStore) Create(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user.Email = strings.ToLower(user.Email)
	for _, u := range s.users {
		if u.Email == user.Email {
			return ErrDuplicate
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now()
	user.CreatedAt, user.UpdatedAt = now, now
	s.users[user.ID] = *user
	return nil
}

func (s *MemoryUserStore) Update(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.users[user.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Name = user.Name
	stored.Phone = user.Phone
	stored.Password = user.Password
	stored.IsExpert = user.IsExpert
	stored.UpdatedAt = time.Now()
	s.users[user.ID] = stored
	*user = stored
	return nil
}

// --- Issues ------------------------------------------------------------------

type MemoryIssueStore struct {
	mu     sync.RWMutex
	issues map[string]*models.Issue
}

func NewMemoryIssueStore() *MemoryIssueStore {
	return &MemoryIssueStore{issues: make(map[string]*models.Issue)}
}

func (s *MemoryIssueStore) Create(_ context.Context, issue *models.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if issue.ID == "" {
		issue.ID = uuid.NewString()
	}
	if _, exists := s.issues[issue.ID]; exists {
		return ErrDuplicate
	}
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = time.Now()
	}
	issue.UpdatedAt = issue.CreatedAt
	s.issues[issue.ID] = issue.Clone()
	return nil
}

func (s *MemoryIssueStore) GetByID(_ context.Context, id string) (*models.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	issue, ok := s.issues[id]
	if !ok {
		return nil, ErrNotFound
	}
	return issue.Clone(), nil
}

func (s *MemoryIssueStore) Update(_ context.Context, issue *models.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.issues[issue.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status == models.StatusClosed {
		return ErrIssueClosed
	}
	if stored.Version != issue.Version {
		return ErrStaleIssue
	}

	next := issue.Clone()
	next.OwnerID = stored.OwnerID
	next.CreatedAt = stored.CreatedAt
	next.Version = stored.Version + 1
	next.UpdatedAt = time.Now()
	s.issues[issue.ID] = next

	issue.Version = next.Version
	issue.UpdatedAt = next.UpdatedAt
	return nil
}

func (s *MemoryIssueStore) ListByOwner(_ context.Context, ownerID string) ([]models.Issue, error) {
	return s.list(func(i *models.Issue) bool { return i.OwnerID == ownerID }), nil
}

func (s *MemoryIssueStore) List(_ context.Context, query models.IssueQuery) ([]models.Issue, error) {
	search := strings.ToLower(strings.TrimSpace(query.Search))
	return s.list(func(i *models.Issue) bool {
		if !query.Filter.Matches(i.Status) {
			return false
		}
		if search == "" {
			return true
		}
		return strings.Contains(strings.ToLower(i.Description), search) ||
			strings.Contains(strings.ToLower(string(i.DeviceType)), search)
	}), nil
}

// list returns matching issues newest first.
func (s *MemoryIssueStore) list(match func(*models.Issue) bool) []models.Issue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Issue, 0)
	for _, issue := range s.issues {
		if match(issue) {
			out = append(out, *issue.Clone())
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID > out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out
}

// --- Messages ----------------------------------------------------------------

type MemoryMessageStore struct {
	mu      sync.RWMutex
	seq     int64
	issues  *MemoryIssueStore
	byIssue map[string][]models.Message
	byID    map[string]models.Message
}

// NewMemoryMessageStore returns a message store whose AppendIfOpen checks
// issues. With nil issues every issue is unknown to AppendIfOpen.
func NewMemoryMessageStore(issues *MemoryIssueStore) *MemoryMessageStore {
	return &MemoryMessageStore{
		issues:  issues,
		byIssue: make(map[string][]models.Message),
		byID:    make(map[string]models.Message),
	}
}

func (s *MemoryMessageStore) Append(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if _, exists := s.byID[msg.ID]; exists {
		return ErrDuplicate
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.seq++
	msg.Seq = s.seq
	s.byIssue[msg.IssueID] = append(s.byIssue[msg.IssueID], *msg)
	s.byID[msg.ID] = *msg
	return nil
}

// AppendIfOpen holds the issue store's read lock while appending, so a
// concurrent close either lands before the check or after the insert.
func (s *MemoryMessageStore) AppendIfOpen(ctx context.Context, msg *models.Message) error {
	if s.issues == nil {
		return ErrNotFound
	}
	s.issues.mu.RLock()
	defer s.issues.mu.RUnlock()
	issue, ok := s.issues.issues[msg.IssueID]
	if !ok {
		return ErrNotFound
	}
	if issue.Status == models.StatusClosed {
		return ErrIssueClosed
	}
	return s.Append(ctx, msg)
}

func (s *MemoryMessageStore) GetByID(_ context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &msg, nil
}

func (s *MemoryMessageStore) ListByIssue(_ context.Context, issueID string) ([]models.Message, error) {
	s.mu.RLock()
	out := make([]models.Message, len(s.byIssue[issueID]))
	copy(out, s.byIssue[issueID])
	s.mu.RUnlock()

	sort.SliceStable(out, func(a, b int) bool {
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out, nil
}

// --- Payments ----------------------------------------------------------------

type MemoryPaymentStore struct {
	mu       sync.RWMutex
	payments []models.Payment
}

func NewMemoryPaymentStore() *MemoryPaymentStore {
	return &MemoryPaymentStore{}
}

func (s *MemoryPaymentStore) Create(_ context.Context, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now()
	}
	payment.UpdatedAt = payment.CreatedAt
	s.payments = append(s.payments, *payment)
	return nil
}

func (s *MemoryPaymentStore) Update(_ context.Context, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.payments {
		if s.payments[i].ID == payment.ID {
			s.payments[i].Status = payment.Status
			s.payments[i].ProviderRef = payment.ProviderRef
			s.payments[i].FailureReason = payment.FailureReason
			s.payments[i].UpdatedAt = time.Now()
			payment.UpdatedAt = s.payments[i].UpdatedAt
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryPaymentStore) ListByIssue(_ context.Context, issueID string) ([]models.Payment, error) {
	return s.filter(func(p models.Payment) bool { return p.IssueID == issueID }), nil
}

func (s *MemoryPaymentStore) FindCompleted(_ context.Context, issueID string) (*models.Payment, error) {
	matches := s.filter(func(p models.Payment) bool {
		return p.IssueID == issueID && p.Status == models.PaymentCompleted
	})
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	return &matches[0], nil
}

func (s *MemoryPaymentStore) ListPendingBefore(_ context.Context, cutoff time.Time) ([]models.Payment, error) {
	return s.filter(func(p models.Payment) bool {
		return p.Status == models.PaymentPending && p.CreatedAt.Before(cutoff)
	}), nil
}

func (s *MemoryPaymentStore) filter(match func(models.Payment) bool) []models.Payment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Payment, 0)
	for _, p := range s.payments {
		if match(p) {
			out = append(out, p)
		}
	}
	return out
}

// --- Feedback ----------------------------------------------------------------

type MemoryFeedbackStore struct {
	mu       sync.RWMutex
	feedback []models.Feedback
}

func NewMemoryFeedbackStore() *MemoryFeedbackStore {
	return &MemoryFeedbackStore{}
}

func (s *MemoryFeedbackStore) Create(_ context.Context, feedback *models.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.feedback {
		if f.IssueID == feedback.IssueID && f.UserID == feedback.UserID {
			return ErrDuplicate
		}
	}
	if feedback.ID == "" {
		feedback.ID = uuid.NewString()
	}
	if feedback.CreatedAt.IsZero() {
		feedback.CreatedAt = time.Now()
	}
	s.feedback = append(s.feedback, *feedback)
	return nil
}

func (s *MemoryFeedbackStore) ListByIssue(_ context.Context, issueID string) ([]models.Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Feedback, 0)
	for _, f := range s.feedback {
		if f.IssueID == issueID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *MemoryFeedbackStore) ListAll(_ context.Context) ([]models.Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Feedback, len(s.feedback))
	for i, f := range s.feedback {
		out[len(out)-1-i] = f
	}
	return out, nil
}
