package store

import (
	"context"
	"errors"
	"time"

	"github.com/snaprepair/backend/internal/models"
)

var (
	// ErrNotFound is returned when a requested entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint would be violated
	ErrDuplicate = errors.New("duplicate")
	// ErrIssueClosed is returned when an update targets a closed issue
	ErrIssueClosed = errors.New("issue is closed")
	// ErrStaleIssue is returned when the stored issue changed since it was read
	ErrStaleIssue = errors.New("issue was modified concurrently")
)

// UserStore defines the contract for user data access
type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
}

// IssueStore defines the contract for issue data access. Issues are never
// deleted. Update is a compare-and-set on Version: it fails with
// ErrStaleIssue if the row moved on, and with ErrIssueClosed if the stored
// row is already closed.
type IssueStore interface {
	Create(ctx context.Context, issue *models.Issue) error
	GetByID(ctx context.Context, id string) (*models.Issue, error)
	Update(ctx context.Context, issue *models.Issue) error
	ListByOwner(ctx context.Context, ownerID string) ([]models.Issue, error)
	List(ctx context.Context, query models.IssueQuery) ([]models.Issue, error)
}

// MessageStore defines the contract for the append-only message log.
// AppendIfOpen checks the issue and inserts in one operation: it fails with
// ErrIssueClosed once the issue is closed and ErrNotFound if it is missing.
type MessageStore interface {
	Append(ctx context.Context, msg *models.Message) error
	AppendIfOpen(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	ListByIssue(ctx context.Context, issueID string) ([]models.Message, error)
}

// PaymentStore defines the contract for payment records
type PaymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	Update(ctx context.Context, payment *models.Payment) error
	ListByIssue(ctx context.Context, issueID string) ([]models.Payment, error)
	FindCompleted(ctx context.Context, issueID string) (*models.Payment, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]models.Payment, error)
}

// FeedbackStore defines the contract for post-resolution feedback
type FeedbackStore interface {
	Create(ctx context.Context, feedback *models.Feedback) error
	ListByIssue(ctx context.Context, issueID string) ([]models.Feedback, error)
	ListAll(ctx context.Context) ([]models.Feedback, error)
}

// Stores bundles every repository the services need.
type Stores struct {
	Users    UserStore
	Issues   IssueStore
	Messages MessageStore
	Payments PaymentStore
	Feedback FeedbackStore
}
