package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/snaprepair/backend/internal/apperrors"
	"github.com/snaprepair/backend/internal/metrics"
	"github.com/snaprepair/backend/internal/models"
	"github.com/snaprepair/backend/internal/notify"
	"github.com/snaprepair/backend/internal/store"
)

// MessageLog is the append-only conversation of each issue. Messages are
// never edited or deleted.
type MessageLog struct {
	messages  store.MessageStore
	publisher notify.Publisher
	now       func() time.Time
}

func NewMessageLog(messages store.MessageStore, publisher notify.Publisher) *MessageLog {
	if publisher == nil {
		publisher = notify.Discard{}
	}
	return &MessageLog{messages: messages, publisher: publisher, now: time.Now}
}

// Append records a message and announces it to subscribers.
func (l *MessageLog) Append(ctx context.Context, issueID string, sender models.Sender, text string, attachmentURL *string) (*models.Message, error) {
	return l.append(ctx, l.messages.Append, issueID, sender, text, attachmentURL)
}

// AppendToOpen is Append for conversation messages: it fails with
// store.ErrIssueClosed once the issue is closed, checked by the store in the
// same operation as the insert.
func (l *MessageLog) AppendToOpen(ctx context.Context, issueID string, sender models.Sender, text string, attachmentURL *string) (*models.Message, error) {
	return l.append(ctx, l.messages.AppendIfOpen, issueID, sender, text, attachmentURL)
}

func (l *MessageLog) append(ctx context.Context, insert func(context.Context, *models.Message) error, issueID string, sender models.Sender, text string, attachmentURL *string) (*models.Message, error) {
	if !sender.Valid() {
		return nil, apperrors.Validation("invalid sender %q", sender)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.Validation("message text is required")
	}

	msg := &models.Message{
		IssueID:       issueID,
		Sender:        sender,
		Text:          text,
		AttachmentURL: attachmentURL,
		CreatedAt:     l.now().UTC(),
	}
	if err := insert(ctx, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	metrics.MessagesAppended.WithLabelValues(string(sender)).Inc()
	l.publisher.Publish(ctx, notify.MessageAppended(*msg))
	return msg, nil
}

// ListFor returns the issue's messages ordered by creation time. Messages
// with equal timestamps keep their append order.
func (l *MessageLog) ListFor(ctx context.Context, issueID string) ([]models.Message, error) {
	messages, err := l.messages.ListByIssue(ctx, issueID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	sort.SliceStable(messages, func(a, b int) bool {
		return messages[a].CreatedAt.Before(messages[b].CreatedAt)
	})
	return messages, nil
}
