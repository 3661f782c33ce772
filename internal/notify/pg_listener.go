package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/snaprepair/backend/internal/logger"
	"github.com/snaprepair/backend/internal/models"
)

// Channel is the Postgres NOTIFY channel written by the issue_events trigger.
const Channel = "issue_events"

// payload mirrors the JSON built by the trigger function.
type payload struct {
	Kind    string `json:"kind"`
	ID      string `json:"id"`
	IssueID string `json:"issue_id"`
}

type MessageLoader interface {
	GetByID(ctx context.Context, id string) (*models.Message, error)
}

type IssueLoader interface {
	GetByID(ctx context.Context, id string) (*models.Issue, error)
}

// PGListener turns database notifications into events for the local hub,
// so every instance sees every write regardless of which one made it.
type PGListener struct {
	dsn      string
	local    Publisher
	messages MessageLoader
	issues   IssueLoader
}

func NewPGListener(dsn string, local Publisher, messages MessageLoader, issues IssueLoader) *PGListener {
	return &PGListener{dsn: dsn, local: local, messages: messages, issues: issues}
}

// Run listens until ctx is done.
func (l *PGListener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.WithError(err, "pg_listener").Warn("Listener connection event")
		}
	})
	defer listener.Close()

	if err := listener.Listen(Channel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", Channel, err)
	}
	logger.Info("Postgres listener started", map[string]interface{}{"channel": Channel})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-listener.Notify:
			// nil after a reconnect; events in the gap are recovered by polling
			if n == nil {
				continue
			}
			if err := l.handle(ctx, n.Extra); err != nil {
				logger.WithError(err, "pg_listener").Warn("Failed to handle notification")
			}
		case <-time.After(90 * time.Second):
			go func() {
				if err := listener.Ping(); err != nil {
					logger.WithError(err, "pg_listener").Warn("Listener ping failed")
				}
			}()
		}
	}
}

func (l *PGListener) handle(ctx context.Context, raw string) error {
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	switch p.Kind {
	case "message":
		msg, err := l.messages.GetByID(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("load message %s: %w", p.ID, err)
		}
		l.local.Publish(ctx, MessageAppended(*msg))
	case "status":
		issue, err := l.issues.GetByID(ctx, p.IssueID)
		if err != nil {
			return fmt.Errorf("load issue %s: %w", p.IssueID, err)
		}
		l.local.Publish(ctx, StatusChanged(issue.ID, issue.Status))
	case "diagnosis":
		issue, err := l.issues.GetByID(ctx, p.IssueID)
		if err != nil {
			return fmt.Errorf("load issue %s: %w", p.IssueID, err)
		}
		if issue.Diagnosis != nil {
			l.local.Publish(ctx, DiagnosisAttached(issue.ID, *issue.Diagnosis))
		}
	default:
		return fmt.Errorf("unknown notification kind %q", p.Kind)
	}
	return nil
}
