// Package notify delivers issue changes to live viewers. Delivery is
// at-least-once; viewers de-duplicate messages by ID.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/snaprepair/backend/internal/models"
)

type EventType string

const (
	EventMessageAppended   EventType = "message.appended"
	EventStatusChanged     EventType = "issue.status_changed"
	EventDiagnosisAttached EventType = "issue.diagnosis_attached"
	EventSnapshot          EventType = "issue.snapshot"
)

// Event is one change to an issue, as seen by subscribers.
type Event struct {
	ID         string             `json:"id"`
	Type       EventType          `json:"type"`
	IssueID    string             `json:"issueId"`
	Message    *models.Message    `json:"message,omitempty"`
	Status     models.IssueStatus `json:"status,omitempty"`
	Diagnosis  *models.Diagnosis  `json:"diagnosis,omitempty"`
	Snapshot   *Snapshot          `json:"snapshot,omitempty"`
	Origin     string             `json:"origin,omitempty"`
	OccurredAt time.Time          `json:"occurredAt"`
}

func newEvent(t EventType, issueID string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		IssueID:    issueID,
		OccurredAt: time.Now().UTC(),
	}
}

func MessageAppended(msg models.Message) Event {
	ev := newEvent(EventMessageAppended, msg.IssueID)
	ev.Message = &msg
	return ev
}

func StatusChanged(issueID string, status models.IssueStatus) Event {
	ev := newEvent(EventStatusChanged, issueID)
	ev.Status = status
	return ev
}

func DiagnosisAttached(issueID string, d models.Diagnosis) Event {
	ev := newEvent(EventDiagnosisAttached, issueID)
	d = d.Clone()
	ev.Diagnosis = &d
	return ev
}

func SnapshotTaken(snap *Snapshot) Event {
	ev := newEvent(EventSnapshot, snap.Issue.ID)
	ev.Snapshot = snap
	return ev
}

// Snapshot is the pull-model view of an issue: its current state plus the
// ordered message log.
type Snapshot struct {
	Issue    *models.Issue    `json:"issue"`
	Messages []models.Message `json:"messages"`
}

// Publisher accepts events produced by lifecycle mutations.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Discard drops every event. Used when a database trigger is the only
// source of notifications.
type Discard struct{}

func (Discard) Publish(context.Context, Event) {}

// Fanout publishes each event to every publisher in order.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) {
	for _, p := range f {
		p.Publish(ctx, ev)
	}
}
