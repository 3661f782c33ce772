package notify

import (
	"context"
	"time"
)

const (
	defaultBufferSize  = 64
	defaultSendTimeout = 100 * time.Millisecond
)

// Subscriber is one viewer attached to one issue. Its channel is buffered
// and never closed; readers stop when Done is closed.
type Subscriber struct {
	ID       string
	IssueID  string
	JoinedAt time.Time

	ch     chan Event
	ctx    context.Context
	cancel context.CancelFunc
}

func newSubscriber(ctx context.Context, id, issueID string, bufferSize int) *Subscriber {
	if bufferSize < 1 {
		bufferSize = defaultBufferSize
	}
	subCtx, cancel := context.WithCancel(ctx)
	return &Subscriber{
		ID:       id,
		IssueID:  issueID,
		JoinedAt: time.Now(),
		ch:       make(chan Event, bufferSize),
		ctx:      subCtx,
		cancel:   cancel,
	}
}

// Events is the stream of events for this subscriber.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Done is closed once the subscriber is detached.
func (s *Subscriber) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Cancel detaches the subscriber. Safe to call more than once.
func (s *Subscriber) Cancel() {
	s.cancel()
}

// Send delivers ev unless the subscriber is gone or stays full for longer
// than timeout. It reports whether the event was delivered.
func (s *Subscriber) Send(ev Event, timeout time.Duration) bool {
	if s.ctx.Err() != nil {
		return false
	}

	select {
	case s.ch <- ev:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.ch <- ev:
		return true
	case <-timer.C:
		return false
	case <-s.ctx.Done():
		return false
	}
}
