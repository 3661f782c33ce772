package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/snaprepair/backend/internal/logger"
	"github.com/snaprepair/backend/internal/metrics"
)

// Hub is the per-instance registry of issue subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*Subscriber
	bufferSize  int
	sendTimeout time.Duration
}

type HubOptions struct {
	BufferSize  int
	SendTimeout time.Duration
}

func NewHub(opts HubOptions) *Hub {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	return &Hub{
		subscribers: make(map[string]map[string]*Subscriber),
		bufferSize:  opts.BufferSize,
		sendTimeout: opts.SendTimeout,
	}
}

// Subscribe attaches a viewer to issueID. The subscription is removed when
// ctx is done or Unsubscribe is called, whichever comes first.
func (h *Hub) Subscribe(ctx context.Context, issueID string) *Subscriber {
	sub := newSubscriber(ctx, uuid.NewString(), issueID, h.bufferSize)

	h.mu.Lock()
	if h.subscribers[issueID] == nil {
		h.subscribers[issueID] = make(map[string]*Subscriber)
	}
	h.subscribers[issueID][sub.ID] = sub
	h.mu.Unlock()
	metrics.Subscribers.Inc()

	go func() {
		<-sub.Done()
		h.remove(sub)
	}()

	logger.WithIssue(issueID, "notify").WithField("subscriber_id", sub.ID).Debug("Subscriber attached")
	return sub
}

// Unsubscribe detaches sub immediately.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	sub.Cancel()
	h.remove(sub)
}

func (h *Hub) remove(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[sub.IssueID]
	if !ok {
		return
	}
	if _, ok := subs[sub.ID]; !ok {
		return
	}
	delete(subs, sub.ID)
	if len(subs) == 0 {
		delete(h.subscribers, sub.IssueID)
	}
	metrics.Subscribers.Dec()
}

// Publish hands ev to every live subscriber of its issue. Slow subscribers
// lose the event rather than blocking the publisher.
func (h *Hub) Publish(_ context.Context, ev Event) {
	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.subscribers[ev.IssueID]))
	for _, sub := range h.subscribers[ev.IssueID] {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		if sub.Send(ev, h.sendTimeout) {
			metrics.NotificationsDelivered.Inc()
			continue
		}
		metrics.NotificationsDropped.Inc()
		logger.WithIssue(ev.IssueID, "notify").WithFields(map[string]interface{}{
			"subscriber_id": sub.ID,
			"event_type":    ev.Type,
		}).Warn("Dropped event for slow subscriber")
	}
}

// SubscriberCount returns the number of live subscribers for issueID.
func (h *Hub) SubscriberCount(issueID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[issueID])
}
