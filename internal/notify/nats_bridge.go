package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/snaprepair/backend/internal/logger"
)

const subjectPrefix = "snaprepair.issues."

// Subject is the NATS subject carrying events for one issue.
func Subject(issueID string) string {
	return subjectPrefix + issueID
}

// NATSBridge carries events between instances. Local mutations are published
// to NATS; events from other instances are re-published to the local hub.
type NATSBridge struct {
	nc           *nats.Conn
	local        Publisher
	instanceID   string
	subscription *nats.Subscription
}

// NewNATSBridge returns nil when there is no NATS connection.
func NewNATSBridge(nc *nats.Conn, local Publisher, instanceID string) *NATSBridge {
	if nc == nil {
		return nil
	}
	return &NATSBridge{nc: nc, local: local, instanceID: instanceID}
}

// Start subscribes to every issue subject.
func (b *NATSBridge) Start() error {
	sub, err := b.nc.Subscribe(subjectPrefix+"*", b.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s*: %w", subjectPrefix, err)
	}
	b.subscription = sub
	logger.Info("NATS bridge started", map[string]interface{}{
		"subject":     subjectPrefix + "*",
		"instance_id": b.instanceID,
	})
	return nil
}

// Stop drains the subscription.
func (b *NATSBridge) Stop() error {
	if b.subscription == nil {
		return nil
	}
	if err := b.subscription.Drain(); err != nil {
		return fmt.Errorf("failed to drain subscription: %w", err)
	}
	return nil
}

// Publish stamps ev with this instance and sends it to other instances.
func (b *NATSBridge) Publish(_ context.Context, ev Event) {
	ev.Origin = b.instanceID
	data, err := json.Marshal(ev)
	if err != nil {
		logger.WithError(err, "nats_bridge").Error("Failed to marshal event")
		return
	}
	if err := b.nc.Publish(Subject(ev.IssueID), data); err != nil {
		logger.WithError(err, "nats_bridge").WithField("issue_id", ev.IssueID).Warn("Failed to publish event")
	}
}

func (b *NATSBridge) handle(msg *nats.Msg) {
	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		logger.WithError(err, "nats_bridge").WithField("subject", msg.Subject).Warn("Received invalid event")
		return
	}
	// already delivered locally
	if ev.Origin == b.instanceID {
		return
	}
	b.local.Publish(context.Background(), ev)
}
