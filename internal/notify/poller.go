package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/snaprepair/backend/internal/logger"
)

const DefaultPollInterval = 2 * time.Second

// FetchFunc loads the current snapshot of one issue.
type FetchFunc func(ctx context.Context) (*Snapshot, error)

// Poller is the pull model: it re-fetches a snapshot on a fixed interval and
// reports it only when something changed.
type Poller struct {
	Interval time.Duration
}

func NewPoller(interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{Interval: interval}
}

// Run fetches immediately, then on every tick, until ctx is done. Fetch
// errors are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context, fetch FetchFunc, onChange func(*Snapshot)) error {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	last := ""
	poll := func() {
		snap, err := fetch(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.WithError(err, "poller").Warn("Snapshot fetch failed")
			}
			return
		}
		if fp := fingerprint(snap); fp != last {
			last = fp
			onChange(snap)
		}
	}

	poll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			poll()
		}
	}
}

func fingerprint(snap *Snapshot) string {
	if snap == nil || snap.Issue == nil {
		return ""
	}
	lastID := ""
	if n := len(snap.Messages); n > 0 {
		lastID = snap.Messages[n-1].ID
	}
	return fmt.Sprintf("%s|%s|%d|%d|%s",
		snap.Issue.ID, snap.Issue.Status, snap.Issue.Version, len(snap.Messages), lastID)
}
