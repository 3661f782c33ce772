package notify

import "sync"

const defaultDedupLimit = 1024

// Dedup remembers recently seen message IDs so a viewer renders each
// message once even when it arrives from both push and pull paths.
type Dedup struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	limit int
}

func NewDedup(limit int) *Dedup {
	if limit <= 0 {
		limit = defaultDedupLimit
	}
	return &Dedup{seen: make(map[string]struct{}), limit: limit}
}

// Seen reports whether id was observed before, and records it if not.
// The oldest IDs are forgotten once the limit is reached.
func (d *Dedup) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)
	if len(d.order) > d.limit {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	return false
}

// Filter drops events carrying an already-seen message. Non-message events
// always pass.
func (d *Dedup) Filter(ev Event) bool {
	if ev.Type != EventMessageAppended || ev.Message == nil {
		return true
	}
	return !d.Seen(ev.Message.ID)
}
