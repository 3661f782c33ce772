package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/snaprepair/backend/internal/apperrors"
	"github.com/snaprepair/backend/internal/logger"
	"github.com/snaprepair/backend/internal/notify"
	"github.com/snaprepair/backend/internal/services"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	// CORS is enforced on the HTTP API; tokens authenticate the socket
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventsController streams issue changes over a websocket. Viewers get a
// snapshot first, then pushed events, plus a fresh snapshot whenever the
// periodic resync sees a change the push path missed.
type EventsController struct {
	issues       *services.IssueService
	hub          *notify.Hub
	pollInterval time.Duration
}

func NewEventsController(issues *services.IssueService, hub *notify.Hub, pollInterval time.Duration) *EventsController {
	return &EventsController{issues: issues, hub: hub, pollInterval: pollInterval}
}

func (ec *EventsController) Stream(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	issueID := c.Param("id")

	// authorize before the upgrade so errors are plain HTTP responses
	if _, err := ec.issues.GetIssue(c.Request.Context(), actor, issueID); err != nil {
		apperrors.Respond(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.WithError(err, "events_controller").WithField("issue_id", issueID).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := ec.hub.Subscribe(ctx, issueID)
	log := logger.WithIssue(issueID, "events_controller").WithField("user_id", actor.ID)
	log.Info("Viewer connected")
	defer log.Info("Viewer disconnected")

	// Read messages (only for detecting disconnection)
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snapshots := make(chan *notify.Snapshot, 1)
	poller := notify.NewPoller(ec.pollInterval)
	go func() {
		_ = poller.Run(ctx, func(ctx context.Context) (*notify.Snapshot, error) {
			return ec.issues.Snapshot(ctx, actor, issueID)
		}, func(snap *notify.Snapshot) {
			// keep only the latest snapshot
			select {
			case <-snapshots:
			default:
			}
			snapshots <- snap
		})
	}()

	dedup := notify.NewDedup(0)
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	write := func(ev notify.Event) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(ev); err != nil {
			log.WithError(err).Debug("Websocket write failed")
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case snap := <-snapshots:
			for _, m := range snap.Messages {
				dedup.Seen(m.ID)
			}
			if !write(notify.SnapshotTaken(snap)) {
				return
			}
		case ev := <-sub.Events():
			if !dedup.Filter(ev) {
				continue
			}
			if !write(ev) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
