package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/phrazzld/leitbox/internal/domain"
	"github.com/phrazzld/leitbox/internal/events"
	"github.com/phrazzld/leitbox/internal/redact"
	"github.com/phrazzld/leitbox/internal/service/cards"
)

const (
	watchWriteWait  = 10 * time.Second
	watchPongWait   = 60 * time.Second
	watchPingPeriod = (watchPongWait * 9) / 10
)

// Subscriber delivers change events for one box.
type Subscriber interface {
	Subscribe(boxID, userID uuid.UUID) (<-chan *events.BoxChanged, func())
}

// DueSnapshot is pushed to websocket watchers whenever the due cards of a
// box may have changed.
type DueSnapshot struct {
	BoxID  uuid.UUID      `json:"box_id"`
	Reason events.Reason  `json:"reason,omitempty"`
	At     time.Time      `json:"at"`
	Cards  []*domain.Card `json:"cards"`
}

// WatchHandler pushes due-card snapshots over a websocket.
type WatchHandler struct {
	cards      CardService
	subscriber Subscriber
	upgrader   websocket.Upgrader
	logger     *slog.Logger
	now        func() time.Time
}

// NewWatchHandler creates a new WatchHandler. checkOrigin may be nil to
// accept same-origin requests only.
func NewWatchHandler(cards CardService, subscriber Subscriber, checkOrigin func(*http.Request) bool, logger *slog.Logger) *WatchHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WatchHandler{
		cards:      cards,
		subscriber: subscriber,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		logger: logger.With(slog.String("component", "watch_handler")),
		now:    time.Now,
	}
}

// Watch handles GET /api/boxes/{boxID}/watch. The due cards of the box are
// sent on connect and again after every committed change to the box. The
// connection is closed when the box is deleted.
func (h *WatchHandler) Watch(w http.ResponseWriter, r *http.Request) {
	userID, boxID, ok := handleUserIDAndPathUUID(w, r, "boxID")
	if !ok {
		return
	}

	// The first snapshot doubles as the ownership check.
	snapshot, err := h.snapshot(r.Context(), userID, boxID, "")
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	changes, unsubscribe := h.subscriber.Subscribe(boxID, userID)
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		h.logger.DebugContext(r.Context(), "websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = conn.Close() }()

	log := h.logger.With(slog.String("box_id", boxID.String()), slog.String("user_id", userID.String()))
	log.DebugContext(r.Context(), "watcher connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.readPump(conn, cancel)

	if err := h.write(conn, snapshot); err != nil {
		return
	}

	ticker := time.NewTicker(watchPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.DebugContext(r.Context(), "watcher disconnected")
			return

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case event, open := <-changes:
			if !open {
				h.close(conn, websocket.CloseGoingAway, "subscription closed")
				return
			}
			if event.Reason == events.ReasonBoxDeleted {
				h.close(conn, websocket.CloseNormalClosure, "box deleted")
				return
			}
			snapshot, err := h.snapshot(ctx, userID, boxID, event.Reason)
			if err != nil {
				log.WarnContext(ctx, "failed to load due snapshot", slog.String("error", redact.Error(err)))
				continue
			}
			if err := h.write(conn, snapshot); err != nil {
				return
			}
		}
	}
}

func (h *WatchHandler) snapshot(ctx context.Context, userID, boxID uuid.UUID, reason events.Reason) (*DueSnapshot, error) {
	due, err := h.cards.List(ctx, userID, boxID, cards.FilterDue)
	if err != nil {
		return nil, err
	}
	if due == nil {
		due = []*domain.Card{}
	}
	return &DueSnapshot{BoxID: boxID, Reason: reason, At: h.now().UTC(), Cards: due}, nil
}

func (h *WatchHandler) write(conn *websocket.Conn, snapshot *DueSnapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
	return conn.WriteJSON(snapshot)
}

func (h *WatchHandler) close(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(watchWriteWait))
}

// readPump discards client messages and keeps the read deadline fresh. It
// calls done when the client goes away.
func (h *WatchHandler) readPump(conn *websocket.Conn, done context.CancelFunc) {
	defer done()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(watchPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(watchPongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}
