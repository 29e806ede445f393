package statustopic

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	liveTailWriteTimeout = 10 * time.Second
	liveTailPingInterval = 30 * time.Second
)

var liveTailUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// LiveTailHandler upgrades an HTTP request to a websocket and streams every
// subsequent timeline event for ownerID until the client disconnects. It
// registers its own named subscription on topic and unsubscribes on exit.
type LiveTailHandler struct {
	topic *Topic
	log   *slog.Logger
}

// NewLiveTailHandler serves the optional operator-facing live tail over
// topic. log may be nil.
func NewLiveTailHandler(topic *Topic, log *slog.Logger) *LiveTailHandler {
	if log == nil {
		log = slog.Default()
	}
	return &LiveTailHandler{topic: topic, log: log}
}

// ServeHTTP upgrades the connection and streams events scoped to the
// "owner_id" query parameter; events for other owners are filtered out.
func (h *LiveTailHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		http.Error(w, "owner_id is required", http.StatusBadRequest)
		return
	}

	conn, err := liveTailUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("statustopic: live tail upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	subName := "console-" + ownerID + "-" + r.RemoteAddr
	events := h.topic.Subscribe(subName)
	defer h.topic.Unsubscribe(subName)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var writeMu sync.Mutex
	go h.drainClientReads(conn, cancel)

	ticker := time.NewTicker(liveTailPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(liveTailWriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.OwnerID != ownerID {
				continue
			}
			payload, err := json.Marshal(event)
			if err != nil {
				h.log.Error("statustopic: marshal live tail event", "error", err)
				continue
			}
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(liveTailWriteTimeout))
			err = conn.WriteMessage(websocket.TextMessage, payload)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// drainClientReads discards inbound frames (this is a server-push-only
// feed) and cancels ctx once the client goes away.
func (h *LiveTailHandler) drainClientReads(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
