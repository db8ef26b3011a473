package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openlabels/scanner/internal/middleware"
)

const (
	streamPollEvery = 2 * time.Second
	streamBatch     = 200
	writeWait       = 10 * time.Second
	pingEvery       = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Tokens authenticate the socket; origin checks add nothing here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEventStream tails the tenant's access events over a websocket.
// Events are pushed in event-time order starting from connect time (or
// an explicit ?since=).
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantFrom(r.Context())

	since := time.Now()
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "since must be RFC3339")
			return
		}
		since = t
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Reader goroutine notices client closes; we never expect payloads.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	poll := time.NewTicker(streamPollEvery)
	defer poll.Stop()
	ping := time.NewTicker(pingEvery)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-poll.C:
			events, err := s.store.AccessEventsSince(r.Context(), tenantID, since, streamBatch)
			if err != nil {
				s.logger.Printf("event stream query failed: %v", err)
				continue
			}
			for _, ev := range events {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			}
			if len(events) > 0 {
				since = events[len(events)-1].EventTime
			}
		}
	}
}
