package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/juicer/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type EventsHandler struct {
	live     LiveEvents
	upgrader websocket.Upgrader
}

func NewEventsHandler(live LiveEvents) *EventsHandler {
	return &EventsHandler{
		live: live,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Origin policy is enforced by the CORS middleware.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Routes registers event routes on the given router.
func (h *EventsHandler) Routes(r chi.Router) {
	r.Get("/events", h.WebSocket)
	r.Get("/events/stream", h.StreamEvents)
}

func parseFilter(r *http.Request) events.Filter {
	f := events.Filter{JobID: r.URL.Query().Get("job_id")}
	if v := r.URL.Query().Get("types"); v != "" {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.Types = append(f.Types, t)
			}
		}
	}
	return f
}

// StreamEvents opens an SSE connection and pushes filtered events.
func (h *EventsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	// The server write timeout would otherwise cut the stream.
	http.NewResponseController(w).SetWriteDeadline(time.Time{})

	filter := parseFilter(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Subscribe before replaying so nothing published in between is lost.
	ch, cancel := h.live.Subscribe(filter)
	defer cancel()

	if lastEventID := r.Header.Get("Last-Event-ID"); lastEventID != "" {
		for _, e := range h.live.ReplaySince(lastEventID, filter) {
			writeSSE(w, e)
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	log := hlog.FromRequest(r)
	log.Info().Msg("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			log.Info().Msg("SSE client disconnected")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, event)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, e events.Event) {
	name := e.Type
	if e.SubType != "" {
		name += ":" + e.SubType
	}
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, name, e.Data)
}

// WebSocket streams the same events as JSON text frames. Clients send
// nothing; reads only service pongs and detect disconnects.
func (h *EventsHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	filter := parseFilter(r)
	ch, cancel := h.live.Subscribe(filter)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Msg("websocket read error")
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	log.Info().Msg("websocket client connected")

	if lastEventID := r.URL.Query().Get("last_event_id"); lastEventID != "" {
		for _, e := range h.live.ReplaySince(lastEventID, filter) {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}

	for {
		select {
		case <-done:
			log.Info().Msg("websocket client disconnected")
			return
		case e, ok := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
