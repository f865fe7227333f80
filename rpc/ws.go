package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"mintforge/events"
)

const (
	wsWriteTimeout     = 10 * time.Second
	defaultBacklogSize = 256
	subscriberBuffer   = 64
)

// StreamEvent is the wire form of one authority event on the WebSocket feed.
type StreamEvent struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	EmittedAt  time.Time         `json:"emittedAt"`
}

// EventHub fans authority events out to WebSocket subscribers. A bounded
// backlog lets a reconnecting client pick up events it missed; older events
// are gone and callers needing the full history read the audit journal.
type EventHub struct {
	mu      sync.Mutex
	backlog []StreamEvent
	limit   int
	subs    map[chan StreamEvent]struct{}
	seq     uint64
	nowFn   func() time.Time
}

// NewEventHub constructs a hub with the given backlog capacity; zero or
// negative means the default.
func NewEventHub(backlogSize int) *EventHub {
	if backlogSize <= 0 {
		backlogSize = defaultBacklogSize
	}
	return &EventHub{
		limit: backlogSize,
		subs:  make(map[chan StreamEvent]struct{}),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// Emit implements the events.Emitter interface.
func (h *EventHub) Emit(event events.Event) {
	if h == nil || event == nil {
		return
	}
	h.mu.Lock()
	h.seq++
	entry := StreamEvent{
		Sequence:   h.seq,
		Type:       event.EventType(),
		Attributes: event.Attributes(),
		EmittedAt:  h.nowFn(),
	}
	h.backlog = append(h.backlog, entry)
	if len(h.backlog) > h.limit {
		h.backlog = h.backlog[len(h.backlog)-h.limit:]
	}
	for sub := range h.subs {
		// Slow subscribers lose events rather than stalling the
		// signing path; the backlog covers short stalls.
		select {
		case sub <- entry:
		default:
		}
	}
	h.mu.Unlock()
}

// Subscribe registers a listener. The returned backlog holds events with
// sequence > after, and updates carries everything emitted from now on.
func (h *EventHub) Subscribe(after uint64) ([]StreamEvent, chan StreamEvent, func()) {
	updates := make(chan StreamEvent, subscriberBuffer)
	h.mu.Lock()
	var backlog []StreamEvent
	for _, entry := range h.backlog {
		if entry.Sequence > after {
			backlog = append(backlog, entry)
		}
	}
	h.subs[updates] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, updates)
		h.mu.Unlock()
	}
	return backlog, updates, cancel
}

// HandleEventsWS upgrades the request to a WebSocket and streams authority
// events. The same bearer token that gates signing gates the stream.
func (s *Server) HandleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.hub == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	if authErr := s.requireAuth(r); authErr != nil {
		http.Error(w, authErr.Message, http.StatusUnauthorized)
		return
	}
	var cursor uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("cursor")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}
		cursor = parsed
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, cursor); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor uint64) error {
	backlog, updates, cancel := s.hub.Subscribe(cursor)
	defer cancel()

	for _, entry := range backlog {
		if err := writeStreamEvent(ctx, conn, entry); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeStreamEvent(ctx, conn, entry); err != nil {
				return err
			}
		}
	}
}

func writeStreamEvent(ctx context.Context, conn *websocket.Conn, entry StreamEvent) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
