package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"mavuno/core/events"
	"mavuno/observability"
)

const (
	wsWriteTimeout     = 10 * time.Second
	subscriberBacklog  = 64
	streamPingInterval = 30 * time.Second
)

// StreamEvent is one message on the websocket event stream.
type StreamEvent struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Hub fans committed ledger events out to websocket subscribers. A subscriber
// that falls behind loses events rather than stalling the ledger.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan StreamEvent]struct{}
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan StreamEvent]struct{})}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	record := evt.Event()
	if record == nil {
		return
	}
	msg := StreamEvent{Type: record.Type, Attributes: record.Attributes}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subscribers {
		select {
		case ch <- msg:
		default:
			observability.Events().RecordDrop("websocket")
		}
	}
}

func (h *Hub) subscribe() (<-chan StreamEvent, func()) {
	ch := make(chan StreamEvent, subscriberBacklog)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subscribers, ch)
		h.mu.Unlock()
	}
}

// Subscribers reports the number of open streams.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// streamFilter narrows a stream by event type prefix and currency.
type streamFilter struct {
	typePrefix string
	currency   string
}

func (f streamFilter) match(evt StreamEvent) bool {
	if f.typePrefix != "" && !strings.HasPrefix(evt.Type, f.typePrefix) {
		return false
	}
	if f.currency != "" && !strings.EqualFold(evt.Attributes["currency"], f.currency) {
		return false
	}
	return true
}

// ServeHTTP upgrades to a websocket and streams events until the client goes
// away. Query parameters type and currency filter the stream.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter := streamFilter{
		typePrefix: strings.TrimSpace(r.URL.Query().Get("type")),
		currency:   strings.TrimSpace(r.URL.Query().Get("currency")),
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	updates, cancel := h.subscribe()
	defer cancel()
	ctx := conn.CloseRead(r.Context())
	if err := stream(ctx, conn, updates, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func stream(ctx context.Context, conn *websocket.Conn, updates <-chan StreamEvent, filter streamFilter) error {
	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		case evt := <-updates:
			if !filter.match(evt) {
				continue
			}
			data, err := json.Marshal(evt)
			if err != nil {
				return err
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
