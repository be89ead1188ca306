package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"ownersale/core/events"
	"ownersale/core/types"
)

const (
	wsWriteTimeout    = 10 * time.Second
	subscriberBacklog = 64
)

// Hub fans sale lifecycle events out to websocket subscribers and records
// them in the durable history. It implements events.Emitter so the registry
// can publish directly into it.
type Hub struct {
	store  *SQLiteStore
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[chan StoredEvent]struct{}
	nextSeq     int64
}

var _ events.Emitter = (*Hub)(nil)

// NewHub returns a hub backed by the given store. A nil store disables the
// durable history; live delivery still works.
func NewHub(store *SQLiteStore, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		store:       store,
		logger:      logger,
		subscribers: make(map[chan StoredEvent]struct{}),
	}
}

// Emit implements events.Emitter. Slow subscribers are skipped rather than
// blocking the emitting sale operation.
func (h *Hub) Emit(evt events.Event) {
	payload := payloadOf(evt)
	stored := StoredEvent{Type: payload.Type, SaleID: payload.Attributes["saleId"], Event: payload, CreatedAt: time.Now().UTC()}
	if h.store != nil {
		seq, err := h.store.RecordEvent(context.Background(), payload)
		if err != nil {
			h.logger.Error("record event", "type", payload.Type, "err", err)
		} else {
			stored.Sequence = seq
		}
	}
	h.mu.Lock()
	if stored.Sequence == 0 {
		h.nextSeq++
		stored.Sequence = h.nextSeq
	} else if stored.Sequence > h.nextSeq {
		h.nextSeq = stored.Sequence
	}
	for sub := range h.subscribers {
		select {
		case sub <- stored:
		default:
			h.logger.Warn("dropping event for slow subscriber", "type", stored.Type)
		}
	}
	h.mu.Unlock()
}

func payloadOf(evt events.Event) types.Event {
	type carrier interface {
		Event() *types.Event
	}
	if c, ok := evt.(carrier); ok {
		if inner := c.Event(); inner != nil {
			return *inner
		}
	}
	return types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}

func (h *Hub) subscribe() chan StoredEvent {
	ch := make(chan StoredEvent, subscriberBacklog)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan StoredEvent) {
	h.mu.Lock()
	delete(h.subscribers, ch)
	h.mu.Unlock()
}

// ServeHTTP upgrades the connection and streams events, replaying the stored
// history after the optional ?cursor= sequence first.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cursor, err := parseCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		http.Error(w, "invalid cursor", http.StatusBadRequest)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	if err := h.stream(r.Context(), conn, cursor); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && r.Context().Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (h *Hub) stream(ctx context.Context, conn *websocket.Conn, cursor int64) error {
	sub := h.subscribe()
	defer h.unsubscribe(sub)

	last := cursor
	if h.store != nil {
		for {
			backlog, err := h.store.ListEvents(ctx, last, 100)
			if err != nil {
				return err
			}
			if len(backlog) == 0 {
				break
			}
			for _, evt := range backlog {
				if err := writeEvent(ctx, conn, evt); err != nil {
					return err
				}
				last = evt.Sequence
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-sub:
			if evt.Sequence <= last {
				continue
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
			last = evt.Sequence
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt StoredEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func parseCursor(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
