package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"ownersale/core/types"
)

// lifecycleEvent is a minimal emitter payload carrying a full types.Event, the
// same shape the sale layer publishes.
type lifecycleEvent struct {
	inner types.Event
}

func (e lifecycleEvent) EventType() string { return e.inner.Type }

func (e lifecycleEvent) Event() *types.Event { return &e.inner }

func newTestHub(t *testing.T) (*Hub, *SQLiteStore) {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewHub(store, nil), store
}

func emitSaleEvent(hub *Hub, saleID, kind string) {
	hub.Emit(lifecycleEvent{inner: types.Event{
		Type:       kind,
		Attributes: map[string]string{"saleId": saleID},
	}})
}

func readStoredEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) StoredEvent {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(readCtx)
	require.NoError(t, err)
	var evt StoredEvent
	require.NoError(t, json.Unmarshal(data, &evt))
	return evt
}

func TestHubEmitRecordsHistoryAndFansOut(t *testing.T) {
	hub, store := newTestHub(t)

	sub := hub.subscribe()
	defer hub.unsubscribe(sub)

	emitSaleEvent(hub, "sale-1", "sale.created")
	emitSaleEvent(hub, "sale-1", "sale.started")

	history, err := store.ListEvents(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "sale.created", history[0].Event.Type)
	require.Equal(t, "sale.started", history[1].Event.Type)
	require.Equal(t, "sale-1", history[0].SaleID)
	require.Less(t, history[0].Sequence, history[1].Sequence)

	first := <-sub
	second := <-sub
	require.Equal(t, history[0].Sequence, first.Sequence)
	require.Equal(t, "sale.created", first.Type)
	require.Equal(t, history[1].Sequence, second.Sequence)
	require.Equal(t, "sale.started", second.Type)
	select {
	case extra := <-sub:
		t.Fatalf("unexpected extra event %q", extra.Type)
	default:
	}
}

func TestHubStreamReplaysBacklogAfterCursorThenLive(t *testing.T) {
	hub, _ := newTestHub(t)

	emitSaleEvent(hub, "sale-1", "sale.created")
	emitSaleEvent(hub, "sale-1", "sale.started")
	emitSaleEvent(hub, "sale-1", "sale.offer_made")

	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	wsURL := strings.Replace(srv.URL, "http", "ws", 1) + "?cursor=1"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The stored history past the cursor arrives first, exactly once.
	replayed := readStoredEvent(t, ctx, conn)
	require.Equal(t, int64(2), replayed.Sequence)
	require.Equal(t, "sale.started", replayed.Type)
	replayed = readStoredEvent(t, ctx, conn)
	require.Equal(t, int64(3), replayed.Sequence)
	require.Equal(t, "sale.offer_made", replayed.Type)

	// Subsequent emits are delivered live with increasing sequences.
	emitSaleEvent(hub, "sale-1", "sale.finalized")
	live := readStoredEvent(t, ctx, conn)
	require.Equal(t, int64(4), live.Sequence)
	require.Equal(t, "sale.finalized", live.Type)
	require.Equal(t, "sale-1", live.SaleID)
}

func TestHubStreamRejectsMalformedCursor(t *testing.T) {
	hub, _ := newTestHub(t)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "?cursor=not-a-number")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 400, resp.StatusCode)
}
