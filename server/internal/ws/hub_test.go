package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nasalert/nasalert/pkg/types"
	"github.com/nasalert/nasalert/server/internal/alerts"
	"github.com/nasalert/nasalert/server/internal/store"
	"github.com/nasalert/nasalert/server/internal/ws"
)

const tick = 20 * time.Millisecond

// degrade makes the VolumeStatus source report pools as degraded.
func degrade(t *testing.T, m *alerts.Manager, pools ...string) {
	t.Helper()
	produced := make([]*alerts.Alert, 0, len(pools))
	for _, p := range pools {
		a := alerts.New(alerts.VolumeStatus, map[string]any{"volume": p, "state": "DEGRADED", "status": "x"})
		a.Key = p
		produced = append(produced, a)
	}
	require.NoError(t, m.Reconcile(context.Background(), "VolumeStatus", produced))
}

type harness struct {
	mgr    *alerts.Manager
	hub    *ws.Hub
	url    string
	cancel context.CancelFunc
}

func newHarness(t *testing.T, interval time.Duration, pools ...string) *harness {
	t.Helper()
	mgr := alerts.NewManager(store.NewMemory(), nil, nil)
	degrade(t, mgr, pools...)

	hub := ws.New(mgr, interval)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(stopped)
	}()
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		cancel()
		<-stopped
		srv.Close()
	})
	return &harness{mgr: mgr, hub: hub, url: "ws" + strings.TrimPrefix(srv.URL, "http"), cancel: cancel}
}

func (h *harness) subscribe(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(h.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func next(t *testing.T, conn *websocket.Conn, within time.Duration) (types.AlertsMessage, error) {
	t.Helper()
	var msg types.AlertsMessage
	conn.SetReadDeadline(time.Now().Add(within)) //nolint:errcheck
	_, data, err := conn.ReadMessage()
	if err != nil {
		return msg, err
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg, nil
}

func mustNext(t *testing.T, conn *websocket.Conn) types.AlertsMessage {
	t.Helper()
	msg, err := next(t, conn, 2*time.Second)
	require.NoError(t, err)
	return msg
}

func TestHubSendsListOnSubscribe(t *testing.T) {
	h := newHarness(t, time.Hour, "tank")

	msg := mustNext(t, h.subscribe(t))
	assert.Equal(t, ws.EventAlerts, msg.Event)
	require.Len(t, msg.Data, 1)
	assert.Equal(t, "tank", msg.Data[0].Args["volume"])
	assert.Equal(t, "CRITICAL", msg.Data[0].Level)
}

func TestHubEmptyListIsArray(t *testing.T) {
	h := newHarness(t, time.Hour)

	msg := mustNext(t, h.subscribe(t))
	assert.NotNil(t, msg.Data)
	assert.Empty(t, msg.Data)
}

func TestHubCount(t *testing.T) {
	h := newHarness(t, time.Hour)

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = h.subscribe(t)
		mustNext(t, conns[i])
	}
	require.Eventually(t, func() bool { return h.hub.Count() == 3 }, time.Second, 5*time.Millisecond)

	conns[0].Close()
	require.Eventually(t, func() bool { return h.hub.Count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestHubPushesChangesOnTick(t *testing.T) {
	h := newHarness(t, tick)
	conn := h.subscribe(t)
	mustNext(t, conn)

	degrade(t, h.mgr, "tank", "backup")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msg := mustNext(t, conn); len(msg.Data) == 2 {
			return
		}
	}
	t.Fatal("no tick carried the new alerts")
}

func TestHubSkipsUnchangedList(t *testing.T) {
	h := newHarness(t, tick, "tank")
	conn := h.subscribe(t)
	mustNext(t, conn)

	// The first tick may repeat the list once; after that nothing changes.
	_, _ = next(t, conn, 5*tick)
	_, err := next(t, conn, 5*tick)
	require.Error(t, err)
	var ne interface{ Timeout() bool }
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout())
}

func TestHubKickPushesAtOnce(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.mgr.OnChange(h.hub.Kick)
	conn := h.subscribe(t)
	mustNext(t, conn)

	degrade(t, h.mgr, "tank")
	assert.Len(t, mustNext(t, conn).Data, 1)
}

func TestHubShutdownDisconnects(t *testing.T) {
	h := newHarness(t, time.Hour)
	conn := h.subscribe(t)
	mustNext(t, conn)
	require.Eventually(t, func() bool { return h.hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	h.cancel()

	_, err := next(t, conn, 2*time.Second)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Zero(t, h.hub.Count())
}

func TestHubRejectsPlainHTTP(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub := ws.New(alerts.NewManager(store.NewMemory(), nil, nil), tick)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	http.DefaultClient.CloseIdleConnections()
}
