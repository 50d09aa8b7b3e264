package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nasalert/nasalert/pkg/types"
	"github.com/nasalert/nasalert/server/internal/alerts"
	"github.com/nasalert/nasalert/server/internal/api"
)

const (
	writeWait = 10 * time.Second

	// pongWait is how long a subscriber may stay silent before it is
	// considered gone. Pings go out well inside that window.
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	outboxSize   = 16
	maxFrameSize = 512
)

// EventAlerts is the event name of every message the hub sends.
const EventAlerts = "alerts"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origins are checked by the reverse proxy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Lister returns the live alerts. *alerts.Manager implements it.
type Lister interface {
	List(ctx context.Context) []*alerts.Alert
}

// Hub pushes the alert list to websocket subscribers. Run owns the
// subscriber set; ServeHTTP joins and leaves through channels.
type Hub struct {
	alerts   Lister
	interval time.Duration

	kick  chan struct{}
	join  chan *subscriber
	leave chan *subscriber
	done  chan struct{}

	subscribers atomic.Int64
}

type subscriber struct {
	outbox chan []byte
}

// New returns a hub that lists alerts from l and pushes them every interval
// and on Kick.
func New(l Lister, interval time.Duration) *Hub {
	return &Hub{
		alerts:   l,
		interval: interval,
		kick:     make(chan struct{}, 1),
		join:     make(chan *subscriber),
		leave:    make(chan *subscriber),
		done:     make(chan struct{}),
	}
}

// Run pushes the alert list until ctx is cancelled, then disconnects every
// subscriber. A list identical to the last one pushed is not sent again.
func (h *Hub) Run(ctx context.Context) error {
	subs := make(map[*subscriber]struct{})
	defer func() {
		h.subscribers.Store(0)
		for s := range subs {
			close(s.outbox)
		}
		close(h.done)
	}()

	t := time.NewTicker(h.interval)
	defer t.Stop()

	var last []byte
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-h.join:
			subs[s] = struct{}{}
		case s := <-h.leave:
			if _, ok := subs[s]; ok {
				delete(subs, s)
				close(s.outbox)
			}
		case <-t.C:
			last = h.push(ctx, subs, last)
		case <-h.kick:
			last = h.push(ctx, subs, last)
		}
		h.subscribers.Store(int64(len(subs)))
	}
}

// push sends the current list to every subscriber and returns it. A
// subscriber whose outbox is full is dropped.
func (h *Hub) push(ctx context.Context, subs map[*subscriber]struct{}, last []byte) []byte {
	payload, err := h.snapshot(ctx)
	if err != nil {
		zap.L().Error("ws: encode alert list", zap.Error(err))
		return last
	}
	if bytes.Equal(payload, last) {
		return last
	}
	for s := range subs {
		select {
		case s.outbox <- payload:
		default:
			zap.L().Warn("ws: dropping slow subscriber")
			delete(subs, s)
			close(s.outbox)
		}
	}
	return payload
}

// Kick asks Run to push now. It never blocks.
func (h *Hub) Kick() {
	select {
	case h.kick <- struct{}{}:
	default:
	}
}

// Count returns the number of subscribers Run currently serves.
func (h *Hub) Count() int { return int(h.subscribers.Load()) }

// ServeHTTP upgrades the request, sends the current alert list and then
// every list Run pushes, until either side goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already replied
	}
	defer conn.Close()

	s := &subscriber{outbox: make(chan []byte, outboxSize)}
	if payload, err := h.snapshot(r.Context()); err == nil {
		s.outbox <- payload
	}
	select {
	case h.join <- s:
	case <-h.done:
		return
	}
	defer func() {
		select {
		case h.leave <- s:
		case <-h.done:
		}
	}()
	zap.L().Debug("ws: subscriber joined", zap.String("remote", r.RemoteAddr))

	gone := make(chan struct{})
	go drain(conn, gone)
	deliver(conn, s.outbox, gone)
}

func (h *Hub) snapshot(ctx context.Context) ([]byte, error) {
	return json.Marshal(types.AlertsMessage{
		Event: EventAlerts,
		Data:  api.BuildAlerts(h.alerts.List(ctx)),
	})
}

// deliver writes outbox to conn and keeps it alive with pings. It returns
// when outbox is closed, a write fails or the peer is gone.
func deliver(conn *websocket.Conn, outbox <-chan []byte, gone <-chan struct{}) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case payload, ok := <-outbox:
			deadline := time.Now().Add(writeWait)
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
				conn.WriteControl(websocket.CloseMessage, msg, deadline) //nolint:errcheck
				return
			}
			conn.SetWriteDeadline(deadline) //nolint:errcheck
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// drain discards inbound frames so control frames are processed, and closes
// gone once the connection fails.
func drain(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)
	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}
