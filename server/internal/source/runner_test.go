package source_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/nasalert/nasalert/server/internal/alerts"
	"github.com/nasalert/nasalert/server/internal/source"
	"github.com/nasalert/nasalert/server/internal/store"
)

// scripted returns one queued result per Check call, repeating the last.
type scripted struct {
	mu      sync.Mutex
	results []result
	calls   int
}

type result struct {
	alerts []*alerts.Alert
	err    error
}

func (s *scripted) Name() string            { return "VolumeStatus" }
func (s *scripted) Interval() time.Duration { return 5 * time.Millisecond }

func (s *scripted) Check(context.Context) ([]*alerts.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.results[min(s.calls, len(s.results)-1)]
	s.calls++
	return r.alerts, r.err
}

func (s *scripted) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func pool(name, state string) *alerts.Alert {
	a := alerts.New(alerts.VolumeStatus, map[string]any{"volume": name, "state": state, "status": "x"})
	a.Key = name
	return a
}

func TestRunOnceErrorKeepsPreviousAlerts(t *testing.T) {
	ctx := context.Background()
	m := alerts.NewManager(store.NewMemory(), nil, nil)
	src := &scripted{results: []result{
		{alerts: []*alerts.Alert{pool("tank", "DEGRADED")}},
		{err: errors.New("node_exporter down")},
		{},
	}}
	r := source.NewRunner(m, zaptest.NewLogger(t), src)

	require.NoError(t, r.RunOnce(ctx, src))
	require.Len(t, m.List(ctx), 1)
	id := m.List(ctx)[0].ID

	require.Error(t, r.RunOnce(ctx, src))
	list := m.List(ctx)
	require.Len(t, list, 1, "a failed check must not clear alerts")
	assert.Equal(t, id, list[0].ID)

	require.NoError(t, r.RunOnce(ctx, src))
	assert.Empty(t, m.List(ctx))
}

func TestRunnerStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := alerts.NewManager(store.NewMemory(), nil, nil)
	src := &scripted{results: []result{{alerts: []*alerts.Alert{pool("tank", "FAULTED")}}}}
	r := source.NewRunner(m, nil, src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return src.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
	require.Len(t, m.List(context.Background()), 1, "repeated checks keep one alert per pool")
}

func TestRunnerTrigger(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := alerts.NewManager(store.NewMemory(), nil, nil)
	src := &slow{scripted: scripted{results: []result{{}}}}
	r := source.NewRunner(m, nil, src)
	r.Trigger("unknown")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return src.count() == 1 }, time.Second, time.Millisecond)
	r.Trigger("slow")
	require.Eventually(t, func() bool { return src.count() == 2 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

// slow is a source whose interval never elapses during a test.
type slow struct{ scripted }

func (s *slow) Name() string            { return "slow" }
func (s *slow) Interval() time.Duration { return time.Hour }
