package store

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/nasalert/nasalert/server/internal/alerts"
)

// Store is an alert persistence backend.
type Store interface {
	alerts.Store
	Close() error
}

// Open returns the backend named by driver: memory | sqlite | postgres | redis.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(ctx, dsn)
	case "postgres":
		return OpenPostgres(ctx, dsn)
	case "redis":
		return OpenRedis(ctx, dsn)
	default:
		return nil, errors.Newf("store: unknown driver %q", driver)
	}
}

// Memory is a thread-safe in-memory alert store. Nothing survives a restart.
type Memory struct {
	mu   sync.RWMutex
	data map[string]*alerts.Alert
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]*alerts.Alert)}
}

// List returns copies of all stored alerts ordered by id.
func (m *Memory) List(_ context.Context) ([]*alerts.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*alerts.Alert, 0, len(m.data))
	for _, a := range m.data {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Put stores or replaces a by id.
func (m *Memory) Put(_ context.Context, a *alerts.Alert) error {
	if a.ID == "" {
		return errors.New("store: alert without id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[a.ID] = a.Clone()
	return nil
}

// Delete removes the alert with the given id. Unknown ids are not an error.
func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

// Count returns the number of stored alerts.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *Memory) Close() error { return nil }
