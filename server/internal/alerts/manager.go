package alerts

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nasalert/nasalert/server/internal/metrics"
)

// ErrNotFound is returned when no live alert has the requested id.
var ErrNotFound = errors.New("alerts: alert not found")

// ErrUnknownClass is returned for a class name that is not registered.
var ErrUnknownClass = errors.New("alerts: unknown alert class")

// ErrInvalid marks a one-shot request the class rejects.
var ErrInvalid = errors.New("alerts: invalid one-shot request")

// Store persists alerts by id.
type Store interface {
	List(ctx context.Context) ([]*Alert, error)
	Put(ctx context.Context, a *Alert) error
	Delete(ctx context.Context, id string) error
}

// Override replaces the registered level and policy of a class. Zero fields
// keep the class defaults.
type Override struct {
	Level  Level
	Policy Policy
}

// Manager owns the list of live alerts.
//
// Manager is safe for concurrent use. mu guards the list and is never held
// across store or notifier calls. persistMu is taken before mu by every
// mutation and held through its store writes, so the store sees writes in
// the same order as the list.
type Manager struct {
	store      Store
	dispatcher *Dispatcher
	logger     *zap.Logger
	now        func() time.Time // injectable for deterministic tests
	newID      func() string

	persistMu sync.Mutex

	mu        sync.Mutex
	alerts    []*Alert
	overrides map[string]Override
	onChange  func()
}

// NewManager creates a Manager persisting through st. d may be nil, in which
// case no notifications are sent.
func NewManager(st Store, d *Dispatcher, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:      st,
		dispatcher: d,
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
		overrides:  make(map[string]Override),
	}
}

// SetOverrides replaces the per-class level and policy overrides.
func (m *Manager) SetOverrides(o map[string]Override) {
	cp := make(map[string]Override, len(o))
	for k, v := range o {
		cp[k] = v
	}
	m.mu.Lock()
	m.overrides = cp
	m.mu.Unlock()
}

// OnChange registers fn to be called after every change to the alert list.
// fn must not block.
func (m *Manager) OnChange(fn func()) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

func (m *Manager) changed() {
	m.mu.Lock()
	fn := m.onChange
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Effective returns the level and policy in force for c.
func (m *Manager) Effective(c *Class) (Level, Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.effectiveLocked(c)
}

func (m *Manager) effectiveLocked(c *Class) (Level, Policy) {
	level, policy := c.Level, PolicyImmediately
	if o, ok := m.overrides[c.Name]; ok {
		if o.Level != 0 {
			level = o.Level
		}
		if o.Policy != "" {
			policy = o.Policy
		}
	}
	return level, policy
}

// Load replaces the in-memory list with the persisted alerts. Alerts of
// classes that are no longer registered are dropped from the store.
func (m *Manager) Load(ctx context.Context) error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	stored, err := m.store.List(ctx)
	if err != nil {
		return errors.Wrap(err, "alerts: load")
	}

	var kept, stale []*Alert
	for _, a := range stored {
		if _, ok := Lookup(a.Klass); !ok {
			m.logger.Warn("dropping alert of unknown class",
				zap.String("id", a.ID), zap.String("klass", a.Klass))
			stale = append(stale, a)
			continue
		}
		kept = append(kept, a)
	}

	m.mu.Lock()
	m.alerts = kept
	m.updateGaugesLocked()
	m.mu.Unlock()

	for _, a := range stale {
		if err := m.store.Delete(ctx, a.ID); err != nil {
			return errors.Wrapf(err, "alerts: drop stale alert %s", a.ID)
		}
	}
	m.logger.Info("alerts loaded", zap.Int("count", len(kept)), zap.Int("dropped", len(stale)))
	return nil
}

// List returns copies of all live alerts, oldest first.
func (m *Manager) List(_ context.Context) []*Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Datetime.Equal(out[j].Datetime) {
			return out[i].Datetime.Before(out[j].Datetime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns a copy of the alert with the given id.
func (m *Manager) Get(_ context.Context, id string) (*Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a := m.findLocked(id); a != nil {
		return a.Clone(), nil
	}
	return nil, errors.Wrapf(ErrNotFound, "id %s", id)
}

// OneShotCreate raises an alert of the one-shot class klass. An existing alert
// of the class with the same key is refreshed instead of duplicated.
func (m *Manager) OneShotCreate(ctx context.Context, klass string, args map[string]any) (*Alert, error) {
	c, ok := Lookup(klass)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownClass, "%q", klass)
	}
	created, err := c.Create(args)
	if err != nil {
		return nil, err
	}

	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	now := m.now()
	m.mu.Lock()
	level, policy := m.effectiveLocked(c)
	var (
		saved *Alert
		isNew bool
	)
	if existing := m.findKeyLocked(c.Name, created.Key); existing != nil {
		existing.Args = created.Args
		existing.Level = level
		existing.LastOccurrence = now
		saved = existing.Clone()
	} else {
		created.ID = m.newID()
		created.Level = level
		created.Datetime = now
		created.LastOccurrence = now
		m.alerts = append(m.alerts, created)
		saved = created.Clone()
		isNew = true
	}
	m.updateGaugesLocked()
	m.mu.Unlock()

	if err := m.store.Put(ctx, saved); err != nil {
		return nil, errors.Wrapf(err, "alerts: persist %s", saved.ID)
	}
	if isNew {
		m.logger.Info("one-shot alert created",
			zap.String("klass", c.Name), zap.String("key", saved.Key), zap.String("id", saved.ID))
		m.notify(policy, EventNew, saved)
	}
	m.changed()
	return saved, nil
}

// OneShotDelete removes the alerts of the one-shot class klass whose key
// matches query.
func (m *Manager) OneShotDelete(ctx context.Context, klass string, query any) error {
	c, ok := Lookup(klass)
	if !ok {
		return errors.Wrapf(ErrUnknownClass, "%q", klass)
	}
	if !c.OneShot {
		return errors.Mark(errors.Newf("alerts: class %s is not one-shot", c.Name), ErrInvalid)
	}

	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	_, policy := m.effectiveLocked(c)
	remaining := c.Delete(m.alerts, query)
	removed := difference(m.alerts, remaining)
	m.alerts = remaining
	m.updateGaugesLocked()
	m.mu.Unlock()

	for _, a := range removed {
		if err := m.store.Delete(ctx, a.ID); err != nil {
			return errors.Wrapf(err, "alerts: delete %s", a.ID)
		}
		m.logger.Info("one-shot alert deleted",
			zap.String("klass", c.Name), zap.String("key", a.Key), zap.String("id", a.ID))
		m.notify(policy, EventGone, a)
	}
	m.changed()
	return nil
}

// Dismiss marks the alert as dismissed. One-shot alerts that are never
// deleted automatically are removed instead, since nothing else would ever
// clear them.
func (m *Manager) Dismiss(ctx context.Context, id string) error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	a := m.findLocked(id)
	if a == nil {
		m.mu.Unlock()
		return errors.Wrapf(ErrNotFound, "id %s", id)
	}
	c := a.Class()
	if c != nil && c.OneShot && !c.DeletedAutomatically {
		// Store first, so a failed delete leaves the alert listed.
		m.mu.Unlock()
		if err := m.store.Delete(ctx, id); err != nil {
			return errors.Wrapf(err, "alerts: delete %s", id)
		}
		m.mu.Lock()
		m.alerts = removeID(m.alerts, id)
		m.updateGaugesLocked()
		m.mu.Unlock()
		m.logger.Info("one-shot alert dismissed and deleted", zap.String("id", id))
		m.changed()
		return nil
	}
	a.Dismissed = true
	saved := a.Clone()
	m.updateGaugesLocked()
	m.mu.Unlock()

	if err := m.store.Put(ctx, saved); err != nil {
		return errors.Wrapf(err, "alerts: persist %s", id)
	}
	m.logger.Info("alert dismissed", zap.String("id", id), zap.String("klass", saved.Klass))
	m.changed()
	return nil
}

// Restore clears the dismissed flag of the alert.
func (m *Manager) Restore(ctx context.Context, id string) error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	a := m.findLocked(id)
	if a == nil {
		m.mu.Unlock()
		return errors.Wrapf(ErrNotFound, "id %s", id)
	}
	a.Dismissed = false
	saved := a.Clone()
	m.updateGaugesLocked()
	m.mu.Unlock()

	if err := m.store.Put(ctx, saved); err != nil {
		return errors.Wrapf(err, "alerts: persist %s", id)
	}
	m.logger.Info("alert restored", zap.String("id", id), zap.String("klass", saved.Klass))
	m.changed()
	return nil
}

// Reconcile replaces the alerts previously produced by source with produced.
// Alerts matching an existing (class, key) keep their id, creation time and
// dismissed flag. Alerts the source no longer produces are removed when their
// class is deleted automatically.
func (m *Manager) Reconcile(ctx context.Context, source string, produced []*Alert) error {
	now := m.now()

	type event struct {
		policy Policy
		kind   EventKind
		alert  *Alert
	}
	var (
		puts    []*Alert
		deletes []*Alert
		events  []event
	)

	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	existing := make(map[string]*Alert)
	var next []*Alert
	for _, a := range m.alerts {
		if a.Source == source {
			existing[identity(a.Klass, a.Key)] = a
			continue
		}
		next = append(next, a)
	}

	seen := make(map[string]bool, len(produced))
	for _, p := range produced {
		c, ok := Lookup(p.Klass)
		if !ok {
			m.logger.Warn("source produced alert of unknown class",
				zap.String("source", source), zap.String("klass", p.Klass))
			continue
		}
		key := p.Key
		if key == "" {
			key = argsKey(p.Args)
		}
		id := identity(c.Name, key)
		if seen[id] {
			continue
		}
		seen[id] = true
		level, policy := m.effectiveLocked(c)

		if e, ok := existing[id]; ok {
			e.Args = cloneArgs(p.Args)
			e.Level = level
			e.LastOccurrence = now
			next = append(next, e)
			puts = append(puts, e.Clone())
			continue
		}
		a := &Alert{
			ID:             m.newID(),
			Source:         source,
			Klass:          c.Name,
			Args:           cloneArgs(p.Args),
			Key:            key,
			Level:          level,
			Datetime:       now,
			LastOccurrence: now,
		}
		next = append(next, a)
		puts = append(puts, a.Clone())
		events = append(events, event{policy, EventNew, a.Clone()})
	}

	for id, e := range existing {
		if seen[id] {
			continue
		}
		c := e.Class()
		if c != nil && !c.DeletedAutomatically {
			next = append(next, e)
			continue
		}
		deletes = append(deletes, e.Clone())
		policy := PolicyImmediately
		if c != nil {
			_, policy = m.effectiveLocked(c)
		}
		events = append(events, event{policy, EventGone, e.Clone()})
	}
	m.alerts = next
	m.updateGaugesLocked()
	m.mu.Unlock()

	for _, a := range puts {
		if err := m.store.Put(ctx, a); err != nil {
			return errors.Wrapf(err, "alerts: persist %s", a.ID)
		}
	}
	for _, a := range deletes {
		if err := m.store.Delete(ctx, a.ID); err != nil {
			return errors.Wrapf(err, "alerts: delete %s", a.ID)
		}
	}
	for _, ev := range events {
		if ev.kind == EventNew {
			m.logger.Warn("alert raised",
				zap.String("source", source),
				zap.String("klass", ev.alert.Klass),
				zap.String("level", ev.alert.Level.String()),
				zap.String("text", ev.alert.Formatted()),
			)
		} else {
			m.logger.Info("alert cleared",
				zap.String("source", source), zap.String("klass", ev.alert.Klass), zap.String("id", ev.alert.ID))
		}
		m.notify(ev.policy, ev.kind, ev.alert)
	}
	m.changed()
	return nil
}

func (m *Manager) notify(p Policy, kind EventKind, a *Alert) {
	if m.dispatcher == nil {
		return
	}
	m.dispatcher.Enqueue(p, kind, a)
	m.dispatcher.Kick()
}

func (m *Manager) findLocked(id string) *Alert {
	for _, a := range m.alerts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (m *Manager) findKeyLocked(klass, key string) *Alert {
	for _, a := range m.alerts {
		if a.Klass == klass && a.Key == key {
			return a
		}
	}
	return nil
}

func (m *Manager) updateGaugesLocked() {
	metrics.Alerts.Reset()
	for _, a := range m.alerts {
		metrics.Alerts.WithLabelValues(a.Level.String(), strconv.FormatBool(a.Dismissed)).Inc()
	}
}

// difference returns the alerts in all that are not in kept (by pointer).
func difference(all, kept []*Alert) []*Alert {
	keep := make(map[*Alert]bool, len(kept))
	for _, a := range kept {
		keep[a] = true
	}
	var out []*Alert
	for _, a := range all {
		if !keep[a] {
			out = append(out, a)
		}
	}
	return out
}

func removeID(alerts []*Alert, id string) []*Alert {
	out := make([]*Alert, 0, len(alerts))
	for _, a := range alerts {
		if a.ID != id {
			out = append(out, a)
		}
	}
	return out
}
