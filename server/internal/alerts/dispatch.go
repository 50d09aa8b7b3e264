package alerts

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nasalert/nasalert/server/internal/metrics"
)

// flushInterval bounds how late an HOURLY or DAILY batch goes out after its
// bucket rolls over when nothing else kicks the dispatcher.
const flushInterval = time.Minute

// EventKind tells whether an alert appeared or went away.
type EventKind int

const (
	EventNew EventKind = iota
	EventGone
)

// Batch is one notification delivered to every notifier.
type Batch struct {
	Policy Policy
	New    []*Alert
	Gone   []*Alert
}

// Empty reports whether the batch carries no alerts.
func (b *Batch) Empty() bool { return len(b.New) == 0 && len(b.Gone) == 0 }

// Notifier delivers a batch to one target (webhook, mail, ...).
type Notifier interface {
	Name() string
	Notify(ctx context.Context, b *Batch) error
}

// Dispatcher collects alert events per policy and delivers them when the
// policy's bucket rolls over.
//
// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	logger *zap.Logger
	now    func() time.Time
	kick   chan struct{}

	mu        sync.Mutex
	notifiers []Notifier
	pending   map[Policy]*Batch
	last      map[Policy]string
}

// NewDispatcher creates a Dispatcher delivering to notifiers.
func NewDispatcher(logger *zap.Logger, notifiers ...Notifier) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		logger:    logger,
		now:       time.Now,
		kick:      make(chan struct{}, 1),
		notifiers: notifiers,
		pending:   make(map[Policy]*Batch),
		last:      make(map[Policy]string),
	}
	now := d.now()
	for _, p := range Policies() {
		d.last[p] = p.Bucket(now)
	}
	return d
}

// SetNotifiers replaces the delivery targets, e.g. after a config reload.
func (d *Dispatcher) SetNotifiers(ns []Notifier) {
	d.mu.Lock()
	d.notifiers = ns
	d.mu.Unlock()
}

// Enqueue records an event for delivery under policy p. Dismissed alerts and
// the NEVER policy are dropped here.
func (d *Dispatcher) Enqueue(p Policy, kind EventKind, a *Alert) {
	if p == PolicyNever || a.Dismissed {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.pending[p]
	if !ok {
		b = &Batch{Policy: p}
		d.pending[p] = b
	}
	if kind == EventNew {
		b.New = append(b.New, a)
	} else {
		b.Gone = append(b.Gone, a)
	}
}

// Kick asks Run to flush soon. It never blocks.
func (d *Dispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Run flushes on every Kick and once per minute until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	t := time.NewTicker(flushInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.kick:
			d.Flush(ctx, d.now())
		case now := <-t.C:
			d.Flush(ctx, now)
		}
	}
}

// Flush delivers every pending batch whose policy is due at now and returns
// the number of batches sent. Delivery errors are logged, never returned.
func (d *Dispatcher) Flush(ctx context.Context, now time.Time) int {
	d.mu.Lock()
	var due []*Batch
	for _, p := range Policies() {
		bucket := p.Bucket(now)
		if p != PolicyImmediately && bucket == d.last[p] {
			continue
		}
		d.last[p] = bucket
		if b, ok := d.pending[p]; ok && !b.Empty() {
			due = append(due, b)
			delete(d.pending, p)
		}
	}
	notifiers := d.notifiers
	d.mu.Unlock()

	for _, b := range due {
		for _, n := range notifiers {
			if err := n.Notify(ctx, b); err != nil {
				metrics.Notifications.WithLabelValues(n.Name(), "error").Inc()
				d.logger.Error("alert notification failed",
					zap.String("notifier", n.Name()),
					zap.String("policy", string(b.Policy)),
					zap.Error(err),
				)
				continue
			}
			metrics.Notifications.WithLabelValues(n.Name(), "ok").Inc()
			d.logger.Debug("alert notification delivered",
				zap.String("notifier", n.Name()),
				zap.Int("new", len(b.New)),
				zap.Int("gone", len(b.Gone)),
			)
		}
	}
	return len(due)
}
