package source

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nasalert/nasalert/server/internal/alerts"
	"github.com/nasalert/nasalert/server/internal/metrics"
)

const defaultInterval = time.Minute

// Source produces the complete set of alerts for one condition.
type Source interface {
	Name() string
	Interval() time.Duration
	Check(ctx context.Context) ([]*alerts.Alert, error)
}

// Reconciler accepts the alerts a source currently produces. *alerts.Manager
// implements it.
type Reconciler interface {
	Reconcile(ctx context.Context, source string, produced []*alerts.Alert) error
}

// Runner schedules sources and feeds their results to a Reconciler.
type Runner struct {
	rec     Reconciler
	sources []Source
	logger  *zap.Logger
	kicks   map[string]chan struct{}
}

// NewRunner returns a runner for sources.
func NewRunner(rec Reconciler, logger *zap.Logger, sources ...Source) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	kicks := make(map[string]chan struct{}, len(sources))
	for _, s := range sources {
		kicks[s.Name()] = make(chan struct{}, 1)
	}
	return &Runner{rec: rec, sources: sources, logger: logger, kicks: kicks}
}

// Trigger asks Run to check the named source now instead of waiting for its
// next tick. Unknown names are ignored. It never blocks.
func (r *Runner) Trigger(name string) {
	select {
	case r.kicks[name] <- struct{}{}:
	default:
	}
}

// Run checks every source once immediately and then on its interval until
// ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range r.sources {
		s := s
		g.Go(func() error {
			r.loop(ctx, s)
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) loop(ctx context.Context, s Source) {
	interval := s.Interval()
	if interval <= 0 {
		interval = defaultInterval
	}
	r.logger.Info("alert source started", zap.String("source", s.Name()), zap.Duration("interval", interval))

	_ = r.RunOnce(ctx, s)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = r.RunOnce(ctx, s)
		case <-r.kicks[s.Name()]:
			_ = r.RunOnce(ctx, s)
		}
	}
}

// RunOnce checks s and reconciles its alerts. On error the alerts s produced
// before are left untouched.
func (r *Runner) RunOnce(ctx context.Context, s Source) error {
	start := time.Now()
	produced, err := s.Check(ctx)
	metrics.SourceCheckDuration.WithLabelValues(s.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SourceChecks.WithLabelValues(s.Name(), "error").Inc()
		if ctx.Err() == nil {
			r.logger.Warn("alert source check failed", zap.String("source", s.Name()), zap.Error(err))
		}
		return err
	}
	metrics.SourceChecks.WithLabelValues(s.Name(), "ok").Inc()

	if err := r.rec.Reconcile(ctx, s.Name(), produced); err != nil {
		r.logger.Error("alert reconcile failed", zap.String("source", s.Name()), zap.Error(err))
		return err
	}
	r.logger.Debug("alert source checked", zap.String("source", s.Name()), zap.Int("alerts", len(produced)))
	return nil
}
