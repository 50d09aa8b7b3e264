package identity

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sony/gobreaker"
)

// breaker wraps a directory provider so a dead service fails fast instead of
// costing a connect timeout on every lookup.
type breaker struct {
	p  Provider
	cb *gobreaker.CircuitBreaker
}

// WithBreaker trips after failures consecutive unavailable errors and probes
// the provider again after timeout. ErrNotFound counts as success.
func WithBreaker(p Provider, failures uint32, timeout time.Duration) Provider {
	if failures == 0 {
		failures = 3
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &breaker{
		p: p,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    p.Name(),
			Timeout: timeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= failures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrNotFound)
			},
		}),
	}
}

func (b *breaker) Name() string { return b.p.Name() }

func (b *breaker) LookupUser(ctx context.Context, id string) (*User, error) {
	v, err := b.do(func() (interface{}, error) { return b.p.LookupUser(ctx, id) })
	if err != nil {
		return nil, err
	}
	return v.(*User), nil
}

func (b *breaker) LookupGroup(ctx context.Context, id string) (*Group, error) {
	v, err := b.do(func() (interface{}, error) { return b.p.LookupGroup(ctx, id) })
	if err != nil {
		return nil, err
	}
	return v.(*Group), nil
}

func (b *breaker) Users(ctx context.Context) ([]*User, error) {
	v, err := b.do(func() (interface{}, error) { return b.p.Users(ctx) })
	if err != nil {
		return nil, err
	}
	return v.([]*User), nil
}

func (b *breaker) Groups(ctx context.Context) ([]*Group, error) {
	v, err := b.do(func() (interface{}, error) { return b.p.Groups(ctx) })
	if err != nil {
		return nil, err
	}
	return v.([]*Group), nil
}

// Ping bypasses the breaker so health probes always reach the service.
func (b *breaker) Ping(ctx context.Context) error { return b.p.Ping(ctx) }

func (b *breaker) do(fn func() (interface{}, error)) (interface{}, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, unavailable(err, "%s: circuit open", b.p.Name())
	}
	return v, err
}
