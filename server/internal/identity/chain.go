package identity

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/nasalert/nasalert/server/internal/metrics"
)

// UnavailableFunc is told about every provider that could not be reached
// during a lookup.
type UnavailableFunc func(provider string, err error)

// Chain resolves identities by asking an ordered list of providers in turn.
//
// Chain is safe for concurrent use.
type Chain struct {
	logger *zap.Logger

	mu            sync.RWMutex
	providers     []Provider
	onUnavailable UnavailableFunc
}

// NewChain returns a chain asking providers in the given order.
func NewChain(logger *zap.Logger, providers ...Provider) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{logger: logger, providers: providers}
}

// OnUnavailable installs an observer for provider outages.
func (c *Chain) OnUnavailable(fn UnavailableFunc) {
	c.mu.Lock()
	c.onUnavailable = fn
	c.mu.Unlock()
}

// SetProviders replaces the provider list, e.g. after a config reload.
func (c *Chain) SetProviders(providers []Provider) {
	c.mu.Lock()
	c.providers = providers
	c.mu.Unlock()
}

// Providers returns the providers in lookup order.
func (c *Chain) Providers() []Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Provider(nil), c.providers...)
}

// LookupUser returns the first record any provider has for id. It returns
// ErrNotFound only when every provider missed or could not be asked.
func (c *Chain) LookupUser(ctx context.Context, id string) (*User, error) {
	for _, p := range c.Providers() {
		u, err := p.LookupUser(ctx, id)
		if c.settle(p, "user", id, err) {
			return u, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "user %q", id)
}

// LookupGroup is LookupUser for groups.
func (c *Chain) LookupGroup(ctx context.Context, id string) (*Group, error) {
	for _, p := range c.Providers() {
		g, err := p.LookupGroup(ctx, id)
		if c.settle(p, "group", id, err) {
			return g, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "group %q", id)
}

// Users lists local accounts first, then directory accounts. A name already
// seen hides later records with the same name.
func (c *Chain) Users(ctx context.Context) ([]*User, error) {
	seen := make(map[string]bool)
	var out []*User
	for _, p := range c.ordered() {
		users, err := p.Users(ctx)
		if err != nil {
			c.listFailed(p, "users", err)
			continue
		}
		for _, u := range users {
			if !seen[u.Name] {
				seen[u.Name] = true
				out = append(out, u)
			}
		}
	}
	return out, ctx.Err()
}

// Groups is Users for groups.
func (c *Chain) Groups(ctx context.Context) ([]*Group, error) {
	seen := make(map[string]bool)
	var out []*Group
	for _, p := range c.ordered() {
		groups, err := p.Groups(ctx)
		if err != nil {
			c.listFailed(p, "groups", err)
			continue
		}
		for _, g := range groups {
			if !seen[g.Name] {
				seen[g.Name] = true
				out = append(out, g)
			}
		}
	}
	return out, ctx.Err()
}

// ordered returns local providers followed by the rest in chain order.
func (c *Chain) ordered() []Provider {
	ps := c.Providers()
	out := make([]Provider, 0, len(ps))
	for _, p := range ps {
		if IsLocal(p) {
			out = append(out, p)
		}
	}
	for _, p := range ps {
		if !IsLocal(p) {
			out = append(out, p)
		}
	}
	return out
}

// IsLocal reports whether p reads the local account files rather than a
// directory service.
func IsLocal(p Provider) bool {
	_, ok := p.(interface{ isLocal() })
	return ok
}

// settle records the outcome of one provider lookup and reports whether it
// produced a record.
func (c *Chain) settle(p Provider, kind, id string, err error) bool {
	switch {
	case err == nil:
		metrics.IdentityLookups.WithLabelValues(p.Name(), "hit").Inc()
		return true
	case errors.Is(err, ErrNotFound):
		metrics.IdentityLookups.WithLabelValues(p.Name(), "not_found").Inc()
	case errors.Is(err, ErrUnavailable):
		metrics.IdentityLookups.WithLabelValues(p.Name(), "unavailable").Inc()
		c.logger.Warn("identity provider unavailable",
			zap.String("provider", p.Name()),
			zap.String(kind, id),
			zap.Error(err),
		)
		c.reportUnavailable(p.Name(), err)
	default:
		metrics.IdentityLookups.WithLabelValues(p.Name(), "error").Inc()
		c.logger.Error("identity lookup failed",
			zap.String("provider", p.Name()),
			zap.String(kind, id),
			zap.Error(err),
		)
	}
	return false
}

func (c *Chain) listFailed(p Provider, what string, err error) {
	if errors.Is(err, ErrUnavailable) {
		c.reportUnavailable(p.Name(), err)
	}
	c.logger.Warn("identity listing skipped provider",
		zap.String("provider", p.Name()),
		zap.String("list", what),
		zap.Error(err),
	)
}

func (c *Chain) reportUnavailable(name string, err error) {
	c.mu.RLock()
	fn := c.onUnavailable
	c.mu.RUnlock()
	if fn != nil {
		fn(name, err)
	}
}
