package source

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nasalert/nasalert/server/internal/alerts"
	"github.com/nasalert/nasalert/server/internal/identity"
)

const pingTimeout = 15 * time.Second

// ProviderLister returns the current identity providers. *identity.Chain
// implements it.
type ProviderLister interface {
	Providers() []identity.Provider
}

// DirectoryServices raises DirectoryServiceUnavailable for every directory
// provider that does not answer a ping. Local account files are not probed.
type DirectoryServices struct {
	providers ProviderLister
	interval  time.Duration
}

// NewDirectoryServices returns the directory reachability source.
func NewDirectoryServices(providers ProviderLister, interval time.Duration) *DirectoryServices {
	return &DirectoryServices{providers: providers, interval: interval}
}

func (d *DirectoryServices) Name() string { return alerts.DirectoryServiceUnavailable.Name }

func (d *DirectoryServices) Interval() time.Duration { return d.interval }

func (d *DirectoryServices) Check(ctx context.Context) ([]*alerts.Alert, error) {
	var (
		mu   sync.Mutex
		down = make(map[string]error)
	)
	var g errgroup.Group
	var names []string
	for _, p := range d.providers.Providers() {
		if identity.IsLocal(p) {
			continue
		}
		p := p
		names = append(names, p.Name())
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, pingTimeout)
			defer cancel()
			if err := p.Ping(pctx); err != nil {
				mu.Lock()
				down[p.Name()] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*alerts.Alert
	for _, name := range names {
		err, ok := down[name]
		if !ok {
			continue
		}
		a := alerts.New(alerts.DirectoryServiceUnavailable, map[string]any{
			"provider": name,
			"error":    err.Error(),
		})
		a.Key = name
		out = append(out, a)
	}
	return out, nil
}
