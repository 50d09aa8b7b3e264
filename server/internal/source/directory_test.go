package source

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasalert/nasalert/server/internal/identity"
)

type pingProvider struct {
	identity.Provider
	name string
	err  error
}

func (p *pingProvider) Name() string               { return p.name }
func (p *pingProvider) Ping(context.Context) error { return p.err }

func TestDirectoryServicesCheck(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	chain := identity.NewChain(nil,
		&pingProvider{name: "activedirectory", err: errors.New("dial tcp 10.0.0.5:636: i/o timeout")},
		&pingProvider{name: "nis"},
		identity.NewLocal(missing, missing),
	)
	d := NewDirectoryServices(chain, 5*time.Minute)

	got, err := d.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1, "healthy and local providers raise nothing")
	assert.Equal(t, "DirectoryServiceUnavailable", got[0].Klass)
	assert.Equal(t, "activedirectory", got[0].Key)
	assert.Equal(t, "activedirectory", got[0].Args["provider"])
	assert.Contains(t, got[0].Formatted(), "i/o timeout")
}
