package identity

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPasswd = `# comment
root:*:0:0:Charlie &:/root:/bin/csh
jdoe:*:1001:1001:Jane Doe:/home/jdoe:/bin/sh
+@netgroup::::::
broken:line
`

const testMasterPasswd = `svc:*:2001:2001::0:0:Service:/nonexistent:/usr/sbin/nologin
`

const testGroup = `wheel:*:0:root
staff:*:1001:jdoe,root
empty:*:1002:
`

func writeLocal(t *testing.T, passwd, group string) *Local {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "passwd")
	g := filepath.Join(dir, "group")
	require.NoError(t, os.WriteFile(p, []byte(passwd), 0o600))
	require.NoError(t, os.WriteFile(g, []byte(group), 0o600))
	return NewLocal(p, g)
}

func TestLocalLookupUser(t *testing.T) {
	l := writeLocal(t, testPasswd, testGroup)
	ctx := context.Background()

	want := &User{Name: "jdoe", Passwd: "*", UID: 1001, GID: 1001, Gecos: "Jane Doe", Dir: "/home/jdoe", Shell: "/bin/sh", Source: "local"}

	byName, err := l.LookupUser(ctx, "jdoe")
	require.NoError(t, err)
	if diff := cmp.Diff(want, byName); diff != "" {
		t.Errorf("by name (-want +got):\n%s", diff)
	}

	byUID, err := l.LookupUser(ctx, "1001")
	require.NoError(t, err)
	if diff := cmp.Diff(want, byUID); diff != "" {
		t.Errorf("by uid (-want +got):\n%s", diff)
	}

	_, err = l.LookupUser(ctx, "nobody")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrUnavailable))
}

func TestLocalMasterPasswd(t *testing.T) {
	l := writeLocal(t, testMasterPasswd, testGroup)
	u, err := l.LookupUser(context.Background(), "svc")
	require.NoError(t, err)
	assert.Equal(t, "Service", u.Gecos)
	assert.Equal(t, "/nonexistent", u.Dir)
	assert.Equal(t, "/usr/sbin/nologin", u.Shell)
}

func TestLocalGroups(t *testing.T) {
	l := writeLocal(t, testPasswd, testGroup)
	ctx := context.Background()

	g, err := l.LookupGroup(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, "staff", g.Name)
	assert.Equal(t, []string{"jdoe", "root"}, g.Members)

	g, err = l.LookupGroup(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, g.Members)

	groups, err := l.Groups(ctx)
	require.NoError(t, err)
	assert.Len(t, groups, 3)

	users, err := l.Users(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2, "comment, NIS include and malformed lines are skipped")
}

func TestLocalMissingFile(t *testing.T) {
	l := NewLocal(filepath.Join(t.TempDir(), "nope"), "")
	_, err := l.LookupUser(context.Background(), "root")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Error(t, l.Ping(context.Background()))
}
