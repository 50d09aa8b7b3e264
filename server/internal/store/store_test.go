package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasalert/nasalert/server/internal/alerts"
)

func alert(id, klass string) *alerts.Alert {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &alerts.Alert{
		ID:             id,
		Source:         klass,
		Klass:          klass,
		Args:           map[string]any{"volume": "tank", "state": "DEGRADED"},
		Key:            id + "-key",
		Level:          alerts.LevelCritical,
		Datetime:       now,
		LastOccurrence: now,
	}
}

// runContract exercises the behaviour every backend must share.
func runContract(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	list, err := st.List(ctx)
	require.NoError(t, err)
	require.Empty(t, list)

	require.NoError(t, st.Put(ctx, alert("b", "VolumeStatus")))
	require.NoError(t, st.Put(ctx, alert("a", "AFPShareLocked")))

	list, err = st.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
	assert.Equal(t, alerts.LevelCritical, list[1].Level)
	assert.Equal(t, "DEGRADED", list[1].Args["state"])
	assert.True(t, list[1].Datetime.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))

	// Put overwrites.
	updated := alert("b", "VolumeStatus")
	updated.Dismissed = true
	require.NoError(t, st.Put(ctx, updated))
	list, err = st.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[1].Dismissed)

	require.NoError(t, st.Delete(ctx, "a"))
	require.NoError(t, st.Delete(ctx, "does-not-exist"))
	list, err = st.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].ID)

	assert.Error(t, st.Put(ctx, &alerts.Alert{Klass: "VolumeStatus"}), "alert without id")
}

func TestMemory(t *testing.T) {
	runContract(t, NewMemory())
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()
	a := alert("x", "VolumeStatus")
	require.NoError(t, st.Put(ctx, a))

	a.Args["state"] = "ONLINE"
	list, _ := st.List(ctx)
	assert.Equal(t, "DEGRADED", list[0].Args["state"], "store must not alias caller's args")
	assert.Equal(t, 1, st.Count())
}

func TestSQLite(t *testing.T) {
	st, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	runContract(t, st)
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "alerts.db")

	st, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, st.Put(ctx, alert("persisted", "VolumeStatus")))
	require.NoError(t, st.Close())

	st, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer st.Close()
	list, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "persisted", list[0].ID)
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("NASALERT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("NASALERT_TEST_POSTGRES_DSN not set")
	}
	st, err := OpenPostgres(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		st.db.Exec("DELETE FROM nasalert_alerts")
		st.Close()
	})
	st.db.Exec("DELETE FROM nasalert_alerts")
	runContract(t, st)
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("NASALERT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("NASALERT_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	st, err := OpenRedis(ctx, addr)
	require.NoError(t, err)
	t.Cleanup(func() {
		st.rdb.Del(ctx, redisKey)
		st.Close()
	})
	st.rdb.Del(ctx, redisKey)
	runContract(t, st)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	st, err := Open(ctx, "", "")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, st)

	st, err = Open(ctx, "sqlite", filepath.Join(t.TempDir(), "a.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, st)
	st.Close()

	_, err = Open(ctx, "mongodb", "")
	assert.Error(t, err)

	_, err = Open(ctx, "sqlite", "")
	assert.Error(t, err)
}

func TestCodecKeepsIntegralArgs(t *testing.T) {
	a := alert("a", "SMBShareLocked")
	a.Args = map[string]any{"id": 1234567, "name": "media"}
	data, err := encode(a)
	require.NoError(t, err)

	got, err := decode(data)
	require.NoError(t, err)
	assert.Equal(t, "1234567", fmt.Sprint(got.Args["id"]))
	assert.Equal(t, "media", got.Args["name"])
}
