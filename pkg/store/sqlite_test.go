package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synthv/pkg/db"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	d, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return NewSQLiteStore(d)
}

func TestSQLiteStore_State(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok := s.GetState(ctx, "missing")
	assert.False(t, ok)

	require.NoError(t, s.SetState(ctx, "image_aspect_ratio", "16:9"))
	val, ok := s.GetState(ctx, "image_aspect_ratio")
	assert.True(t, ok)
	assert.Equal(t, "16:9", val)

	// Upsert keeps a single row
	require.NoError(t, s.SetState(ctx, "image_aspect_ratio", "9:16"))
	val, _ = s.GetState(ctx, "image_aspect_ratio")
	assert.Equal(t, "9:16", val)

	var rows int
	require.NoError(t, s.db.QueryRow("SELECT count(*) FROM settings").Scan(&rows))
	assert.Equal(t, 1, rows)

	require.NoError(t, s.DeleteState(ctx, "image_aspect_ratio"))
	_, ok = s.GetState(ctx, "image_aspect_ratio")
	assert.False(t, ok)
}

func TestSQLiteStore_EmptyValue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetState(ctx, "k", ""))
	val, ok := s.GetState(ctx, "k")
	assert.True(t, ok)
	assert.Empty(t, val)
}

func TestSQLiteStore_ListState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for k, v := range map[string]string{
		"image_count":        "2",
		"image_aspect_ratio": "4:3",
		"imagexcount":        "not a match for the literal underscore",
		"poll_interval":      "5s",
	} {
		require.NoError(t, s.SetState(ctx, k, v))
	}

	got, err := s.ListState(ctx, "image_")
	require.NoError(t, err)
	assert.Equal(t, []Setting{
		{Key: "image_aspect_ratio", Value: "4:3"},
		{Key: "image_count", Value: "2"},
	}, got)

	all, err := s.ListState(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestSQLiteStore_ImplementsStore(t *testing.T) {
	var _ Store = newTestStore(t)
}
