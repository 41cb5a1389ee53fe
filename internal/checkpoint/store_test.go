package checkpoint_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/chatpress/internal/checkpoint"
	"github.com/xxxsen/chatpress/internal/model"
	"github.com/xxxsen/chatpress/internal/pkg/errs"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "checkpoint.json")
	store := checkpoint.NewStore(path)
	ts := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

	require.NoError(t, store.Save(context.Background(), ts, 42))

	loaded, ok := checkpoint.NewStore(path).Load(context.Background())
	require.True(t, ok)
	require.True(t, loaded.LastProcessedTimestamp.Equal(ts))
	require.Equal(t, int64(42), loaded.MessagesProcessed)
	require.Equal(t, model.SchemaVersion, loaded.SchemaVersion)
}

func TestLoadMissingIsColdStart(t *testing.T) {
	store := checkpoint.NewStore(filepath.Join(t.TempDir(), "nope.json"))
	cp, ok := store.Load(context.Background())
	require.False(t, ok)
	require.Nil(t, cp)
}

func TestLoadCorruptIsColdStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	cp, ok := checkpoint.NewStore(path).Load(context.Background())
	require.False(t, ok)
	require.Nil(t, cp)
}

func TestTimestampMayNotRegress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := checkpoint.NewStore(path)
	t2 := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	t1 := t2.Add(-time.Hour)

	require.NoError(t, store.Save(context.Background(), t2, 20))
	err := store.Save(context.Background(), t1, 30)
	require.ErrorIs(t, err, errs.ErrCheckpointIO)

	loaded, ok := checkpoint.NewStore(path).Load(context.Background())
	require.True(t, ok)
	require.True(t, loaded.LastProcessedTimestamp.Equal(t2))
}

func TestRegressionGuardSurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	t2 := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	require.NoError(t, checkpoint.NewStore(path).Save(context.Background(), t2, 20))

	store := checkpoint.NewStore(path)
	_, ok := store.Load(context.Background())
	require.True(t, ok)
	err := store.Save(context.Background(), t2.Add(-time.Minute), 25)
	require.ErrorIs(t, err, errs.ErrCheckpointIO)
}

func TestLoadIgnoresAbandonedTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.json")
	ts := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	require.NoError(t, checkpoint.NewStore(path).Save(context.Background(), ts, 7))

	// a crash between temp write and rename leaves a partial .tmp behind
	require.NoError(t, os.WriteFile(path+".tmp", []byte(`{"last_processed`), 0644))

	loaded, ok := checkpoint.NewStore(path).Load(context.Background())
	require.True(t, ok)
	require.True(t, loaded.LastProcessedTimestamp.Equal(ts))
	require.Equal(t, int64(7), loaded.MessagesProcessed)
}

func TestNoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.json")
	store := checkpoint.NewStore(path)
	require.NoError(t, store.Save(context.Background(), time.Now().UTC(), 1))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "checkpoint.json", entries[0].Name())
}
