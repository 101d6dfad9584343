package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{DatabasePath: MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRepository_RecordAndList(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t).Repository

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := range 3 {
		require.NoError(t, repo.RecordRun(ctx, Entry{
			RunID:     int64(i + 1),
			PlanID:    "7",
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			ItemCount: i + 1,
			Bytes:     int64(1000 * (i + 1)),
			Message:   "Run started",
		}))
	}

	entries, err := repo.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []int64{3, 2, 1}, []int64{entries[0].RunID, entries[1].RunID, entries[2].RunID})
	assert.Equal(t, StatusStarted, entries[0].Status)
	assert.Equal(t, "Run started", entries[0].Message)
	assert.True(t, entries[0].StartedAt.Equal(base.Add(2*time.Hour)))

	limited, err := repo.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestRepository_RecordRunUpserts(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t).Repository

	require.NoError(t, repo.RecordRun(ctx, Entry{RunID: 5, PlanID: "1", ItemCount: 1}))
	require.NoError(t, repo.RecordRun(ctx, Entry{RunID: 5, PlanID: "1", ItemCount: 4, Status: "completed"}))

	entry, err := repo.GetRun(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 4, entry.ItemCount)
	assert.Equal(t, "completed", entry.Status)
	assert.Empty(t, entry.Message)
}

func TestRepository_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t).Repository

	require.NoError(t, repo.RecordRun(ctx, Entry{RunID: 9, PlanID: "2"}))
	require.NoError(t, repo.UpdateStatus(ctx, 9, "completed"))

	entry, err := repo.GetRun(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, "completed", entry.Status)

	assert.Error(t, repo.UpdateStatus(ctx, 404, "completed"))
}

func TestRepository_GetMissingRun(t *testing.T) {
	entry, err := openTestDB(t).Repository.GetRun(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestOpen_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")

	db, err := Open(Config{DatabasePath: path})
	require.NoError(t, err)
	require.NoError(t, db.Repository.RecordRun(context.Background(), Entry{RunID: 1, PlanID: "1"}))
	require.NoError(t, db.Close())

	// Reopening runs migrations again without error and keeps data
	db, err = Open(Config{DatabasePath: path})
	require.NoError(t, err)
	defer db.Close()

	entries, err := db.Repository.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = Open(Config{})
	assert.Error(t, err)
}
