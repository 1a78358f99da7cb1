package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/biofetch/internal/storage"
	"github.com/italolelis/biofetch/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completedJob(t *testing.T, dir, id string, completedAt time.Time) *storage.Job {
	t.Helper()

	path := filepath.Join(dir, id+".fasta")
	require.NoError(t, os.WriteFile(path, []byte(">seq\nACGT\n"), 0o600))

	return &storage.Job{
		ID:          id,
		Status:      storage.StatusCompleted,
		FilePath:    &path,
		CompletedAt: &completedAt,
	}
}

func TestDeleteExpiredArtifacts(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	old := completedJob(t, dir, "old", now.Add(-48*time.Hour))
	fresh := completedJob(t, dir, "fresh", now.Add(-time.Hour))
	gone := completedJob(t, dir, "gone", now.Add(-72*time.Hour))
	require.NoError(t, os.Remove(*gone.FilePath))

	failedPath := filepath.Join(dir, "failed.fasta")
	require.NoError(t, os.WriteFile(failedPath, []byte("x"), 0o600))

	failed := &storage.Job{ID: "failed", Status: storage.StatusFailed, FilePath: &failedPath}

	removed, err := DeleteExpiredArtifacts(context.Background(), []*storage.Job{old, fresh, gone, failed}, 24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoFileExists(t, *old.FilePath)
	assert.FileExists(t, *fresh.FilePath)
	assert.FileExists(t, failedPath)
}

func TestCleaner_Sweep(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := sqlite.InitDB(ctx, filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := sqlite.NewJobRepository(db)
	now := time.Now()

	paths := map[string]string{}

	for id, age := range map[string]time.Duration{"expired": 10 * 24 * time.Hour, "recent": time.Minute} {
		path := filepath.Join(dir, id+".pdb")
		require.NoError(t, os.WriteFile(path, []byte("ATOM"), 0o600))

		paths[id] = path

		require.NoError(t, store.Insert(ctx, &storage.Job{
			ID: id, AccessionID: id, Repository: "pdb", Status: storage.StatusPending, CreatedAt: now,
		}))
		require.NoError(t, store.UpdateFields(ctx, id, storage.Completed(path, 4, "sum", now.Add(-age))))
	}

	c := NewCleaner(store, time.Hour, 7*24*time.Hour)
	c.now = func() time.Time { return now }

	removed, err := c.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, paths["expired"])
	assert.FileExists(t, paths["recent"])

	job, err := store.FindByID(ctx, "expired")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, job.Status)
}

func TestCleaner_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- NewCleaner(nil, time.Hour, time.Hour).Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("cleaner did not stop")
	}
}

func sharedPathJob(id, path string, completedAt time.Time) *storage.Job {
	return &storage.Job{
		ID:          id,
		AccessionID: "NC_045512",
		Repository:  "ncbi",
		Status:      storage.StatusCompleted,
		FilePath:    &path,
		CompletedAt: &completedAt,
	}
}

func TestDeleteExpiredArtifacts_SharedFileKeptForRecentJob(t *testing.T) {
	now := time.Now()
	path := filepath.Join(t.TempDir(), "NC_045512.fasta")
	require.NoError(t, os.WriteFile(path, []byte(">seq\nACGT\n"), 0o600))

	jobs := []*storage.Job{
		sharedPathJob("old", path, now.Add(-48*time.Hour)),
		sharedPathJob("recent", path, now.Add(-time.Minute)),
	}

	removed, err := DeleteExpiredArtifacts(context.Background(), jobs, 24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	assert.FileExists(t, path)
}

func TestDeleteExpiredArtifacts_SharedFileRemovedOnce(t *testing.T) {
	now := time.Now()
	path := filepath.Join(t.TempDir(), "NC_045512.fasta")
	require.NoError(t, os.WriteFile(path, []byte(">seq\nACGT\n"), 0o600))

	jobs := []*storage.Job{
		sharedPathJob("older", path, now.Add(-72*time.Hour)),
		sharedPathJob("old", path, now.Add(-48*time.Hour)),
	}

	removed, err := DeleteExpiredArtifacts(context.Background(), jobs, 24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, path)
}
