// Package cleanup removes stored artifacts once their retention period ends.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/biofetch/internal/logctx"
	"github.com/italolelis/biofetch/internal/storage"
	"go.uber.org/multierr"
)

// DeleteExpiredArtifacts deletes the files of completed jobs that finished
// more than keepDuration before now. Jobs for the same accession share one
// file, so a file goes only once its most recent job has expired. It returns
// the number of files removed. Job records are kept; their artifact simply
// becomes unavailable.
func DeleteExpiredArtifacts(ctx context.Context, jobs []*storage.Job, keepDuration time.Duration, now time.Time) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	var (
		removed int
		errs    error
	)

	for _, a := range latestByPath(jobs) {
		if now.Sub(a.completedAt) <= keepDuration {
			continue
		}

		info, err := os.Stat(a.path)
		if errors.Is(err, fs.ErrNotExist) {
			continue // already deleted
		}

		if err != nil {
			logger.Error("failed to stat artifact", "file", a.path, "err", err)
			errs = multierr.Append(errs, err)

			continue
		}

		if err := os.Remove(a.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Error("failed to delete expired artifact", "file", a.path, "err", err)
			errs = multierr.Append(errs, err)

			continue
		}

		removed++

		logger.Info("deleted expired artifact",
			"job_id", a.jobID, "file", a.path, "jobs", a.jobs, "size", humanize.Bytes(uint64(info.Size())))
	}

	return removed, errs
}

// artifact is a stored file with the most recent completed job referencing it.
type artifact struct {
	path        string
	jobID       string
	completedAt time.Time
	jobs        int
}

// latestByPath groups completed jobs by file, in first-seen order.
func latestByPath(jobs []*storage.Job) []*artifact {
	var (
		order  []*artifact
		byPath = make(map[string]*artifact)
	)

	for _, job := range jobs {
		if job.Status != storage.StatusCompleted || job.FilePath == nil || job.CompletedAt == nil {
			continue
		}

		a, ok := byPath[*job.FilePath]
		if !ok {
			a = &artifact{path: *job.FilePath}
			byPath[a.path] = a
			order = append(order, a)
		}

		a.jobs++

		if job.CompletedAt.After(a.completedAt) {
			a.completedAt = *job.CompletedAt
			a.jobID = job.ID
		}
	}

	return order
}

// Cleaner periodically sweeps the artifacts of completed jobs.
type Cleaner struct {
	store    storage.JobStore
	interval time.Duration
	keep     time.Duration
	now      func() time.Time
}

func NewCleaner(store storage.JobStore, interval, keep time.Duration) *Cleaner {
	return &Cleaner{store: store, interval: interval, keep: keep, now: time.Now}
}

// Run sweeps every interval until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	logger.Info("artifact cleanup started", "interval", c.interval.String(), "retention", c.keep.String())

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down")

			return nil
		case <-ticker.C:
			if _, err := c.Sweep(ctx); err != nil {
				logger.Error("failed to delete expired artifacts", "err", err)
			}
		}
	}
}

// Sweep runs one cleanup pass.
func (c *Cleaner) Sweep(ctx context.Context) (int, error) {
	completed, err := c.store.FindMany(ctx, storage.Filter{Status: storage.StatusCompleted}, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list completed jobs: %w", err)
	}

	return DeleteExpiredArtifacts(ctx, completed, c.keep, c.now())
}
