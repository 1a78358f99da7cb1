package jobs

import (
	"context"
	"time"

	"github.com/italolelis/biofetch/internal/storage"
)

// minProgressStep is the smallest advance persisted before the interval elapses.
const minProgressStep = 0.01

// progressRecorder persists transfer progress for one job, coalescing
// updates so the store sees at most one write per step or interval.
type progressRecorder struct {
	ctx      context.Context
	store    storage.JobStore
	jobID    string
	interval time.Duration
	now      func() time.Time
	onError  func(error)

	written bool
	last    float64
	lastAt  time.Time
	err     error
}

func newProgressRecorder(
	ctx context.Context,
	store storage.JobStore,
	jobID string,
	interval time.Duration,
	now func() time.Time,
	onError func(error),
) *progressRecorder {
	return &progressRecorder{
		ctx:      ctx,
		store:    store,
		jobID:    jobID,
		interval: interval,
		now:      now,
		onError:  onError,
	}
}

// Record is the transfer progress callback.
func (r *progressRecorder) Record(fraction float64) {
	if r.err != nil || r.ctx.Err() != nil {
		return
	}

	now := r.now()
	if r.written && fraction-r.last < minProgressStep && now.Sub(r.lastAt) < r.interval {
		return
	}

	if err := r.store.UpdateFields(r.ctx, r.jobID, storage.Downloading(fraction)); err != nil {
		r.err = err
		if r.onError != nil {
			r.onError(err)
		}

		return
	}

	r.written = true
	r.last = fraction
	r.lastAt = now
}

// Err returns the first persistence failure, if any.
func (r *progressRecorder) Err() error {
	return r.err
}
