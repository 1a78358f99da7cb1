package notifier

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/biofetch/internal/logctx"
	"github.com/italolelis/biofetch/internal/storage"
)

// Listener reacts to jobs reaching a terminal state.
type Listener interface {
	JobCompleted(ctx context.Context, job *storage.Job)
	JobFailed(ctx context.Context, job *storage.Job)
}

// Dispatcher fans terminal job events out to every listener, in order.
type Dispatcher struct {
	listeners []Listener
}

func NewDispatcher(listeners ...Listener) *Dispatcher {
	return &Dispatcher{listeners: listeners}
}

// Run consumes both channels until ctx is cancelled or both are closed.
func (d *Dispatcher) Run(ctx context.Context, completed, failed <-chan *storage.Job) error {
	logger := logctx.LoggerFromContext(ctx)

	for completed != nil || failed != nil {
		select {
		case <-ctx.Done():
			return nil
		case job, ok := <-completed:
			if !ok {
				completed = nil

				continue
			}

			for _, l := range d.listeners {
				l.JobCompleted(ctx, job)
			}
		case job, ok := <-failed:
			if !ok {
				failed = nil

				continue
			}

			for _, l := range d.listeners {
				l.JobFailed(ctx, job)
			}
		}
	}

	logger.Debug("job event channels closed")

	return nil
}

// Messages turns job events into chat messages.
type Messages struct {
	Notifier Notifier
}

func (m *Messages) JobCompleted(ctx context.Context, job *storage.Job) {
	size := ""
	if job.FileSize != nil {
		size = " " + humanize.Bytes(uint64(*job.FileSize))
	}

	m.send(ctx, job, fmt.Sprintf("✅ Download finished: %s (%s)%s", job.AccessionID, job.Repository, size))
}

func (m *Messages) JobFailed(ctx context.Context, job *storage.Job) {
	reason := "unknown error"
	if job.ErrorMessage != nil {
		reason = *job.ErrorMessage
	}

	m.send(ctx, job, fmt.Sprintf("❌ Download failed: %s (%s): %s", job.AccessionID, job.Repository, reason))
}

func (m *Messages) send(ctx context.Context, job *storage.Job, content string) {
	if err := m.Notifier.Notify(ctx, content); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to send notification", "job_id", job.ID, "err", err)
	}
}
