package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/italolelis/biofetch/internal/storage"
)

// Insert stores a new job.
func (r *JobRepository) Insert(ctx context.Context, job *storage.Job) error {
	metadata, err := storage.EncodeMetadata(job.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO jobs (
			id, accession_id, repository, status, progress,
			file_size, file_path, checksum, error_message,
			created_at, completed_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.AccessionID, job.Repository, string(job.Status), job.Progress,
		job.FileSize, job.FilePath, job.Checksum, job.ErrorMessage,
		job.CreatedAt.UnixNano(), nanos(job.CompletedAt), metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	return nil
}

// UpdateFields applies u unless the job already reached a terminal state.
// Progress only moves forward.
func (r *JobRepository) UpdateFields(ctx context.Context, id string, u storage.Update) error {
	if err := u.Validate(); err != nil {
		return err
	}

	var (
		sets []string
		args []any
	)

	for _, a := range u.Assignments() {
		switch a.Column {
		case "progress":
			sets = append(sets, "progress = MAX(progress, ?)")
		case "completed_at":
			sets = append(sets, "completed_at = ?")
			a.Value = a.Value.(time.Time).UnixNano()
		default:
			sets = append(sets, a.Column+" = ?")
		}

		args = append(args, a.Value)
	}

	args = append(args, id)

	q := `UPDATE jobs SET ` + strings.Join(sets, ", ") +
		` WHERE id = ? AND status NOT IN ('completed', 'failed')`

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	if affected > 0 {
		return nil
	}

	var status string

	err = r.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}

	if err != nil {
		return fmt.Errorf("failed to read job status: %w", err)
	}

	return storage.ErrJobFinished
}

func nanos(t *time.Time) *int64 {
	if t == nil {
		return nil
	}

	n := t.UnixNano()

	return &n
}
