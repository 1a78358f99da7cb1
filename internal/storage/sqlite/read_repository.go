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

const jobColumns = `id, accession_id, repository, status, progress,
	file_size, file_path, checksum, error_message,
	created_at, completed_at, metadata`

// JobRepository implements storage.JobStore on SQLite.
type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// FindByID returns the job with id or storage.ErrNotFound.
func (r *JobRepository) FindByID(ctx context.Context, id string) (*storage.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read job: %w", err)
	}

	return job, nil
}

// FindMany returns jobs matching f, most recent first. A non-positive limit
// means no limit.
func (r *JobRepository) FindMany(ctx context.Context, f storage.Filter, skip, limit int) ([]*storage.Job, error) {
	where, args := whereClause(f)

	q := `SELECT ` + jobColumns + ` FROM jobs` + where + ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`

	if limit <= 0 {
		limit = -1
	}

	if skip < 0 {
		skip = 0
	}

	args = append(args, limit, skip)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*storage.Job, 0)

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to read job: %w", err)
		}

		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// Count returns the number of jobs matching f.
func (r *JobRepository) Count(ctx context.Context, f storage.Filter) (int, error) {
	where, args := whereClause(f)

	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	return n, nil
}

func whereClause(f storage.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)

	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}

	if f.Repository != "" {
		conds = append(conds, "repository = ?")
		args = append(args, f.Repository)
	}

	if len(conds) == 0 {
		return "", args
	}

	return " WHERE " + strings.Join(conds, " AND "), args
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*storage.Job, error) {
	var (
		job         storage.Job
		status      string
		fileSize    sql.NullInt64
		filePath    sql.NullString
		checksum    sql.NullString
		errMessage  sql.NullString
		createdAt   int64
		completedAt sql.NullInt64
		metadata    string
	)

	err := row.Scan(
		&job.ID, &job.AccessionID, &job.Repository, &status, &job.Progress,
		&fileSize, &filePath, &checksum, &errMessage,
		&createdAt, &completedAt, &metadata,
	)
	if err != nil {
		return nil, err
	}

	job.Status = storage.Status(status)
	job.CreatedAt = time.Unix(0, createdAt).UTC()

	if fileSize.Valid {
		job.FileSize = &fileSize.Int64
	}

	if filePath.Valid {
		job.FilePath = &filePath.String
	}

	if checksum.Valid {
		job.Checksum = &checksum.String
	}

	if errMessage.Valid {
		job.ErrorMessage = &errMessage.String
	}

	if completedAt.Valid {
		t := time.Unix(0, completedAt.Int64).UTC()
		job.CompletedAt = &t
	}

	job.Metadata, err = storage.DecodeMetadata([]byte(metadata))
	if err != nil {
		return nil, err
	}

	return &job, nil
}
