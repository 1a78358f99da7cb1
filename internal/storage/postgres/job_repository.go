package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/italolelis/biofetch/internal/storage"
)

const jobColumns = `id, accession_id, repository, status, progress,
	file_size, file_path, checksum, error_message,
	created_at, completed_at, metadata`

// JobRepository implements storage.JobStore on PostgreSQL.
type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Insert stores a new job.
func (r *JobRepository) Insert(ctx context.Context, job *storage.Job) error {
	metadata, err := storage.EncodeMetadata(job.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb)`,
		job.ID, job.AccessionID, job.Repository, string(job.Status), job.Progress,
		job.FileSize, job.FilePath, job.Checksum, job.ErrorMessage,
		job.CreatedAt, job.CompletedAt, metadata,
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
		args = append(args, a.Value)
		ph := "$" + strconv.Itoa(len(args))

		if a.Column == "progress" {
			sets = append(sets, "progress = GREATEST(progress, "+ph+")")

			continue
		}

		sets = append(sets, a.Column+" = "+ph)
	}

	args = append(args, id)

	q := `UPDATE jobs SET ` + strings.Join(sets, ", ") +
		` WHERE id = $` + strconv.Itoa(len(args)) + ` AND status NOT IN ('completed', 'failed')`

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

	err = r.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}

	if err != nil {
		return fmt.Errorf("failed to read job status: %w", err)
	}

	return storage.ErrJobFinished
}

// FindByID returns the job with id or storage.ErrNotFound.
func (r *JobRepository) FindByID(ctx context.Context, id string) (*storage.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)

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

	q := `SELECT ` + jobColumns + ` FROM jobs` + where + ` ORDER BY created_at DESC, seq DESC`

	if limit > 0 {
		args = append(args, limit)
		q += ` LIMIT $` + strconv.Itoa(len(args))
	}

	if skip > 0 {
		args = append(args, skip)
		q += ` OFFSET $` + strconv.Itoa(len(args))
	}

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
		args = append(args, string(f.Status))
		conds = append(conds, "status = $"+strconv.Itoa(len(args)))
	}

	if f.Repository != "" {
		args = append(args, f.Repository)
		conds = append(conds, "repository = $"+strconv.Itoa(len(args)))
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
		completedAt sql.NullTime
		metadata    []byte
	)

	err := row.Scan(
		&job.ID, &job.AccessionID, &job.Repository, &status, &job.Progress,
		&fileSize, &filePath, &checksum, &errMessage,
		&job.CreatedAt, &completedAt, &metadata,
	)
	if err != nil {
		return nil, err
	}

	job.Status = storage.Status(status)
	job.CreatedAt = job.CreatedAt.UTC()

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
		t := completedAt.Time.UTC()
		job.CompletedAt = &t
	}

	job.Metadata, err = storage.DecodeMetadata(metadata)
	if err != nil {
		return nil, err
	}

	return &job, nil
}
