package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
)

const schema = `CREATE TABLE IF NOT EXISTS jobs (
	seq BIGSERIAL,
	id TEXT PRIMARY KEY,
	accession_id TEXT NOT NULL,
	repository TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	progress DOUBLE PRECISION NOT NULL DEFAULT 0,
	file_size BIGINT,
	file_path TEXT,
	checksum TEXT,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS jobs_created_at_idx ON jobs (created_at DESC, seq DESC);
CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status);
CREATE INDEX IF NOT EXISTS jobs_repository_idx ON jobs (repository);`

// InitDB connects to the database at dsn and creates the jobs table if it
// doesn't exist.
func InitDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}
