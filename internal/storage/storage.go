package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when no job has the requested id.
	ErrNotFound = errors.New("job not found")
	// ErrJobFinished is returned when updating a job that already reached a
	// terminal state.
	ErrJobFinished = errors.New("job already finished")
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the durable record of one download request.
type Job struct {
	ID           string
	AccessionID  string
	Repository   string
	Status       Status
	Progress     float64
	FileSize     *int64
	FilePath     *string
	Checksum     *string
	ErrorMessage *string
	CreatedAt    time.Time
	CompletedAt  *time.Time
	Metadata     map[string]any
}

// Update is a partial change to a job. Nil fields are left untouched.
type Update struct {
	Status       *Status
	Progress     *float64
	FileSize     *int64
	FilePath     *string
	Checksum     *string
	ErrorMessage *string
	CompletedAt  *time.Time
}

// Downloading records transfer progress.
func Downloading(progress float64) Update {
	s := StatusDownloading

	return Update{Status: &s, Progress: &progress}
}

// Completed records a successful transfer.
func Completed(path string, size int64, checksum string, at time.Time) Update {
	s := StatusCompleted
	done := 1.0

	return Update{
		Status:      &s,
		Progress:    &done,
		FilePath:    &path,
		FileSize:    &size,
		Checksum:    &checksum,
		CompletedAt: &at,
	}
}

// Failed records a terminal failure with a human-readable reason.
func Failed(reason string) Update {
	s := StatusFailed

	return Update{Status: &s, ErrorMessage: &reason}
}

// Validate rejects updates that are not a legal state transition.
func (u Update) Validate() error {
	if len(u.Assignments()) == 0 {
		return errors.New("empty job update")
	}

	if u.Progress != nil && (*u.Progress < 0 || *u.Progress > 1) {
		return fmt.Errorf("progress %v out of range", *u.Progress)
	}

	if u.Status == nil {
		return nil
	}

	switch *u.Status {
	case StatusCompleted:
		if u.FileSize == nil || u.FilePath == nil || u.Checksum == nil || u.CompletedAt == nil {
			return errors.New("completed update requires file size, path, checksum and completion time")
		}

		if u.ErrorMessage != nil {
			return errors.New("completed update cannot carry an error message")
		}
	case StatusFailed:
		if u.ErrorMessage == nil {
			return errors.New("failed update requires an error message")
		}

		if u.Checksum != nil {
			return errors.New("failed update cannot carry a checksum")
		}
	case StatusPending, StatusDownloading:
	default:
		return fmt.Errorf("unknown status %q", *u.Status)
	}

	return nil
}

// Assignment is one column change of an Update.
type Assignment struct {
	Column string
	Value  any
}

// Assignments lists the columns set by u in a stable order.
func (u Update) Assignments() []Assignment {
	var out []Assignment

	if u.Status != nil {
		out = append(out, Assignment{"status", string(*u.Status)})
	}

	if u.Progress != nil {
		out = append(out, Assignment{"progress", *u.Progress})
	}

	if u.FileSize != nil {
		out = append(out, Assignment{"file_size", *u.FileSize})
	}

	if u.FilePath != nil {
		out = append(out, Assignment{"file_path", *u.FilePath})
	}

	if u.Checksum != nil {
		out = append(out, Assignment{"checksum", *u.Checksum})
	}

	if u.ErrorMessage != nil {
		out = append(out, Assignment{"error_message", *u.ErrorMessage})
	}

	if u.CompletedAt != nil {
		out = append(out, Assignment{"completed_at", *u.CompletedAt})
	}

	return out
}

// Filter narrows FindMany and Count. Zero fields match everything.
type Filter struct {
	Status     Status
	Repository string
}

// JobStore persists jobs. Every call is atomic on its own.
type JobStore interface {
	Insert(ctx context.Context, job *Job) error
	// UpdateFields applies u to the job. Progress never decreases. Jobs in a
	// terminal state are never changed and yield ErrJobFinished.
	UpdateFields(ctx context.Context, id string, u Update) error
	FindByID(ctx context.Context, id string) (*Job, error)
	// FindMany returns matching jobs, most recently created first.
	FindMany(ctx context.Context, f Filter, skip, limit int) ([]*Job, error)
	Count(ctx context.Context, f Filter) (int, error)
}

// EncodeMetadata serialises job metadata for a text column.
func EncodeMetadata(m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}

	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode job metadata: %w", err)
	}

	return string(b), nil
}

// DecodeMetadata is the inverse of EncodeMetadata.
func DecodeMetadata(data []byte) (map[string]any, error) {
	m := map[string]any{}
	if len(data) == 0 {
		return m, nil
	}

	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode job metadata: %w", err)
	}

	return m, nil
}
