package storage

import (
	"context"

	"github.com/italolelis/biofetch/internal/telemetry"
)

// Instrumented wraps a JobStore with spans and db_operation metrics.
type Instrumented struct {
	store     JobStore
	telemetry *telemetry.Telemetry
}

// NewInstrumented creates a new instrumented job store.
func NewInstrumented(store JobStore, tel *telemetry.Telemetry) *Instrumented {
	return &Instrumented{
		store:     store,
		telemetry: tel,
	}
}

// Insert stores a new job with telemetry.
func (s *Instrumented) Insert(ctx context.Context, job *Job) error {
	return s.telemetry.InstrumentDBOperation(ctx, "insert", func(ctx context.Context) error {
		return s.store.Insert(ctx, job)
	})
}

// UpdateFields updates a job with telemetry.
func (s *Instrumented) UpdateFields(ctx context.Context, id string, u Update) error {
	return s.telemetry.InstrumentDBOperation(ctx, "update_fields", func(ctx context.Context) error {
		return s.store.UpdateFields(ctx, id, u)
	})
}

// FindByID retrieves a job with telemetry.
func (s *Instrumented) FindByID(ctx context.Context, id string) (*Job, error) {
	var result *Job

	err := s.telemetry.InstrumentDBOperation(ctx, "find_by_id", func(ctx context.Context) error {
		var err error

		result, err = s.store.FindByID(ctx, id)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// FindMany lists jobs with telemetry.
func (s *Instrumented) FindMany(ctx context.Context, f Filter, skip, limit int) ([]*Job, error) {
	var result []*Job

	err := s.telemetry.InstrumentDBOperation(ctx, "find_many", func(ctx context.Context) error {
		var err error

		result, err = s.store.FindMany(ctx, f, skip, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Count counts jobs with telemetry.
func (s *Instrumented) Count(ctx context.Context, f Filter) (int, error) {
	var result int

	err := s.telemetry.InstrumentDBOperation(ctx, "count", func(ctx context.Context) error {
		var err error

		result, err = s.store.Count(ctx, f)

		return err
	})
	if err != nil {
		return 0, err
	}

	return result, nil
}
