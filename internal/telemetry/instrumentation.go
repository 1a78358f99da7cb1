package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Span attributes must stay low cardinality: operation names, statuses,
// repository ids. Job ids, accessions and URLs belong in logs.

// InstrumentedFunc is the unit of work wrapped by the Instrument helpers.
type InstrumentedFunc func(ctx context.Context) error

func outcome(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}

// span runs fn inside a span carrying attrs and marks the span failed when
// fn returns an error.
func (t *Telemetry) span(ctx context.Context, name string, fn InstrumentedFunc, attrs ...attribute.KeyValue) error {
	ctx, span := t.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(attribute.String("status", outcome(err)))

	return err
}

// InstrumentDBOperation traces a job store call and records its latency.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.span(ctx, "db."+operation, fn,
		attribute.String("db.operation", operation),
	)

	t.RecordDBOperation(operation, outcome(err), time.Since(start))

	return err
}

// InstrumentJob tracks one job run from pickup to its terminal write.
func (t *Telemetry) InstrumentJob(ctx context.Context, repository string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	if t.jobsActive != nil {
		t.jobsActive.Add(ctx, 1)
		defer t.jobsActive.Add(context.WithoutCancel(ctx), -1)
	}

	return t.span(ctx, "job.run", fn, attribute.String("repository", repository))
}

// InstrumentTransfer tracks one upstream transfer.
func (t *Telemetry) InstrumentTransfer(ctx context.Context, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	if t.transfersActive != nil {
		t.transfersActive.Add(ctx, 1)
		defer t.transfersActive.Add(context.WithoutCancel(ctx), -1)
	}

	start := time.Now()
	err := t.span(ctx, "transfer", fn)

	if t.transferDuration != nil {
		t.transferDuration.Record(context.WithoutCancel(ctx), time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("status", outcome(err))),
		)
	}

	return err
}
