// Package batch fans a list of accessions out into independent download jobs.
package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/italolelis/biofetch/internal/catalog"
	"github.com/italolelis/biofetch/internal/jobs"
	"github.com/italolelis/biofetch/internal/logctx"
	"github.com/italolelis/biofetch/internal/storage"
)

// Submitter admits a single job.
type Submitter interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (*storage.Job, error)
}

// Entry describes one job created by a batch.
type Entry struct {
	JobID     string
	Accession string
	Status    storage.Status
}

type Coordinator struct {
	submitter Submitter
	catalog   *catalog.Catalog
}

func NewCoordinator(submitter Submitter, cat *catalog.Catalog) *Coordinator {
	return &Coordinator{submitter: submitter, catalog: cat}
}

// SubmitBatch creates one job per acceptable accession, in input order.
// Identifiers that fail validation are skipped without error. The first
// store fault stops the batch; jobs created before it are kept.
func (c *Coordinator) SubmitBatch(ctx context.Context, accessions []string, repository string, validate bool) ([]Entry, error) {
	logger := logctx.LoggerFromContext(ctx)

	profile, ok := c.catalog.Get(repository)
	if !ok {
		return nil, &jobs.UnknownRepositoryError{Repository: repository}
	}

	entries := make([]Entry, 0, len(accessions))
	skipped := 0

	for _, accession := range accessions {
		if validate && !catalog.IsValid(accession, profile) {
			skipped++

			continue
		}

		job, err := c.submitter.Submit(ctx, jobs.SubmitRequest{
			Accession:      accession,
			Repository:     repository,
			ValidateFormat: validate,
			Batch:          true,
		})

		var invalid *jobs.InvalidAccessionError
		if errors.As(err, &invalid) {
			skipped++

			continue
		}

		if err != nil {
			logger.Error("batch aborted", "repository", repository, "submitted", len(entries), "err", err)

			return entries, fmt.Errorf("failed to submit %s: %w", accession, err)
		}

		entries = append(entries, Entry{JobID: job.ID, Accession: job.AccessionID, Status: job.Status})
	}

	logger.Info("batch submitted", "repository", repository, "jobs", len(entries), "skipped", skipped)

	return entries, nil
}
