package jobs

import (
	"errors"
	"fmt"

	"github.com/italolelis/biofetch/internal/storage"
)

// ErrArtifactMissing is returned when a completed job's file is no longer on disk.
var ErrArtifactMissing = errors.New("file not found on server")

// UnknownRepositoryError is returned when a request names a repository that
// is not in the catalogue.
type UnknownRepositoryError struct {
	Repository string
}

func (e *UnknownRepositoryError) Error() string {
	return fmt.Sprintf("unsupported database: %s", e.Repository)
}

// InvalidAccessionError is returned when an identifier is rejected before a
// job is created.
type InvalidAccessionError struct {
	Accession  string
	Repository string
	Reason     string
}

func (e *InvalidAccessionError) Error() string {
	return fmt.Sprintf("invalid accession %q for %s: %s", e.Accession, e.Repository, e.Reason)
}

// ArtifactNotReadyError is returned when the artifact of a job that has not
// completed is requested.
type ArtifactNotReadyError struct {
	JobID  string
	Status storage.Status
}

func (e *ArtifactNotReadyError) Error() string {
	return fmt.Sprintf("file not ready for download (job %s is %s)", e.JobID, e.Status)
}
