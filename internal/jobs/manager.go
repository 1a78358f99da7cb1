// Package jobs owns the download job lifecycle: admission, the worker pool
// that executes transfers and the single terminal write of every job.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/biofetch/internal/catalog"
	"github.com/italolelis/biofetch/internal/logctx"
	"github.com/italolelis/biofetch/internal/storage"
	"github.com/italolelis/biofetch/internal/telemetry"
	"github.com/italolelis/biofetch/internal/transfer"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 1000

	notifyBuffer = 64
)

// Fetcher streams a resource to a local file.
type Fetcher interface {
	Run(ctx context.Context, url, dest string, onProgress transfer.ProgressFunc) (*transfer.Artifact, error)
}

// Checksummer digests a stored artifact.
type Checksummer interface {
	Checksum(path string) (string, error)
}

// Config tunes the manager.
type Config struct {
	StorageDir       string
	Workers          int
	QueueSize        int
	ProgressInterval time.Duration
}

// SubmitRequest asks for one accession to be downloaded.
type SubmitRequest struct {
	Accession      string
	Repository     string
	ValidateFormat bool
	Batch          bool
}

// Stats summarises the job table.
type Stats struct {
	Total        int
	Completed    int
	Failed       int
	Pending      int
	Downloading  int
	SuccessRate  float64
	ByRepository map[string]int
}

// RepositoryInfo is a catalogue entry with its job count.
type RepositoryInfo struct {
	catalog.Profile
	TotalDownloads int
}

// Artifact locates the stored file of a completed job.
type Artifact struct {
	Path     string
	Filename string
	Size     int64
}

type Manager struct {
	store     storage.JobStore
	catalog   *catalog.Catalog
	engine    Fetcher
	verifier  Checksummer
	telemetry *telemetry.Telemetry
	cfg       Config
	now       func() time.Time

	queue    chan string
	done     chan struct{}
	doneOnce sync.Once

	OnJobCompleted chan *storage.Job
	OnJobFailed    chan *storage.Job
}

func NewManager(
	store storage.JobStore,
	cat *catalog.Catalog,
	engine Fetcher,
	verifier Checksummer,
	tel *telemetry.Telemetry,
	cfg Config,
) *Manager {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}

	return &Manager{
		store:          store,
		catalog:        cat,
		engine:         engine,
		verifier:       verifier,
		telemetry:      tel,
		cfg:            cfg,
		now:            time.Now,
		queue:          make(chan string, cfg.QueueSize),
		done:           make(chan struct{}),
		OnJobCompleted: make(chan *storage.Job, notifyBuffer),
		OnJobFailed:    make(chan *storage.Job, notifyBuffer),
	}
}

// Close closes the notification channels. Call it after Run returned.
func (m *Manager) Close() {
	close(m.OnJobCompleted)
	close(m.OnJobFailed)
}

// Run starts the worker pool and blocks until ctx is cancelled and every
// worker finished its current job.
func (m *Manager) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("starting job workers", "workers", m.cfg.Workers, "queue_size", m.cfg.QueueSize)

	var wg sync.WaitGroup

	for i := 0; i < m.cfg.Workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			m.worker(ctx)
		}()
	}

	wg.Wait()
	m.doneOnce.Do(func() { close(m.done) })

	logger.Info("job workers stopped")

	return nil
}

func (m *Manager) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-m.queue:
			m.process(ctx, id)
		}
	}
}

// Submit validates req, stores a pending job and queues it. It returns once
// the job is stored; the transfer happens asynchronously.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*storage.Job, error) {
	profile, ok := m.catalog.Get(req.Repository)
	if !ok {
		return nil, &UnknownRepositoryError{Repository: req.Repository}
	}

	if reason := unsafeAccession(req.Accession); reason != "" {
		return nil, &InvalidAccessionError{Accession: req.Accession, Repository: req.Repository, Reason: reason}
	}

	if req.ValidateFormat && !catalog.IsValid(req.Accession, profile) {
		return nil, &InvalidAccessionError{
			Accession:  req.Accession,
			Repository: req.Repository,
			Reason:     "invalid accession format for " + req.Repository,
		}
	}

	metadata := map[string]any{"validate_format": req.ValidateFormat}
	if req.Batch {
		metadata["batch"] = true
	}

	job := &storage.Job{
		ID:          uuid.NewString(),
		AccessionID: req.Accession,
		Repository:  req.Repository,
		Status:      storage.StatusPending,
		CreatedAt:   m.now().UTC(),
		Metadata:    metadata,
	}

	if err := m.store.Insert(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to store job: %w", err)
	}

	m.telemetry.RecordJobSubmitted(job.Repository)

	logctx.LoggerFromContext(ctx).Info("job submitted",
		"job_id", job.ID, "accession", job.AccessionID, "repository", job.Repository)

	m.enqueue(job.ID)

	return job, nil
}

// unsafeAccession explains why id cannot name a file under the storage
// directory, or returns "".
func unsafeAccession(id string) string {
	switch {
	case strings.TrimSpace(id) == "":
		return "accession must not be empty"
	case strings.ContainsAny(id, `/\`), strings.Contains(id, ".."), strings.ContainsRune(id, 0):
		return "accession contains path characters"
	default:
		return ""
	}
}

// enqueue hands id to the workers without blocking the caller. When the
// buffer is full the hand-off continues in the background.
func (m *Manager) enqueue(id string) {
	select {
	case m.queue <- id:
	default:
		go func() {
			select {
			case m.queue <- id:
			case <-m.done:
			}
		}()
	}
}

// Get returns the job with id.
func (m *Manager) Get(ctx context.Context, id string) (*storage.Job, error) {
	return m.store.FindByID(ctx, id)
}

// List returns jobs most recent first.
func (m *Manager) List(ctx context.Context, limit, skip int) ([]*storage.Job, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	if skip < 0 {
		skip = 0
	}

	return m.store.FindMany(ctx, storage.Filter{}, skip, limit)
}

// Stats counts jobs by status and repository.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByRepository: make(map[string]int)}

	counts := []struct {
		filter storage.Filter
		dst    *int
	}{
		{storage.Filter{}, &stats.Total},
		{storage.Filter{Status: storage.StatusCompleted}, &stats.Completed},
		{storage.Filter{Status: storage.StatusFailed}, &stats.Failed},
		{storage.Filter{Status: storage.StatusPending}, &stats.Pending},
		{storage.Filter{Status: storage.StatusDownloading}, &stats.Downloading},
	}

	for _, c := range counts {
		n, err := m.store.Count(ctx, c.filter)
		if err != nil {
			return nil, err
		}

		*c.dst = n
	}

	for _, id := range m.catalog.IDs() {
		n, err := m.store.Count(ctx, storage.Filter{Repository: id})
		if err != nil {
			return nil, err
		}

		stats.ByRepository[id] = n
	}

	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(stats.Total)
	}

	return stats, nil
}

// Repositories lists the catalogue with per-repository job counts.
func (m *Manager) Repositories(ctx context.Context) ([]RepositoryInfo, error) {
	profiles := m.catalog.Profiles()
	out := make([]RepositoryInfo, 0, len(profiles))

	for _, p := range profiles {
		n, err := m.store.Count(ctx, storage.Filter{Repository: p.ID})
		if err != nil {
			return nil, err
		}

		out = append(out, RepositoryInfo{Profile: p, TotalDownloads: n})
	}

	return out, nil
}

// Artifact returns the stored file of a completed job.
func (m *Manager) Artifact(ctx context.Context, id string) (*Artifact, error) {
	job, err := m.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if job.Status != storage.StatusCompleted || job.FilePath == nil {
		return nil, &ArtifactNotReadyError{JobID: job.ID, Status: job.Status}
	}

	info, err := os.Stat(*job.FilePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrArtifactMissing
	}

	if err != nil {
		return nil, fmt.Errorf("failed to stat artifact: %w", err)
	}

	ext := filepath.Ext(*job.FilePath)
	if p, ok := m.catalog.Get(job.Repository); ok && p.FileExtension != "" {
		ext = p.FileExtension
	}

	return &Artifact{
		Path:     *job.FilePath,
		Filename: job.AccessionID + ext,
		Size:     info.Size(),
	}, nil
}

// Recover prepares jobs left behind by a previous process: interrupted
// transfers are failed, since they cannot resume, and pending jobs are
// queued again, oldest first. It returns the number of re-queued jobs.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	interrupted, err := m.store.FindMany(ctx, storage.Filter{Status: storage.StatusDownloading}, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list interrupted jobs: %w", err)
	}

	for _, job := range interrupted {
		err := m.store.UpdateFields(ctx, job.ID, storage.Failed("interrupted by restart"))
		if err != nil && !errors.Is(err, storage.ErrJobFinished) {
			return 0, fmt.Errorf("failed to fail interrupted job %s: %w", job.ID, err)
		}

		logger.Warn("failed job interrupted by restart", "job_id", job.ID, "accession", job.AccessionID)
	}

	pending, err := m.store.FindMany(ctx, storage.Filter{Status: storage.StatusPending}, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending jobs: %w", err)
	}

	for i := len(pending) - 1; i >= 0; i-- {
		m.enqueue(pending[i].ID)
	}

	if len(pending) > 0 || len(interrupted) > 0 {
		logger.Info("recovered jobs", "requeued", len(pending), "interrupted", len(interrupted))
	}

	return len(pending), nil
}

func (m *Manager) process(ctx context.Context, id string) {
	ctx = logctx.WithAttrs(ctx, slog.String("job_id", id))
	logger := logctx.LoggerFromContext(ctx)

	job, err := m.store.FindByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		logger.Error("queued job does not exist")

		return
	}

	if err != nil {
		logger.Error("failed to load job", "err", err)

		_ = m.finish(ctx, &storage.Job{ID: id}, storage.Failed(fmt.Sprintf("failed to load job: %v", err)), m.now())

		return
	}

	if job.Status.Terminal() {
		logger.Debug("job already finished", "status", job.Status)

		return
	}

	start := m.now()

	_ = m.telemetry.InstrumentJob(ctx, job.Repository, func(ctx context.Context) error {
		update := m.execute(ctx, job)

		return m.finish(ctx, job, update, start)
	})
}

// execute runs the transfer and verification of job and returns its
// terminal update. Every fault, including a panic, becomes a failed update.
func (m *Manager) execute(ctx context.Context, job *storage.Job) (update storage.Update) {
	logger := logctx.LoggerFromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", "panic", r, "stack", string(debug.Stack()))
			m.telemetry.RecordSystemError("jobs", "panic")

			update = storage.Failed(fmt.Sprintf("internal error: %v", r))
		}
	}()

	profile, ok := m.catalog.Get(job.Repository)
	if !ok {
		logger.Error("repository no longer configured", "repository", job.Repository)

		return storage.Failed("could not generate download URL")
	}

	url, ext, err := m.catalog.Resolve(job.AccessionID, profile)
	if err != nil {
		logger.Error("failed to resolve download url", "err", err)

		return storage.Failed("could not generate download URL")
	}

	dest := filepath.Join(m.cfg.StorageDir, job.AccessionID+ext)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	rec := newProgressRecorder(ctx, m.store, job.ID, m.cfg.ProgressInterval, m.now, cancel)

	logger.Info("starting download", "accession", job.AccessionID, "repository", job.Repository, "url", url)

	artifact, err := m.engine.Run(runCtx, url, dest, rec.Record)
	if err != nil {
		if perr := rec.Err(); perr != nil {
			return storage.Failed(fmt.Sprintf("failed to record progress: %v", perr))
		}

		return storage.Failed(err.Error())
	}

	checksum, err := m.verifier.Checksum(artifact.Path)
	if err != nil {
		logger.Error("failed to compute checksum", "err", err)

		return storage.Failed(fmt.Sprintf("failed to verify download: %v", err))
	}

	info, err := os.Stat(artifact.Path)
	if err != nil {
		return storage.Failed(fmt.Sprintf("download failed or file not created: %v", err))
	}

	return storage.Completed(artifact.Path, info.Size(), checksum, m.now().UTC())
}

// finish persists the terminal update. The write is detached from ctx so a
// shutdown cannot drop it.
func (m *Manager) finish(ctx context.Context, job *storage.Job, update storage.Update, start time.Time) error {
	logger := logctx.LoggerFromContext(ctx)
	wctx := context.WithoutCancel(ctx)

	err := m.store.UpdateFields(wctx, job.ID, update)
	if err != nil && *update.Status == storage.StatusCompleted &&
		!errors.Is(err, storage.ErrJobFinished) && !errors.Is(err, storage.ErrNotFound) {
		logger.Error("failed to record completion", "err", err)

		update = storage.Failed(fmt.Sprintf("failed to record completion: %v", err))
		err = m.store.UpdateFields(wctx, job.ID, update)
	}

	if err != nil {
		logger.Error("failed to record terminal state", "err", err)
		m.telemetry.RecordSystemError("jobs", "persist")

		return err
	}

	status := *update.Status

	final, err := m.store.FindByID(wctx, job.ID)
	if err != nil {
		logger.Error("failed to reload finished job", "err", err)
		m.telemetry.RecordJobFinished(job.Repository, string(status), m.now().Sub(start))

		return err
	}

	m.telemetry.RecordJobFinished(final.Repository, string(status), m.now().Sub(start))

	switch status {
	case storage.StatusCompleted:
		logger.Info("download completed", "accession", final.AccessionID, "file_size", *final.FileSize)
		notify(m.OnJobCompleted, final)
	default:
		logger.Warn("download failed", "accession", final.AccessionID, "reason", *final.ErrorMessage)
		notify(m.OnJobFailed, final)
	}

	return nil
}

// notify delivers job unless the consumer is behind.
func notify(ch chan *storage.Job, job *storage.Job) {
	select {
	case ch <- job:
	default:
	}
}
