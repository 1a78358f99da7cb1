package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/biofetch/internal/batch"
	"github.com/italolelis/biofetch/internal/jobs"
	"github.com/italolelis/biofetch/internal/logctx"
	"github.com/italolelis/biofetch/internal/storage"
)

const (
	apiMessage = "BioFetch API - Unified Bioinformatics Data Downloader"

	// maxBodySize bounds request bodies; batch requests are the largest.
	maxBodySize = 1 << 20
)

// JobService is the part of the job manager the API exposes.
type JobService interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (*storage.Job, error)
	Get(ctx context.Context, id string) (*storage.Job, error)
	List(ctx context.Context, limit, skip int) ([]*storage.Job, error)
	Stats(ctx context.Context) (*jobs.Stats, error)
	Repositories(ctx context.Context) ([]jobs.RepositoryInfo, error)
	Artifact(ctx context.Context, id string) (*jobs.Artifact, error)
}

// BatchSubmitter creates jobs for a list of accessions.
type BatchSubmitter interface {
	SubmitBatch(ctx context.Context, accessions []string, repository string, validate bool) ([]batch.Entry, error)
}

type DownloadRequest struct {
	AccessionID    string `json:"accession_id"`
	Database       string `json:"database"`
	ValidateFormat *bool  `json:"validate_format,omitempty"`
}

type BatchDownloadRequest struct {
	AccessionIDs   []string `json:"accession_ids"`
	Database       string   `json:"database"`
	ValidateFormat *bool    `json:"validate_format,omitempty"`
}

type JobResponse struct {
	ID           string     `json:"id"`
	AccessionID  string     `json:"accession_id"`
	Database     string     `json:"database"`
	Status       string     `json:"status"`
	Progress     float64    `json:"progress"`
	FileSize     *int64     `json:"file_size"`
	Checksum     *string    `json:"checksum,omitempty"`
	ErrorMessage *string    `json:"error_message"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	DownloadURL  *string    `json:"download_url"`
}

type BatchJob struct {
	ID          string `json:"id"`
	AccessionID string `json:"accession_id"`
	Status      string `json:"status"`
}

type BatchResponse struct {
	Jobs  []BatchJob `json:"jobs"`
	Total int        `json:"total"`
}

type DatabaseResponse struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	ExampleIDs         []string `json:"example_ids"`
	ValidationPrefixes []string `json:"validation_prefixes"`
	TotalDownloads     int      `json:"total_downloads"`
}

type StatsResponse struct {
	TotalDownloads     int            `json:"total_downloads"`
	CompletedDownloads int            `json:"completed_downloads"`
	FailedDownloads    int            `json:"failed_downloads"`
	SuccessRate        float64        `json:"success_rate"`
	DatabaseBreakdown  map[string]int `json:"database_breakdown"`
}

type RootResponse struct {
	Message string `json:"message"`
	Version string `json:"version"`
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}

type APIHandler struct {
	jobs    JobService
	batch   BatchSubmitter
	version string
}

// NewAPIHandler creates the job API handler.
func NewAPIHandler(svc JobService, b BatchSubmitter, version string) *APIHandler {
	return &APIHandler{jobs: svc, batch: b, version: version}
}

func (h *APIHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/", h.HandleRoot)
	r.Get("/databases", h.HandleDatabases)
	r.Post("/download", h.HandleDownload)
	r.Post("/batch-download", h.HandleBatchDownload)
	r.Get("/jobs", h.HandleListJobs)
	r.Get("/jobs/{id}", h.HandleGetJob)
	r.Get("/download-file/{id}", h.HandleDownloadFile)
	r.Get("/stats", h.HandleStats)

	return r
}

func (h *APIHandler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, RootResponse{Message: apiMessage, Version: h.version})
}

func (h *APIHandler) HandleDatabases(w http.ResponseWriter, r *http.Request) {
	repos, err := h.jobs.Repositories(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)

		return
	}

	out := make([]DatabaseResponse, 0, len(repos))
	for _, repo := range repos {
		out = append(out, DatabaseResponse{
			ID:                 repo.ID,
			Name:               repo.Name,
			ExampleIDs:         nonNil(repo.Examples),
			ValidationPrefixes: nonNil(repo.Prefixes),
			TotalDownloads:     repo.TotalDownloads,
		})
	}

	writeJSON(r.Context(), w, http.StatusOK, out)
}

func (h *APIHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if !decodeBody(w, r, &req) {
		return
	}

	job, err := h.jobs.Submit(r.Context(), jobs.SubmitRequest{
		Accession:      req.AccessionID,
		Repository:     req.Database,
		ValidateFormat: boolOr(req.ValidateFormat, true),
	})
	if err != nil {
		writeError(r.Context(), w, err)

		return
	}

	writeJSON(r.Context(), w, http.StatusOK, newJobResponse(job))
}

func (h *APIHandler) HandleBatchDownload(w http.ResponseWriter, r *http.Request) {
	var req BatchDownloadRequest
	if !decodeBody(w, r, &req) {
		return
	}

	entries, err := h.batch.SubmitBatch(r.Context(), req.AccessionIDs, req.Database, boolOr(req.ValidateFormat, true))
	if err != nil {
		writeError(r.Context(), w, err)

		return
	}

	resp := BatchResponse{Jobs: make([]BatchJob, 0, len(entries)), Total: len(entries)}
	for _, e := range entries {
		resp.Jobs = append(resp.Jobs, BatchJob{ID: e.JobID, AccessionID: e.Accession, Status: string(e.Status)})
	}

	writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (h *APIHandler) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)

		return
	}

	writeJSON(r.Context(), w, http.StatusOK, newJobResponse(job))
}

func (h *APIHandler) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", jobs.DefaultListLimit)
	if !ok {
		return
	}

	skip, ok := queryInt(w, r, "skip", 0)
	if !ok {
		return
	}

	list, err := h.jobs.List(r.Context(), limit, skip)
	if err != nil {
		writeError(r.Context(), w, err)

		return
	}

	out := make([]JobResponse, 0, len(list))
	for _, job := range list {
		out = append(out, newJobResponse(job))
	}

	writeJSON(r.Context(), w, http.StatusOK, out)
}

func (h *APIHandler) HandleDownloadFile(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	artifact, err := h.jobs.Artifact(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)

		return
	}

	f, err := os.Open(artifact.Path)
	if errors.Is(err, os.ErrNotExist) {
		writeError(r.Context(), w, jobs.ErrArtifactMissing)

		return
	}

	if err != nil {
		writeError(r.Context(), w, fmt.Errorf("failed to open artifact: %w", err))

		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(r.Context(), w, fmt.Errorf("failed to stat artifact: %w", err))

		return
	}

	logger.Debug("serving artifact", "file", artifact.Filename, "size", info.Size())

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": artifact.Filename}))
	http.ServeContent(w, r, artifact.Filename, info.ModTime(), f)
}

func (h *APIHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.Stats(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)

		return
	}

	writeJSON(r.Context(), w, http.StatusOK, StatsResponse{
		TotalDownloads:     stats.Total,
		CompletedDownloads: stats.Completed,
		FailedDownloads:    stats.Failed,
		SuccessRate:        stats.SuccessRate,
		DatabaseBreakdown:  stats.ByRepository,
	})
}

func newJobResponse(job *storage.Job) JobResponse {
	resp := JobResponse{
		ID:           job.ID,
		AccessionID:  job.AccessionID,
		Database:     job.Repository,
		Status:       string(job.Status),
		Progress:     job.Progress,
		FileSize:     job.FileSize,
		Checksum:     job.Checksum,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		CompletedAt:  job.CompletedAt,
	}

	if job.Status == storage.StatusCompleted && job.FilePath != nil {
		url := "/api/download-file/" + job.ID
		resp.DownloadURL = &url
	}

	return resp
}

// writeError maps err onto the status code and detail a client sees.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		unknown  *jobs.UnknownRepositoryError
		invalid  *jobs.InvalidAccessionError
		notReady *jobs.ArtifactNotReadyError
	)

	switch {
	case errors.As(err, &unknown):
		writeJSON(ctx, w, http.StatusBadRequest, ErrorResponse{Detail: "Unsupported database: " + unknown.Repository})
	case errors.As(err, &invalid):
		writeJSON(ctx, w, http.StatusBadRequest, ErrorResponse{Detail: "Invalid accession format for " + invalid.Repository})
	case errors.As(err, &notReady):
		writeJSON(ctx, w, http.StatusBadRequest, ErrorResponse{Detail: "File not ready for download"})
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(ctx, w, http.StatusNotFound, ErrorResponse{Detail: "Job not found"})
	case errors.Is(err, jobs.ErrArtifactMissing):
		writeJSON(ctx, w, http.StatusNotFound, ErrorResponse{Detail: "File not found on server"})
	default:
		logctx.LoggerFromContext(ctx).Error("request failed", "err", err)
		writeJSON(ctx, w, http.StatusInternalServerError, ErrorResponse{Detail: "internal server error"})
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to encode response", "err", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Debug("failed to decode request", "err", err)
		writeJSON(r.Context(), w, http.StatusBadRequest, ErrorResponse{Detail: "invalid request body"})

		return false
	}

	return true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeJSON(r.Context(), w, http.StatusBadRequest, ErrorResponse{Detail: fmt.Sprintf("invalid %s: %q", name, raw)})

		return 0, false
	}

	return n, true
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}

	return *b
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}

	return s
}
