package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/biofetch/internal/logctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledTelemetry_IsSafe(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false, ServiceName: "biofetch"})
	require.NoError(t, err)

	tel.RecordJobSubmitted("pdb")
	tel.RecordJobFinished("pdb", "completed", time.Second)
	tel.RecordTransferBytes(10)
	tel.RecordArtifactMirror("success")
	tel.RecordSystemError("jobs", "panic")
	tel.IncrementHTTPInFlight()
	tel.DecrementHTTPInFlight()

	called := false
	err = tel.InstrumentJob(context.Background(), "pdb", func(ctx context.Context) error {
		called = true

		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestNilTelemetry_PassesThrough(t *testing.T) {
	var tel *Telemetry

	boom := errors.New("boom")

	err := tel.InstrumentDBOperation(context.Background(), "insert", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	err = tel.InstrumentTransfer(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)

	assert.NotNil(t, tel.Tracer())
}

func TestEnabledTelemetry_ExposesMetrics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tel, err := New(ctx, Config{
		Enabled:        true,
		ServiceName:    "biofetch-test",
		ServiceVersion: "test",
		StorageDir:     t.TempDir(),
	})
	require.NoError(t, err)

	defer func() { _ = tel.Shutdown(context.Background()) }()

	tel.RecordJobSubmitted("pdb")
	tel.RecordJobFinished("pdb", "failed", 2*time.Second)
	tel.RecordTransferBytes(4096)

	err = tel.InstrumentDBOperation(ctx, "find_by_id", func(context.Context) error { return nil })
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "jobs_submitted")
	assert.Contains(t, body, `repository="pdb"`)
	assert.Contains(t, body, "jobs_finished")
	assert.Contains(t, body, "transfer_bytes")
	assert.Contains(t, body, "db_operations")
}

func TestRequestID(t *testing.T) {
	var seen string

	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-id")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "upstream-id", seen)
	assert.Equal(t, "upstream-id", rec.Header().Get(RequestIDHeader))

	for _, bad := range []string{strings.Repeat("a", 200), "bad\nid"} {
		req = httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, bad)

		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.NotEqual(t, bad, seen)
		assert.Len(t, seen, 36)
	}

	assert.Empty(t, GetRequestID(context.Background()))
}

func TestHTTPMiddleware_LogsByStatus(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(logctx.NewContextHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(logctx.WithLogger(req.Context(), logger)))
		})
	})
	r.Use(RequestID)
	r.Use(NewHTTPMiddleware(nil).Middleware)
	r.Get("/jobs/{id}", func(w http.ResponseWriter, req *http.Request) {
		if chi.URLParam(req, "id") == "missing" {
			http.Error(w, "not found", http.StatusNotFound)

			return
		}

		_, _ = io.WriteString(w, "ok")
	})
	r.Get("/boom", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})

	tests := []struct {
		path      string
		wantLevel string
	}{
		{path: "/jobs/abc", wantLevel: "INFO"},
		{path: "/jobs/missing", wantLevel: "WARN"},
		{path: "/boom", wantLevel: "ERROR"},
		{path: "/healthz", wantLevel: "DEBUG"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			buf.Reset()

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			var entry map[string]any
			require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))

			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Equal(t, tt.path, entry["path"])
			assert.Equal(t, rec.Header().Get(RequestIDHeader), entry["request_id"])
		})
	}
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(http.StatusCreated))
	assert.Equal(t, "3xx", statusClass(http.StatusFound))
	assert.Equal(t, "4xx", statusClass(http.StatusBadRequest))
	assert.Equal(t, "5xx", statusClass(http.StatusBadGateway))
	assert.Equal(t, "unknown", statusClass(100))
}
