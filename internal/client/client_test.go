package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/italolelis/biofetch/internal/http/rest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apiServer(t *testing.T, version string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/{$}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(rest.RootResponse{Message: "BioFetch API", Version: version})
	})

	mux.HandleFunc("POST /api/download", func(w http.ResponseWriter, r *http.Request) {
		var req rest.DownloadRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if req.Database != "pdb" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(rest.ErrorResponse{Detail: "Unsupported database: " + req.Database})

			return
		}

		assert.NotNil(t, req.ValidateFormat)
		_ = json.NewEncoder(w).Encode(rest.JobResponse{ID: "job-1", AccessionID: req.AccessionID, Database: req.Database, Status: "pending"})
	})

	mux.HandleFunc("GET /api/jobs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("limit"))
		assert.Equal(t, "2", r.URL.Query().Get("skip"))
		_ = json.NewEncoder(w).Encode([]rest.JobResponse{{ID: "a"}, {ID: "b"}})
	})

	mux.HandleFunc("GET /api/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(rest.ErrorResponse{Detail: "Job not found"})
	})

	mux.HandleFunc("GET /api/stats", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func TestClient_Download(t *testing.T) {
	srv := apiServer(t, "1.0.0")
	c := New(srv.URL+"/api/", srv.Client())

	job, err := c.Download(context.Background(), "1A0O", "pdb", true)
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, "pending", job.Status)

	_, err = c.Download(context.Background(), "X", "nope", true)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "Unsupported database: nope", apiErr.Detail)
	assert.Equal(t, "Unsupported database: nope (HTTP 400)", apiErr.Error())
}

func TestClient_JobsAndErrors(t *testing.T) {
	srv := apiServer(t, "1.0.0")
	c := New(srv.URL+"/api", srv.Client())

	jobs, err := c.Jobs(context.Background(), 7, 2)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	_, err = c.Job(context.Background(), "missing")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Job not found", apiErr.Detail)

	_, err = c.Stats(context.Background())
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "api returned HTTP 502", apiErr.Error())
}

func TestClient_CheckCompatibility(t *testing.T) {
	tests := []struct {
		version string
		ok      bool
	}{
		{"1.0.0", true},
		{"1.4.2", true},
		{"2.0.0", false},
		{"0.9", false},
		{"not-a-version", false},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			srv := apiServer(t, tt.version)

			root, err := New(srv.URL+"/api", srv.Client()).CheckCompatibility(context.Background())
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.version, root.Version)

				return
			}

			var incompatible *IncompatibleServerError
			require.True(t, errors.As(err, &incompatible))
			assert.Equal(t, tt.version, incompatible.Version)
		})
	}
}

func TestClient_BaseURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8001", New(DefaultAPIURL, nil).BaseURL())
	assert.Equal(t, "http://example.org/biofetch", New("http://example.org/biofetch/", nil).BaseURL())
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url+"/api", nil).Root(context.Background())
	assert.Error(t, err)
}
