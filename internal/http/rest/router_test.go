package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/italolelis/biofetch/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinger struct {
	err error
}

func (p pinger) PingContext(context.Context) error {
	return p.err
}

func TestNewRouter(t *testing.T) {
	tel, err := telemetry.New(context.Background(), telemetry.Config{Enabled: true, ServiceName: "biofetch-test"})
	require.NoError(t, err)

	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	router := NewRouter(NewAPIHandler(&fakeJobs{}, &fakeBatch{}, "1.0.0"), pinger{}, tel, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","database":"up"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestHealthHandler_DatabaseDown(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler(pinger{err: errors.New("connection refused")}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable","database":"down"}`, rec.Body.String())
}

func TestNewRouter_TelemetryDisabled(t *testing.T) {
	router := NewRouter(NewAPIHandler(&fakeJobs{}, &fakeBatch{}, "1.0.0"), pinger{}, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewRouter_CORS(t *testing.T) {
	api := NewAPIHandler(&fakeJobs{}, &fakeBatch{}, "1.0.0")

	cases := []struct {
		name    string
		origins []string
		origin  string
		allowed bool
	}{
		{name: "listed origin", origins: []string{"https://portal.example.org"}, origin: "https://portal.example.org", allowed: true},
		{name: "unlisted origin", origins: []string{"https://portal.example.org"}, origin: "https://evil.example.com"},
		{name: "wildcard echoes origin", origins: []string{"*"}, origin: "https://lab.example.net", allowed: true},
		{name: "disabled", origin: "https://portal.example.org"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := NewRouter(api, pinger{}, nil, tc.origins)

			req := httptest.NewRequest(http.MethodGet, "/api/", nil)
			req.Header.Set("Origin", tc.origin)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code)

			if !tc.allowed {
				assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

				return
			}

			assert.Equal(t, tc.origin, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
		})
	}
}

func TestNewRouter_CORSPreflight(t *testing.T) {
	router := NewRouter(NewAPIHandler(&fakeJobs{}, &fakeBatch{}, "1.0.0"), pinger{}, nil, []string{"https://portal.example.org"})

	req := httptest.NewRequest(http.MethodOptions, "/api/download", nil)
	req.Header.Set("Origin", "https://portal.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://portal.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
}
