// Package client talks to the biofetch HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/italolelis/biofetch/internal/http/rest"
)

const (
	DefaultAPIURL  = "http://localhost:8001/api"
	defaultTimeout = 30 * time.Second

	// SupportedServerVersions is the range of API versions this client speaks.
	SupportedServerVersions = ">= 1.0, < 2.0"
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api returned HTTP %d", e.StatusCode)
	}

	return fmt.Sprintf("%s (HTTP %d)", e.Detail, e.StatusCode)
}

// IncompatibleServerError is returned when the server's version is outside
// SupportedServerVersions.
type IncompatibleServerError struct {
	Version string
	Err     error
}

func (e *IncompatibleServerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unsupported server version %q: %v", e.Version, e.Err)
	}

	return fmt.Sprintf("unsupported server version %q, need %s", e.Version, SupportedServerVersions)
}

func (e *IncompatibleServerError) Unwrap() error {
	return e.Err
}

type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for the API rooted at baseURL, e.g.
// http://localhost:8001/api. A nil httpClient uses a client with a 30s timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// BaseURL returns the API root without the /api suffix, the prefix of the
// download URLs the server hands out.
func (c *Client) BaseURL() string {
	return strings.TrimSuffix(c.baseURL, "/api")
}

func (c *Client) Root(ctx context.Context) (*rest.RootResponse, error) {
	var out rest.RootResponse

	if err := c.do(ctx, http.MethodGet, "/", nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// CheckCompatibility fails unless the server speaks a supported API version.
func (c *Client) CheckCompatibility(ctx context.Context) (*rest.RootResponse, error) {
	root, err := c.Root(ctx)
	if err != nil {
		return nil, err
	}

	v, err := version.NewVersion(root.Version)
	if err != nil {
		return root, &IncompatibleServerError{Version: root.Version, Err: err}
	}

	constraint, err := version.NewConstraint(SupportedServerVersions)
	if err != nil {
		return root, err
	}

	if !constraint.Check(v) {
		return root, &IncompatibleServerError{Version: root.Version}
	}

	return root, nil
}

func (c *Client) Databases(ctx context.Context) ([]rest.DatabaseResponse, error) {
	var out []rest.DatabaseResponse

	if err := c.do(ctx, http.MethodGet, "/databases", nil, &out); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *Client) Download(ctx context.Context, accession, database string, validate bool) (*rest.JobResponse, error) {
	req := rest.DownloadRequest{AccessionID: accession, Database: database, ValidateFormat: &validate}

	var out rest.JobResponse

	if err := c.do(ctx, http.MethodPost, "/download", req, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

func (c *Client) BatchDownload(ctx context.Context, accessions []string, database string, validate bool) (*rest.BatchResponse, error) {
	req := rest.BatchDownloadRequest{AccessionIDs: accessions, Database: database, ValidateFormat: &validate}

	var out rest.BatchResponse

	if err := c.do(ctx, http.MethodPost, "/batch-download", req, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

func (c *Client) Job(ctx context.Context, id string) (*rest.JobResponse, error) {
	var out rest.JobResponse

	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

func (c *Client) Jobs(ctx context.Context, limit, skip int) ([]rest.JobResponse, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("skip", strconv.Itoa(skip))

	var out []rest.JobResponse

	if err := c.do(ctx, http.MethodGet, "/jobs?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *Client) Stats(ctx context.Context) (*rest.StatsResponse, error) {
	var out rest.StatsResponse

	if err := c.do(ctx, http.MethodGet, "/stats", nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader

	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}

		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr rest.ErrorResponse

		_ = json.NewDecoder(resp.Body).Decode(&apiErr)

		return &APIError{StatusCode: resp.StatusCode, Detail: apiErr.Detail}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
