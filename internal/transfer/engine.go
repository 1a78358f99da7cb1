// Package transfer streams a remote resource to a local file.
package transfer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/biofetch/internal/logctx"
	"github.com/italolelis/biofetch/internal/telemetry"
	"github.com/italolelis/biofetch/internal/transfer/progress"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// ChunkSize is the read size used while streaming a response body.
	ChunkSize = 8 * 1024
	// DefaultTimeout bounds a whole transfer when none is configured.
	DefaultTimeout = 10 * time.Minute

	dirPerm = 0o755
)

// ProgressFunc receives the completed fraction in [0,1].
type ProgressFunc func(fraction float64)

// Artifact describes a file stored by a successful transfer.
type Artifact struct {
	Path     string
	Size     int64
	Duration time.Duration
}

// Engine performs single-attempt HTTP GET transfers.
type Engine struct {
	client    *http.Client
	timeout   time.Duration
	telemetry *telemetry.Telemetry
}

// NewEngine creates an engine. A nil client gets a default client whose
// transport is traced; a non-positive timeout means DefaultTimeout.
func NewEngine(client *http.Client, timeout time.Duration, tel *telemetry.Telemetry) *Engine {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Engine{
		client:    client,
		timeout:   timeout,
		telemetry: tel,
	}
}

// Run downloads url into dest. Bytes are written to a temporary file next to
// dest which is renamed onto dest only after the whole body was received, so
// a partial file is never visible at dest. onProgress may be nil.
func (e *Engine) Run(ctx context.Context, url, dest string, onProgress ProgressFunc) (*Artifact, error) {
	var artifact *Artifact

	err := e.telemetry.InstrumentTransfer(ctx, func(ctx context.Context) error {
		var err error

		artifact, err = e.run(ctx, url, dest, onProgress)

		return err
	})
	if err != nil {
		return nil, err
	}

	return artifact, nil
}

func (e *Engine) run(ctx context.Context, url, dest string, onProgress ProgressFunc) (*Artifact, error) {
	logger := logctx.LoggerFromContext(ctx)
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &IOFaultError{Operation: "request", URL: url, Err: err}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, e.classify(ctx, "request", url, err)
	}

	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &RemoteRejectedError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	size := "unknown"
	if resp.ContentLength > 0 {
		size = humanize.Bytes(uint64(resp.ContentLength))
	}

	logger.Info("downloading file", "url", url, "file_path", dest, "file_size", size)

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, &IOFaultError{Operation: "mkdir", URL: url, Err: err}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(dest)+".part-*")
	if err != nil {
		return nil, &IOFaultError{Operation: "create", URL: url, Err: err}
	}

	pw := progress.NewWriter(tmp, resp.ContentLength, onProgress)

	if err := e.copy(ctx, pw, resp.Body, url); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		e.telemetry.RecordTransferBytes(pw.Written())

		return nil, err
	}

	e.telemetry.RecordTransferBytes(pw.Written())

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return nil, &IOFaultError{Operation: "close", URL: url, Err: err}
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())

		return nil, &IOFaultError{Operation: "rename", URL: url, Err: err}
	}

	if pw.Total <= 0 && onProgress != nil {
		onProgress(1)
	}

	artifact := &Artifact{Path: dest, Size: pw.Written(), Duration: time.Since(start)}

	logger.Info("downloaded and saved file",
		"target", dest,
		"file_size", humanize.Bytes(uint64(artifact.Size)),
		"duration", artifact.Duration,
	)

	return artifact, nil
}

// copy moves the body to w in ChunkSize reads; every stored chunk triggers
// exactly one progress report through w.
func (e *Engine) copy(ctx context.Context, w io.Writer, body io.Reader, url string) error {
	buf := make([]byte, ChunkSize)

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return &IOFaultError{Operation: "write", URL: url, Err: err}
			}
		}

		if errors.Is(rerr, io.EOF) {
			return nil
		}

		if rerr != nil {
			return e.classify(ctx, "read", url, rerr)
		}
	}
}

// classify maps a transport failure to TimeoutError when the deadline fired
// and to IOFaultError otherwise.
func (e *Engine) classify(ctx context.Context, op, url string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{URL: url, After: e.timeout, Err: err}
	}

	return &IOFaultError{Operation: op, URL: url, Err: err}
}
