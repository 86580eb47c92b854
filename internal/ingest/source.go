// Package ingest loads settings files and the three daily log streams into
// a visitor model.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
)

// ErrNotFound is returned when a source has no file of the requested name
var ErrNotFound = errors.New("file not found")

// Source opens named files: logs and settings
type Source interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// FSSource reads files from a file system, usually a directory or the
// embedded defaults
type FSSource struct {
	FS fs.FS
}

// Open opens name from the file system
func (s FSSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := s.FS.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

// HTTPSource fetches files relative to a base URL
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

// Open issues GET <BaseURL>/<name>. A 404 response maps to ErrNotFound, any
// other non-2xx status is an error.
func (s HTTPSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	u, err := url.JoinPath(s.BaseURL, name)
	if err != nil {
		return nil, fmt.Errorf("invalid url for %s: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, u)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// Fallback tries each source in order until one has the file
type Fallback []Source

// Open returns the first successful open. When every source fails the
// result is ErrNotFound if all sources lacked the file, otherwise the last
// other error.
func (f Fallback) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	var last error
	for _, src := range f {
		rc, err := src.Open(ctx, name)
		if err == nil {
			return rc, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, ErrNotFound) || last == nil {
			last = err
		}
	}
	if last == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil, last
}
