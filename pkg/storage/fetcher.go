// Package storage opens remote image artifacts over HTTP(S) or from an S3 mirror.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/piprov/piprov/pkg/errors"
)

// Fetcher opens a remote artifact for streaming. size is -1 when unknown.
type Fetcher interface {
	Open(ctx context.Context, location string) (body io.ReadCloser, size int64, err error)
}

// HTTPFetcher fetches http and https locations.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher. A nil client uses a client with a generous
// header timeout and no overall timeout, since image bodies are large.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 30 * time.Second,
				TLSHandshakeTimeout:   15 * time.Second,
			},
		}
	}
	return &HTTPFetcher{client: client}
}

// Open issues a GET and returns the body on 200 OK.
func (f *HTTPFetcher) Open(ctx context.Context, location string) (io.ReadCloser, int64, error) {
	slog.Debug("http_get_start", "url", location)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to build request")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		slog.Error("http_get_failed", "url", location, "error", err)
		return nil, 0, errors.Wrap(err, "http get failed")
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		slog.Error("http_get_bad_status", "url", location, "status", resp.Status)
		return nil, 0, fmt.Errorf("download failed: %s", resp.Status)
	}

	return resp.Body, resp.ContentLength, nil
}

// Router dispatches by URI scheme.
type Router struct {
	HTTP Fetcher
	S3   Fetcher
}

// Open implements Fetcher.
func (r *Router) Open(ctx context.Context, location string) (io.ReadCloser, int64, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, 0, errors.Wrap(err, "invalid location")
	}

	switch u.Scheme {
	case "http", "https":
		if r.HTTP == nil {
			return nil, 0, fmt.Errorf("no http fetcher configured for %s", location)
		}
		return r.HTTP.Open(ctx, location)
	case "s3":
		if r.S3 == nil {
			return nil, 0, fmt.Errorf("no s3 fetcher configured for %s", location)
		}
		return r.S3.Open(ctx, location)
	default:
		return nil, 0, fmt.Errorf("unsupported scheme %q in %s", u.Scheme, location)
	}
}

// ReadAll fetches a small artifact (listing page, checksum file) into memory.
func ReadAll(ctx context.Context, f Fetcher, location string, limit int64) ([]byte, error) {
	body, _, err := f.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read body")
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%s exceeds %d bytes", location, limit)
	}
	return data, nil
}
