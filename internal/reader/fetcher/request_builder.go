// SPDX-FileCopyrightText: Copyright The Miniflux Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package fetcher // import "feedkeeper.app/internal/reader/fetcher"

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"feedkeeper.app/internal/logging"
)

type RequestBuilder struct {
	fetcher *Fetcher
	headers http.Header
}

func newRequestBuilder(f *Fetcher) *RequestBuilder {
	r := &RequestBuilder{fetcher: f, headers: make(http.Header)}
	r.headers.Set("User-Agent", f.userAgent)
	r.headers.Set("Accept", defaultAcceptHeader)
	return r
}

func (r *RequestBuilder) WithHeader(key, value string) *RequestBuilder {
	r.headers.Set(key, value)
	return r
}

func (r *RequestBuilder) WithETag(etag string) *RequestBuilder {
	if etag != "" {
		r.headers.Set("If-None-Match", etag)
	}
	return r
}

func (r *RequestBuilder) WithLastModified(lastModified string) *RequestBuilder {
	if lastModified != "" {
		r.headers.Set("If-Modified-Since", lastModified)
	}
	return r
}

// Request executes a GET of rawURL, waiting for a free connection slot of its
// host first. It returns ErrNotModified for 304 and a *StatusError for any
// status >= 400. The returned Response must be closed, which also frees the
// connection slot.
func (r *RequestBuilder) Request(ctx context.Context, rawURL string,
) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidURL,
			rawURL)
	}

	hostname := u.Hostname()
	if err := r.fetcher.hosts.Acquire(ctx, hostname); err != nil {
		return nil, err
	}

	resp, err := r.execute(ctx, u)
	if err != nil {
		r.fetcher.hosts.Release(hostname)
		return nil, err
	}

	response := newResponse(resp, r.fetcher.maxBodySize,
		func() { r.fetcher.hosts.Release(hostname) })

	switch {
	case resp.StatusCode == http.StatusNotModified:
		response.Close()
		return nil, ErrNotModified
	case resp.StatusCode >= 400:
		err := response.statusError()
		response.Close()
		return nil, err
	}
	return response, nil
}

func (r *RequestBuilder) execute(ctx context.Context, u *url.URL,
) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("reader/fetcher: create http request: %w", err)
	}
	req.Header = r.headers.Clone()

	log := logging.FromContext(ctx)
	log.Debug("Making outgoing request",
		slog.String("url", req.URL.String()),
		slog.Any("headers", req.Header))

	start := time.Now()
	resp, err := r.fetcher.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reader/fetcher: get %q: %w", u.Redacted(), err)
	}

	log.Debug("Got response",
		slog.String("url", req.URL.String()),
		slog.Int("status_code", resp.StatusCode),
		slog.Int64("content_length", resp.ContentLength),
		slog.String("proto", resp.Proto),
		slog.Duration("request_time", time.Since(start)))
	return resp, nil
}
