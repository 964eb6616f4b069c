// SPDX-FileCopyrightText: Copyright The Miniflux Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package fetcher // import "feedkeeper.app/internal/reader/fetcher"

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

func newResponse(resp *http.Response, maxBodySize int64, release func(),
) *Response {
	return &Response{
		httpResponse: resp,
		maxBodySize:  maxBodySize,
		release:      release,
	}
}

// Response is a successful HTTP response holding a connection slot of its
// host until closed.
type Response struct {
	httpResponse *http.Response
	maxBodySize  int64
	release      func()
}

func (r *Response) StatusCode() int { return r.httpResponse.StatusCode }

func (r *Response) Header(key string) string {
	return r.httpResponse.Header.Get(key)
}

func (r *Response) URL() *url.URL { return r.httpResponse.Request.URL }

// EffectiveURL is the URL after redirects.
func (r *Response) EffectiveURL() string { return r.URL().String() }

func (r *Response) ContentType() string {
	return r.httpResponse.Header.Get("Content-Type")
}

func (r *Response) LastModified() string {
	// Ignore caching headers for feeds that do not want any cache.
	if r.httpResponse.Header.Get("Expires") == "0" {
		return ""
	}
	return r.httpResponse.Header.Get("Last-Modified")
}

func (r *Response) ETag() string {
	if r.httpResponse.Header.Get("Expires") == "0" {
		return ""
	}
	return r.httpResponse.Header.Get("ETag")
}

// IsModified reports whether the response differs from the one cached with
// the given validators. ETag takes precedence over Last-Modified.
func (r *Response) IsModified(etag, lastModified string) bool {
	if r.httpResponse.StatusCode == http.StatusNotModified {
		return false
	}

	if r.ETag() != "" {
		return r.ETag() != etag
	}

	if r.LastModified() != "" {
		return r.LastModified() != lastModified
	}
	return true
}

// Body returns the response body, limited to the max body size.
func (r *Response) Body() io.Reader {
	return http.MaxBytesReader(nil, r.httpResponse.Body, r.maxBodySize)
}

// ReadBody reads the whole body. An empty body is an error.
func (r *Response) ReadBody() ([]byte, error) {
	var buffer bytes.Buffer
	_, err := io.Copy(&buffer, r.Body())
	if err != nil && !errors.Is(err, io.EOF) {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge,
				maxBytesErr.Limit)
		}
		return nil, fmt.Errorf("reader/fetcher: read response body: %w", err)
	}

	if buffer.Len() == 0 {
		return nil, ErrEmptyBody
	}
	return buffer.Bytes(), nil
}

// Close drains and closes the body and frees the connection slot. It's safe
// to call Close more than once.
func (r *Response) Close() {
	if r.release == nil {
		return
	}
	BodyClose(r.httpResponse.Body)
	r.release()
	r.release = nil
}

// maxPostHandlerReadBytes is the max number of body bytes drained to keep a
// connection alive, see net/http/server.go.
const maxPostHandlerReadBytes = 256 << 10

// https://github.com/golang/go/issues/60240
func BodyClose(r io.ReadCloser) {
	_, _ = io.CopyN(io.Discard, r, maxPostHandlerReadBytes+1)
	r.Close()
}

func (r *Response) statusError() *StatusError {
	return &StatusError{
		Code:       r.StatusCode(),
		Status:     r.bodyStatusText(),
		URL:        r.EffectiveURL(),
		RetryAfter: r.parseRetryDelay(),
	}
}

func (r *Response) parseRetryDelay() time.Duration {
	retryAfter := r.Header("Retry-After")
	if retryAfter == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		return time.Duration(max(0, seconds)) * time.Second
	}

	t, err := time.Parse(time.RFC1123, retryAfter)
	if err != nil || t.Before(time.Now()) {
		return 0
	}
	return time.Until(t)
}

// bodyStatusText is the status text followed by the first line of the body,
// which often explains the error.
func (r *Response) bodyStatusText() string {
	statusText := http.StatusText(r.StatusCode())
	var b bytes.Buffer
	_, _ = io.CopyN(&b, r.httpResponse.Body, 1024)
	if s, _, _ := strings.Cut(b.String(), "\n"); strings.TrimSpace(s) != "" {
		s = strings.TrimSpace(s)
		if statusText == "" {
			return s
		}
		return statusText + ": " + s
	}
	return statusText
}
