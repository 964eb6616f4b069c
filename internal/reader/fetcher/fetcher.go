// SPDX-FileCopyrightText: Copyright The Miniflux Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package fetcher downloads feeds and favicons over HTTP, limiting
// concurrent connections and request rate per remote host.
package fetcher // import "feedkeeper.app/internal/reader/fetcher"

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"feedkeeper.app/internal/config"
)

const (
	DefaultUserAgent          = "feedkeeper (+https://feedkeeper.app)"
	DefaultTimeout            = 20 * time.Second
	DefaultMaxBodySize        = 15 << 20
	DefaultConnectionsPerHost = 8

	defaultAcceptHeader = "application/xml, application/atom+xml, application/rss+xml, application/rdf+xml, application/feed+json, text/html, */*;q=0.9"
)

type Option func(f *Fetcher)

func WithUserAgent(userAgent string) Option {
	return func(f *Fetcher) {
		if userAgent != "" {
			f.userAgent = userAgent
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

func WithMaxBodySize(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBodySize = n
		}
	}
}

// WithConnectionsPerHost limits concurrent requests to one host.
func WithConnectionsPerHost(n int) Option {
	return func(f *Fetcher) { f.hosts.connections = max(n, 1) }
}

// WithRateLimit limits requests per second to one host. Zero disables it.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(f *Fetcher) {
		f.hosts.rateLimit = perSecond
		f.hosts.burst = max(burst, 1)
	}
}

// WithHostLimits overrides connection and rate limits for some hosts.
func WithHostLimits(limits map[string]config.HostLimit) Option {
	return func(f *Fetcher) { f.hosts.overrides = limits }
}

// WithHTTPClient replaces the HTTP client built from the timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// NewFromConfig creates a Fetcher configured by opts.
func NewFromConfig(opts *config.Options) *Fetcher {
	return New(
		WithUserAgent(opts.HTTPClientUserAgent()),
		WithTimeout(opts.HTTPClientTimeout()),
		WithMaxBodySize(opts.HTTPClientMaxBodySize()),
		WithConnectionsPerHost(opts.ConnectionsPerServer()),
		WithRateLimit(opts.RateLimitPerServer(), opts.RateLimitBurst()),
		WithHostLimits(opts.HostLimits()))
}

// New creates a Fetcher. It's safe for concurrent use and must be shared, so
// limits apply across all requests.
func New(opts ...Option) *Fetcher {
	self := &Fetcher{
		userAgent:   DefaultUserAgent,
		timeout:     DefaultTimeout,
		maxBodySize: DefaultMaxBodySize,
		hosts:       newLimitHosts(DefaultConnectionsPerHost),
	}
	for _, fn := range opts {
		fn(self)
	}

	if self.client == nil {
		self.client = &http.Client{
			Transport: self.transport(),
			Timeout:   self.timeout,
		}
	}
	return self
}

type Fetcher struct {
	client      *http.Client
	hosts       *limitHosts
	userAgent   string
	timeout     time.Duration
	maxBodySize int64
}

func (self *Fetcher) transport() http.RoundTripper {
	dialer := &net.Dialer{Timeout: self.timeout}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   self.timeout,
		IdleConnTimeout:       10 * time.Second,
		ResponseHeaderTimeout: self.timeout,
		MaxIdleConnsPerHost:   self.hosts.connections,

		// Setting DialContext disables HTTP/2, this option forces the transport
		// to try HTTP/2 regardless.
		ForceAttemptHTTP2: true,
	}
	return gzhttp.Transport(transport)
}

// NewRequest starts building a GET request.
func (self *Fetcher) NewRequest() *RequestBuilder {
	return newRequestBuilder(self)
}

// Get is a shortcut for NewRequest().Request.
func (self *Fetcher) Get(ctx context.Context, rawURL string) (*Response,
	error,
) {
	return self.NewRequest().Request(ctx, rawURL)
}
