// SPDX-FileCopyrightText: Copyright The Miniflux Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package metric // import "feedkeeper.app/internal/metric"

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"feedkeeper.app/internal/logging"
)

const namespace = "feedkeeper"

// Prometheus Metrics.
var (
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Processing time of background jobs",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"kind", "status"},
	)

	JobResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_results_total",
			Help:      "Resolutions of background jobs",
		},
		[]string{"kind", "result"},
	)

	FeedFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_fetch_duration_seconds",
			Help:      "Feed download duration",
			Buckets:   prometheus.LinearBuckets(1, 2, 15),
		},
		[]string{"status"},
	)

	IngestedEntries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_entries_total",
			Help:      "Number of new entries stored by feed ingestion",
		},
	)

	FaviconResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "favicon_results_total",
			Help:      "Favicon lookups by outcome",
		},
		[]string{"result"},
	)
)

// Collector refreshes gauges which are expensive to compute, right before
// they are scraped.
type Collector interface {
	Metrics(ctx context.Context, fromDB bool) error
}

func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		JobDuration,
		JobResults,
		FeedFetchDuration,
		IngestedEntries,
		FaviconResults)
}

// HandlerOptions controls access to the metrics endpoint. Basic auth is
// required when both Username and Password are set.
type HandlerOptions struct {
	Username        string
	Password        string
	AllowedNetworks []*net.IPNet
	RefreshInterval time.Duration
}

func Handler(c Collector, opts HandlerOptions) http.Handler {
	promHandler := promhttp.Handler()
	var mu sync.Mutex
	var lastCollectedAt time.Time

	fn := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := logging.FromContext(ctx)
		if !opts.allowed(r) {
			http.NotFound(w, r)
			return
		}

		mu.Lock()
		d := time.Since(lastCollectedAt)
		fromDB := d >= opts.RefreshInterval
		if fromDB {
			lastCollectedAt = time.Now()
		}
		mu.Unlock()

		log.Debug("Collecting storage metrics",
			slog.Duration("elapsed", d), slog.Bool("from_db", fromDB))
		if err := c.Metrics(ctx, fromDB); err != nil {
			log.Error("unable collect storage metrics", slog.Any("error", err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		promHandler.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

func (self *HandlerOptions) allowed(r *http.Request) bool {
	log := logging.FromContext(r.Context()).With(
		slog.Bool("authentication_failed", true),
		slog.String("client_user_agent", r.UserAgent()),
		slog.String("client_remote_addr", r.RemoteAddr))

	if self.Username != "" && self.Password != "" {
		username, password, authOK := r.BasicAuth()
		switch {
		case !authOK:
			log.Warn("Metrics endpoint accessed without authentication header")
			return false
		case username != self.Username || password != self.Password:
			log.Warn("Metrics endpoint accessed with invalid username or password")
			return false
		}
	}

	ip := remoteIP(r)
	if ip == "@" || ip == "" {
		// unix socket
		return true
	}

	addr := net.ParseIP(ip)
	for _, network := range self.AllowedNetworks {
		if network.Contains(addr) {
			return true
		}
	}
	log.Warn("Metrics endpoint accessed from a not allowed network",
		slog.String("client_ip", ip))
	return false
}

func remoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	ip, _, _ = strings.Cut(ip, "%")
	return ip
}
