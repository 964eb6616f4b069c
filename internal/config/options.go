// SPDX-FileCopyrightText: Copyright The Miniflux Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package config // import "feedkeeper.app/internal/config"

import (
	"fmt"
	"maps"
	"net"
	"runtime"
	"slices"
	"strings"
	"time"

	"feedkeeper.app/internal/version"
)

const (
	defaultDatabaseURL = "user=postgres password=postgres dbname=feedkeeper sslmode=disable"
	defaultListenAddr  = "127.0.0.1:8080"
)

var defaultUA = "feedkeeper/" + version.Version +
	" (+https://feedkeeper.app)"

// Option contains a key to value map of a single option. It may be used to
// output debug strings.
type Option struct {
	Key   string
	Value any
}

// Options contains configuration options.
type Options struct {
	env EnvOptions

	hostLimits      map[string]HostLimit
	metricsNetworks []*net.IPNet
}

// HostLimit overrides fetch limits for one host and its subdomains. Zero
// values keep the defaults.
type HostLimit struct {
	Connections int     `yaml:"connections" validate:"min=0"`
	RateLimit   float64 `yaml:"rate_limit" validate:"min=0"`
	Burst       int     `yaml:"burst" validate:"min=0"`
}

type EnvOptions struct {
	LogFile                    string        `env:"LOG_FILE" validate:"required"`
	LogDateTime                bool          `env:"LOG_DATE_TIME"`
	LogFormat                  string        `env:"LOG_FORMAT" validate:"required,oneof=human json text"`
	LogLevel                   string        `env:"LOG_LEVEL" validate:"required,oneof=debug info warning error"`
	DatabaseURL                string        `env:"DATABASE_URL" validate:"required"`
	DatabaseURLFile            *string       `env:"DATABASE_URL_FILE,file"`
	DatabaseMaxConns           int           `env:"DATABASE_MAX_CONNS" validate:"min=1"`
	DatabaseMinConns           int           `env:"DATABASE_MIN_CONNS" validate:"min=0,ltefield=DatabaseMaxConns"`
	DatabaseConnectionLifetime time.Duration `env:"DATABASE_CONNECTION_LIFETIME" validate:"gt=0"`
	RunMigrations              bool          `env:"RUN_MIGRATIONS"`
	ListenAddr                 string        `env:"LISTEN_ADDR" validate:"required"`
	DisableHTTPService         bool          `env:"DISABLE_HTTP_SERVICE"`
	DisableScheduler           bool          `env:"DISABLE_SCHEDULER_SERVICE"`
	WorkerPoolSize             int           `env:"WORKER_POOL_SIZE" validate:"min=1"`
	WorkerBatchSize            int           `env:"WORKER_BATCH_SIZE" validate:"min=1"`
	WorkerPollInterval         time.Duration `env:"WORKER_POLL_INTERVAL" validate:"gt=0"`
	WorkerGracePeriod          time.Duration `env:"WORKER_GRACE_PERIOD" validate:"min=0"`
	WorkerStoreBackoff         time.Duration `env:"WORKER_STORE_BACKOFF" validate:"gt=0"`
	WorkerStoreBackoffMax      time.Duration `env:"WORKER_STORE_BACKOFF_MAX" validate:"gtefield=WorkerStoreBackoff"`
	JobMaxAttempts             int           `env:"JOB_MAX_ATTEMPTS" validate:"min=1"`
	PollingFrequency           time.Duration `env:"POLLING_FREQUENCY" validate:"gt=0"`
	FaviconBackfillFrequency   time.Duration `env:"FAVICON_BACKFILL_FREQUENCY" validate:"gt=0"`
	FaviconBackfillBatchSize   int           `env:"FAVICON_BACKFILL_BATCH_SIZE" validate:"min=1"`
	FaviconBackfillConcurrency int           `env:"FAVICON_BACKFILL_CONCURRENCY" validate:"min=1"`
	HTTPClientTimeout          time.Duration `env:"HTTP_CLIENT_TIMEOUT" validate:"gt=0"`
	HTTPClientMaxBodySize      int64         `env:"HTTP_CLIENT_MAX_BODY_SIZE" validate:"min=1"`
	HTTPClientUserAgent        string        `env:"HTTP_CLIENT_USER_AGENT"`
	HTTPServerConnections      int           `env:"HTTP_SERVER_CONNECTIONS" validate:"min=1"`
	HTTPServerRateLimit        float64       `env:"HTTP_SERVER_RATE_LIMIT" validate:"min=0"`
	HTTPServerRateBurst        int           `env:"HTTP_SERVER_RATE_BURST" validate:"min=1"`
	HostLimitsFile             string        `env:"HOST_LIMITS_FILE" validate:"omitempty,filepath"`
	MetricsCollector           bool          `env:"METRICS_COLLECTOR"`
	MetricsRefreshInterval     time.Duration `env:"METRICS_REFRESH_INTERVAL" validate:"gt=0"`
	MetricsAllowedNetworks     []string      `env:"METRICS_ALLOWED_NETWORKS" validate:"dive,required,cidr"`
	MetricsUsername            string        `env:"METRICS_USERNAME"`
	MetricsUsernameFile        *string       `env:"METRICS_USERNAME_FILE,file"`
	MetricsPassword            string        `env:"METRICS_PASSWORD"`
	MetricsPasswordFile        *string       `env:"METRICS_PASSWORD_FILE,file"`
}

// NewOptions returns Options with default values.
func NewOptions() *Options {
	maxConns := max(20, runtime.GOMAXPROCS(0))

	return &Options{
		env: EnvOptions{
			LogFile:                    "stderr",
			LogFormat:                  "text",
			LogLevel:                   "info",
			DatabaseURL:                defaultDatabaseURL,
			DatabaseMaxConns:           maxConns,
			DatabaseMinConns:           1,
			DatabaseConnectionLifetime: 5 * time.Minute,
			ListenAddr:                 defaultListenAddr,
			WorkerPoolSize:             4,
			WorkerBatchSize:            10,
			WorkerPollInterval:         5 * time.Second,
			WorkerGracePeriod:          30 * time.Second,
			WorkerStoreBackoff:         time.Second,
			WorkerStoreBackoffMax:      time.Minute,
			JobMaxAttempts:             5,
			PollingFrequency:           time.Hour,
			FaviconBackfillFrequency:   10 * time.Minute,
			FaviconBackfillBatchSize:   20,
			FaviconBackfillConcurrency: 4,
			HTTPClientTimeout:          20 * time.Second,
			HTTPClientMaxBodySize:      15,
			HTTPClientUserAgent:        defaultUA,
			HTTPServerConnections:      8,
			HTTPServerRateBurst:        1,
			MetricsRefreshInterval:     time.Minute,
			MetricsAllowedNetworks:     []string{"127.0.0.1/8"},
		},

		hostLimits: map[string]HostLimit{},
	}
}

func (o *Options) init() error {
	o.applyFileStrings()
	if err := Validator().Struct(&o.env); err != nil {
		return fmt.Errorf("config: failed validate: %w", err)
	}
	o.env.HTTPClientMaxBodySize *= 1024 * 1024

	if o.env.HostLimitsFile != "" {
		limits, err := parseHostLimits(o.env.HostLimitsFile)
		if err != nil {
			return err
		}
		o.hostLimits = limits
	}
	return o.parseMetricsNetworks()
}

func (o *Options) applyFileStrings() {
	opts := []struct {
		From *string
		To   *string
	}{
		{o.env.DatabaseURLFile, &o.env.DatabaseURL},
		{o.env.MetricsPasswordFile, &o.env.MetricsPassword},
		{o.env.MetricsUsernameFile, &o.env.MetricsUsername},
	}
	for _, opt := range opts {
		if opt.From != nil {
			*opt.To = strings.TrimSpace(*opt.From)
		}
	}
}

func (o *Options) parseMetricsNetworks() error {
	o.metricsNetworks = make([]*net.IPNet, 0, len(o.env.MetricsAllowedNetworks))
	for _, cidr := range o.env.MetricsAllowedNetworks {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return fmt.Errorf("config: invalid METRICS_ALLOWED_NETWORKS: %w", err)
		}
		o.metricsNetworks = append(o.metricsNetworks, network)
	}
	return nil
}

func (o *Options) LogFile() string { return o.env.LogFile }

// LogDateTime returns true if the date/time should be displayed in log
// messages.
func (o *Options) LogDateTime() bool { return o.env.LogDateTime }

// LogFormat returns the log format.
func (o *Options) LogFormat() string { return o.env.LogFormat }

// LogLevel returns the log level.
func (o *Options) LogLevel() string { return o.env.LogLevel }

// SetLogLevel sets the log level.
func (o *Options) SetLogLevel(level string) { o.env.LogLevel = level }

// IsDefaultDatabaseURL returns true if the default database URL is used.
func (o *Options) IsDefaultDatabaseURL() bool {
	return o.env.DatabaseURL == defaultDatabaseURL
}

func (o *Options) DatabaseURL() string { return o.env.DatabaseURL }

func (o *Options) DatabaseMaxConns() int { return o.env.DatabaseMaxConns }

func (o *Options) DatabaseMinConns() int { return o.env.DatabaseMinConns }

func (o *Options) DatabaseConnectionLifetime() time.Duration {
	return o.env.DatabaseConnectionLifetime
}

// RunMigrations returns true if the daemon migrates the schema on startup.
func (o *Options) RunMigrations() bool { return o.env.RunMigrations }

// ListenAddr returns the address of the health and metrics server. It's a
// unix socket path when it starts with '/'.
func (o *Options) ListenAddr() string { return o.env.ListenAddr }

func (o *Options) HasHTTPService() bool { return !o.env.DisableHTTPService }

func (o *Options) HasSchedulerService() bool { return !o.env.DisableScheduler }

func (o *Options) WorkerPoolSize() int { return o.env.WorkerPoolSize }

func (o *Options) WorkerBatchSize() int { return o.env.WorkerBatchSize }

func (o *Options) WorkerPollInterval() time.Duration {
	return o.env.WorkerPollInterval
}

func (o *Options) WorkerGracePeriod() time.Duration {
	return o.env.WorkerGracePeriod
}

func (o *Options) WorkerStoreBackoff() time.Duration {
	return o.env.WorkerStoreBackoff
}

func (o *Options) WorkerStoreBackoffMax() time.Duration {
	return o.env.WorkerStoreBackoffMax
}

func (o *Options) JobMaxAttempts() int { return o.env.JobMaxAttempts }

// PollingFrequency returns how often every feed gets a fetch job.
func (o *Options) PollingFrequency() time.Duration {
	return o.env.PollingFrequency
}

func (o *Options) FaviconBackfillFrequency() time.Duration {
	return o.env.FaviconBackfillFrequency
}

func (o *Options) FaviconBackfillBatchSize() int {
	return o.env.FaviconBackfillBatchSize
}

func (o *Options) FaviconBackfillConcurrency() int {
	return o.env.FaviconBackfillConcurrency
}

func (o *Options) HTTPClientTimeout() time.Duration {
	return o.env.HTTPClientTimeout
}

// HTTPClientMaxBodySize returns the maximum body size in bytes.
func (o *Options) HTTPClientMaxBodySize() int64 {
	return o.env.HTTPClientMaxBodySize
}

func (o *Options) HTTPClientUserAgent() string {
	return o.env.HTTPClientUserAgent
}

// ConnectionsPerServer returns how many requests may run at once against one
// remote host.
func (o *Options) ConnectionsPerServer() int {
	return o.env.HTTPServerConnections
}

// RateLimitPerServer returns requests per second allowed to one remote host.
// Zero means no limit.
func (o *Options) RateLimitPerServer() float64 {
	return o.env.HTTPServerRateLimit
}

func (o *Options) RateLimitBurst() int { return o.env.HTTPServerRateBurst }

// HostLimits returns per host overrides of the fetch limits.
func (o *Options) HostLimits() map[string]HostLimit {
	return maps.Clone(o.hostLimits)
}

func (o *Options) HasMetricsCollector() bool { return o.env.MetricsCollector }

func (o *Options) MetricsRefreshInterval() time.Duration {
	return o.env.MetricsRefreshInterval
}

// MetricsAllowedNetworks returns the networks allowed to connect to the
// metrics endpoint.
func (o *Options) MetricsAllowedNetworks() []*net.IPNet {
	return slices.Clone(o.metricsNetworks)
}

func (o *Options) MetricsUsername() string { return o.env.MetricsUsername }
func (o *Options) MetricsPassword() string { return o.env.MetricsPassword }

// SortedOptions returns options as a list of key value pairs, sorted by keys.
func (o *Options) SortedOptions(redactSecret bool) []Option {
	keyValues := map[string]any{
		"DATABASE_CONNECTION_LIFETIME": o.DatabaseConnectionLifetime(),
		"DATABASE_MAX_CONNS":           o.DatabaseMaxConns(),
		"DATABASE_MIN_CONNS":           o.DatabaseMinConns(),
		"DATABASE_URL":                 secretValue(o.DatabaseURL(), redactSecret),
		"DISABLE_HTTP_SERVICE":         !o.HasHTTPService(),
		"DISABLE_SCHEDULER_SERVICE":    !o.HasSchedulerService(),
		"FAVICON_BACKFILL_BATCH_SIZE":  o.FaviconBackfillBatchSize(),
		"FAVICON_BACKFILL_CONCURRENCY": o.FaviconBackfillConcurrency(),
		"FAVICON_BACKFILL_FREQUENCY":   o.FaviconBackfillFrequency(),
		"HOST_LIMITS_FILE":             o.env.HostLimitsFile,
		"HTTP_CLIENT_MAX_BODY_SIZE":    o.HTTPClientMaxBodySize(),
		"HTTP_CLIENT_TIMEOUT":          o.HTTPClientTimeout(),
		"HTTP_CLIENT_USER_AGENT":       o.HTTPClientUserAgent(),
		"HTTP_SERVER_CONNECTIONS":      o.ConnectionsPerServer(),
		"HTTP_SERVER_RATE_BURST":       o.RateLimitBurst(),
		"HTTP_SERVER_RATE_LIMIT":       o.RateLimitPerServer(),
		"JOB_MAX_ATTEMPTS":             o.JobMaxAttempts(),
		"LISTEN_ADDR":                  o.ListenAddr(),
		"LOG_DATE_TIME":                o.LogDateTime(),
		"LOG_FILE":                     o.LogFile(),
		"LOG_FORMAT":                   o.LogFormat(),
		"LOG_LEVEL":                    o.LogLevel(),
		"METRICS_ALLOWED_NETWORKS":     strings.Join(o.env.MetricsAllowedNetworks, ","),
		"METRICS_COLLECTOR":            o.HasMetricsCollector(),
		"METRICS_PASSWORD":             secretValue(o.MetricsPassword(), redactSecret),
		"METRICS_REFRESH_INTERVAL":     o.MetricsRefreshInterval(),
		"METRICS_USERNAME":             o.MetricsUsername(),
		"POLLING_FREQUENCY":            o.PollingFrequency(),
		"RUN_MIGRATIONS":               o.RunMigrations(),
		"WORKER_BATCH_SIZE":            o.WorkerBatchSize(),
		"WORKER_GRACE_PERIOD":          o.WorkerGracePeriod(),
		"WORKER_POLL_INTERVAL":         o.WorkerPollInterval(),
		"WORKER_POOL_SIZE":             o.WorkerPoolSize(),
		"WORKER_STORE_BACKOFF":         o.WorkerStoreBackoff(),
		"WORKER_STORE_BACKOFF_MAX":     o.WorkerStoreBackoffMax(),
	}

	sortedKeys := slices.Sorted(maps.Keys(keyValues))
	sortedOptions := make([]Option, len(sortedKeys))
	for i, key := range sortedKeys {
		sortedOptions[i] = Option{Key: key, Value: keyValues[key]}
	}
	return sortedOptions
}

func (o *Options) String() string {
	var builder strings.Builder
	for _, option := range o.SortedOptions(true) {
		fmt.Fprintf(&builder, "%s=%v\n", option.Key, option.Value)
	}
	return builder.String()
}

func secretValue(value string, redactSecret bool) string {
	if redactSecret && value != "" {
		return "<secret>"
	}
	return value
}
