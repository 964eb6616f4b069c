// SPDX-FileCopyrightText: Copyright The Miniflux Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package cli // import "feedkeeper.app/internal/cli"

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"feedkeeper.app/internal/config"
	"feedkeeper.app/internal/http/server"
	"feedkeeper.app/internal/metric"
	"feedkeeper.app/internal/model"
	"feedkeeper.app/internal/reader/fetcher"
	"feedkeeper.app/internal/reader/handler"
	"feedkeeper.app/internal/storage"
	"feedkeeper.app/internal/worker"
)

func NewDaemon() *Daemon { return &Daemon{} }

// Daemon runs the worker pool, the scheduler and the HTTP server until it
// gets SIGTERM or SIGINT.
type Daemon struct {
	store *storage.Storage
	g     *errgroup.Group
	pool  *worker.Pool
}

func (self *Daemon) Run() error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, os.Interrupt)
	defer cancel()

	slog.Info("Starting daemon...")
	defer self.close(ctx)

	if err := self.configure(ctx); err != nil {
		return err
	}

	if err := self.start(ctx); err != nil {
		return err
	}
	return self.wait()
}

func (self *Daemon) close(ctx context.Context) {
	if self.store != nil {
		self.store.Close(context.WithoutCancel(ctx))
	}
}

func (self *Daemon) configure(ctx context.Context) error {
	store, err := makeStorage(ctx)
	if err != nil {
		return err
	}
	self.store = store

	if config.Opts.RunMigrations() {
		if err := self.store.Migrate(ctx); err != nil {
			return err
		}
	}
	return self.store.SchemaUpToDate(ctx)
}

func (self *Daemon) start(ctx context.Context) error {
	if config.Opts.HasMetricsCollector() {
		metric.RegisterMetrics(prometheus.DefaultRegisterer)
		storage.RegisterMetrics(prometheus.DefaultRegisterer)
	}

	self.g, ctx = errgroup.WithContext(ctx)
	self.pool = newPool(self.store, newRegistry(self.store))
	self.g.Go(func() error { return self.pool.Run(ctx) })

	if config.Opts.HasSchedulerService() {
		self.runScheduler(ctx)
	}

	if config.Opts.HasHTTPService() {
		l, err := server.Listen(ctx, config.Opts.ListenAddr())
		if err != nil {
			return err
		}
		server.Serve(ctx, self.g, l, server.NewHandler(self.store,
			serverOptions()))
	}
	return nil
}

func (self *Daemon) wait() error {
	if err := self.g.Wait(); err != nil {
		slog.Error("process stopped with error", slog.Any("error", err))
		return fmt.Errorf("process stopped with error: %w", err)
	}
	slog.Info("Process gracefully stopped")
	return nil
}

func newRegistry(store *storage.Storage) *worker.Registry {
	f := fetcher.NewFromConfig(config.Opts)
	return worker.NewRegistry().
		Register(model.JobKindFetchFeed, handler.NewFetchFeed(store, f)).
		Register(model.JobKindBackfillFavicon, handler.NewBackfillFavicon(store, f,
			handler.WithFaviconBatchSize(config.Opts.FaviconBackfillBatchSize()),
			handler.WithFaviconConcurrency(
				config.Opts.FaviconBackfillConcurrency())))
}

func newPool(store *storage.Storage, registry *worker.Registry,
) *worker.Pool {
	return worker.NewPool(worker.NewQueue(store), registry,
		config.Opts.WorkerPoolSize(), workerOptions()...)
}

func workerOptions() []worker.Option {
	return []worker.Option{
		worker.WithBatchSize(config.Opts.WorkerBatchSize()),
		worker.WithPollInterval(config.Opts.WorkerPollInterval()),
		worker.WithMaxAttempts(config.Opts.JobMaxAttempts()),
		worker.WithGracePeriod(config.Opts.WorkerGracePeriod()),
		worker.WithStoreBackoff(config.Opts.WorkerStoreBackoff(),
			config.Opts.WorkerStoreBackoffMax()),
	}
}

func serverOptions() server.Options {
	var opts server.Options
	if config.Opts.HasMetricsCollector() {
		opts.Metrics = &metric.HandlerOptions{
			Username:        config.Opts.MetricsUsername(),
			Password:        config.Opts.MetricsPassword(),
			AllowedNetworks: config.Opts.MetricsAllowedNetworks(),
			RefreshInterval: config.Opts.MetricsRefreshInterval(),
		}
	}
	return opts
}
