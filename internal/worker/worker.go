// SPDX-FileCopyrightText: Copyright The Miniflux Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package worker // import "feedkeeper.app/internal/worker"

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"feedkeeper.app/internal/logging"
	"feedkeeper.app/internal/metric"
	"feedkeeper.app/internal/model"
	"feedkeeper.app/internal/storage"
)

const (
	DefaultBatchSize       = 10
	DefaultPollInterval    = 5 * time.Second
	DefaultMaxAttempts     = 5
	DefaultGracePeriod     = 30 * time.Second
	DefaultStoreBackoff    = time.Second
	DefaultStoreBackoffMax = time.Minute
)

// Job outcomes, as reported in logs and metrics.
const (
	resultSuccess   = "success"
	resultRetry     = "retry"
	resultFailed    = "failed"
	resultAbandoned = "abandoned"
)

type Option func(w *Worker)

func WithBatchSize(n int) Option {
	return func(w *Worker) { w.batchSize = max(n, 1) }
}

func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) { w.pollInterval = d }
}

// WithMaxAttempts sets how many times a job is claimed before a retryable
// failure becomes final.
func WithMaxAttempts(n int) Option {
	return func(w *Worker) { w.maxAttempts = max(n, 1) }
}

// WithGracePeriod sets how long in-flight jobs may run after shutdown was
// requested.
func WithGracePeriod(d time.Duration) Option {
	return func(w *Worker) { w.gracePeriod = d }
}

// WithStoreBackoff sets the first and the longest pause after the store
// failed.
func WithStoreBackoff(base, maxBackoff time.Duration) Option {
	return func(w *Worker) {
		w.storeBackoff = base
		w.storeBackoffMax = max(base, maxBackoff)
	}
}

// New returns a Worker executing jobs from queue with handlers from
// registry.
func New(queue Queue, registry *Registry, opts ...Option) *Worker {
	self := &Worker{
		queue:    queue,
		registry: registry,

		batchSize:       DefaultBatchSize,
		pollInterval:    DefaultPollInterval,
		maxAttempts:     DefaultMaxAttempts,
		gracePeriod:     DefaultGracePeriod,
		storeBackoff:    DefaultStoreBackoff,
		storeBackoffMax: DefaultStoreBackoffMax,
	}
	for _, fn := range opts {
		fn(self)
	}
	return self
}

// Worker repeatedly claims a batch of jobs, executes them one by one and
// resolves every job according to its handler result.
type Worker struct {
	queue    Queue
	registry *Registry

	batchSize       int
	pollInterval    time.Duration
	maxAttempts     int
	gracePeriod     time.Duration
	storeBackoff    time.Duration
	storeBackoffMax time.Duration
}

// Run executes jobs until ctx is canceled. A batch in flight at that moment
// gets the grace period to finish, after that its jobs are canceled and the
// batch is rolled back. Store errors never stop Run, it backs off and tries
// again. It returns an error only if the registry is incomplete.
func (self *Worker) Run(ctx context.Context) error {
	if err := self.registry.Validate(); err != nil {
		return err
	}

	log := logging.FromContext(ctx)
	log.Info("worker started",
		slog.Int("batch_size", self.batchSize),
		slog.Duration("poll_interval", self.pollInterval),
		slog.Int("max_attempts", self.maxAttempts))

	var failures int
	for ctx.Err() == nil {
		n, err := self.RunOnce(ctx)
		wait := self.pollInterval
		switch {
		case err != nil:
			wait = self.backoff(failures)
			failures++
			log.Error("worker: store unavailable",
				slog.Int("failures", failures),
				slog.Duration("retry_in", wait),
				slog.Any("error", err))
		case n == self.batchSize:
			// more jobs are likely waiting
			failures = 0
			continue
		default:
			failures = 0
		}

		if !sleep(ctx, wait) {
			break
		}
	}

	log.Info("worker stopped")
	return nil
}

func (self *Worker) backoff(failures int) time.Duration {
	d := self.storeBackoff
	for range failures {
		if d >= self.storeBackoffMax/2 {
			d = self.storeBackoffMax
			break
		}
		d *= 2
	}
	d = min(d, self.storeBackoffMax)
	if half := d / 2; half > 0 {
		d = half + rand.N(half)
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// RunOnce claims one batch and resolves every job of it. It returns the
// number of claimed jobs. An error means the store failed and nothing done
// through the batch was persisted.
func (self *Worker) RunOnce(ctx context.Context) (int, error) {
	jobs, batch, err := self.queue.ClaimBatch(ctx, self.batchSize)
	if err != nil {
		return 0, fmt.Errorf("worker: claim jobs: %w", err)
	}

	// The batch must be resolved even after ctx was canceled.
	batchCtx := context.WithoutCancel(ctx)
	if len(jobs) == 0 {
		return 0, batch.Commit(batchCtx)
	}

	jobCtx, cancelJobs := context.WithCancel(batchCtx)
	defer cancelJobs()
	stop := context.AfterFunc(ctx, func() {
		t := time.NewTimer(self.gracePeriod)
		defer t.Stop()
		select {
		case <-t.C:
			cancelJobs()
		case <-jobCtx.Done():
		}
	})
	defer stop()

	log := logging.FromContext(ctx)
	log.Debug("worker: claimed jobs", slog.Int("jobs", len(jobs)))

	for _, job := range jobs {
		if jobCtx.Err() != nil {
			return len(jobs), self.abandon(batchCtx, batch, len(jobs))
		}

		err := self.execute(jobCtx, job)
		if jobCtx.Err() != nil && err != nil {
			return len(jobs), self.abandon(batchCtx, batch, len(jobs))
		}

		if err := self.resolve(batchCtx, batch, job, err); err != nil {
			if rbErr := batch.Rollback(batchCtx); rbErr != nil {
				err = errors.Join(err, rbErr)
			}
			return len(jobs), err
		}
	}

	if err := batch.Commit(batchCtx); err != nil {
		return len(jobs), fmt.Errorf("worker: commit jobs: %w", err)
	}
	return len(jobs), nil
}

func (self *Worker) abandon(ctx context.Context, batch Batch, n int) error {
	logging.FromContext(ctx).Warn(
		"worker: grace period expired, abandoning claimed jobs",
		slog.Int("jobs", n),
		slog.Duration("grace_period", self.gracePeriod))
	metric.JobResults.WithLabelValues("", resultAbandoned).Add(float64(n))

	if err := batch.Rollback(ctx); err != nil {
		return fmt.Errorf("worker: release abandoned jobs: %w", err)
	}
	return nil
}

func (self *Worker) execute(ctx context.Context, job *model.Job) (err error) {
	log := logging.FromContext(ctx).With(
		slog.String("job_id", job.ID.String()),
		slog.String("kind", string(job.Kind())),
		slog.Int("attempt", job.Attempts))
	ctx, traceStat := storage.WithTraceStat(logging.WithLogger(ctx, log))

	log.Debug("worker: job started")
	startTime := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker: handler panic: %v", r)
			log.Error("worker: job panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}

		status := resultSuccess
		if err != nil {
			status = "error"
		}
		elapsed := time.Since(startTime)
		metric.JobDuration.WithLabelValues(string(job.Kind()), status).
			Observe(elapsed.Seconds())

		log.Debug("worker: job finished",
			slog.Duration("elapsed", elapsed),
			slog.Any("storage", traceStat),
			slog.Any("error", err))
	}()
	return self.dispatch(ctx, job)
}

func (self *Worker) dispatch(ctx context.Context, job *model.Job) error {
	p, err := job.Payload()
	if err != nil {
		return Permanent(err)
	}

	h, ok := self.registry.Handler(p.Kind())
	if !ok {
		return Permanent(fmt.Errorf("%w: no handler for %q",
			model.ErrUnknownJobKind, p.Kind()))
	}
	return h.Handle(ctx, p)
}

func (self *Worker) resolve(ctx context.Context, batch Batch, job *model.Job,
	jobErr error,
) error {
	log := logging.FromContext(ctx).With(
		slog.String("job_id", job.ID.String()),
		slog.String("kind", string(job.Kind())),
		slog.Int("attempt", job.Attempts))

	var result string
	var err error
	switch {
	case jobErr == nil:
		result = resultSuccess
		err = batch.Delete(ctx, job.ID)
	case IsPermanent(jobErr):
		result = resultFailed
		log.Error("worker: job failed permanently", slog.Any("error", jobErr))
		err = batch.MarkFailed(ctx, job.ID, jobErr.Error())
	case job.Attempts >= self.maxAttempts:
		result = resultFailed
		log.Error("worker: job failed too many times",
			slog.Int("max_attempts", self.maxAttempts),
			slog.Any("error", jobErr))
		err = batch.MarkFailed(ctx, job.ID, fmt.Sprintf(
			"gave up after %d attempts: %s", job.Attempts, jobErr))
	default:
		result = resultRetry
		log.Warn("worker: job failed, will retry", slog.Any("error", jobErr))
		err = batch.Release(ctx, job.ID)
	}

	if err != nil {
		return fmt.Errorf("worker: resolve job %s as %s: %w", job.ID, result,
			err)
	}
	metric.JobResults.WithLabelValues(string(job.Kind()), result).Inc()
	return nil
}
