// SPDX-FileCopyrightText: Copyright The Miniflux Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package worker // import "feedkeeper.app/internal/worker"

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"feedkeeper.app/internal/logging"
)

// NewPool creates a pool of n workers sharing queue and registry. The
// workers coordinate only through the queue.
func NewPool(queue Queue, registry *Registry, n int, opts ...Option) *Pool {
	self := &Pool{workers: make([]*Worker, max(n, 1))}
	for i := range self.workers {
		self.workers[i] = New(queue, registry, opts...)
	}
	return self
}

// Pool handles a pool of workers.
type Pool struct {
	workers []*Worker
}

func (self *Pool) Size() int { return len(self.workers) }

// Run runs every worker until ctx is canceled and waits for all of them to
// stop.
func (self *Pool) Run(ctx context.Context) error {
	log := logging.FromContext(ctx)
	log.Info("worker pool started", slog.Int("workers", len(self.workers)))

	var g errgroup.Group
	for i, w := range self.workers {
		ctx := logging.WithLogger(ctx, log.With(slog.Int("worker", i+1)))
		g.Go(func() error { return w.Run(ctx) })
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	log.Info("worker pool stopped")
	return nil
}
