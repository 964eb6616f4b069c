// SPDX-FileCopyrightText: Copyright The Miniflux Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package handler // import "feedkeeper.app/internal/reader/handler"

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"feedkeeper.app/internal/logging"
	"feedkeeper.app/internal/metric"
	"feedkeeper.app/internal/model"
	"feedkeeper.app/internal/reader/fetcher"
	"feedkeeper.app/internal/reader/icon"
	"feedkeeper.app/internal/storage"
	"feedkeeper.app/internal/worker"
)

const (
	DefaultFaviconBatchSize   = 100
	DefaultFaviconConcurrency = 4
)

// FaviconStore is the part of the storage favicon backfill needs.
type FaviconStore interface {
	icon.Store
	FeedsWithUnresolvedFavicon(ctx context.Context, limit int) ([]*model.Feed,
		error)
}

var _ FaviconStore = (*storage.Storage)(nil)

type BackfillOption func(self *BackfillFavicon)

// WithFaviconBatchSize sets how many feeds one job looks at.
func WithFaviconBatchSize(n int) BackfillOption {
	return func(self *BackfillFavicon) { self.batchSize = max(n, 1) }
}

// WithFaviconConcurrency bounds the lookups running at the same time.
func WithFaviconConcurrency(n int) BackfillOption {
	return func(self *BackfillFavicon) { self.concurrency = max(n, 1) }
}

// NewBackfillFavicon returns the handler of backfill_favicon jobs.
func NewBackfillFavicon(store FaviconStore, f *fetcher.Fetcher,
	opts ...BackfillOption,
) *BackfillFavicon {
	self := &BackfillFavicon{
		store:   store,
		checker: icon.NewChecker(store, f),

		batchSize:   DefaultFaviconBatchSize,
		concurrency: DefaultFaviconConcurrency,
	}
	for _, fn := range opts {
		fn(self)
	}
	return self
}

// BackfillFavicon resolves favicons of feeds which don't know yet whether
// they have one.
type BackfillFavicon struct {
	store   FaviconStore
	checker *icon.Checker

	batchSize   int
	concurrency int
}

var _ worker.Handler = (*BackfillFavicon)(nil)

// Handle checks a batch of unresolved feeds. A feed whose lookup failed
// temporarily stays unresolved and doesn't fail the job. The job fails, and
// is retried, only when the store does.
func (self *BackfillFavicon) Handle(ctx context.Context, _ model.Payload,
) error {
	log := logging.FromContext(ctx)
	startTime := time.Now()

	feeds, err := self.store.FeedsWithUnresolvedFavicon(ctx, self.batchSize)
	if err != nil {
		return fmt.Errorf("reader/handler: %w", err)
	} else if len(feeds) == 0 {
		log.Debug("No feeds without favicon")
		return nil
	}

	var mu sync.Mutex
	counts := make(map[model.FaviconState]int, 3)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(self.concurrency)
	for _, feed := range feeds {
		g.Go(func() error {
			state, err := self.checker.Check(ctx, feed)
			if err != nil {
				return err //nolint:wrapcheck // wrapped by Check
			}
			metric.FaviconResults.WithLabelValues(state.String()).Inc()
			mu.Lock()
			counts[state]++
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("reader/handler: backfill favicons: %w", err)
	}

	log.Info("Favicons backfilled",
		slog.Int("feeds", len(feeds)),
		slog.Int("found", counts[model.FaviconFound]),
		slog.Int("absent", counts[model.FaviconAbsent]),
		slog.Int("unresolved", counts[model.FaviconUnresolved]),
		slog.Duration("elapsed", time.Since(startTime)))
	return nil
}
