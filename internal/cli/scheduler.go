// SPDX-FileCopyrightText: Copyright The Miniflux Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package cli // import "feedkeeper.app/internal/cli"

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"feedkeeper.app/internal/config"
	"feedkeeper.app/internal/logging"
	"feedkeeper.app/internal/model"
)

// jobProducer is what the scheduler needs from the store.
type jobProducer interface {
	FeedIDs(ctx context.Context) ([]int64, error)
	Enqueue(ctx context.Context, p model.Payload) (uuid.UUID, bool, error)
}

func (self *Daemon) runScheduler(ctx context.Context) {
	slog.Info(`Starting background scheduler...`)

	self.g.Go(func() error {
		schedule(ctx, "feed", config.Opts.PollingFrequency(),
			func(ctx context.Context) error {
				_, err := enqueueFeeds(ctx, self.store)
				return err
			})
		return nil
	})

	self.g.Go(func() error {
		schedule(ctx, "favicon", config.Opts.FaviconBackfillFrequency(),
			func(ctx context.Context) error {
				_, err := enqueueBackfill(ctx, self.store)
				return err
			})
		return nil
	})
}

// schedule calls fn every d until ctx is canceled. Errors of fn are logged.
func schedule(ctx context.Context, name string, d time.Duration,
	fn func(ctx context.Context) error,
) {
	log := logging.FromContext(ctx).With(slog.String("scheduler", name))
	log.Info("scheduler started", slog.Duration("freq", d))

	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler stopped",
				slog.Any("reason", context.Cause(ctx)))
			return
		case <-ticker.C:
			log.Debug("scheduler got tick")
			if err := fn(ctx); err != nil {
				log.Error("scheduler: unable to enqueue jobs",
					slog.Any("error", err))
			}
		}
	}
}

// enqueueFeeds enqueues a fetch of every feed. Feeds with a fetch already
// queued are skipped. It returns the number of new jobs.
func enqueueFeeds(ctx context.Context, store jobProducer) (int, error) {
	ids, err := store.FeedIDs(ctx)
	if err != nil {
		return 0, err //nolint:wrapcheck // already wrapped
	}

	var created int
	for _, id := range ids {
		_, ok, err := store.Enqueue(ctx, model.NewFetchFeed(id))
		if err != nil {
			return created, fmt.Errorf("enqueue fetch of feed #%d: %w", id, err)
		} else if ok {
			created++
		}
	}

	logging.FromContext(ctx).Info("Feed fetches enqueued",
		slog.Int("feeds", len(ids)), slog.Int("created", created))
	return created, nil
}

func enqueueBackfill(ctx context.Context, store jobProducer) (bool, error) {
	_, ok, err := store.Enqueue(ctx, model.NewBackfillFavicon())
	if err != nil {
		return false, fmt.Errorf("enqueue favicon backfill: %w", err)
	}
	logging.FromContext(ctx).Debug("Favicon backfill enqueued",
		slog.Bool("created", ok))
	return ok, nil
}
