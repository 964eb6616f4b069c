// SPDX-FileCopyrightText: Copyright The Miniflux Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package handler // import "feedkeeper.app/internal/reader/handler"

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"feedkeeper.app/internal/logging"
	"feedkeeper.app/internal/metric"
	"feedkeeper.app/internal/model"
	"feedkeeper.app/internal/reader/fetcher"
	"feedkeeper.app/internal/reader/parser"
	"feedkeeper.app/internal/storage"
	"feedkeeper.app/internal/worker"
)

// FeedStore is the part of the storage feed ingestion needs.
type FeedStore interface {
	FeedByID(ctx context.Context, feedID int64) (*model.Feed, error)
	IngestEntries(ctx context.Context, r *model.FeedRefresh,
		entries model.Entries) (int64, error)
	UpdateFeedRefresh(ctx context.Context, r *model.FeedRefresh) error
	TouchFeed(ctx context.Context, feedID int64) error
}

var _ FeedStore = (*storage.Storage)(nil)

// NewFetchFeed returns the handler of fetch_feed jobs.
func NewFetchFeed(store FeedStore, f *fetcher.Fetcher) *FetchFeed {
	return &FetchFeed{store: store, fetcher: f}
}

// FetchFeed downloads a feed and stores its entries not seen before.
type FetchFeed struct {
	store   FeedStore
	fetcher *fetcher.Fetcher
}

var _ worker.Handler = (*FetchFeed)(nil)

func (self *FetchFeed) Handle(ctx context.Context, p model.Payload) error {
	job, ok := p.(*model.FetchFeed)
	if !ok {
		return worker.Permanent(fmt.Errorf("%w: %T for %s handler",
			model.ErrInvalidPayload, p, model.JobKindFetchFeed))
	}

	r := Refresh{store: self.store, fetcher: self.fetcher, feedID: job.FeedID}
	return r.RefreshFeed(ctx)
}

// Refresh is a single ingestion of one feed.
type Refresh struct {
	store   FeedStore
	fetcher *fetcher.Fetcher
	feedID  int64

	feed *model.Feed
}

type refreshed struct {
	notModified string
	total       int
	created     int64
}

// RefreshFeed fetches the feed and inserts its new entries. Errors which a
// later attempt can't fix are marked with worker.Permanent.
func (self *Refresh) RefreshFeed(ctx context.Context) error {
	log := logging.FromContext(ctx).With(slog.Int64("feed_id", self.feedID))
	ctx = logging.WithLogger(ctx, log)
	log.Debug("Begin feed refresh process")

	startTime := time.Now()
	if err := self.initFeed(ctx); err != nil {
		return err
	}

	resp, err := self.response(ctx)
	if errors.Is(err, fetcher.ErrNotModified) {
		if err := self.store.TouchFeed(ctx, self.feedID); err != nil {
			return fmt.Errorf("reader/handler: %w", err)
		}
		self.logFeedRefresh(log, &refreshed{notModified: "headers"},
			time.Since(startTime))
		return nil
	} else if err != nil {
		return err
	}

	body, err := resp.ReadBody()
	resp.Close()
	if err != nil {
		return self.fetchError(err)
	}

	var result refreshed
	if !resp.IsModified(self.feed.EtagHeader, self.feed.LastModifiedHeader) ||
		!self.feed.ContentChanged(body) {
		result.notModified = "content"
		err = self.store.UpdateFeedRefresh(ctx, self.feedRefresh(resp, nil))
	} else {
		result, err = self.ingest(ctx, resp, body)
	}
	if err != nil {
		return err
	}

	self.logFeedRefresh(log, &result, time.Since(startTime))
	return nil
}

func (self *Refresh) initFeed(ctx context.Context) error {
	feed, err := self.store.FeedByID(ctx, self.feedID)
	if errors.Is(err, storage.ErrFeedNotFound) {
		return worker.Permanent(err)
	} else if err != nil {
		return fmt.Errorf("reader/handler: %w", err)
	}
	self.feed = feed
	return nil
}

func (self *Refresh) response(ctx context.Context) (*fetcher.Response, error) {
	log := logging.FromContext(ctx)
	log.Debug("Fetching feed", slog.String("feed_url", self.feed.FeedURL))

	startTime := time.Now()
	resp, err := self.fetcher.NewRequest().
		WithETag(self.feed.EtagHeader).
		WithLastModified(self.feed.LastModifiedHeader).
		Request(ctx, self.feed.FeedURL)
	metric.FeedFetchDuration.WithLabelValues(fetcher.ErrorKind(err)).
		Observe(time.Since(startTime).Seconds())

	switch {
	case errors.Is(err, fetcher.ErrNotModified):
		return nil, err
	case err != nil:
		log.Warn("Unable to fetch feed",
			slog.String("feed_url", self.feed.FeedURL),
			slog.Any("error", err))
		return nil, self.fetchError(err)
	}
	return resp, nil
}

func (self *Refresh) fetchError(err error) error {
	err = fmt.Errorf("reader/handler: fetch %q: %w", self.feed.FeedURL, err)
	if fetcher.IsPermanent(err) || errors.Is(err, fetcher.ErrEmptyBody) {
		return worker.Permanent(err)
	}
	return err
}

func (self *Refresh) ingest(ctx context.Context, resp *fetcher.Response,
	body []byte,
) (refreshed, error) {
	feed, err := parser.ParseFeed(resp.EffectiveURL(), body)
	if err != nil {
		return refreshed{}, worker.Permanent(fmt.Errorf(
			"reader/handler: parse %q: %w", self.feed.FeedURL, err))
	}

	created, err := self.store.IngestEntries(ctx, self.feedRefresh(resp, feed),
		feed.Entries)
	switch {
	case errors.Is(err, storage.ErrFeedNotFound):
		return refreshed{}, worker.Permanent(err)
	case err != nil:
		return refreshed{}, fmt.Errorf("reader/handler: %w", err)
	}

	metric.IngestedEntries.Add(float64(created))
	return refreshed{total: len(feed.Entries), created: created}, nil
}

func (self *Refresh) feedRefresh(resp *fetcher.Response, feed *parser.Feed,
) *model.FeedRefresh {
	r := &model.FeedRefresh{
		FeedID:             self.feedID,
		EtagHeader:         resp.ETag(),
		LastModifiedHeader: resp.LastModified(),
		ContentHash:        self.feed.ContentHash,
	}
	if feed != nil {
		r.Title = feed.Title
		r.SiteURL = feed.SiteURL
		r.Description = feed.Description
	}
	return r
}

func (self *Refresh) logFeedRefresh(log *slog.Logger, r *refreshed,
	elapsed time.Duration,
) {
	if r.notModified != "" {
		log.Info("Feed not modified",
			slog.String("feed_url", self.feed.FeedURL),
			slog.String("not_modified", r.notModified),
			slog.Duration("elapsed", elapsed))
		return
	}

	log.Info("Feed refreshed",
		slog.String("feed_url", self.feed.FeedURL),
		slog.Int("entries", r.total),
		slog.Int64("created", r.created),
		slog.Duration("elapsed", elapsed))
}
