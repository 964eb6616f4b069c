// SPDX-FileCopyrightText: Copyright The Miniflux Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package icon // import "feedkeeper.app/internal/reader/icon"

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"feedkeeper.app/internal/logging"
	"feedkeeper.app/internal/model"
	"feedkeeper.app/internal/reader/fetcher"
)

// Store persists favicon resolutions.
type Store interface {
	StoreFavicon(ctx context.Context, feedID int64, icon *model.Favicon) error
	ConfirmNoFavicon(ctx context.Context, feedID int64) error
	DeferFavicon(ctx context.Context, feedID int64) error
}

// NewChecker returns a Checker resolving favicons with f and saving them to
// store.
func NewChecker(store Store, f *fetcher.Fetcher) *Checker {
	return &Checker{store: store, fetcher: f}
}

// Checker resolves favicons of feeds. Concurrent checks of feeds sharing a
// site download its favicon once.
type Checker struct {
	store   Store
	fetcher *fetcher.Fetcher
	group   singleflight.Group
}

// Check looks for the favicon of feed and saves the result. The favicon is
// found, confirmed absent, or left unresolved when the lookup failed
// temporarily. Only store errors are returned.
func (c *Checker) Check(ctx context.Context, feed *model.Feed,
) (model.FaviconState, error) {
	siteURL := feed.SiteOrFeedURL()
	log := logging.FromContext(ctx).With(
		slog.Int64("feed_id", feed.ID),
		slog.String("website_url", siteURL))

	icon, err := c.find(ctx, siteURL)
	switch {
	case err == nil:
		if err := c.store.StoreFavicon(ctx, feed.ID, icon); err != nil {
			return model.FaviconUnresolved, fmt.Errorf(
				"reader/icon: store favicon: %w", err)
		}
		log.Info("Feed favicon stored",
			slog.String("mime_type", icon.MimeType),
			slog.Int("size", len(icon.Content)))
		return model.FaviconFound, nil
	case errors.Is(err, ErrNoFavicon):
		if err := c.store.ConfirmNoFavicon(ctx, feed.ID); err != nil {
			return model.FaviconUnresolved, fmt.Errorf(
				"reader/icon: confirm no favicon: %w", err)
		}
		log.Info("Feed has no favicon")
		return model.FaviconAbsent, nil
	}

	log.Warn("Unable to resolve feed favicon", slog.Any("error", err))
	if err := c.store.DeferFavicon(ctx, feed.ID); err != nil {
		return model.FaviconUnresolved, fmt.Errorf(
			"reader/icon: defer favicon: %w", err)
	}
	return model.FaviconUnresolved, nil
}

func (c *Checker) find(ctx context.Context, siteURL string) (*model.Favicon,
	error,
) {
	v, err, shared := c.group.Do(siteURL, func() (any, error) {
		finder, err := NewFinder(c.fetcher, siteURL)
		if err != nil {
			return nil, err
		}
		return finder.Find(ctx)
	})
	if shared {
		logging.FromContext(ctx).Debug("Shared favicon lookup",
			slog.String("website_url", siteURL))
	}

	if err != nil {
		return nil, err //nolint:wrapcheck // errors of Find
	}
	return v.(*model.Favicon), nil
}
