// SPDX-FileCopyrightText: Copyright The Miniflux Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package storage // import "feedkeeper.app/internal/storage"

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"feedkeeper.app/internal/model"
)

var (
	ErrFeedNotFound = errors.New("storage: feed not found")
	ErrFeedExists   = errors.New("storage: feed already exists")
)

const feedColumns = `
id, user_id, feed_url, site_url, title, description, has_favicon,
etag_header, last_modified_header, content_hash, checked_at, created_at`

// EnsureUser returns the id of username, creating the user if needed.
func (s *Storage) EnsureUser(ctx context.Context, username string) (int64,
	error,
) {
	rows, _ := s.db.Query(ctx, `
INSERT INTO users (username) VALUES ($1)
ON CONFLICT (username) DO UPDATE SET username = EXCLUDED.username
RETURNING id`, username)

	id, err := pgx.CollectExactlyOneRow(rows, pgx.RowTo[int64])
	if err != nil {
		return 0, fmt.Errorf("storage: ensure user %q: %w", username, err)
	}
	return id, nil
}

// CreateFeed creates a new feed and enqueues its first fetch in the same
// transaction.
func (s *Storage) CreateFeed(ctx context.Context, feed *model.Feed) error {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
INSERT INTO feeds (user_id, feed_url, site_url, title, description)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at`,
			feed.UserID, feed.FeedURL, feed.SiteURL, feed.Title, feed.Description,
		).Scan(&feed.ID, &feed.CreatedAt)
		if err != nil {
			return err
		}

		fetch := model.NewFetchFeed(feed.ID)
		_, _, err = enqueue(ctx, tx, fetch.Key(), fetch)
		return err
	})

	switch {
	case uniqueViolation(err):
		return fmt.Errorf("%w: %q", ErrFeedExists, feed.FeedURL)
	case err != nil:
		return fmt.Errorf("storage: unable to create feed %q: %w",
			feed.FeedURL, err)
	}
	return nil
}

// FeedByID returns the feed with id or ErrFeedNotFound.
func (s *Storage) FeedByID(ctx context.Context, feedID int64) (*model.Feed,
	error,
) {
	rows, _ := s.db.Query(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE id = $1`, feedID)

	feed, err := pgx.CollectExactlyOneRow(rows,
		pgx.RowToAddrOfStructByName[model.Feed])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: #%d", ErrFeedNotFound, feedID)
	} else if err != nil {
		return nil, fmt.Errorf("storage: unable to fetch feed #%d: %w", feedID,
			err)
	}
	return feed, nil
}

// FeedIDs returns the ids of all feeds.
func (s *Storage) FeedIDs(ctx context.Context) ([]int64, error) {
	rows, _ := s.db.Query(ctx, `SELECT id FROM feeds ORDER BY id`)
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("storage: fetch feed ids: %w", err)
	}
	return ids, nil
}

// UpdateFeedRefresh stores what an ingestion learned about a feed. Title,
// site URL and description are only filled in when still empty.
func (s *Storage) UpdateFeedRefresh(ctx context.Context,
	r *model.FeedRefresh,
) error {
	return updateFeedRefresh(ctx, s.db, r)
}

func updateFeedRefresh(ctx context.Context, db querier, r *model.FeedRefresh,
) error {
	result, err := db.Exec(ctx, `
UPDATE feeds
   SET title = CASE WHEN title = '' THEN $2 ELSE title END,
       site_url = CASE WHEN site_url = '' THEN $3 ELSE site_url END,
       description = CASE WHEN description = '' THEN $4 ELSE description END,
       etag_header = $5,
       last_modified_header = $6,
       content_hash = $7,
       checked_at = now()
 WHERE id = $1`,
		r.FeedID, r.Title, r.SiteURL, r.Description, r.EtagHeader,
		r.LastModifiedHeader, r.ContentHash)
	if err != nil {
		return fmt.Errorf("storage: update feed #%d: %w", r.FeedID, err)
	} else if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: #%d", ErrFeedNotFound, r.FeedID)
	}
	return nil
}

// TouchFeed records a check of a feed which brought nothing new.
func (s *Storage) TouchFeed(ctx context.Context, feedID int64) error {
	_, err := s.db.Exec(ctx,
		`UPDATE feeds SET checked_at = now() WHERE id = $1`, feedID)
	if err != nil {
		return fmt.Errorf("storage: touch feed #%d: %w", feedID, err)
	}
	return nil
}

// CountFeedsByFavicon counts feeds by favicon resolution.
func (s *Storage) CountFeedsByFavicon(ctx context.Context,
) (map[model.FaviconState]int64, error) {
	rows, _ := s.db.Query(ctx, `
SELECT has_favicon, count(*) FROM feeds GROUP BY has_favicon`)

	var hasFavicon *bool
	var count int64
	counts := map[model.FaviconState]int64{
		model.FaviconUnresolved: 0,
		model.FaviconFound:      0,
		model.FaviconAbsent:     0,
	}

	_, err := pgx.ForEachRow(rows, []any{&hasFavicon, &count}, func() error {
		f := model.Feed{HasFavicon: hasFavicon}
		counts[f.FaviconState()] = count
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: count feeds: %w", err)
	}
	return counts, nil
}
