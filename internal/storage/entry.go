// SPDX-FileCopyrightText: Copyright The Miniflux Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package storage // import "feedkeeper.app/internal/storage"

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"feedkeeper.app/internal/model"
)

// IngestEntries inserts the entries not stored yet for the feed, in the
// given order, and saves r into the feed. Everything happens in one
// transaction. Entries already stored, or inserted concurrently by someone
// else, are skipped without an error. It returns the number of inserted
// entries.
func (s *Storage) IngestEntries(ctx context.Context, r *model.FeedRefresh,
	entries model.Entries,
) (inserted int64, err error) {
	err = pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if len(entries) > 0 {
			known, err := knownExternalIDs(ctx, tx, r.FeedID,
				entries.ExternalIDs())
			if err != nil {
				return err
			}

			inserted, err = insertEntries(ctx, tx, r.FeedID, entries, known)
			if err != nil {
				return err
			}
		}
		return updateFeedRefresh(ctx, tx, r)
	})
	if err != nil {
		return 0, fmt.Errorf("storage: unable ingest %d entries of feed #%d: %w",
			len(entries), r.FeedID, err)
	}
	return inserted, nil
}

func knownExternalIDs(ctx context.Context, tx pgx.Tx, feedID int64,
	externalIDs []string,
) (map[string]struct{}, error) {
	rows, _ := tx.Query(ctx, `
SELECT external_id
  FROM feed_entries
 WHERE feed_id = $1 AND external_id = ANY($2)`, feedID, externalIDs)

	var externalID string
	known := make(map[string]struct{}, len(externalIDs))
	_, err := pgx.ForEachRow(rows, []any{&externalID}, func() error {
		known[externalID] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("check entries exist: %w", err)
	}
	return known, nil
}

func insertEntries(ctx context.Context, tx pgx.Tx, feedID int64,
	entries model.Entries, known map[string]struct{},
) (int64, error) {
	batch := &pgx.Batch{}
	for _, e := range entries {
		if _, ok := known[e.ExternalID]; ok {
			continue
		}
		known[e.ExternalID] = struct{}{}

		authors := e.Authors
		if authors == nil {
			authors = []string{}
		}

		batch.Queue(`
INSERT INTO feed_entries
  (feed_id, external_id, title, url, created_at, summary, authors)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (feed_id, external_id) DO NOTHING`,
			feedID, e.ExternalID, e.Title, e.URL, e.CreatedAt, e.Summary, authors)
	}

	if batch.Len() == 0 {
		return 0, nil
	}

	results := tx.SendBatch(ctx, batch)
	var inserted int64
	for range batch.Len() {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return 0, fmt.Errorf("insert entry: %w", err)
		}
		inserted += tag.RowsAffected()
	}

	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}
	return inserted, nil
}

// EntriesByFeed returns the entries of a feed in insertion order.
func (s *Storage) EntriesByFeed(ctx context.Context, feedID int64,
) (model.Entries, error) {
	rows, _ := s.db.Query(ctx, `
SELECT id, feed_id, external_id, title, url, created_at, summary, authors,
       read_at
  FROM feed_entries
 WHERE feed_id = $1
 ORDER BY id`, feedID)

	entries, err := pgx.CollectRows(rows,
		pgx.RowToAddrOfStructByName[model.Entry])
	if err != nil {
		return nil, fmt.Errorf("storage: fetch entries of feed #%d: %w", feedID,
			err)
	}
	return entries, nil
}

// CountAllEntries counts entries by read status.
func (s *Storage) CountAllEntries(ctx context.Context) (map[string]int64,
	error,
) {
	rows, _ := s.db.Query(ctx, `
SELECT count(*) FILTER (WHERE read_at IS NULL),
       count(*) FILTER (WHERE read_at IS NOT NULL)
  FROM feed_entries`)

	var unread, read int64
	_, err := pgx.ForEachRow(rows, []any{&unread, &read}, func() error {
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: count entries: %w", err)
	}
	return map[string]int64{
		"unread": unread,
		"read":   read,
		"total":  unread + read,
	}, nil
}
