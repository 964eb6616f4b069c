package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"feedkeeper.app/internal/model"
)

// FeedsWithUnresolvedFavicon returns up to limit feeds whose favicon was
// neither found nor confirmed absent. Feeds never checked come first, then
// the ones checked longest ago.
func (s *Storage) FeedsWithUnresolvedFavicon(ctx context.Context, limit int,
) ([]*model.Feed, error) {
	rows, _ := s.db.Query(ctx, `SELECT `+feedColumns+`
  FROM feeds
 WHERE has_favicon IS NULL
 ORDER BY favicon_checked_at NULLS FIRST, id
 LIMIT $1`, limit)

	feeds, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.Feed])
	if err != nil {
		return nil, fmt.Errorf("storage: fetch feeds without favicon: %w", err)
	}
	return feeds, nil
}

// StoreFavicon saves icon for a feed and marks its favicon as found.
func (s *Storage) StoreFavicon(ctx context.Context, feedID int64,
	icon *model.Favicon,
) error {
	if len(icon.Content) == 0 {
		return fmt.Errorf("storage: empty favicon for feed #%d", feedID)
	}

	result, err := s.db.Exec(ctx, `
UPDATE feeds
   SET favicon = $2, favicon_mime_type = $3, has_favicon = true,
       favicon_checked_at = now()
 WHERE id = $1`, feedID, icon.Content, normalizeMimeType(icon.MimeType))
	if err != nil {
		return fmt.Errorf("storage: unable to store favicon of feed #%d: %w",
			feedID, err)
	} else if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: #%d", ErrFeedNotFound, feedID)
	}
	return nil
}

// ConfirmNoFavicon marks the favicon of a feed as absent.
func (s *Storage) ConfirmNoFavicon(ctx context.Context, feedID int64) error {
	result, err := s.db.Exec(ctx, `
UPDATE feeds
   SET favicon = NULL, favicon_mime_type = NULL, has_favicon = false,
       favicon_checked_at = now()
 WHERE id = $1`, feedID)
	if err != nil {
		return fmt.Errorf("storage: unable to confirm no favicon of feed #%d: %w",
			feedID, err)
	} else if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: #%d", ErrFeedNotFound, feedID)
	}
	return nil
}

// DeferFavicon leaves the favicon of a feed unresolved and moves the feed
// behind the other unresolved ones.
func (s *Storage) DeferFavicon(ctx context.Context, feedID int64) error {
	_, err := s.db.Exec(ctx, `
UPDATE feeds SET favicon_checked_at = now()
 WHERE id = $1 AND has_favicon IS NULL`, feedID)
	if err != nil {
		return fmt.Errorf("storage: unable to defer favicon of feed #%d: %w",
			feedID, err)
	}
	return nil
}

// FeedFavicon returns the stored favicon of a feed, or nil if it has none.
func (s *Storage) FeedFavicon(ctx context.Context, feedID int64,
) (*model.Favicon, error) {
	rows, _ := s.db.Query(ctx, `
SELECT favicon, favicon_mime_type
  FROM feeds
 WHERE id = $1 AND has_favicon`, feedID)

	icon, err := pgx.CollectExactlyOneRow(rows,
		pgx.RowToAddrOfStructByName[model.Favicon])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("storage: fetch favicon of feed #%d: %w", feedID,
			err)
	}
	return icon, nil
}

func normalizeMimeType(mimeType string) string {
	mimeType, _, _ = strings.Cut(strings.ToLower(mimeType), ";")
	mimeType = strings.TrimSpace(mimeType)
	switch mimeType {
	case "image/png", "image/jpeg", "image/webp", "image/svg+xml", "image/gif",
		"image/x-icon", "image/vnd.microsoft.icon", "image/avif":
		return mimeType
	case "image/jpg":
		return "image/jpeg"
	}
	return "image/x-icon"
}
