package cli

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"feedkeeper.app/internal/model"
	"feedkeeper.app/internal/storage"
)

var (
	flagFeedUser    string
	flagFeedSiteURL string
)

var addFeedCmd = cobra.Command{
	Use:   "add-feed URL",
	Short: "Subscribe to a feed and enqueue its first fetch",
	Example: `
$ feedkeeper add-feed --user alice https://example.org/feed.xml
`,
	Args: cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(cmd.Context(),
			func(ctx context.Context, store *storage.Storage) error {
				feed, err := addFeed(ctx, store, flagFeedUser, args[0],
					flagFeedSiteURL)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Feed #%d created\n", feed.ID)
				return nil
			})
	},
}

var refreshFeedsCmd = cobra.Command{
	Use:   "refresh-feeds",
	Short: "Enqueue a fetch of every feed",
	Args:  cobra.ExactArgs(0),

	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(cmd.Context(),
			func(ctx context.Context, store *storage.Storage) error {
				created, err := enqueueFeeds(ctx, store)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d jobs enqueued\n", created)
				return nil
			})
	},
}

func init() {
	addFeedCmd.Flags().StringVarP(&flagFeedUser, "user", "u", "admin",
		"Owner of the feed, created if missing")
	addFeedCmd.Flags().StringVar(&flagFeedSiteURL, "site-url", "",
		"URL of the site favicons are looked up from")
}

type feedCreator interface {
	EnsureUser(ctx context.Context, username string) (int64, error)
	CreateFeed(ctx context.Context, feed *model.Feed) error
	jobProducer
}

func addFeed(ctx context.Context, store feedCreator, username, feedURL,
	siteURL string,
) (*model.Feed, error) {
	if err := validateURL(feedURL); err != nil {
		return nil, err
	} else if siteURL != "" {
		if err := validateURL(siteURL); err != nil {
			return nil, err
		}
	}

	userID, err := store.EnsureUser(ctx, username)
	if err != nil {
		return nil, err //nolint:wrapcheck // already wrapped
	}

	feed := &model.Feed{UserID: userID, FeedURL: feedURL, SiteURL: siteURL}
	if err := store.CreateFeed(ctx, feed); err != nil {
		return nil, err //nolint:wrapcheck // already wrapped
	}

	if _, err := enqueueBackfill(ctx, store); err != nil {
		return nil, err
	}
	return feed, nil
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("invalid URL %q: scheme must be http or https", rawURL)
	}

	if u.Host == "" {
		return fmt.Errorf("invalid URL %q: empty host", rawURL)
	}
	return nil
}
