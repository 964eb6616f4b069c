package handler

import (
	"cmp"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedkeeper.app/internal/model"
	"feedkeeper.app/internal/reader/fetcher"
	"feedkeeper.app/internal/storage"
	"feedkeeper.app/internal/testutil"
	"feedkeeper.app/internal/worker"
)

func TestFetchFeed_newEntries(t *testing.T) {
	server := newFeedServer(t, rssDocument("a", "b", "c"))
	store := newFakeFeedStore(server.FeedURL(), "a", "b")
	h := NewFetchFeed(store, fetcher.New())

	require.NoError(t, h.Handle(t.Context(), model.NewFetchFeed(42)))
	assert.Equal(t, []string{"a", "b", "c"}, store.ExternalIDs())

	feed := store.Feed()
	assert.Equal(t, "Example", feed.Title)
	assert.Equal(t, "https://example.org/", feed.SiteURL)
	assert.NotZero(t, feed.ContentHash)

	// same document again
	require.NoError(t, h.Handle(t.Context(), model.NewFetchFeed(42)))
	assert.Equal(t, []string{"a", "b", "c"}, store.ExternalIDs())
	ingests, updates, _ := store.Counts()
	assert.Equal(t, 1, ingests)
	assert.Equal(t, 1, updates)

	server.Set(http.StatusOK, rssDocument("d", "a", "b", "c"), "")
	require.NoError(t, h.Handle(t.Context(), model.NewFetchFeed(42)))
	assert.Equal(t, []string{"a", "b", "c", "d"}, store.ExternalIDs())
}

func TestFetchFeed_notModified(t *testing.T) {
	server := newFeedServer(t, rssDocument("a"))
	server.Set(http.StatusOK, rssDocument("a"), `"v1"`)
	store := newFakeFeedStore(server.FeedURL())
	h := NewFetchFeed(store, fetcher.New())

	require.NoError(t, h.Handle(t.Context(), model.NewFetchFeed(42)))
	assert.Equal(t, `"v1"`, store.Feed().EtagHeader)

	require.NoError(t, h.Handle(t.Context(), model.NewFetchFeed(42)))
	ingests, updates, touched := store.Counts()
	assert.Equal(t, 1, ingests)
	assert.Zero(t, updates)
	assert.Equal(t, 1, touched)
	assert.Equal(t, []string{"a"}, store.ExternalIDs())
	assert.Equal(t, 2, server.Requests())
}

func TestFetchFeed_errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		feedID    int64
		feedURL   string
		permanent bool
	}{
		{
			name:      "not found",
			status:    http.StatusNotFound,
			body:      "gone",
			permanent: true,
		},
		{
			name:      "forbidden",
			status:    http.StatusForbidden,
			body:      "no",
			permanent: true,
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   "oops",
		},
		{
			name:   "too many requests",
			status: http.StatusTooManyRequests,
			body:   "slow down",
		},
		{
			name:      "malformed document",
			body:      "this is not a feed",
			permanent: true,
		},
		{
			name:      "broken XML",
			body:      `<?xml version="1.0"?><rss version="2.0"><channel><item>`,
			permanent: true,
		},
		{
			name:      "empty body",
			permanent: true,
		},
		{
			name:      "unknown feed",
			body:      rssDocument("a"),
			feedID:    7,
			permanent: true,
		},
		{
			name:      "invalid feed URL",
			body:      rssDocument("a"),
			feedURL:   "ftp://example.org/feed.xml",
			permanent: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newFeedServer(t, "")
			server.Set(max(tt.status, http.StatusOK), tt.body, "")

			feedURL := server.FeedURL()
			if tt.feedURL != "" {
				feedURL = tt.feedURL
			}
			store := newFakeFeedStore(feedURL, "a")
			h := NewFetchFeed(store, fetcher.New())

			err := h.Handle(t.Context(), model.NewFetchFeed(cmp.Or(tt.feedID, 42)))
			require.Error(t, err)
			assert.Equal(t, tt.permanent, worker.IsPermanent(err), err)
			assert.Equal(t, []string{"a"}, store.ExternalIDs())
			ingests, updates, touched := store.Counts()
			assert.Zero(t, ingests+updates+touched)
		})
	}
}

func TestFetchFeed_storeError(t *testing.T) {
	server := newFeedServer(t, rssDocument("a", "b"))
	store := newFakeFeedStore(server.FeedURL())
	store.err = errors.New("connection refused")
	h := NewFetchFeed(store, fetcher.New())

	err := h.Handle(t.Context(), model.NewFetchFeed(42))
	require.Error(t, err)
	assert.False(t, worker.IsPermanent(err))
	assert.Empty(t, store.ExternalIDs())
	assert.Zero(t, store.Feed().ContentHash)
}

func TestFetchFeed_wrongPayload(t *testing.T) {
	h := NewFetchFeed(newFakeFeedStore(""), fetcher.New())
	err := h.Handle(t.Context(), model.NewBackfillFavicon())
	require.ErrorIs(t, err, model.ErrInvalidPayload)
	assert.True(t, worker.IsPermanent(err))
}

func TestFetchFeed_storage(t *testing.T) {
	store := testutil.NewStorage(t)
	ctx := t.Context()
	server := newFeedServer(t, rssDocument("a", "b"))

	userID, err := store.EnsureUser(ctx, "admin")
	require.NoError(t, err)
	feed := &model.Feed{UserID: userID, FeedURL: server.FeedURL()}
	require.NoError(t, store.CreateFeed(ctx, feed))

	h := NewFetchFeed(store, fetcher.New())
	require.NoError(t, h.Handle(ctx, model.NewFetchFeed(feed.ID)))

	server.Set(http.StatusOK, rssDocument("a", "b", "c"), `"v2"`)
	require.NoError(t, h.Handle(ctx, model.NewFetchFeed(feed.ID)))

	entries, err := store.EntriesByFeed(ctx, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, entries.ExternalIDs())
	assert.Equal(t, "https://example.org/c", entries[2].Link())

	got, err := store.FeedByID(ctx, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, "Example", got.Title)
	assert.Equal(t, `"v2"`, got.EtagHeader)
	assert.NotNil(t, got.CheckedAt)

	// 304
	require.NoError(t, h.Handle(ctx, model.NewFetchFeed(feed.ID)))
	entries, err = store.EntriesByFeed(ctx, feed.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	err = h.Handle(ctx, model.NewFetchFeed(feed.ID+1000))
	require.ErrorIs(t, err, storage.ErrFeedNotFound)
	assert.True(t, worker.IsPermanent(err))
}
