package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedkeeper.app/internal/model"
	"feedkeeper.app/internal/testutil"
)

func TestFavicon(t *testing.T) {
	store := testutil.NewStorage(t)
	ctx := t.Context()

	found := createFeed(t, store, "https://example.org/a.xml")
	absent := createFeed(t, store, "https://example.org/b.xml")
	unresolved := createFeed(t, store, "https://example.org/c.xml")

	feeds, err := store.FeedsWithUnresolvedFavicon(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, feeds, 3)

	feeds, err = store.FeedsWithUnresolvedFavicon(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, feeds, 2)

	icon := &model.Favicon{MimeType: "image/PNG; charset=binary",
		Content: []byte{0x89, 'P', 'N', 'G'}}
	require.NoError(t, store.StoreFavicon(ctx, found.ID, icon))
	require.NoError(t, store.ConfirmNoFavicon(ctx, absent.ID))
	require.Error(t, store.StoreFavicon(ctx, unresolved.ID, &model.Favicon{}))

	feeds, err = store.FeedsWithUnresolvedFavicon(ctx, 10)
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	assert.Equal(t, unresolved.ID, feeds[0].ID)

	got, err := store.FeedFavicon(ctx, found.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "image/png", got.MimeType)
	assert.Equal(t, icon.Content, got.Content)

	got, err = store.FeedFavicon(ctx, absent.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	second := createFeed(t, store, "https://example.org/d.xml")
	require.NoError(t, store.DeferFavicon(ctx, unresolved.ID))
	feeds, err = store.FeedsWithUnresolvedFavicon(ctx, 10)
	require.NoError(t, err)
	require.Len(t, feeds, 2)
	assert.Equal(t, second.ID, feeds[0].ID)
	assert.Equal(t, unresolved.ID, feeds[1].ID)

	require.NoError(t, store.DeferFavicon(ctx, found.ID))
	got, err = store.FeedFavicon(ctx, found.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	counts, err := store.CountFeedsByFavicon(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[model.FaviconState]int64{
		model.FaviconUnresolved: 2,
		model.FaviconFound:      1,
		model.FaviconAbsent:     1,
	}, counts)
}
