package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"feedkeeper.app/internal/model"
	"feedkeeper.app/internal/storage"
)

func rssDocument(ids ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>
<rss version="2.0"><channel>
<title>Example</title>
<link>https://example.org/</link>
<description>Example feed</description>`)
	for _, id := range ids {
		fmt.Fprintf(&b, `
<item><guid isPermaLink="false">%s</guid><title>Entry %s</title><link>https://example.org/%s</link></item>`,
			id, id, id)
	}
	b.WriteString("\n</channel></rss>")
	return b.String()
}

// feedServer serves one feed document, answering conditional requests.
type feedServer struct {
	*httptest.Server

	mu       sync.Mutex
	status   int
	body     string
	etag     string
	requests int
}

func newFeedServer(t *testing.T, body string) *feedServer {
	t.Helper()
	self := &feedServer{status: http.StatusOK, body: body}
	self.Server = httptest.NewServer(http.HandlerFunc(self.serve))
	t.Cleanup(self.Close)
	return self
}

func (self *feedServer) serve(w http.ResponseWriter, r *http.Request) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.requests++

	if self.etag != "" {
		if r.Header.Get("If-None-Match") == self.etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", self.etag)
	}
	w.Header().Set("Content-Type", "application/rss+xml")
	w.WriteHeader(self.status)
	_, _ = w.Write([]byte(self.body))
}

func (self *feedServer) Set(status int, body, etag string) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.status, self.body, self.etag = status, body, etag
}

func (self *feedServer) Requests() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.requests
}

func (self *feedServer) FeedURL() string { return self.URL + "/feed.xml" }

type fakeFeedStore struct {
	mu      sync.Mutex
	feed    *model.Feed
	entries model.Entries
	ingests int
	updates int
	touched int
	err     error
}

func newFakeFeedStore(feedURL string, ids ...string) *fakeFeedStore {
	self := &fakeFeedStore{feed: &model.Feed{ID: 42, UserID: 1, FeedURL: feedURL}}
	for _, id := range ids {
		self.entries = append(self.entries,
			&model.Entry{FeedID: 42, ExternalID: id, Title: "Entry " + id})
	}
	return self
}

func (self *fakeFeedStore) FeedByID(_ context.Context, feedID int64,
) (*model.Feed, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.feed == nil || self.feed.ID != feedID {
		return nil, fmt.Errorf("%w: #%d", storage.ErrFeedNotFound, feedID)
	}
	feed := *self.feed
	return &feed, nil
}

func (self *fakeFeedStore) IngestEntries(_ context.Context,
	r *model.FeedRefresh, entries model.Entries,
) (int64, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.err != nil {
		return 0, self.err
	}
	self.ingests++

	var inserted int64
	for _, e := range entries {
		if slices.Contains(self.entries.ExternalIDs(), e.ExternalID) {
			continue
		}
		e.FeedID = r.FeedID
		self.entries = append(self.entries, e)
		inserted++
	}
	self.apply(r)
	return inserted, nil
}

func (self *fakeFeedStore) UpdateFeedRefresh(_ context.Context,
	r *model.FeedRefresh,
) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.err != nil {
		return self.err
	}
	self.updates++
	self.apply(r)
	return nil
}

func (self *fakeFeedStore) apply(r *model.FeedRefresh) {
	if self.feed.Title == "" {
		self.feed.Title = r.Title
	}
	if self.feed.SiteURL == "" {
		self.feed.SiteURL = r.SiteURL
	}
	self.feed.EtagHeader = r.EtagHeader
	self.feed.LastModifiedHeader = r.LastModifiedHeader
	self.feed.ContentHash = r.ContentHash
}

func (self *fakeFeedStore) TouchFeed(context.Context, int64) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.touched++
	return self.err
}

func (self *fakeFeedStore) ExternalIDs() []string {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.entries.ExternalIDs()
}

func (self *fakeFeedStore) Feed() model.Feed {
	self.mu.Lock()
	defer self.mu.Unlock()
	return *self.feed
}

func (self *fakeFeedStore) Counts() (ingests, updates, touched int) {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.ingests, self.updates, self.touched
}
