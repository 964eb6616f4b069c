// SPDX-FileCopyrightText: Copyright The Miniflux Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package model // import "feedkeeper.app/internal/model"

import "testing"

func TestFeedFaviconState(t *testing.T) {
	yes, no := true, false

	feed := &Feed{}
	if got := feed.FaviconState(); got != FaviconUnresolved {
		t.Errorf(`Unexpected favicon state, got %q`, got)
	}

	feed.HasFavicon = &yes
	if got := feed.FaviconState(); got != FaviconFound {
		t.Errorf(`Unexpected favicon state, got %q`, got)
	}

	feed.HasFavicon = &no
	if got := feed.FaviconState(); got != FaviconAbsent {
		t.Errorf(`Unexpected favicon state, got %q`, got)
	}
}

func TestFeedContentChanged(t *testing.T) {
	feed := &Feed{}
	if !feed.ContentChanged([]byte("a")) {
		t.Fatal(`The first document must be reported as changed`)
	}

	if feed.ContentChanged([]byte("a")) {
		t.Error(`The same document must not be reported as changed`)
	}

	if !feed.ContentChanged([]byte("b")) {
		t.Error(`A different document must be reported as changed`)
	}
}

func TestFeedSiteOrFeedURL(t *testing.T) {
	feed := &Feed{FeedURL: "https://example.org/feed.xml"}
	if got := feed.SiteOrFeedURL(); got != feed.FeedURL {
		t.Errorf(`Unexpected URL, got %q`, got)
	}

	feed.SiteURL = "https://example.org/"
	if got := feed.SiteOrFeedURL(); got != feed.SiteURL {
		t.Errorf(`Unexpected URL, got %q`, got)
	}
}
