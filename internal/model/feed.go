// SPDX-FileCopyrightText: Copyright The Miniflux Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package model // import "feedkeeper.app/internal/model"

import (
	"fmt"
	"net/url"
	"time"

	"github.com/cespare/xxhash/v2"
)

// FaviconState is the favicon resolution of a feed.
type FaviconState int

const (
	FaviconUnresolved FaviconState = iota
	FaviconFound
	FaviconAbsent
)

func (s FaviconState) String() string {
	switch s {
	case FaviconFound:
		return "found"
	case FaviconAbsent:
		return "absent"
	}
	return "unresolved"
}

// Feed represents a subscription of a user.
type Feed struct {
	ID                 int64      `json:"id" db:"id"`
	UserID             int64      `json:"user_id" db:"user_id"`
	FeedURL            string     `json:"feed_url" db:"feed_url"`
	SiteURL            string     `json:"site_url" db:"site_url"`
	Title              string     `json:"title" db:"title"`
	Description        string     `json:"description" db:"description"`
	HasFavicon         *bool      `json:"has_favicon" db:"has_favicon"`
	EtagHeader         string     `json:"etag_header" db:"etag_header"`
	LastModifiedHeader string     `json:"last_modified_header" db:"last_modified_header"`
	ContentHash        int64      `json:"-" db:"content_hash"`
	CheckedAt          *time.Time `json:"checked_at" db:"checked_at"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
}

func (f *Feed) String() string {
	return fmt.Sprintf("ID=%d, UserID=%d, FeedURL=%s, SiteURL=%s, Title=%s",
		f.ID, f.UserID, f.FeedURL, f.SiteURL, f.Title)
}

// FaviconState maps the nullable has_favicon column to its three states.
func (f *Feed) FaviconState() FaviconState {
	switch {
	case f.HasFavicon == nil:
		return FaviconUnresolved
	case *f.HasFavicon:
		return FaviconFound
	}
	return FaviconAbsent
}

// SiteOrFeedURL returns the URL favicons are looked up from.
func (f *Feed) SiteOrFeedURL() string {
	if f.SiteURL != "" {
		return f.SiteURL
	}
	return f.FeedURL
}

func (f *Feed) ParsedSiteURL() (*url.URL, error) {
	u, err := url.Parse(f.SiteOrFeedURL())
	if err != nil {
		return nil, fmt.Errorf("model: parse site URL of feed #%d: %w", f.ID, err)
	}
	return u, nil
}

// ContentChanged reports whether body differs from the last ingested
// document and remembers its hash.
func (f *Feed) ContentChanged(body []byte) bool {
	hash := int64(xxhash.Sum64(body))
	if f.ContentHash != 0 && f.ContentHash == hash {
		return false
	}
	f.ContentHash = hash
	return true
}

// FeedRefresh is what a successful ingestion stores back into its feed.
type FeedRefresh struct {
	FeedID             int64
	Title              string
	SiteURL            string
	Description        string
	EtagHeader         string
	LastModifiedHeader string
	ContentHash        int64
}

// Favicon is an icon fetched for a feed site. The content is never decoded.
type Favicon struct {
	URL      string `json:"url" db:"-"`
	MimeType string `json:"mime_type" db:"favicon_mime_type"`
	Content  []byte `json:"-" db:"favicon"`
}
