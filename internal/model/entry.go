// SPDX-FileCopyrightText: Copyright The Miniflux Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package model // import "feedkeeper.app/internal/model"

import (
	"encoding/hex"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DerivedIDPrefix marks external ids computed from an item content, because
// the item came without a native identifier.
const DerivedIDPrefix = "xxh:"

// Entry represents a feed item. ExternalID is unique within a feed.
type Entry struct {
	ID         int64      `json:"id" db:"id"`
	FeedID     int64      `json:"feed_id" db:"feed_id"`
	ExternalID string     `json:"external_id" db:"external_id"`
	Title      string     `json:"title" db:"title"`
	URL        *string    `json:"url" db:"url"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	Summary    string     `json:"summary" db:"summary"`
	Authors    []string   `json:"authors" db:"authors"`
	ReadAt     *time.Time `json:"read_at" db:"read_at"`
}

type Entries []*Entry

// Link returns the entry URL or an empty string.
func (e *Entry) Link() string {
	if e.URL == nil {
		return ""
	}
	return *e.URL
}

func (e *Entry) WithLink(link string) *Entry {
	if link == "" {
		e.URL = nil
	} else {
		e.URL = &link
	}
	return e
}

// DeriveExternalID returns a stable substitute identifier for items without
// one. The same link and title always give the same id.
func DeriveExternalID(link, title string) string {
	d := xxhash.New()
	_, _ = d.WriteString(link)
	_, _ = d.WriteString("\n")
	_, _ = d.WriteString(title)
	return DerivedIDPrefix + hex.EncodeToString(d.Sum(nil))
}

// ExternalIDs returns the external ids of entries, in order.
func (self Entries) ExternalIDs() []string {
	ids := make([]string, len(self))
	for i, e := range self {
		ids[i] = e.ExternalID
	}
	return ids
}
