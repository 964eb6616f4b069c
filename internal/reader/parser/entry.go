package parser

import (
	"net/url"
	"slices"
	"strings"
	"time"

	"feedkeeper.app/internal/model"
	"feedkeeper.app/internal/reader/sanitizer"
)

const maxDerivedTitle = 100

// item is a feed item as every format describes it, before normalization.
type item struct {
	ID        string
	Title     string
	Link      string
	Content   string
	Published *time.Time
	Updated   *time.Time
	Authors   []string
}

// entryBuilder normalizes items of one feed.
type entryBuilder struct {
	siteURL     *url.URL
	feedAuthors []string
	now         time.Time
}

func newEntryBuilder(siteURL *url.URL, feedAuthors []string) *entryBuilder {
	return &entryBuilder{
		siteURL:     siteURL,
		feedAuthors: feedAuthors,
		now:         time.Now(),
	}
}

func (self *entryBuilder) Entry(it *item) *model.Entry {
	link := resolve(self.siteURL, it.Link)
	title := strings.TrimSpace(it.Title)

	entry := &model.Entry{
		ExternalID: strings.TrimSpace(it.ID),
		Title:      title,
		CreatedAt:  self.createdAt(it),
		Summary:    sanitizer.SanitizeContent(it.Content, self.siteURL),
		Authors:    self.authors(it.Authors),
	}
	entry.WithLink(link)

	if entry.ExternalID == "" {
		entry.ExternalID = model.DeriveExternalID(link, title)
	}

	if entry.Title == "" {
		entry.Title = sanitizer.TruncateHTML(it.Content, maxDerivedTitle)
		if entry.Title == "" {
			entry.Title = link
		}
	}
	return entry
}

func (self *entryBuilder) createdAt(it *item) time.Time {
	switch {
	case it.Published != nil && !it.Published.IsZero():
		return *it.Published
	case it.Updated != nil && !it.Updated.IsZero():
		return *it.Updated
	}
	return self.now
}

func (self *entryBuilder) authors(authors []string) []string {
	if len(authors) == 0 {
		authors = self.feedAuthors
	}
	return compactAuthors(authors)
}

// compactAuthors drops empty and repeated authors, keeping the order.
func compactAuthors(authors []string) []string {
	result := make([]string, 0, len(authors))
	for _, s := range authors {
		s = strings.TrimSpace(s)
		if s != "" && !slices.Contains(result, s) {
			result = append(result, s)
		}
	}
	return result
}

// author returns email when present, else name.
func author(name, email string) string {
	if email = strings.TrimSpace(email); email != "" {
		return email
	}
	return strings.TrimSpace(name)
}
