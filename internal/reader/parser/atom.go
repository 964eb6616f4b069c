package parser

import (
	"bytes"
	"fmt"
	"net/url"

	"github.com/dsh2dsh/gofeed/v2/atom"
	"github.com/dsh2dsh/gofeed/v2/options"
)

func parseAtom(baseURL *url.URL, b []byte) (*Feed, error) {
	parsed, err := atom.NewParser().Parse(bytes.NewReader(b),
		options.WithSkipUnknownElements(true))
	if err != nil {
		return nil, fmt.Errorf("reader/parser: parse Atom feed: %w", err)
	}

	p := atomFeed{baseURL: baseURL, atom: parsed}
	return p.Feed(), nil
}

type atomFeed struct {
	baseURL *url.URL
	atom    *atom.Feed
}

func (self *atomFeed) Feed() *Feed {
	feed := &Feed{
		Title:       self.atom.Title,
		FeedURL:     resolve(self.baseURL, self.atom.GetFeedLink()),
		SiteURL:     resolve(self.baseURL, self.atom.GetLink()),
		Description: self.atom.Subtitle,
	}
	if feed.FeedURL == "" {
		feed.FeedURL = self.baseURL.String()
	}
	if feed.SiteURL == "" {
		feed.SiteURL = self.baseURL.String()
	}

	b := newEntryBuilder(parseURL(feed.SiteURL), atomAuthors(self.atom.Authors))
	for _, entry := range self.atom.Entries {
		feed.Entries = append(feed.Entries, b.Entry(&item{
			ID:        entry.ID,
			Title:     entry.Title,
			Link:      entry.GetLink(),
			Content:   entry.GetContent(),
			Published: entry.GetPublishedParsed(),
			Authors:   atomAuthors(entry.Authors),
		}))
	}
	return feed
}

func atomAuthors(persons []*atom.Person) []string {
	if len(persons) == 0 {
		return nil
	}

	authors := make([]string, 0, len(persons))
	for _, p := range persons {
		if p != nil {
			authors = append(authors, author(p.Name, p.Email))
		}
	}
	return authors
}
