package parser

import (
	"bytes"
	"fmt"
	"net/url"

	"github.com/dsh2dsh/gofeed/v2/options"
	"github.com/dsh2dsh/gofeed/v2/rss"
)

// parseRSS parses RSS 0.9x, 2.0 and RDF (RSS 1.0) documents.
func parseRSS(baseURL *url.URL, b []byte) (*Feed, error) {
	parsed, err := rss.NewParser().Parse(bytes.NewReader(b),
		options.WithSkipUnknownElements(true))
	if err != nil {
		return nil, fmt.Errorf("reader/parser: parse RSS feed: %w", err)
	}

	p := rssFeed{baseURL: baseURL, rss: parsed}
	return p.Feed(), nil
}

type rssFeed struct {
	baseURL *url.URL
	rss     *rss.Feed
}

func (self *rssFeed) Feed() *Feed {
	feed := &Feed{
		Title:       self.rss.GetTitle(),
		FeedURL:     self.feedURL(),
		SiteURL:     resolve(self.baseURL, self.rss.Link()),
		Description: self.rss.GetDescription(),
	}
	if feed.SiteURL == "" {
		feed.SiteURL = self.baseURL.String()
	}

	var feedAuthors []string
	if name, email, ok := self.rss.GetAuthor(); ok {
		feedAuthors = []string{author(name, email)}
	}

	b := newEntryBuilder(parseURL(feed.SiteURL), feedAuthors)
	for _, it := range self.rss.Items {
		feed.Entries = append(feed.Entries, b.Entry(self.item(it)))
	}
	return feed
}

func (self *rssFeed) feedURL() string {
	if link := resolve(self.baseURL, self.rss.FeedLink()); link != "" {
		return link
	}
	return self.baseURL.String()
}

func (self *rssFeed) item(it *rss.Item) *item {
	result := &item{
		Title:     it.GetTitle(),
		Link:      it.Link(),
		Content:   it.GetContent(),
		Published: it.GetPublishedParsed(),
	}

	if it.GUID != nil {
		result.ID = it.GUID.Value
	}

	if name, email, ok := it.GetAuthor(); ok {
		result.Authors = []string{author(name, email)}
	}
	return result
}
