package parser

import (
	"bytes"
	"fmt"
	"iter"
	"net/url"

	"github.com/dsh2dsh/gofeed/v2/json"
)

func parseJSON(baseURL *url.URL, b []byte) (*Feed, error) {
	parsed, err := json.NewParser().Parse(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("reader/parser: parse JSON feed: %w", err)
	}

	p := jsonFeed{baseURL: baseURL, json: parsed}
	return p.Feed(), nil
}

type jsonFeed struct {
	baseURL *url.URL
	json    *json.Feed
}

func (self *jsonFeed) Feed() *Feed {
	feed := &Feed{
		Title:       self.json.Title,
		FeedURL:     resolve(self.baseURL, self.json.FeedURL),
		SiteURL:     resolve(self.baseURL, self.json.HomePageURL),
		Description: self.json.Description,
	}
	if feed.FeedURL == "" {
		feed.FeedURL = self.baseURL.String()
	}
	if feed.SiteURL == "" {
		feed.SiteURL = self.baseURL.String()
	}

	b := newEntryBuilder(parseURL(feed.SiteURL), jsonAuthors(self.json.AllAuthors()))
	for _, it := range self.json.Items {
		feed.Entries = append(feed.Entries, b.Entry(&item{
			ID:        it.ID,
			Title:     it.Title,
			Link:      firstLink(it.AllLinks()),
			Content:   it.Content(),
			Published: it.PublishedParsed(),
			Updated:   it.UpdatedParsed(),
			Authors:   jsonAuthors(it.AllAuthors()),
		}))
	}
	return feed
}

func firstLink(links iter.Seq[string]) string {
	for link := range links {
		if link != "" {
			return link
		}
	}
	return ""
}

func jsonAuthors(authors iter.Seq[*json.Author]) []string {
	var names []string
	for a := range authors {
		if a != nil && a.Name != "" {
			names = append(names, a.Name)
		}
	}
	return names
}
