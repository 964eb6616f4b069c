// SPDX-FileCopyrightText: Copyright The Miniflux Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package parser turns RSS, RDF, Atom and JSON feed documents into
// normalized entries.
package parser // import "feedkeeper.app/internal/reader/parser"

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"feedkeeper.app/internal/model"
	"feedkeeper.app/internal/reader/encoding"
)

var ErrFeedFormatNotDetected = errors.New(
	"reader/parser: unable to detect feed format")

type Format string

const (
	FormatUnknown Format = ""
	FormatRSS     Format = "rss"
	FormatAtom    Format = "atom"
	FormatJSON    Format = "json"
)

// Feed is a parsed feed document. Entries are in document order.
type Feed struct {
	Title       string
	FeedURL     string
	SiteURL     string
	Description string
	Entries     model.Entries
}

// ParseFeed detects the format of b and parses it. Relative URLs are
// resolved against the site URL of the feed, itself resolved against
// baseURL, the URL the document was fetched from.
func ParseFeed(baseURL string, b []byte) (*Feed, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("reader/parser: parse base URL %q: %w", baseURL,
			err)
	}

	switch DetectFeedFormat(b) {
	case FormatRSS:
		return parseRSS(u, b)
	case FormatAtom:
		return parseAtom(u, b)
	case FormatJSON:
		return parseJSON(u, b)
	}
	return nil, ErrFeedFormatNotDetected
}

// DetectFeedFormat looks at the root element of b. It doesn't validate the
// rest of the document.
func DetectFeedFormat(b []byte) Format {
	b = bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))
	b = bytes.TrimLeft(b, " \t\r\n")
	if len(b) == 0 {
		return FormatUnknown
	} else if b[0] == '{' {
		return FormatJSON
	}

	d := xml.NewDecoder(bytes.NewReader(b))
	d.Strict = false
	d.CharsetReader = encoding.CharsetReader
	for {
		tok, err := d.Token()
		if err != nil {
			return FormatUnknown
		}

		if el, ok := tok.(xml.StartElement); ok {
			switch strings.ToLower(el.Name.Local) {
			case "rss", "rdf":
				return FormatRSS
			case "feed":
				return FormatAtom
			}
			return FormatUnknown
		}
	}
}

// resolve returns link as an absolute URL, resolved against base when it's
// relative. It returns an empty string for links which can't be parsed.
func resolve(base *url.URL, link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}

	u, err := url.Parse(link)
	switch {
	case err != nil:
		return ""
	case u.IsAbs() || base == nil:
		return link
	}
	return base.ResolveReference(u).String()
}

func parseURL(link string) *url.URL {
	if link == "" {
		return nil
	}
	u, err := url.Parse(link)
	if err != nil {
		return nil
	}
	return u
}
