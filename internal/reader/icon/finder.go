// SPDX-FileCopyrightText: Copyright The Miniflux Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package icon discovers and downloads favicons of feed sites.
package icon // import "feedkeeper.app/internal/reader/icon"

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"feedkeeper.app/internal/logging"
	"feedkeeper.app/internal/model"
	"feedkeeper.app/internal/reader/encoding"
	"feedkeeper.app/internal/reader/fetcher"
)

// ErrNoFavicon means every candidate answered 404 or 410: the site has no
// favicon.
var ErrNoFavicon = errors.New("reader/icon: site has no favicon")

var (
	faviconURL = &url.URL{Path: "/favicon.ico"}
	rootURL    = &url.URL{Path: "/"}

	dataRe = regexp.MustCompile(`^data:` +
		`(?P<mediatype>image/[^;,]+)` +
		`(?:;(?P<encoding>base64|utf8))?` +
		`,(?P<data>.+)$`)
)

// NewFinder returns a Finder looking for the favicon of siteURL.
func NewFinder(f *fetcher.Fetcher, siteURL string) (*Finder, error) {
	site, err := url.Parse(siteURL)
	if err != nil {
		return nil, fmt.Errorf("reader/icon: parse website url %q: %w", siteURL,
			err)
	} else if !site.IsAbs() || site.Host == "" {
		return nil, fmt.Errorf("reader/icon: website url %q isn't absolute",
			siteURL)
	}
	return &Finder{fetcher: f, site: site}, nil
}

type Finder struct {
	fetcher *fetcher.Fetcher
	site    *url.URL
}

// Find returns the first favicon candidate answering 2xx with an image. It
// returns ErrNoFavicon when the site definitely has none, or another error
// when it can't tell, because some request failed temporarily.
func (self *Finder) Find(ctx context.Context) (*model.Favicon, error) {
	log := logging.FromContext(ctx).With(
		slog.String("website_url", self.site.String()))
	log.Debug("Begin icon discovery process")

	var o outcome
	candidates, err := self.candidates(ctx)
	if err != nil {
		log.Debug("Unable to fetch icons from HTML document",
			slog.Any("error", err))
		o.pageFailed(err)
	}

	for _, iconURL := range candidates {
		var icon *model.Favicon
		if strings.HasPrefix(iconURL, "data:") {
			if icon, err = parseImageDataURL(iconURL); err != nil {
				err = fmt.Errorf("%w: %w", errNotAnImage, err)
			}
		} else {
			icon, err = self.downloadIcon(ctx, iconURL)
		}

		if err == nil {
			log.Debug("Found icon",
				slog.String("icon_url", shortURL(iconURL)),
				slog.String("mime_type", icon.MimeType),
				slog.Int("size", len(icon.Content)))
			return icon, nil
		}

		log.Debug("Unable to use icon candidate",
			slog.String("icon_url", shortURL(iconURL)),
			slog.Any("error", err))
		o.candidateFailed(err)
	}
	return nil, o.Err(self.site)
}

// candidates returns icon URLs declared by the site page, then the
// conventional /favicon.ico.
func (self *Finder) candidates(ctx context.Context) ([]string, error) {
	var urls []string
	var pageErr error
	for _, u := range self.pageURLs() {
		found, err := self.fetchIconsFromHTMLDocument(ctx, u)
		if err != nil {
			pageErr = err
			continue
		} else if len(found) != 0 {
			urls, pageErr = found, nil
			break
		}
	}

	favicon := self.site.ResolveReference(faviconURL).String()
	if !slices.Contains(urls, favicon) {
		urls = append(urls, favicon)
	}
	return urls, pageErr
}

// pageURLs returns the site URL and, if it has a path, the site root. Icons
// can be referenced relative to a subdirectory.
func (self *Finder) pageURLs() []*url.URL {
	site := *self.site
	urls := []*url.URL{&site}
	if p := site.EscapedPath(); p != "" && p != "/" {
		urls = append(urls, site.ResolveReference(rootURL))
	}
	return urls
}

func (self *Finder) fetchIconsFromHTMLDocument(ctx context.Context,
	u *url.URL,
) ([]string, error) {
	resp, err := self.fetcher.Get(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("reader/icon: download website page: %w", err)
	}
	defer resp.Close()

	// Redirects change the base of relative hrefs.
	return findIconURLsFromHTMLDocument(ctx, resp.URL(), resp.Body(),
		resp.ContentType())
}

func findIconURLsFromHTMLDocument(ctx context.Context, u *url.URL,
	body io.Reader, contentType string,
) ([]string, error) {
	r, err := encoding.NewCharsetReader(body, contentType)
	if err != nil {
		return nil, fmt.Errorf(
			"reader/icon: unable to create charset reader: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("reader/icon: unable to read document: %w", err)
	}

	queries := [...]string{
		"link[rel~='icon' i][href]",
		"link[rel='apple-touch-icon' i][href]",
	}

	log := logging.FromContext(ctx).With(slog.String("document_url", u.String()))
	var found []string
	for _, query := range queries {
		for _, s := range doc.Find("head").First().Find(query).EachIter() {
			href := strings.TrimSpace(s.AttrOr("href", ""))
			if href == "" {
				continue
			}

			parsedHref, err := url.Parse(href)
			if err != nil {
				log.Debug("Unable to parse icon URL",
					slog.String("href", shortURL(href)), slog.Any("error", err))
				continue
			}

			iconURL := u.ResolveReference(parsedHref).String()
			if !slices.Contains(found, iconURL) {
				found = append(found, iconURL)
			}
		}
	}
	return found, nil
}

func (self *Finder) downloadIcon(ctx context.Context, iconURL string,
) (*model.Favicon, error) {
	resp, err := self.fetcher.Get(ctx, iconURL)
	if err != nil {
		return nil, fmt.Errorf("reader/icon: download icon: %w", err)
	}
	defer resp.Close()

	contentType := resp.ContentType()
	if strings.HasPrefix(strings.ToLower(contentType), "text/html") {
		return nil, fmt.Errorf("%w: got %q", errNotAnImage, contentType)
	}

	body, err := resp.ReadBody()
	if err != nil {
		return nil, fmt.Errorf("reader/icon: read icon: %w", err)
	}
	return &model.Favicon{URL: iconURL, MimeType: contentType, Content: body},
		nil
}

var errNotAnImage = errors.New("reader/icon: not an image")

// parseImageDataURL decodes data:[<mediatype>][;encoding],<data>. The media
// type is mandatory and must be an image. Valid encodings are base64, utf8
// and none.
func parseImageDataURL(value string) (*model.Favicon, error) {
	matches := dataRe.FindStringSubmatch(value)
	if matches == nil {
		return nil, fmt.Errorf("reader/icon: invalid data URL %q",
			shortURL(value))
	}

	mediaType := matches[dataRe.SubexpIndex("mediatype")]
	encoding := matches[dataRe.SubexpIndex("encoding")]
	data := matches[dataRe.SubexpIndex("data")]

	var blob []byte
	switch encoding {
	case "base64":
		var err error
		blob, err = base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("reader/icon: invalid base64 data URL: %w", err)
		}
	case "":
		decoded, err := url.QueryUnescape(data)
		if err != nil {
			return nil, fmt.Errorf("reader/icon: unable to decode data URL: %w",
				err)
		}
		blob = []byte(decoded)
	case "utf8":
		blob = []byte(data)
	}

	return &model.Favicon{URL: "data:", MimeType: mediaType, Content: blob},
		nil
}

func shortURL(s string) string {
	const maxLen = 80
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
