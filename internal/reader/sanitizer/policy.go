// SPDX-FileCopyrightText: Copyright The Miniflux Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package sanitizer cleans up HTML taken from feeds before it's stored.
package sanitizer // import "feedkeeper.app/internal/reader/sanitizer"

import (
	"net/url"
	"strings"

	"github.com/dsh2dsh/bluemonday/v2"
	"golang.org/x/net/html/atom"
)

var (
	allowSchemes = []string{
		"feed",
		"ftp",
		"geo",
		"git",
		"irc",
		"ircs",
		"magnet",
		"news",
		"sftp",
		"ssh",
		"tel",
		"webcal",
		"xmpp",
	}

	summaryPolicy = bluemonday.UGCPolicy()
	titlePolicy   = bluemonday.StrictPolicy()
)

func init() {
	p := summaryPolicy
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.AllowDataURIImages()
	p.AllowURLSchemes(allowSchemes...)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("id").DeleteFromGlobally()
	p.SetAttr("loading", "lazy").OnElements("img")

	p.AllowAttrs("poster").OnElements("video").
		AllowAttrs("sizes").OnElements("img", "source").
		AllowAttrs("src").OnElements("audio", "source", "video")

	p.AllowElements("picture").
		AllowAttrs("type", "media", "srcset").OnElements("source")
	p.AllowAttrs("height", "width").Matching(bluemonday.Number).
		OnElements("video")
}

// StripTags removes all HTML from s, leaving its text.
func StripTags(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	return titlePolicy.Sanitize(s)
}

// SanitizeContent returns the safe subset of the HTML fragment s. Relative
// URLs are resolved against pageURL, tracking pixels and known trackers are
// dropped and tracking query parameters removed. pageURL can be nil.
func SanitizeContent(s string, pageURL *url.URL) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}

	p := rewritePolicy{p: *summaryPolicy, pageURL: pageURL}
	return p.init().Sanitize(s)
}

type rewritePolicy struct {
	p       bluemonday.Policy
	pageURL *url.URL
}

func (self *rewritePolicy) init() *rewritePolicy {
	self.p.WithRewriteURL(self.rewriteURL)
	return self
}

func (self *rewritePolicy) Sanitize(s string) string {
	return self.p.Sanitize(s)
}

func (self *rewritePolicy) rewriteURL(t *bluemonday.Token, _ string,
	u *url.URL,
) *url.URL {
	if t.DataAtom == atom.Img && pixelTracker(t.Attr) {
		return nil
	}

	if !u.IsAbs() && self.pageURL != nil {
		u = self.pageURL.ResolveReference(u)
	}

	if blockedURL(u) {
		return nil
	}

	var hostname string
	if self.pageURL != nil {
		hostname = self.pageURL.Hostname()
	}
	StripTracking(u, hostname)
	return u
}
