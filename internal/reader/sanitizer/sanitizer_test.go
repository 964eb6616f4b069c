package sanitizer

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func TestSanitizeContent_absoluteURLs(t *testing.T) {
	pageURL, err := url.Parse("https://example.org/blog/")
	require.NoError(t, err)

	got := SanitizeContent(
		`<p>Hello <a href="/posts/1">post</a> <img src="img/a.png" alt="a"></p>`,
		pageURL)
	assert.Contains(t, got, `href="https://example.org/posts/1"`)
	assert.Contains(t, got, `src="https://example.org/blog/img/a.png"`)
	assert.NotContains(t, got, `src="img/a.png"`)
}

func TestSanitizeContent_nilPageURL(t *testing.T) {
	got := SanitizeContent(
		`<p><a href="https://example.org/x">x</a><img src="y.png"></p>`, nil)
	assert.Contains(t, got, `href="https://example.org/x"`)
	assert.Contains(t, got, "y.png")
}

func TestSanitizeContent_removesUnsafe(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains string
		absent   []string
	}{
		{
			name:     "script",
			input:    `<p>text</p><script>alert(1)</script>`,
			contains: "<p>text</p>",
			absent:   []string{"<script", "alert"},
		},
		{
			name:     "event handler",
			input:    `<p onclick="alert(1)">text</p>`,
			contains: "text",
			absent:   []string{"onclick"},
		},
		{
			name:     "javascript link",
			input:    `<a href="javascript:alert(1)">text</a>`,
			contains: "text",
			absent:   []string{"javascript"},
		},
		{
			name:     "pixel tracker",
			input:    `<p>text<img src="https://t.example.org/p.gif" width="1" height="1"></p>`,
			contains: "text",
			absent:   []string{"p.gif"},
		},
		{
			name:     "blocked host",
			input:    `<p>text<img src="https://feeds.feedburner.com/~r/a/b.gif"></p>`,
			contains: "text",
			absent:   []string{"feedburner"},
		},
		{
			name:     "tracking parameters",
			input:    `<a href="https://example.com/page?id=1&utm_source=rss">x</a>`,
			contains: "https://example.com/page?id=1",
			absent:   []string{"utm_source"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeContent(tt.input, nil)
			assert.Contains(t, got, tt.contains)
			for _, s := range tt.absent {
				assert.NotContains(t, got, s)
			}
		})
	}
}

func TestSanitizeContent_empty(t *testing.T) {
	assert.Empty(t, SanitizeContent("  \n ", nil))
}

func TestStripTags(t *testing.T) {
	assert.Equal(t, "Hello world", StripTags(" <b>Hello</b> world "))
	assert.Empty(t, StripTags(""))
}

func TestTruncateHTML(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"<p>short</p>", 10, "short"},
		{"<p>a   b\n\tc</p>", 10, "a b c"},
		{"<p>Привет, мир</p>", 6, "Привет…"},
		{"<p>one two three</p>", 4, "one…"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, TruncateHTML(tt.input, tt.maxLen))
		})
	}
}

func TestStripTracking(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		refHosts []string
		changed  bool
	}{
		{
			name:     "tracking and regular parameters",
			input:    "https://example.com/page?id=123&utm_source=newsletter&fbclid=abc123",
			expected: "https://example.com/page?id=123",
			changed:  true,
		},
		{
			name:     "only tracking parameters",
			input:    "https://example.com/page?utm_source=newsletter&utm_medium=email",
			expected: "https://example.com/page",
			changed:  true,
		},
		{
			name:     "no tracking parameters",
			input:    "https://example.com/page?id=123&foo=bar",
			expected: "https://example.com/page?id=123&foo=bar",
		},
		{
			name:     "no query",
			input:    "https://example.com/page",
			expected: "https://example.com/page",
		},
		{
			name:     "mixed case",
			input:    "https://example.com/page?UTM_SOURCE=newsletter&utm_MEDIUM=email",
			expected: "https://example.com/page",
			changed:  true,
		},
		{
			name:     "fragment kept",
			input:    "https://example.com/page?id=123&utm_source=newsletter#section1",
			expected: "https://example.com/page?id=123#section1",
			changed:  true,
		},
		{
			name:     "matomo prefix",
			input:    "https://example.com/page?mtm_campaign=x",
			expected: "https://example.com/page",
			changed:  true,
		},
		{
			name:     "ref to another host",
			input:    "https://example.com/page?ref=test.com",
			expected: "https://example.com/page?ref=test.com",
			refHosts: []string{"example.com"},
		},
		{
			name:     "ref to own host",
			input:    "https://example.com/page?ref=example.com",
			expected: "https://example.com/page",
			refHosts: []string{"example.com"},
			changed:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.changed, StripTracking(u, tt.refHosts...))
			assert.Equal(t, tt.expected, u.String())
		})
	}
}

func TestBlockedURL(t *testing.T) {
	tests := []struct {
		input   string
		blocked bool
	}{
		{"https://feeds.feedburner.com/~ff/a", true},
		{"https://stats.wordpress.com/g.gif", true},
		{"https://www.facebook.com/sharer.php?u=x", true},
		{"https://www.facebook.com/somepage", false},
		{"https://twitter.com/intent/tweet?text=x", true},
		{"https://example.com/feedburner.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			u, err := url.Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.blocked, blockedURL(u))
		})
	}
}

func TestPixelTracker(t *testing.T) {
	attrs := func(kv ...string) []html.Attribute {
		var a []html.Attribute
		for i := 0; i < len(kv); i += 2 {
			a = append(a, html.Attribute{Key: kv[i], Val: kv[i+1]})
		}
		return a
	}

	assert.True(t, pixelTracker(attrs("width", "1", "height", "1")))
	assert.True(t, pixelTracker(attrs("width", "0", "height", "1")))
	assert.False(t, pixelTracker(attrs("width", "1")))
	assert.False(t, pixelTracker(attrs("width", "100", "height", "1")))
}
