package storage

import "testing"

func TestNormalizeMimeType(t *testing.T) {
	tests := map[string]string{
		"image/png":                "image/png",
		"IMAGE/SVG+XML":            "image/svg+xml",
		"image/jpg":                "image/jpeg",
		"image/webp; q=1":          "image/webp",
		"text/html; charset=utf-8": "image/x-icon",
		"":                         "image/x-icon",
	}
	for input, expected := range tests {
		if got := normalizeMimeType(input); got != expected {
			t.Errorf("normalizeMimeType(%q) = %q, want %q", input, got, expected)
		}
	}
}
