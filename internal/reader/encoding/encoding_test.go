package encoding

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func windows1252(t *testing.T, s string) []byte {
	t.Helper()
	b, err := charmap.Windows1252.NewEncoder().Bytes([]byte(s))
	require.NoError(t, err)
	return b
}

func TestNewCharsetReader(t *testing.T) {
	utf8Doc := []byte(`<html><head><meta charset="utf-8"></head><body>Café</body></html>`)
	latinDoc := windows1252(t,
		`<html><head><meta charset="windows-1252"></head><body>Café</body></html>`)

	tests := []struct {
		name        string
		doc         []byte
		contentType string
	}{
		{"utf8 with header", utf8Doc, "text/html; charset=UTF-8"},
		{"utf8 without charset", utf8Doc, "text/html"},
		{"windows-1252 with header", latinDoc, "text/html; charset=windows-1252"},
		{"windows-1252 from meta", latinDoc, "text/html"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewCharsetReader(bytes.NewReader(tt.doc), tt.contentType)
			require.NoError(t, err)

			data, err := io.ReadAll(r)
			require.NoError(t, err)
			require.True(t, utf8.Valid(data))
			assert.Contains(t, string(data), "Café")
		})
	}
}

func TestNewCharsetReader_empty(t *testing.T) {
	r, err := NewCharsetReader(strings.NewReader(""), "text/html")
	require.NoError(t, err)

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestCharsetReader(t *testing.T) {
	doc := windows1252(t,
		`<?xml version="1.0" encoding="windows-1252"?><title>Café</title>`)

	var v struct {
		Title string `xml:",chardata"`
	}
	d := xml.NewDecoder(bytes.NewReader(doc))
	d.CharsetReader = CharsetReader
	require.NoError(t, d.Decode(&v))
	assert.Equal(t, "Café", v.Title)
}

func TestCharsetReader_unknown(t *testing.T) {
	_, err := CharsetReader("no-such-charset", strings.NewReader(""))
	require.Error(t, err)
}
