// SPDX-FileCopyrightText: Copyright The Miniflux Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package encoding converts fetched documents to UTF-8.
package encoding // import "feedkeeper.app/internal/reader/encoding"

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/net/html/charset"
)

// NewCharsetReader returns an io.Reader that converts the HTML document in r
// to UTF-8, using the charset from contentType or, without one, from the
// first 1024 bytes of the document.
func NewCharsetReader(r io.Reader, contentType string) (io.Reader, error) {
	reader, err := charset.NewReader(r, contentType)
	switch {
	case errors.Is(err, io.EOF):
		return r, nil
	case err != nil:
		return nil, fmt.Errorf(
			"reader/encoding: new charset reader with contentType=%q: %w",
			contentType, err)
	}
	return reader, nil
}

// CharsetReader converts input from the encoding declared by an XML prolog to
// UTF-8. It fits encoding/xml.Decoder.CharsetReader.
func CharsetReader(label string, input io.Reader) (io.Reader, error) {
	r, err := charset.NewReaderLabel(label, input)
	if err != nil {
		return nil, fmt.Errorf("reader/encoding: charset %q: %w", label, err)
	}
	return r, nil
}
