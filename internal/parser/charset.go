// Package parser holds the text helpers shared by the HTML provider parsers.
package parser

import (
	"io"

	"golang.org/x/net/html/charset"
)

// NewUTF8Reader converts body to UTF-8. The encoding is sniffed from a BOM,
// <meta charset> / http-equiv tags or, failing those, heuristics. Several subtitle
// sites still serve windows-1250/1252 pages.
func NewUTF8Reader(body io.Reader) (io.Reader, error) {
	return charset.NewReader(body, "")
}

// NewUTF8ReaderFor is NewUTF8Reader with a Content-Type header hint.
func NewUTF8ReaderFor(body io.Reader, contentType string) (io.Reader, error) {
	return charset.NewReader(body, contentType)
}
