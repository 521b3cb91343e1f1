// Package extract turns an uploaded document into an ordered sequence of
// page-level text blocks.
package extract

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Kind identifies a supported document format.
type Kind string

const (
	KindPDF  Kind = "pdf"
	KindHTML Kind = "html"
)

// ErrUnsupportedFormat is returned for documents that are neither PDF nor HTML.
var ErrUnsupportedFormat = fmt.Errorf("unsupported document format")

// DetectKind maps a file name to its document kind by extension.
func DetectKind(name string) (Kind, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return KindPDF, nil
	case ".html", ".htm":
		return KindHTML, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(name))
	}
}

// Pages extracts per-page text blocks from the document. PDF pages map
// one-to-one; an HTML document yields a single block. Page order follows
// the source document.
func Pages(kind Kind, r io.ReaderAt, size int64) ([]string, error) {
	switch kind {
	case KindPDF:
		return pdfPages(r, size)
	case KindHTML:
		text, err := htmlText(io.NewSectionReader(r, 0, size))
		if err != nil {
			return nil, err
		}
		return []string{text}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, kind)
	}
}
