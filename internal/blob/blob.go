// Package blob is the object storage collaborator: uploaded document bytes
// live here, addressed by opaque storage keys.
package blob

import (
	"errors"
	"io"
)

// ErrNotFound is returned when no blob exists under the given key.
var ErrNotFound = errors.New("blob not found")

// Blob is a readable stored object. ReaderAt access is what the PDF
// extractor needs.
type Blob interface {
	io.ReaderAt
	io.Closer
}

// Store persists opaque byte blobs. Put reports the storage key and a
// fetchable URL on completion.
type Store interface {
	Put(r io.Reader) (key string, url string, err error)
	Open(key string) (Blob, int64, error)
	Delete(key string) error
}
