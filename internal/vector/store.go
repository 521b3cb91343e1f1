// Package vector provides embedding storage and similarity search. Every
// operation is namespaced by document id so retrieval can never cross
// document boundaries.
package vector

import "time"

// Store is the interface for vector storage and similarity search backends.
// The default implementation uses SQLite with brute-force cosine
// similarity, which is comfortable for per-document passage counts; an
// ANN-capable backend can replace it behind this interface.
type Store interface {
	// Upsert adds passages to the given document namespace.
	Upsert(documentID string, passages []Passage) error

	// Search returns the top-K passages of the document most similar to
	// the query vector, ranked by descending cosine similarity. Ties are
	// broken by passage id so ranking stays deterministic.
	Search(documentID string, query []float32, topK int) ([]ScoredPassage, error)

	// DeleteNamespace removes every passage of the document. Used both by
	// document deletion and by indexing failure cleanup.
	DeleteNamespace(documentID string) error

	// Count returns the number of passages stored for the document.
	Count(documentID string) (int, error)
}

// Passage is one embedded, immutable chunk of document text.
type Passage struct {
	ID        string
	Page      int
	Text      string
	Embedding []float32
	CreatedAt time.Time
}

// ScoredPassage is a Passage with a similarity score attached.
type ScoredPassage struct {
	Passage
	Score float32
}
