// Package retrieval finds the document passages most relevant to a query.
package retrieval

import (
	"context"
	"fmt"

	"github.com/kalambet/docchat/internal/vector"
)

// TopK is the number of passages retrieved for answering. Fixed by the
// answering pipeline.
const TopK = 4

// Retriever combines embedding and vector search. Every search is scoped
// to a single document namespace so results can never leak across
// documents.
type Retriever struct {
	embedder *Embedder
	store    vector.Store
}

// NewRetriever creates a Retriever backed by the given Embedder and vector store.
func NewRetriever(embedder *Embedder, store vector.Store) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Search embeds the query and returns the document's top-K most similar
// passages in descending similarity order.
func (r *Retriever) Search(ctx context.Context, documentID, query string, topK int) ([]vector.ScoredPassage, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored, err := r.store.Search(documentID, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("searching passages: %w", err)
	}
	return scored, nil
}
