// Package indexer turns an uploaded document into searchable passages and
// drives the document's indexing status.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/docchat/internal/blob"
	"github.com/kalambet/docchat/internal/extract"
	"github.com/kalambet/docchat/internal/storage"
	"github.com/kalambet/docchat/internal/vector"
)

// DocumentStore is the subset of the metadata store the indexer needs.
type DocumentStore interface {
	GetDocumentAnyOwner(id string) (storage.Document, error)
	TransitionDocumentStatus(id, from, to string) (bool, error)
}

// BatchEmbedder generates embeddings for a batch of texts.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Indexer runs the indexing pipeline for one document: fetch the stored
// bytes, extract page text, chunk, embed, and upsert passages into the
// vector store under the document's namespace.
type Indexer struct {
	store    DocumentStore
	blobs    blob.Store
	embedder BatchEmbedder
	vectors  vector.Store
	logger   *slog.Logger
}

// NewIndexer creates an Indexer with the given dependencies.
func NewIndexer(store DocumentStore, blobs blob.Store, embedder BatchEmbedder, vectors vector.Store) *Indexer {
	return &Indexer{
		store:    store,
		blobs:    blobs,
		embedder: embedder,
		vectors:  vectors,
		logger:   slog.Default(),
	}
}

// Index processes a single document. Triggering a document that is no
// longer pending is a no-op, so a duplicate trigger can never re-run a
// settled document. On failure the document's partial passages are purged
// before the status settles as failed.
func (ix *Indexer) Index(ctx context.Context, documentID string) error {
	doc, err := ix.store.GetDocumentAnyOwner(documentID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", documentID, err)
	}

	claimed, err := ix.store.TransitionDocumentStatus(documentID, storage.StatusPending, storage.StatusProcessing)
	if err != nil {
		return fmt.Errorf("claiming document %s: %w", documentID, err)
	}
	if !claimed {
		ix.logger.Info("document not pending, skipping", "document_id", documentID, "status", doc.Status)
		return nil
	}

	if err := ix.process(ctx, doc); err != nil {
		ix.fail(documentID, err)
		return err
	}

	if _, err := ix.store.TransitionDocumentStatus(documentID, storage.StatusProcessing, storage.StatusSuccess); err != nil {
		return fmt.Errorf("settling document %s: %w", documentID, err)
	}
	return nil
}

func (ix *Indexer) process(ctx context.Context, doc storage.Document) error {
	kind, err := extract.DetectKind(doc.Name)
	if err != nil {
		return err
	}

	b, size, err := ix.blobs.Open(doc.StorageKey)
	if err != nil {
		return fmt.Errorf("opening stored document: %w", err)
	}
	defer b.Close()

	pages, err := extract.Pages(kind, b, size)
	if err != nil {
		return fmt.Errorf("extracting text: %w", err)
	}

	var texts []string
	var pageNums []int
	for i, page := range pages {
		for _, chunk := range extract.Chunks(page, extract.DefaultChunkSize) {
			texts = append(texts, chunk)
			pageNums = append(pageNums, i+1)
		}
	}
	if len(texts) == 0 {
		return fmt.Errorf("document %s has no extractable text", doc.ID)
	}

	vecs, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding passages: %w", err)
	}

	now := time.Now().UTC()
	passages := make([]vector.Passage, len(texts))
	for i := range texts {
		passages[i] = vector.Passage{
			ID:        uuid.New().String(),
			Page:      pageNums[i],
			Text:      texts[i],
			Embedding: vecs[i],
			CreatedAt: now,
		}
	}

	if err := ix.vectors.Upsert(doc.ID, passages); err != nil {
		return fmt.Errorf("storing passages: %w", err)
	}

	ix.logger.Info("document indexed", "document_id", doc.ID, "pages", len(pages), "passages", len(passages))
	return nil
}

// fail purges any partially written passages and settles the status. A
// failed document must not be searchable.
func (ix *Indexer) fail(documentID string, cause error) {
	ix.logger.Warn("indexing failed", "document_id", documentID, "error", cause)
	if err := ix.vectors.DeleteNamespace(documentID); err != nil {
		ix.logger.Error("failed to purge passages", "document_id", documentID, "error", err)
	}
	if _, err := ix.store.TransitionDocumentStatus(documentID, storage.StatusProcessing, storage.StatusFailed); err != nil {
		ix.logger.Error("failed to settle document status", "document_id", documentID, "error", err)
	}
}
