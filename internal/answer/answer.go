// Package answer runs one conversational turn: persist the question,
// gather context, stream the model's answer, and persist the result.
package answer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalambet/docchat/internal/composer"
	"github.com/kalambet/docchat/internal/ollama"
	"github.com/kalambet/docchat/internal/retrieval"
	"github.com/kalambet/docchat/internal/storage"
	"github.com/kalambet/docchat/internal/vector"
)

// HistoryWindow is how many recent messages are replayed into the prompt.
const HistoryWindow = 6

// ChatClient is the subset of the model collaborator the Answerer needs.
type ChatClient interface {
	ChatStream(ctx context.Context, model string, messages []ollama.Message, opts ollama.ChatOptions, onDelta func(string) error) (string, error)
}

// Searcher finds a document's passages most relevant to a query.
type Searcher interface {
	Search(ctx context.Context, documentID, query string, topK int) ([]vector.ScoredPassage, error)
}

// ConversationStore is the subset of the metadata store the Answerer needs.
type ConversationStore interface {
	GetDocument(id, userID string) (storage.Document, error)
	AppendMessage(documentID, userID string, isUserMessage bool, text string) (storage.Message, error)
	RecentMessages(documentID, userID string, n int) ([]storage.Message, error)
}

// Answerer orchestrates a single question-answer turn over a document.
type Answerer struct {
	store     ConversationStore
	retriever Searcher
	chat      ChatClient
	model     string
	logger    *slog.Logger
}

// New creates an Answerer that answers with the given chat model.
func New(store ConversationStore, retriever Searcher, chat ChatClient, model string) *Answerer {
	return &Answerer{
		store:     store,
		retriever: retriever,
		chat:      chat,
		model:     model,
		logger:    slog.Default(),
	}
}

// Answer runs one turn. The user's question is persisted before anything
// can fail downstream, so a dead model backend never loses the question.
// Each answer fragment is forwarded to onDelta as it arrives; after the
// final fragment, exactly one assistant message holding the full answer is
// persisted and returned. If the stream fails no assistant message is
// written.
func (a *Answerer) Answer(ctx context.Context, documentID, userID, question string, onDelta func(string) error) (storage.Message, error) {
	if _, err := a.store.GetDocument(documentID, userID); err != nil {
		return storage.Message{}, err
	}

	if _, err := a.store.AppendMessage(documentID, userID, true, question); err != nil {
		return storage.Message{}, fmt.Errorf("persisting question: %w", err)
	}

	history, err := a.store.RecentMessages(documentID, userID, HistoryWindow)
	if err != nil {
		return storage.Message{}, fmt.Errorf("loading history: %w", err)
	}

	passages, err := a.retriever.Search(ctx, documentID, question, retrieval.TopK)
	if err != nil {
		return storage.Message{}, fmt.Errorf("retrieving context: %w", err)
	}

	prompt := composer.BuildPrompt(question, passages, history)

	// Temperature 0 keeps answers grounded in the retrieved context.
	full, err := a.chat.ChatStream(ctx, a.model, prompt, ollama.ChatOptions{Temperature: 0}, onDelta)
	if err != nil {
		return storage.Message{}, fmt.Errorf("streaming answer: %w", err)
	}

	msg, err := a.store.AppendMessage(documentID, userID, false, full)
	if err != nil {
		return storage.Message{}, fmt.Errorf("persisting answer: %w", err)
	}

	a.logger.Info("turn completed", "document_id", documentID, "answer_len", len(full))
	return msg, nil
}
