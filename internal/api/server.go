// Package api exposes the document-chat service over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/docchat/internal/auth"
	"github.com/kalambet/docchat/internal/blob"
	"github.com/kalambet/docchat/internal/storage"
	"github.com/kalambet/docchat/internal/vector"
)

// Answerer runs one question-answer turn, forwarding answer fragments to
// onDelta as they arrive.
type Answerer interface {
	Answer(ctx context.Context, documentID, userID, question string, onDelta func(string) error) (storage.Message, error)
}

// Deps holds the collaborators behind the HTTP surface.
type Deps struct {
	Store    *storage.Store
	Blobs    blob.Store
	Vectors  vector.Store
	Answerer Answerer
	Auth     auth.Authenticator
}

// NewHandler returns the service's HTTP handler. Everything under /v1
// requires a bearer token; /health does not.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Middleware(deps.Auth))

		r.Post("/documents", handleUploadDocument(deps))
		r.Get("/documents", handleListDocuments(deps))
		r.Get("/documents/{id}", handleGetDocument(deps))
		r.Delete("/documents/{id}", handleDeleteDocument(deps))
		r.Get("/documents/{id}/messages", handleListMessages(deps))

		r.Post("/messages", handleSendMessage(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	json.NewEncoder(w).Encode(v)
}

// callerID extracts the authenticated user. The middleware guarantees it
// is present; a missing identity still fails closed.
func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserFrom(r.Context())
	if !ok {
		httpError(w, http.StatusUnauthorized, "authentication_error", "missing identity")
		return "", false
	}
	return userID, true
}
