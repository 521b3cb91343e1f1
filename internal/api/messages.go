package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kalambet/docchat/internal/storage"
)

const maxMessageBodySize = 1 << 20 // 1MB

type sendMessageRequest struct {
	DocumentID string `json:"document_id"`
	Message    string `json:"message"`
}

// handleSendMessage answers a question about a document. The response body
// is a chunked text/plain stream whose full decode is the answer. Headers
// go out before the first fragment, so errors before the first fragment get
// the JSON envelope; a failure mid-stream aborts the connection so the
// client's read errors instead of reporting a short answer.
func handleSendMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := callerID(w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxMessageBodySize)
		defer r.Body.Close()

		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.DocumentID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "document_id is required")
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		streaming := false
		_, err := deps.Answerer.Answer(r.Context(), req.DocumentID, userID, req.Message, func(delta string) error {
			if !streaming {
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.Header().Set("Cache-Control", "no-cache")
				streaming = true
			}
			if _, err := w.Write([]byte(delta)); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		})
		if err != nil {
			if streaming {
				// The status line is already on the wire. Dropping the
				// connection is the only way left to signal failure; a
				// cleanly terminated body would read as a short answer.
				slog.Error("answer stream aborted", "document_id", req.DocumentID, "error", err)
				panic(http.ErrAbortHandler)
			}
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "document not found")
				return
			}
			httpError(w, http.StatusBadGateway, "api_error", "failed to answer: %v", err)
			return
		}

		if !streaming {
			// An empty answer still produces a well-formed empty body.
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		}
	}
}
