package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/docchat/internal/extract"
	"github.com/kalambet/docchat/internal/indexer"
	"github.com/kalambet/docchat/internal/storage"
)

const maxUploadSize = 16 << 20 // 16MB

type documentResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

func documentJSON(d storage.Document) documentResponse {
	return documentResponse{
		ID:        d.ID,
		Name:      d.Name,
		Status:    d.Status,
		CreatedAt: d.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func handleUploadDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := callerID(w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		defer r.Body.Close()

		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "multipart field 'file' is required: %v", err)
			return
		}
		defer file.Close()

		if _, err := extract.DetectKind(header.Filename); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported document format: %s", header.Filename)
			return
		}

		key, url, err := deps.Blobs.Put(file)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store file: %v", err)
			return
		}

		doc := storage.Document{
			ID:         uuid.New().String(),
			UserID:     userID,
			Name:       header.Filename,
			StorageKey: key,
			URL:        url,
			Status:     storage.StatusPending,
		}
		if err := deps.Store.CreateDocument(doc); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create document: %v", err)
			return
		}

		job, err := indexer.NewIndexJob(doc.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create index job: %v", err)
			return
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue index job: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, documentJSON(doc))
	}
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := callerID(w, r)
		if !ok {
			return
		}

		docs, err := deps.Store.ListDocuments(userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}

		out := make([]documentResponse, len(docs))
		for i, d := range docs {
			out[i] = documentJSON(d)
		}

		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, out)
	}
}

func handleGetDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := callerID(w, r)
		if !ok {
			return
		}

		doc, err := deps.Store.GetDocument(chi.URLParam(r, "id"), userID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get document: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, documentJSON(doc))
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := callerID(w, r)
		if !ok {
			return
		}
		id := chi.URLParam(r, "id")

		doc, err := deps.Store.GetDocument(id, userID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get document: %v", err)
			return
		}

		if err := deps.Vectors.DeleteNamespace(doc.ID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete passages: %v", err)
			return
		}
		if err := deps.Blobs.Delete(doc.StorageKey); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete stored file: %v", err)
			return
		}
		if err := deps.Store.DeleteDocument(doc.ID, userID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

type messageResponse struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	IsUserMessage bool   `json:"is_user_message"`
	CreatedAt     string `json:"created_at"`
}

type messagePageResponse struct {
	Messages   []messageResponse `json:"messages"`
	NextCursor string            `json:"next_cursor"`
}

func handleListMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := callerID(w, r)
		if !ok {
			return
		}
		id := chi.URLParam(r, "id")

		if _, err := deps.Store.GetDocument(id, userID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "document not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get document: %v", err)
			return
		}

		limit := 0
		if s := r.URL.Query().Get("limit"); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be an integer")
				return
			}
			limit = v
		}
		cursor := r.URL.Query().Get("cursor")

		msgs, nextCursor, err := deps.Store.MessagePage(id, userID, cursor, limit)
		if errors.Is(err, storage.ErrNotFound) {
			// The document resolved above, so a not-found here is the cursor.
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown cursor")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list messages: %v", err)
			return
		}

		out := messagePageResponse{
			Messages:   make([]messageResponse, len(msgs)),
			NextCursor: nextCursor,
		}
		for i, m := range msgs {
			out.Messages[i] = messageResponse{
				ID:            m.ID,
				Text:          m.Text,
				IsUserMessage: m.IsUserMessage,
				CreatedAt:     m.CreatedAt.UTC().Format(time.RFC3339Nano),
			}
		}

		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, out)
	}
}
