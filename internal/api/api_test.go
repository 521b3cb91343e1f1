package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/docchat/internal/answer"
	"github.com/kalambet/docchat/internal/auth"
	"github.com/kalambet/docchat/internal/blob"
	"github.com/kalambet/docchat/internal/indexer"
	"github.com/kalambet/docchat/internal/ollama"
	"github.com/kalambet/docchat/internal/retrieval"
	"github.com/kalambet/docchat/internal/storage"
	"github.com/kalambet/docchat/internal/vector"
)

// modelBackend is a stub Ollama server. Embeddings are keyed on keywords so
// similarity is predictable; chat streams canned NDJSON fragments and
// records the last prompt it received.
type modelBackend struct {
	mu           sync.Mutex
	fragments    []string
	chatErr      string
	midStreamErr string // emitted after the fragments instead of the done marker
	lastChat     string
	srv          *httptest.Server
}

func newModelBackend(t *testing.T) *modelBackend {
	t.Helper()
	b := &modelBackend{
		fragments: []string{"Refunds are available ", "within 30 days."},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		vec := []float32{0, 0, 1}
		switch {
		case strings.Contains(strings.ToLower(req.Input), "refund"):
			vec = []float32{1, 0, 0}
		case strings.Contains(strings.ToLower(req.Input), "shipping"):
			vec = []float32{0, 1, 0}
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{vec}})
	})
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.lastChat = string(body)
		fragments := b.fragments
		chatErr := b.chatErr
		midStreamErr := b.midStreamErr
		b.mu.Unlock()

		enc := json.NewEncoder(w)
		if chatErr != "" {
			enc.Encode(map[string]any{"error": chatErr})
			return
		}
		flusher := w.(http.Flusher)
		for _, frag := range fragments {
			enc.Encode(map[string]any{"message": map[string]string{"role": "assistant", "content": frag}, "done": false})
			flusher.Flush()
		}
		if midStreamErr != "" {
			enc.Encode(map[string]any{"error": midStreamErr})
			return
		}
		enc.Encode(map[string]any{"message": map[string]string{"role": "assistant", "content": ""}, "done": true})
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *modelBackend) lastChatBody() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastChat
}

func (b *modelBackend) setChatError(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chatErr = msg
}

// setMidStreamError makes the chat endpoint stream its fragments and then
// fail instead of finishing with a done marker.
func (b *modelBackend) setMidStreamError(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.midStreamErr = msg
}

type testAPI struct {
	store   *storage.Store
	blobs   *blob.FilesystemStore
	vectors vector.Store
	backend *modelBackend
	worker  *indexer.Worker
	srv     *httptest.Server
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	for _, u := range []string{"user-1", "user-2"} {
		if err := store.EnsureUser(u, u+"@example.com"); err != nil {
			t.Fatalf("EnsureUser: %v", err)
		}
	}

	blobs, err := blob.NewFilesystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemStore: %v", err)
	}

	backend := newModelBackend(t)
	client := ollama.New(backend.srv.URL)
	vectors := vector.NewSQLiteStore(store.DB())
	embedder := retrieval.NewEmbedder(client, "embed-model")
	retriever := retrieval.NewRetriever(embedder, vectors)

	ix := indexer.NewIndexer(store, blobs, embedder, vectors)
	worker := indexer.NewWorker(store, ix, 0)

	handler := NewHandler(Deps{
		Store:    store,
		Blobs:    blobs,
		Vectors:  vectors,
		Answerer: answer.New(store, retriever, client, "chat-model"),
		Auth: auth.NewStaticTokens(map[string]string{
			"secret-1": "user-1",
			"secret-2": "user-2",
		}),
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &testAPI{
		store:   store,
		blobs:   blobs,
		vectors: vectors,
		backend: backend,
		worker:  worker,
		srv:     srv,
	}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, a.srv.URL+path, body)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

const policyHTML = `<html><body>
<p>Refunds are available within 30 days of purchase.</p>
</body></html>`

// upload posts a multipart document and decodes the 202 response.
func (a *testAPI) upload(t *testing.T, token, name, content string) documentResponse {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fmt.Fprint(fw, content)
	mw.Close()

	resp := a.do(t, http.MethodPost, "/v1/documents", token, &buf, mw.FormDataContentType())
	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload status = %d, body %s", resp.StatusCode, body)
	}

	var doc documentResponse
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decoding upload response: %v", err)
	}
	return doc
}

// index drains the job queue so the uploaded document settles.
func (a *testAPI) index(t *testing.T) {
	t.Helper()
	for {
		done, err := a.worker.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
		if !done {
			return
		}
	}
}

func decodeJSON[T any](t *testing.T, r io.Reader) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}
