package main

import (
	"bytes"
	"context"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

type recordedRequest struct {
	Method      string
	Path        string
	Body        string
	Auth        string
	ContentType string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method:      r.Method,
			Path:        r.URL.RequestURI(),
			Body:        body.String(),
			Auth:        r.Header.Get("Authorization"),
			ContentType: r.Header.Get("Content-Type"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:      ts.server.URL,
		token:        "test-token",
		httpClient:   ts.server.Client(),
		streamClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestUploadDocument(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/documents": `{"id":"doc-123","name":"policy.html","status":"pending","created_at":"2025-01-01T00:00:00Z"}`,
	})

	path := filepath.Join(t.TempDir(), "policy.html")
	if err := os.WriteFile(path, []byte("<html><body><p>refund policy</p></body></html>"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	doc, err := ts.client().uploadDocument(ctx, path)
	if err != nil {
		t.Fatalf("uploadDocument: %v", err)
	}
	if doc.ID != "doc-123" {
		t.Errorf("id = %q, want doc-123", doc.ID)
	}
	if doc.Status != "pending" {
		t.Errorf("status = %q, want pending", doc.Status)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	mediaType, params, err := mime.ParseMediaType(r.ContentType)
	if err != nil {
		t.Fatalf("parsing content type %q: %v", r.ContentType, err)
	}
	if mediaType != "multipart/form-data" {
		t.Fatalf("content type = %q, want multipart/form-data", mediaType)
	}
	mr := multipart.NewReader(strings.NewReader(r.Body), params["boundary"])
	part, err := mr.NextPart()
	if err != nil {
		t.Fatalf("reading multipart body: %v", err)
	}
	if part.FormName() != "file" {
		t.Errorf("form field = %q, want file", part.FormName())
	}
	if part.FileName() != "policy.html" {
		t.Errorf("filename = %q, want policy.html", part.FileName())
	}
}

func TestUploadDocument_MissingFile(t *testing.T) {
	ts := newTestServer(t, nil)

	_, err := ts.client().uploadDocument(ctx, filepath.Join(t.TempDir(), "nope.pdf"))
	if err == nil {
		t.Fatal("expected error for missing local file")
	}
	if len(ts.requests) != 0 {
		t.Errorf("expected no requests for missing file, got %d", len(ts.requests))
	}
}

func TestListDocuments(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/documents": `[{"id":"doc-1","name":"a.pdf","status":"success","created_at":"2025-01-01T00:00:00Z"},{"id":"doc-2","name":"b.html","status":"processing","created_at":"2025-01-02T00:00:00Z"}]`,
	})

	docs, err := ts.client().listDocuments(ctx)
	if err != nil {
		t.Fatalf("listDocuments: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[0].Name != "a.pdf" || docs[1].Status != "processing" {
		t.Errorf("unexpected documents: %+v", docs)
	}
}

func TestDeleteDocument_PathEscaping(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"DELETE /v1/documents/doc 1": `{"status":"deleted"}`,
	})

	if err := ts.client().deleteDocument(ctx, "doc 1"); err != nil {
		t.Fatalf("deleteDocument: %v", err)
	}
	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if !strings.Contains(ts.requests[0].Path, "doc%201") {
		t.Errorf("path not escaped: %q", ts.requests[0].Path)
	}
}

func TestMessagePage_QueryEncoding(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/documents/doc-1/messages": `{"messages":[{"id":"m2","text":"hi","is_user_message":false,"created_at":"2025-01-01T00:00:02Z"},{"id":"m1","text":"hello","is_user_message":true,"created_at":"2025-01-01T00:00:01Z"}],"next_cursor":"m1"}`,
	})

	page, err := ts.client().MessagePage(ctx, "doc-1", "m3", 10)
	if err != nil {
		t.Fatalf("MessagePage: %v", err)
	}
	if len(page.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(page.Messages))
	}
	if page.Messages[0].ID != "m2" || page.Messages[0].IsUserMessage {
		t.Errorf("unexpected first message: %+v", page.Messages[0])
	}
	if page.NextCursor != "m1" {
		t.Errorf("next cursor = %q, want m1", page.NextCursor)
	}

	reqPath := ts.requests[0].Path
	if !strings.Contains(reqPath, "cursor=m3") || !strings.Contains(reqPath, "limit=10") {
		t.Errorf("unexpected query: %q", reqPath)
	}
}

func TestSendMessage_StreamsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			w.WriteHeader(404)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		flusher := w.(http.Flusher)
		for _, chunk := range []string{"Refunds are available ", "within 30 days."} {
			w.Write([]byte(chunk))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	client := &apiClient{
		baseURL:      srv.URL,
		token:        "test-token",
		httpClient:   srv.Client(),
		streamClient: srv.Client(),
	}

	var got strings.Builder
	err := client.SendMessage(ctx, "doc-1", "what is the refund policy?", func(delta string) error {
		got.WriteString(delta)
		return nil
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got.String() != "Refunds are available within 30 days." {
		t.Errorf("streamed body = %q", got.String())
	}
}

func TestSendMessage_RuneBoundaries(t *testing.T) {
	// The server splits "café crème" in the middle of the é's two UTF-8
	// bytes; deltas must still decode cleanly.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		flusher := w.(http.Flusher)
		w.Write([]byte("caf\xc3"))
		flusher.Flush()
		w.Write([]byte("\xa9 cr\xc3\xa8me"))
		flusher.Flush()
	}))
	defer srv.Close()

	client := &apiClient{
		baseURL:      srv.URL,
		token:        "test-token",
		httpClient:   srv.Client(),
		streamClient: srv.Client(),
	}

	var got strings.Builder
	err := client.SendMessage(ctx, "doc-1", "coffee?", func(delta string) error {
		if !utf8.ValidString(delta) {
			t.Errorf("delta %q is not valid UTF-8", delta)
		}
		got.WriteString(delta)
		return nil
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got.String() != "café crème" {
		t.Errorf("streamed body = %q, want %q", got.String(), "café crème")
	}
}

func TestRuneBoundary(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abc", 3},
		{"café", 5},
		{"caf\xc3", 3},       // é split after its first byte
		{"\xc3", 0},          // lone continuation start
		{"a\xe2\x82", 1},     // € missing its last byte
		{"a\xe2\x82\xac", 4}, // complete €
	}
	for _, tt := range tests {
		if got := runeBoundary([]byte(tt.in)); got != tt.want {
			t.Errorf("runeBoundary(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSendMessage_ErrorEnvelope(t *testing.T) {
	ts := newTestServer(t, nil)

	err := ts.client().SendMessage(ctx, "doc-missing", "hello", func(string) error {
		t.Error("onDelta should not be called for an error response")
		return nil
	})
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %q, want it to mention 'not found'", err.Error())
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.server.Close()

	_, err := ts.client().get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"invalid or missing bearer token","type":"authentication_error"}}`))
	}))
	defer srv.Close()

	client := &apiClient{
		baseURL:      srv.URL,
		token:        "bad-token",
		httpClient:   srv.Client(),
		streamClient: srv.Client(),
	}

	resp, err := client.get(ctx, "/v1/documents")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "bearer token") {
		t.Errorf("error = %q, want status and message", err.Error())
	}
}

func TestUploadCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"upload"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for missing args")
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestStatusLabel(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	for _, status := range []string{"pending", "processing", "success", "failed"} {
		if got := statusLabel(status); got != status {
			t.Errorf("statusLabel(%q) = %q with colors disabled", status, got)
		}
	}
}
