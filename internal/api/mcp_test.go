package api

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/docchat/internal/storage"
	"github.com/kalambet/docchat/internal/vector"
)

type mockMCPSearcher struct {
	passages []vector.ScoredPassage
	err      error
}

func (m *mockMCPSearcher) Search(_ context.Context, _, _ string, _ int) ([]vector.ScoredPassage, error) {
	return m.passages, m.err
}

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.EnsureUser("local", "local@localhost"); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	return MCPDeps{
		Store:    store,
		Searcher: &mockMCPSearcher{},
		UserID:   "local",
	}, store
}

func mustCreateDoc(t *testing.T, store *storage.Store, userID, name, status string) storage.Document {
	t.Helper()
	doc := storage.Document{
		ID:         uuid.New().String(),
		UserID:     userID,
		Name:       name,
		StorageKey: uuid.New().String(),
		Status:     status,
	}
	if err := store.CreateDocument(doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	return doc
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPTool_ListDocuments(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	mustCreateDoc(t, store, "local", "a.pdf", storage.StatusSuccess)
	mustCreateDoc(t, store, "local", "b.html", storage.StatusPending)

	handler := mcpListDocuments(deps)
	result, err := handler(context.Background(), makeCallToolRequest("list_documents", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var docs []struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &docs); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
}

func TestMCPTool_ListDocuments_ScopedToLocalUser(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	if err := store.EnsureUser("other", "other@example.com"); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	mustCreateDoc(t, store, "other", "foreign.pdf", storage.StatusSuccess)

	handler := mcpListDocuments(deps)
	result, err := handler(context.Background(), makeCallToolRequest("list_documents", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text := toolText(t, result); text != "[]\n" && text != "[]" {
		t.Errorf("expected empty list, got %s", text)
	}
}

func TestMCPTool_DocumentStatus(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	doc := mustCreateDoc(t, store, "local", "a.pdf", storage.StatusProcessing)

	handler := mcpDocumentStatus(deps)
	result, err := handler(context.Background(), makeCallToolRequest("document_status", map[string]interface{}{
		"document_id": doc.ID,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var status map[string]string
	if err := json.Unmarshal([]byte(toolText(t, result)), &status); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if status["status"] != storage.StatusProcessing {
		t.Errorf("status = %q, want processing", status["status"])
	}
}

func TestMCPTool_DocumentStatus_NotFound(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpDocumentStatus(deps)

	result, err := handler(context.Background(), makeCallToolRequest("document_status", map[string]interface{}{
		"document_id": "no-such-doc",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for unknown document")
	}
}

func TestMCPTool_SearchDocument(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	doc := mustCreateDoc(t, store, "local", "a.pdf", storage.StatusSuccess)
	deps.Searcher = &mockMCPSearcher{
		passages: []vector.ScoredPassage{
			{Passage: vector.Passage{ID: "p1", Page: 1, Text: "refunds within 30 days"}, Score: 0.95},
			{Passage: vector.Passage{ID: "p2", Page: 2, Text: "shipping info"}, Score: 0.5},
		},
	}

	handler := mcpSearchDocument(deps)
	result, err := handler(context.Background(), makeCallToolRequest("search_document", map[string]interface{}{
		"document_id": doc.ID,
		"query":       "refund policy",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var passages []struct {
		ID    string  `json:"id"`
		Page  int     `json:"page"`
		Text  string  `json:"text"`
		Score float32 `json:"score"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &passages); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(passages) != 2 {
		t.Fatalf("expected 2 passages, got %d", len(passages))
	}
	if passages[0].Text != "refunds within 30 days" {
		t.Errorf("top passage = %q", passages[0].Text)
	}
}

func TestMCPTool_SearchDocument_MissingArgs(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpSearchDocument(deps)

	result, err := handler(context.Background(), makeCallToolRequest("search_document", map[string]interface{}{
		"document_id": "d",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error when query is missing")
	}
}

func TestMCPTool_SearchDocument_SearchError(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	doc := mustCreateDoc(t, store, "local", "a.pdf", storage.StatusSuccess)
	deps.Searcher = &mockMCPSearcher{err: errors.New("embed failed")}

	handler := mcpSearchDocument(deps)
	result, err := handler(context.Background(), makeCallToolRequest("search_document", map[string]interface{}{
		"document_id": doc.ID,
		"query":       "q",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
}
