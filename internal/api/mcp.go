package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/docchat/internal/retrieval"
	"github.com/kalambet/docchat/internal/storage"
	"github.com/kalambet/docchat/internal/vector"
)

// MCPSearcher abstracts passage search for the MCP layer.
type MCPSearcher interface {
	Search(ctx context.Context, documentID, query string, topK int) ([]vector.ScoredPassage, error)
}

// MCPDeps holds dependencies for the MCP server. The MCP surface runs over
// stdio on the owner's machine, so every tool is bound to the single local
// identity in UserID.
type MCPDeps struct {
	Store    *storage.Store
	Searcher MCPSearcher
	UserID   string
}

// NewMCPServer creates an MCP server exposing the document library to a
// local MCP client.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"docchat",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("docchat — chat with your uploaded documents: list them, check indexing status, and search their contents."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List the uploaded documents with their indexing status."),
		),
		mcpListDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("document_status",
			mcp.WithDescription("Report the indexing status of one document."),
			mcp.WithString("document_id", mcp.Description("Document id"), mcp.Required()),
		),
		mcpDocumentStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("search_document",
			mcp.WithDescription("Semantically search one document's passages and return the most relevant ones."),
			mcp.WithString("document_id", mcp.Description("Document id"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of passages (default 4)")),
		),
		mcpSearchDocument(deps),
	)

	return s
}

func mcpListDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		docs, err := deps.Store.ListDocuments(deps.UserID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list documents: %v", err)), nil
		}

		type docResult struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			Status    string `json:"status"`
			CreatedAt string `json:"created_at"`
		}
		results := make([]docResult, len(docs))
		for i, d := range docs {
			results[i] = docResult{
				ID:        d.ID,
				Name:      d.Name,
				Status:    d.Status,
				CreatedAt: d.CreatedAt.UTC().Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal documents: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpDocumentStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("document_id")
		if err != nil {
			return mcpError("document_id is required"), nil
		}

		doc, err := deps.Store.GetDocument(id, deps.UserID)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError("document not found"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get document: %v", err)), nil
		}

		b, err := json.Marshal(map[string]string{
			"id":     doc.ID,
			"name":   doc.Name,
			"status": doc.Status,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearchDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("document_id")
		if err != nil {
			return mcpError("document_id is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", retrieval.TopK)
		if limit <= 0 {
			limit = retrieval.TopK
		}
		if limit > 20 {
			limit = 20
		}

		if _, err := deps.Store.GetDocument(id, deps.UserID); errors.Is(err, storage.ErrNotFound) {
			return mcpError("document not found"), nil
		} else if err != nil {
			return mcpError(fmt.Sprintf("failed to get document: %v", err)), nil
		}

		passages, err := deps.Searcher.Search(ctx, id, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(passages) == 0 {
			return mcpText("[]"), nil
		}

		type passageResult struct {
			ID    string  `json:"id"`
			Page  int     `json:"page"`
			Text  string  `json:"text"`
			Score float32 `json:"score"`
		}
		results := make([]passageResult, len(passages))
		for i, p := range passages {
			results[i] = passageResult{
				ID:    p.ID,
				Page:  p.Page,
				Text:  p.Text,
				Score: p.Score,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
