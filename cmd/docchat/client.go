package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/kalambet/docchat/internal/chat"
	"github.com/kalambet/docchat/internal/config"
)

type apiClient struct {
	baseURL string
	token   string
	// httpClient serves short calls; streamClient has no timeout because
	// an answer streams for as long as the model generates.
	httpClient   *http.Client
	streamClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.Client.Token == "" {
		return nil, fmt.Errorf("no API token configured: set DOCCHAT_TOKEN or [client] token in the config file")
	}
	return &apiClient{
		baseURL:      cfg.Client.ServerURL,
		token:        cfg.Client.Token,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		streamClient: &http.Client{},
	}, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable — is docchat serve running? (%w)", err)
	}
	return resp, nil
}

func (c *apiClient) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil, "")
}

func (c *apiClient) delete(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil, "")
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return responseError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func responseError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
	}
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, envelope.Error.Message)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, body)
}

type documentInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// uploadDocument posts a local file as multipart form data.
func (c *apiClient) uploadDocument(ctx context.Context, path string) (documentInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return documentInfo{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return documentInfo{}, err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return documentInfo{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return documentInfo{}, err
	}

	resp, err := c.do(ctx, http.MethodPost, "/v1/documents", &buf, mw.FormDataContentType())
	if err != nil {
		return documentInfo{}, err
	}

	var doc documentInfo
	if err := decodeJSON(resp, &doc); err != nil {
		return documentInfo{}, err
	}
	return doc, nil
}

func (c *apiClient) listDocuments(ctx context.Context) ([]documentInfo, error) {
	resp, err := c.get(ctx, "/v1/documents")
	if err != nil {
		return nil, err
	}
	var docs []documentInfo
	if err := decodeJSON(resp, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (c *apiClient) getDocument(ctx context.Context, id string) (documentInfo, error) {
	resp, err := c.get(ctx, "/v1/documents/"+url.PathEscape(id))
	if err != nil {
		return documentInfo{}, err
	}
	var doc documentInfo
	if err := decodeJSON(resp, &doc); err != nil {
		return documentInfo{}, err
	}
	return doc, nil
}

func (c *apiClient) deleteDocument(ctx context.Context, id string) error {
	resp, err := c.delete(ctx, "/v1/documents/"+url.PathEscape(id))
	if err != nil {
		return err
	}
	var result map[string]string
	return decodeJSON(resp, &result)
}

// MessagePage implements chat.Backend.
func (c *apiClient) MessagePage(ctx context.Context, documentID, cursor string, limit int) (chat.Page, error) {
	path := "/v1/documents/" + url.PathEscape(documentID) + "/messages"
	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	resp, err := c.get(ctx, path)
	if err != nil {
		return chat.Page{}, err
	}

	var body struct {
		Messages []struct {
			ID            string    `json:"id"`
			Text          string    `json:"text"`
			IsUserMessage bool      `json:"is_user_message"`
			CreatedAt     time.Time `json:"created_at"`
		} `json:"messages"`
		NextCursor string `json:"next_cursor"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return chat.Page{}, err
	}

	page := chat.Page{NextCursor: body.NextCursor}
	for _, m := range body.Messages {
		page.Messages = append(page.Messages, chat.Message{
			ID:            m.ID,
			Text:          m.Text,
			IsUserMessage: m.IsUserMessage,
			CreatedAt:     m.CreatedAt,
		})
	}
	return page, nil
}

// SendMessage implements chat.Backend: it posts the question and forwards
// each chunk of the text/plain answer stream as it arrives.
func (c *apiClient) SendMessage(ctx context.Context, documentID, message string, onDelta func(string) error) error {
	body, err := json.Marshal(map[string]string{
		"document_id": documentID,
		"message":     message,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("server not reachable — is docchat serve running? (%w)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return responseError(resp)
	}

	// Network chunks can split a multi-byte rune; an incomplete trailing
	// rune is carried into the next delta so every delta is valid UTF-8.
	buf := make([]byte, 512)
	var carry []byte
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			chunk := append(carry, buf[:n]...)
			cut := runeBoundary(chunk)
			carry = append([]byte(nil), chunk[cut:]...)
			if cut > 0 {
				if deltaErr := onDelta(string(chunk[:cut])); deltaErr != nil {
					return deltaErr
				}
			}
		}
		if err == io.EOF {
			if len(carry) > 0 {
				// The stream ended mid-rune; hand over what is left.
				return onDelta(string(carry))
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading answer stream: %w", err)
		}
	}
}

// runeBoundary returns the length of the longest prefix of b that does not
// end in an incomplete UTF-8 rune.
func runeBoundary(b []byte) int {
	for i := len(b) - 1; i >= 0 && len(b)-i <= utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return i
			}
			break
		}
	}
	return len(b)
}
