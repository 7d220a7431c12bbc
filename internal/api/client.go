// Package api implements the HTTP client for the document RAG server.
// It covers the history store (/history), the file store (/files, /upload),
// the query service (/query) and the health probe (/status).
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"docchat/internal/session"
)

// Client talks to one RAG server instance. It implements every collaborator
// interface of the session package.
type Client struct {
	baseURL string
	httpc   *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
	}
}

type queryRequest struct {
	Query   string         `json:"query"`
	History []session.Turn `json:"history"`
}

type queryResponse struct {
	Answer  string           `json:"answer"`
	Sources []session.Source `json:"sources"`
}

type serverMessage struct {
	Message string `json:"message"`
}

// Query asks a question against the ingested documents.
func (c *Client) Query(ctx context.Context, query string, history []session.Turn) (session.Answer, error) {
	if history == nil {
		history = []session.Turn{}
	}
	var resp queryResponse
	if err := c.postJSON(ctx, "/query", queryRequest{Query: query, History: history}, &resp); err != nil {
		return session.Answer{}, err
	}
	return session.Answer{Text: resp.Answer, Sources: resp.Sources}, nil
}

// ListSessions returns all sessions known to the history store.
func (c *Client) ListSessions(ctx context.Context) ([]session.Summary, error) {
	var out []session.Summary
	if err := c.getJSON(ctx, "/history", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSession fetches one full session. A null body means the store has no
// such session and yields (nil, nil).
func (c *Client) GetSession(ctx context.Context, id string) (*session.Session, error) {
	var out *session.Session
	if err := c.getJSON(ctx, "/history/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveSession upserts a session.
func (c *Client) SaveSession(ctx context.Context, s *session.Session) error {
	return c.postJSON(ctx, "/history", s, nil)
}

// DeleteSession removes a session.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.delete(ctx, "/history/"+url.PathEscape(id))
}

// ListFiles returns the names of the uploaded documents.
func (c *Client) ListFiles(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.getJSON(ctx, "/files", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UploadFile sends a document as a multipart form with a "file" field and
// returns the server's ingestion message.
func (c *Client) UploadFile(ctx context.Context, name string, r io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("copy file contents: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, _ := io.ReadAll(resp.Body)
	var msg serverMessage
	_ = json.Unmarshal(data, &msg)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if msg.Message != "" {
			return "", fmt.Errorf("upload %s: %s", name, msg.Message)
		}
		return "", fmt.Errorf("upload %s: unexpected status %d", name, resp.StatusCode)
	}
	return msg.Message, nil
}

// DeleteFile removes a document and its derived index data.
func (c *Client) DeleteFile(ctx context.Context, name string) error {
	return c.delete(ctx, "/files/"+url.PathEscape(name))
}

// Status probes backend health.
func (c *Client) Status(ctx context.Context) (session.Status, error) {
	var out session.Status
	if err := c.getJSON(ctx, "/status", &out); err != nil {
		return session.Status{}, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var msg serverMessage
		if json.Unmarshal(data, &msg) == nil && msg.Message != "" {
			return fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, msg.Message)
		}
		return fmt.Errorf("%s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", req.Method, req.URL.Path, err)
	}
	return nil
}
