package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody caps how much of a failed reply is kept for diagnostics.
const maxErrorBody = 64 << 10

// Client is a small HTTP client for talking to a local Ollama server.
type Client struct {
	BaseURL    string
	httpClient *http.Client
}

// New returns a client for the server at base. A full chat endpoint URL such
// as http://localhost:11434/api/chat is accepted and trimmed to its base.
// Connections are not reused across requests.
func New(base string) *Client {
	base = strings.TrimRight(base, "/")
	base = strings.TrimSuffix(base, "/api/chat")
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DisableKeepAlives = true
	return &Client{BaseURL: base, httpClient: &http.Client{Transport: tr}}
}

// Chat sends a non-streaming chat request and decodes the complete reply.
// Deadlines are taken from ctx.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req.Stream = false
	resp, err := c.post(ctx, "/api/chat", req, "application/json")
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	var out ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if ctx.Err() != nil {
			return nil, &BackendUnavailableError{Err: err}
		}
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	return &out, nil
}

// ChatStream sends a streaming chat request and returns the NDJSON body once
// the server has answered with a success status. The caller must close it.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	req.Stream = true
	resp, err := c.post(ctx, "/api/chat", req, "application/x-ndjson")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Version returns the server version reported by /api/version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var v struct {
		Version string `json:"version"`
	}
	if err := c.getJSON(ctx, "/api/version", &v); err != nil {
		return "", err
	}
	return v.Version, nil
}

// Tags lists the models installed on the server.
func (c *Client) Tags(ctx context.Context) ([]string, error) {
	var v struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := c.getJSON(ctx, "/api/tags", &v); err != nil {
		return nil, err
	}
	models := make([]string, 0, len(v.Models))
	for _, m := range v.Models {
		models = append(models, m.Name)
	}
	return models, nil
}

func (c *Client) post(ctx context.Context, path string, body any, accept string) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	return c.do(httpReq)
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(httpReq)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	return json.NewDecoder(resp.Body).Decode(v)
}

// do executes req and maps transport failures and non-2xx replies onto the
// backend error types. On error the response body is already closed.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &BackendUnavailableError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		return nil, &BackendError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return resp, nil
}
