package repguard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultBaseURL is where a locally running sidecar listens.
const DefaultBaseURL = "http://127.0.0.1:8787"

// Client is the RepGuard sidecar client
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// ClientConfig configures the RepGuard client
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// APIError is an error response from the sidecar
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// NewClient creates a new RepGuard client
func NewClient(config ClientConfig) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		baseURL: config.BaseURL,
	}
}

// Healthy reports whether the sidecar is reachable
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: httpResp.StatusCode, Message: http.StatusText(httpResp.StatusCode)}
	}
	return nil
}

// Status returns the current provider status
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var resp apiResponse
	if err := c.get(ctx, "/api/v1/status", &resp); err != nil {
		return nil, err
	}
	return resp.Status, nil
}

// SetCredential stores a cloud API key. An empty key clears the stored
// credential. Returns the provider status after the change.
func (c *Client) SetCredential(ctx context.Context, key string) (*Status, error) {
	var resp apiResponse
	if err := c.post(ctx, "/api/v1/credential", CredentialRequest{Key: key}, &resp); err != nil {
		return nil, err
	}
	return resp.Status, nil
}

// Reset discards the sidecar's provider service and rebuilds it
func (c *Client) Reset(ctx context.Context) (*Status, error) {
	var resp apiResponse
	if err := c.post(ctx, "/api/v1/reset", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Status, nil
}

// Analyze runs a text-only reputation analysis
func (c *Client) Analyze(ctx context.Context, text string) (*Analysis, error) {
	var resp apiResponse
	if err := c.post(ctx, "/api/v1/analyze", AnalyzeRequest{Text: text}, &resp); err != nil {
		return nil, err
	}
	return resp.Analysis, nil
}

// AnalyzeMedia runs an analysis over text plus image and audio attachments
func (c *Client) AnalyzeMedia(ctx context.Context, req *AnalyzeRequest) (*Analysis, error) {
	var resp apiResponse
	if err := c.post(ctx, "/api/v1/analyze/multimodal", req, &resp); err != nil {
		return nil, err
	}
	return resp.Analysis, nil
}

// Generate produces a freeform completion from the active provider
func (c *Client) Generate(ctx context.Context, prompt, systemPrompt string) (*Generation, error) {
	req := GenerateRequest{Prompt: prompt, SystemPrompt: systemPrompt}

	var resp apiResponse
	if err := c.post(ctx, "/api/v1/generate", req, &resp); err != nil {
		return nil, err
	}
	return resp.Response, nil
}

// History returns the most recent analyses, newest first. n <= 0 returns
// everything retained.
func (c *Client) History(ctx context.Context, n int) ([]HistoryEntry, error) {
	path := "/api/v1/history"
	if n > 0 {
		path += "?n=" + strconv.Itoa(n)
	}

	var resp historyResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// SearchHistory full-text searches the retained analyses
func (c *Client) SearchHistory(ctx context.Context, query string, limit int) ([]HistoryEntry, error) {
	params := url.Values{}
	params.Set("q", query)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var resp historyResponse
	if err := c.get(ctx, "/api/v1/history/search?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// post makes a POST request
func (c *Client) post(ctx context.Context, path string, body, resp interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return apiError(httpResp)
	}

	if resp != nil {
		return json.NewDecoder(httpResp.Body).Decode(resp)
	}

	return nil
}

// get makes a GET request
func (c *Client) get(ctx context.Context, path string, resp interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return err
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return apiError(httpResp)
	}

	return json.NewDecoder(httpResp.Body).Decode(resp)
}

// apiError turns a non-2xx response into an APIError, preferring the
// envelope's error field over the raw body.
func apiError(httpResp *http.Response) error {
	data, _ := io.ReadAll(httpResp.Body)

	var envelope struct {
		Error string `json:"error"`
	}
	msg := string(data)
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error != "" {
		msg = envelope.Error
	}

	return &APIError{StatusCode: httpResp.StatusCode, Message: msg}
}
