// Package cloud runs analysis requests against the hosted generateContent
// HTTP API. The client is stateless: one JSON POST per call, credential in a
// request header so it never appears in URLs or logs.
package cloud

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/repguard/internal/jsonx"
	"github.com/repguard/internal/media"
	"github.com/repguard/internal/provider"
)

// Fixed generation parameters. Callers cannot override these per request.
const (
	temperature     = 0.3
	topP            = 0.9
	topK            = 40
	maxOutputTokens = 1024
)

// DefaultEndpoint is the hosted API base URL.
const DefaultEndpoint = "https://generativelanguage.googleapis.com"

// DefaultModel is used when the config names none.
const DefaultModel = "gemini-2.0-flash"

// ErrNoText means the response carried no extractable text part. That is a
// hard error, never a silently-empty string.
var ErrNoText = errors.New("no text in response")

// ErrMissingCredential is returned when constructing a client without a key.
var ErrMissingCredential = errors.New("cloud credential is required")

// Config holds cloud client settings. APIKey is mandatory.
type Config struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// Client is the cloud-side provider.Client implementation.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text,omitempty"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// New creates a cloud client. Fails without a credential; everything else
// defaults.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingCredential
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 180 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger.Named("cloud"),
	}, nil
}

// Kind implements provider.Client.
func (c *Client) Kind() provider.Kind { return provider.KindCloud }

// Model implements provider.Client.
func (c *Client) Model() string { return c.cfg.Model }

// SupportsImages implements provider.Client.
func (c *Client) SupportsImages() bool { return true }

// Complete implements provider.Client. Images become base64 inline_data
// parts after the combined prompt text, preserving input order. Audio blobs
// have no cloud path and are never sent.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string, images []media.Image) (string, error) {
	parts := []part{{Text: joinPrompt(systemPrompt, userPrompt)}}
	for _, img := range images {
		parts = append(parts, part{InlineData: &inlineData{
			MIMEType: img.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(img.Data),
		}})
	}

	body := generateRequest{
		Contents: []content{{Role: "user", Parts: parts}},
		GenerationConfig: generationConfig{
			Temperature:     temperature,
			TopP:            topP,
			TopK:            topK,
			MaxOutputTokens: maxOutputTokens,
		},
	}

	text, err := c.generateContent(ctx, body)
	if err != nil {
		return "", provider.NewRequestError(provider.KindCloud, c.cfg.Model, err)
	}
	return text, nil
}

// generateContent posts to the v1beta endpoint and falls back to v1 once
// when the model is not served there. That is an endpoint-shape fallback,
// not a request retry; retries belong to the hybrid service.
func (c *Client) generateContent(ctx context.Context, body generateRequest) (string, error) {
	payload, err := jsonx.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	versions := []string{"v1beta", "v1"}
	var lastErr error
	for i, version := range versions {
		url := fmt.Sprintf("%s/%s/models/%s:generateContent", c.cfg.Endpoint, version, c.cfg.Model)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", c.cfg.APIKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("send request: %w", err)
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return "", fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode == http.StatusNotFound && i < len(versions)-1 {
			c.logger.Debug("model not on endpoint version, retrying",
				zap.String("version", version),
				zap.String("model", c.cfg.Model))
			lastErr = fmt.Errorf("API error (status %d): %s", resp.StatusCode, respBody)
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, respBody)
		}

		var gr generateResponse
		if err := jsonx.Unmarshal(respBody, &gr); err != nil {
			return "", fmt.Errorf("parse response: %w", err)
		}
		if len(gr.Candidates) == 0 {
			return "", errors.New("no candidates in response")
		}
		for _, p := range gr.Candidates[0].Content.Parts {
			if p.Text != "" {
				return p.Text, nil
			}
		}
		return "", ErrNoText
	}
	return "", lastErr
}

func joinPrompt(systemPrompt, userPrompt string) string {
	if systemPrompt == "" {
		return userPrompt
	}
	return systemPrompt + "\n\n---\n\n" + userPrompt
}
