package ondevice

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/repguard/internal/jsonx"
	"github.com/repguard/internal/media"
	"github.com/repguard/internal/provider"
)

// promptSeparator joins the system and user prompts into the single combined
// prompt the session receives.
const promptSeparator = "\n\n---\n\n"

// Session is a warmed model handle. It implements provider.Client and is
// owned exclusively by the hybrid service: created once, reused for every
// request, and released only after a replacement provider is installed.
type Session struct {
	baseURL    string
	model      string
	vision     bool
	keepAlive  string
	httpClient *http.Client
	logger     *zap.Logger
	released   atomic.Bool
}

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	Stream    bool          `json:"stream"`
	KeepAlive string        `json:"keep_alive,omitempty"`
	Options   chatOptions   `json:"options"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
	NumPredict  int     `json:"num_predict"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// Open creates a session by issuing a bounded warmup generation. Exceeding
// the session timeout is treated as failure, not a hang; the caller then
// falls back to the cloud path.
func (r *Runtime) Open(ctx context.Context) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.SessionTimeout)
	defer cancel()

	s := &Session{
		baseURL:    r.cfg.BaseURL,
		model:      r.cfg.Model,
		vision:     r.cfg.Vision,
		keepAlive:  r.cfg.KeepAlive,
		httpClient: r.httpClient,
		logger:     r.logger,
	}

	warmup := chatRequest{
		Model:     s.model,
		Messages:  []chatMessage{{Role: "user", Content: warmupPrompt}},
		Stream:    false,
		KeepAlive: s.keepAlive,
		Options:   chatOptions{Temperature: 0, TopP: topP, TopK: topK, NumPredict: 8},
	}
	if _, err := s.chat(ctx, warmup); err != nil {
		return nil, fmt.Errorf("session warmup: %w", err)
	}

	r.logger.Info("on-device session opened", zap.String("model", s.model))
	return s, nil
}

// Kind implements provider.Client.
func (s *Session) Kind() provider.Kind { return provider.KindOnDevice }

// Model implements provider.Client.
func (s *Session) Model() string { return s.model }

// SupportsImages implements provider.Client.
func (s *Session) SupportsImages() bool { return s.vision }

// Complete implements provider.Client. The prompt is sent as one combined
// user message; images ride along as the message's typed base64 parts in
// input order. No internal retry, no call timeout (a full analysis may
// legitimately take several seconds).
func (s *Session) Complete(ctx context.Context, systemPrompt, userPrompt string, images []media.Image) (string, error) {
	if s.released.Load() {
		return "", provider.NewRequestError(provider.KindOnDevice, s.model, errors.New("session already released"))
	}

	msg := chatMessage{Role: "user", Content: joinPrompt(systemPrompt, userPrompt)}
	if s.vision {
		for _, img := range images {
			msg.Images = append(msg.Images, base64.StdEncoding.EncodeToString(img.Data))
		}
	}

	resp, err := s.chat(ctx, chatRequest{
		Model:     s.model,
		Messages:  []chatMessage{msg},
		Stream:    false,
		KeepAlive: s.keepAlive,
		Options: chatOptions{
			Temperature: temperature,
			TopP:        topP,
			TopK:        topK,
			NumPredict:  maxOutputTokens,
		},
	})
	if err != nil {
		return "", provider.NewRequestError(provider.KindOnDevice, s.model, err)
	}
	return resp.Message.Content, nil
}

func (s *Session) chat(ctx context.Context, reqBody chatRequest) (*chatResponse, error) {
	payload, err := jsonx.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("runtime returned status %d: %s", resp.StatusCode, msg)
	}

	var out chatResponse
	if err := jsonx.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	return &out, nil
}

// Release unloads the model, best-effort. Idempotent; a released session
// rejects further Complete calls. The hybrid service calls this only after
// the replacement provider is already installed.
func (s *Session) Release() {
	if s.released.Swap(true) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload, err := jsonx.Marshal(map[string]interface{}{"model": s.model, "keep_alive": 0})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Debug("session unload skipped", zap.Error(err))
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	s.logger.Info("on-device session released", zap.String("model", s.model))
}

func joinPrompt(systemPrompt, userPrompt string) string {
	if systemPrompt == "" {
		return userPrompt
	}
	return systemPrompt + promptSeparator + userPrompt
}
