// Package ondevice runs analysis requests against a local Ollama runtime.
// The runtime is probed with bounded timeouts; the model session is opened
// once and reused because the model load is expensive.
package ondevice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/repguard/internal/jsonx"
	"github.com/repguard/internal/provider"
)

// Fixed generation parameters. Callers cannot override these per request.
const (
	temperature     = 0.3
	topP            = 0.9
	topK            = 40
	maxOutputTokens = 1024
)

// warmupPrompt is the tiny generation used to open a session within the
// session timeout. A loaded model answers it in well under a second.
const warmupPrompt = "Respond with only the word OK."

// Config holds on-device runtime settings.
type Config struct {
	BaseURL           string
	Model             string
	Enabled           bool
	Vision            bool
	CapabilityTimeout time.Duration
	SessionTimeout    time.Duration
	KeepAlive         string
}

// DefaultConfig returns the standard local-runtime settings. OLLAMA_URL
// overrides the base URL when set.
func DefaultConfig() Config {
	baseURL := os.Getenv("OLLAMA_URL")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return Config{
		BaseURL:           baseURL,
		Model:             "gemma3:4b",
		Enabled:           true,
		Vision:            true,
		CapabilityTimeout: 2 * time.Second,
		SessionTimeout:    3 * time.Second,
		KeepAlive:         "30m",
	}
}

// Runtime probes the local model runtime and opens sessions against it.
type Runtime struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewRuntime creates a runtime handle. Missing config fields fall back to
// defaults so a zero-value section still works.
func NewRuntime(cfg Config, logger *zap.Logger) *Runtime {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.CapabilityTimeout <= 0 {
		cfg.CapabilityTimeout = def.CapabilityTimeout
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = def.SessionTimeout
	}
	if cfg.KeepAlive == "" {
		cfg.KeepAlive = def.KeepAlive
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runtime{
		cfg: cfg,
		// The overall client timeout is a safety net for full generations;
		// probes are bounded by much shorter per-call contexts.
		httpClient: &http.Client{
			Timeout: 180 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger.Named("ondevice"),
	}
}

// Model returns the configured model name.
func (r *Runtime) Model() string { return r.cfg.Model }

// Detect runs the capability probe: is the runtime reachable and is the
// configured model present. Bounded by the capability timeout; a probe that
// exceeds it is a failure, never a hang.
func (r *Runtime) Detect(ctx context.Context) provider.ProbeReport {
	start := time.Now()

	if !r.cfg.Enabled {
		return provider.ProbeReport{
			Availability: provider.Unsupported,
			Detail:       "on-device provider disabled by configuration",
			Elapsed:      time.Since(start),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.CapabilityTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return provider.ProbeReport{Availability: provider.Unavailable, Detail: err.Error(), Elapsed: time.Since(start)}
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return provider.ProbeReport{
			Availability: provider.Unavailable,
			Detail:       fmt.Sprintf("runtime not reachable: %v", err),
			Elapsed:      time.Since(start),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return provider.ProbeReport{
			Availability: provider.Unavailable,
			Detail:       fmt.Sprintf("runtime returned status %d", resp.StatusCode),
			Elapsed:      time.Since(start),
		}
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := jsonx.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return provider.ProbeReport{
			Availability: provider.Unavailable,
			Detail:       fmt.Sprintf("bad tags response: %v", err),
			Elapsed:      time.Since(start),
		}
	}

	for _, m := range tags.Models {
		if m.Name == r.cfg.Model || m.Name == r.cfg.Model+":latest" {
			return provider.ProbeReport{Availability: provider.Available, Elapsed: time.Since(start)}
		}
	}

	return provider.ProbeReport{
		Availability: provider.AfterDownload,
		Detail:       fmt.Sprintf("model %q not pulled", r.cfg.Model),
		Elapsed:      time.Since(start),
	}
}

// Pull downloads the configured model. Blocking; meant for explicit operator
// action, not for the probe path.
func (r *Runtime) Pull(ctx context.Context) error {
	body, err := jsonx.Marshal(map[string]string{"name": r.cfg.Model})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pull %s: %w", r.cfg.Model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("pull %s: status %d: %s", r.cfg.Model, resp.StatusCode, msg)
	}

	// The pull endpoint streams progress lines; drain to completion.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
