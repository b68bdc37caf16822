package hybrid

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/repguard/internal/analysis"
	"github.com/repguard/internal/cache"
	"github.com/repguard/internal/events"
	"github.com/repguard/internal/media"
	"github.com/repguard/internal/metrics"
	"github.com/repguard/internal/provider"
)

// completion is one successful model round trip plus the provider that
// actually served it, which after a fallback differs from the one that
// was asked first.
type completion struct {
	text  string
	kind  provider.Kind
	model string
}

// acquireClient snapshots the current routing. It takes mu only, so a
// request issued during a background probe routes against the provider
// that was active when it arrived.
func (s *Service) acquireClient() (provider.Client, provider.Kind, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateOnDevice:
		return s.active, provider.KindOnDevice, nil
	case stateCloud:
		return s.active, provider.KindCloud, nil
	case stateUnavailable:
		return nil, provider.KindNone, ErrNoProvider
	default:
		return nil, provider.KindNone, ErrNotInitialized
	}
}

// completeFrom runs one completion against the given client. An
// on-device failure demotes the provider and retries exactly once
// against the cloud fallback with the same payload; cloud failures are
// returned as-is. Image support is decided against the first client and
// the retry reuses that decision, so both attempts carry the same
// logical request.
func (s *Service) completeFrom(ctx context.Context, client provider.Client, kind provider.Kind, systemPrompt, userPrompt string, images []media.Image) (completion, error) {
	sendImages := images
	if len(images) > 0 && !client.SupportsImages() {
		s.logger.Warn("Active provider lacks vision support; images dropped from request",
			zap.String("provider", string(kind)),
			zap.Int("images", len(images)))
		sendImages = nil
	}

	text, err := client.Complete(ctx, systemPrompt, userPrompt, sendImages)
	if err == nil {
		return completion{text: text, kind: kind, model: client.Model()}, nil
	}
	if kind != provider.KindOnDevice {
		return completion{}, err
	}

	fallback, fbKind, ok := s.demoteOnDevice(client, err)
	if !ok {
		return completion{}, err
	}
	text, retryErr := fallback.Complete(ctx, systemPrompt, userPrompt, sendImages)
	if retryErr != nil {
		return completion{}, retryErr
	}
	return completion{text: text, kind: fbKind, model: fallback.Model()}, nil
}

// demoteOnDevice reacts to an on-device request failure: the failed
// session is displaced, the cloud fallback installed when a credential
// exists, and one change event emitted. When a concurrent request
// already demoted, the current routing is reused instead of demoting
// twice. The failed session is released only after the swap, never
// under a client that might still be mid-call.
func (s *Service) demoteOnDevice(failed provider.Client, cause error) (provider.Client, provider.Kind, bool) {
	s.logger.Warn("On-device request failed; demoting provider", zap.Error(cause))

	s.mu.Lock()
	if s.state != stateOnDevice || s.active != failed {
		client, kind := s.active, s.statusLocked().ActiveProvider
		s.mu.Unlock()
		if client == nil {
			return nil, provider.KindNone, false
		}
		return client, kind, true
	}
	apiKey := s.apiKey
	s.mu.Unlock()

	next := stateUnavailable
	var client provider.Client
	if apiKey != "" {
		c, err := s.deps.CloudFactory(apiKey)
		if err != nil {
			s.logger.Warn("Cloud fallback construction failed", zap.Error(err))
		} else {
			next, client = stateCloud, c
		}
	}

	s.mu.Lock()
	if s.state != stateOnDevice || s.active != failed {
		racedClient, racedKind := s.active, s.statusLocked().ActiveProvider
		s.mu.Unlock()
		if racedClient == nil {
			return nil, provider.KindNone, false
		}
		return racedClient, racedKind, true
	}
	displaced := s.installLocked(next, client)
	status := s.statusLocked()
	epoch := s.epoch
	s.mu.Unlock()

	releaseClient(displaced)
	metrics.ProviderFallbacks.Inc()
	s.notify(ChangeEvent{Old: provider.KindOnDevice, New: status.ActiveProvider, Status: status}, epoch, "ondevice request failure")

	if client == nil {
		return nil, provider.KindNone, false
	}
	return client, provider.KindCloud, true
}

// Analyze routes one analysis request through the active provider,
// falling back per completeFrom, and returns the normalized result.
// The result is always well formed: unparseable model output degrades
// inside the normalizer instead of erroring here.
func (s *Service) Analyze(ctx context.Context, req analysis.Request) (analysis.Result, error) {
	if err := req.Validate(); err != nil {
		return analysis.Result{}, err
	}
	if n := len(req.Audios); n > 0 {
		// Audio is accepted for contract compatibility but not analyzed.
		s.logger.Debug("Audio parts accepted but ignored", zap.Int("audios", n))
	}

	client, kind, err := s.acquireClient()
	if err != nil {
		return analysis.Result{}, err
	}

	start := time.Now()

	var key string
	if s.deps.Cache != nil {
		key = cache.Key(kind, client.Model(), req.Text, req.Images)
		if res, ok := s.deps.Cache.Get(ctx, key); ok {
			metrics.CacheHits.WithLabelValues("hit").Inc()
			s.publishAnalysis(res, start, true)
			return res, nil
		}
		metrics.CacheHits.WithLabelValues("miss").Inc()
	}

	systemPrompt, userPrompt := analysis.BuildAnalysisPrompt(req)
	comp, err := s.completeFrom(ctx, client, kind, systemPrompt, userPrompt, req.Images)
	if err != nil {
		metrics.AnalysesTotal.WithLabelValues(string(kind), "error").Inc()
		return analysis.Result{}, err
	}

	res := analysis.Normalize(comp.text, comp.kind, comp.model)
	metrics.AnalysesTotal.WithLabelValues(string(comp.kind), "success").Inc()
	metrics.AnalysisDuration.WithLabelValues(string(comp.kind)).Observe(time.Since(start).Seconds())

	if s.deps.Cache != nil {
		// Keyed by the provider that served, which after a fallback is
		// not the one looked up above.
		putKey := key
		if comp.kind != kind {
			putKey = cache.Key(comp.kind, comp.model, req.Text, req.Images)
		}
		s.deps.Cache.Put(ctx, putKey, res)
	}
	if s.deps.History != nil {
		if _, err := s.deps.History.Record(ctx, req.Text, res); err != nil {
			s.logger.Warn("Failed to record analysis history", zap.Error(err))
		}
	}
	s.publishAnalysis(res, start, false)
	return res, nil
}

func (s *Service) publishAnalysis(res analysis.Result, start time.Time, cacheHit bool) {
	if s.deps.Events == nil {
		return
	}
	s.deps.Events.AnalysisDone(events.AnalysisCompleted{
		Provider:   res.Provider,
		Model:      res.Model,
		Risk:       string(res.ReputationRisk),
		DurationMs: time.Since(start).Milliseconds(),
		CacheHit:   cacheHit,
	})
}

// Generate runs a freeform completion through the active provider with
// the same fallback behavior as Analyze but no normalization, caching
// or history.
func (s *Service) Generate(ctx context.Context, prompt, systemPrompt string) (analysis.Generation, error) {
	if strings.TrimSpace(prompt) == "" {
		return analysis.Generation{}, ErrEmptyPrompt
	}

	client, kind, err := s.acquireClient()
	if err != nil {
		return analysis.Generation{}, err
	}

	comp, err := s.completeFrom(ctx, client, kind, systemPrompt, prompt, nil)
	if err != nil {
		metrics.GenerationsTotal.WithLabelValues(string(kind), "error").Inc()
		return analysis.Generation{}, err
	}
	metrics.GenerationsTotal.WithLabelValues(string(comp.kind), "success").Inc()
	return analysis.Generation{Text: comp.text, Provider: comp.kind, Model: comp.model}, nil
}
