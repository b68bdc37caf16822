package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/repguard/internal/analysis"
	"github.com/repguard/internal/credential"
	"github.com/repguard/internal/history"
	"github.com/repguard/internal/hybrid"
	"github.com/repguard/internal/jsonx"
	"github.com/repguard/internal/media"
	"github.com/repguard/internal/provider"
)

// Message types understood by the envelope channel. The names mirror
// the extension's message contract verbatim.
const (
	opGetStatus         = "GET_STATUS"
	opSetCredential     = "SET_CREDENTIAL"
	opReset             = "RESET"
	opAnalyze           = "ANALYZE"
	opAnalyzeMultimodal = "ANALYZE_MULTIMODAL"
	opGenerate          = "GENERATE"
	frameProviderChange = "provider_change"
	framePing           = "ping"
	framePong           = "pong"
)

// Frame is one envelope message, request or push.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the single reply every operation produces. Exactly one of
// the optional fields is set on success; Error carries a redacted
// message on failure.
type Response struct {
	Success  bool                  `json:"success"`
	Status   *hybrid.ServiceStatus `json:"status,omitempty"`
	Analysis *analysis.Result      `json:"analysis,omitempty"`
	Response *analysis.Generation  `json:"response,omitempty"`
	Error    string                `json:"error,omitempty"`
}

type historyResponse struct {
	Success bool            `json:"success"`
	Entries []history.Entry `json:"entries"`
}

type credentialPayload struct {
	Key string `json:"key"`
}

type analyzePayload struct {
	Text string `json:"text"`
}

type multimodalPayload struct {
	Text   string              `json:"text"`
	Images []media.EncodedPart `json:"images,omitempty"`
	Audios []media.EncodedPart `json:"audios,omitempty"`
}

type generatePayload struct {
	Prompt       string `json:"prompt"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

// errResponse redacts before anything leaves the process; raw provider
// errors can embed request URLs that carry the API key.
func errResponse(err error) Response {
	return Response{Error: credential.RedactError(err)}
}

// errorCode maps an operation error to the REST status. The envelope
// channel ignores it.
func errorCode(err error) int {
	switch {
	case errors.Is(err, hybrid.ErrNotInitialized), errors.Is(err, hybrid.ErrNoProvider):
		return http.StatusServiceUnavailable
	case errors.Is(err, analysis.ErrEmptyText), errors.Is(err, hybrid.ErrEmptyPrompt):
		return http.StatusBadRequest
	}
	var vErr *media.ValidationError
	if errors.As(err, &vErr) {
		return http.StatusBadRequest
	}
	var reqErr *provider.RequestError
	if errors.As(err, &reqErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// dispatch routes one envelope frame to its operation and returns the
// reply plus the REST status code for HTTP callers.
func (g *Gateway) dispatch(ctx context.Context, frame Frame) (Response, int) {
	switch frame.Type {
	case opGetStatus:
		return g.opStatus()
	case opSetCredential:
		var p credentialPayload
		if err := decodePayload(frame.Payload, &p); err != nil {
			return errResponse(err), http.StatusBadRequest
		}
		return g.opSetCredential(ctx, p)
	case opReset:
		return g.opReset(ctx)
	case opAnalyze:
		var p analyzePayload
		if err := decodePayload(frame.Payload, &p); err != nil {
			return errResponse(err), http.StatusBadRequest
		}
		return g.opAnalyze(ctx, p)
	case opAnalyzeMultimodal:
		var p multimodalPayload
		if err := decodePayload(frame.Payload, &p); err != nil {
			return errResponse(err), http.StatusBadRequest
		}
		return g.opAnalyzeMultimodal(ctx, p)
	case opGenerate:
		var p generatePayload
		if err := decodePayload(frame.Payload, &p); err != nil {
			return errResponse(err), http.StatusBadRequest
		}
		return g.opGenerate(ctx, p)
	default:
		return Response{Error: fmt.Sprintf("unknown message type %q", frame.Type)}, http.StatusBadRequest
	}
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := jsonx.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func (g *Gateway) opStatus() (Response, int) {
	st := g.service().Status()
	return Response{Success: true, Status: &st}, http.StatusOK
}

func (g *Gateway) opSetCredential(ctx context.Context, p credentialPayload) (Response, int) {
	svc := g.service()
	if err := svc.SetCredential(ctx, p.Key); err != nil {
		return errResponse(err), errorCode(err)
	}
	st := svc.Status()
	return Response{Success: true, Status: &st}, http.StatusOK
}

// opReset discards the current service and builds a fresh one through
// the injected factory. The swap is atomic from the caller's view: the
// old service is cleaned up first, and a factory failure leaves the
// (now uninitialized) old service in place rather than a nil.
func (g *Gateway) opReset(ctx context.Context) (Response, int) {
	if g.rebuild == nil {
		return Response{Error: "reset not supported"}, http.StatusNotImplemented
	}

	g.svcMu.Lock()
	defer g.svcMu.Unlock()

	g.svc.Cleanup()
	fresh, err := g.rebuild()
	if err != nil {
		g.logger.Error("Service rebuild failed during reset", zap.Error(err))
		return errResponse(err), http.StatusInternalServerError
	}
	fresh.OnProviderChange(g.broadcastChange)
	g.svc = fresh

	if err := fresh.Initialize(ctx, ""); err != nil {
		return errResponse(err), errorCode(err)
	}
	st := fresh.Status()
	g.logger.Info("Service reset complete", zap.String("provider", string(st.ActiveProvider)))
	return Response{Success: true, Status: &st}, http.StatusOK
}

func (g *Gateway) opAnalyze(ctx context.Context, p analyzePayload) (Response, int) {
	res, err := g.service().Analyze(ctx, analysis.Request{Text: p.Text})
	if err != nil {
		return errResponse(err), errorCode(err)
	}
	return Response{Success: true, Analysis: &res}, http.StatusOK
}

func (g *Gateway) opAnalyzeMultimodal(ctx context.Context, p multimodalPayload) (Response, int) {
	images, err := g.validator.DecodeImages(p.Images)
	if err != nil {
		return errResponse(err), errorCode(err)
	}
	audios, err := g.validator.DecodeAudios(p.Audios)
	if err != nil {
		return errResponse(err), errorCode(err)
	}
	res, err := g.service().Analyze(ctx, analysis.Request{Text: p.Text, Images: images, Audios: audios})
	if err != nil {
		return errResponse(err), errorCode(err)
	}
	return Response{Success: true, Analysis: &res}, http.StatusOK
}

func (g *Gateway) opGenerate(ctx context.Context, p generatePayload) (Response, int) {
	gen, err := g.service().Generate(ctx, p.Prompt, p.SystemPrompt)
	if err != nil {
		return errResponse(err), errorCode(err)
	}
	return Response{Success: true, Response: &gen}, http.StatusOK
}
