// Package gateway exposes the analysis service over HTTP and WebSocket
// for local clients: the browser extension bridge, the CLI and anything
// else on the loopback interface. Every operation is reachable two
// ways: a typed REST route and the {type, payload} message envelope.
package gateway

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/repguard/internal/history"
	"github.com/repguard/internal/hybrid"
	"github.com/repguard/internal/jsonx"
	"github.com/repguard/internal/media"
)

// maxBodyBytes bounds request bodies; multimodal payloads carry base64
// media so the cap sits above the decoded media limits.
const maxBodyBytes = 64 << 20

// ServiceFactory rebuilds the hybrid service for RESET. The gateway
// never partially resets: the old service is torn down and a fresh one
// constructed and initialized in its place.
type ServiceFactory func() (*hybrid.Service, error)

// Gateway is the HTTP/WebSocket front of the sidecar.
type Gateway struct {
	logger    *zap.Logger
	validator *media.Validator
	recorder  *history.Recorder
	rebuild   ServiceFactory
	upgrader  websocket.Upgrader

	svcMu sync.RWMutex
	svc   *hybrid.Service

	connMu sync.Mutex
	conns  map[*wsConn]struct{}
}

// New wires the gateway to a service. recorder may be nil, which
// disables the history routes. rebuild may be nil, which disables
// RESET.
func New(svc *hybrid.Service, rebuild ServiceFactory, validator *media.Validator, recorder *history.Recorder, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		logger:    logger.Named("gateway"),
		validator: validator,
		recorder:  recorder,
		rebuild:   rebuild,
		svc:       svc,
		conns:     make(map[*wsConn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	svc.OnProviderChange(g.broadcastChange)
	return g
}

// SetupRoutes registers all routes and middleware on the router.
func (g *Gateway) SetupRoutes(r *mux.Router) {
	r.Use(g.loggingMiddleware)
	r.Use(mux.MiddlewareFunc(handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(g.logger)),
		handlers.PrintRecoveryStack(true),
	)))

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/message", g.handleMessage).Methods("POST")
	api.HandleFunc("/status", g.handleStatus).Methods("GET")
	api.HandleFunc("/credential", g.handleCredential).Methods("POST")
	api.HandleFunc("/reset", g.handleReset).Methods("POST")
	api.HandleFunc("/analyze", g.handleAnalyze).Methods("POST")
	api.HandleFunc("/analyze/multimodal", g.handleAnalyzeMultimodal).Methods("POST")
	api.HandleFunc("/generate", g.handleGenerate).Methods("POST")
	api.HandleFunc("/history", g.handleHistory).Methods("GET")
	api.HandleFunc("/history/search", g.handleHistorySearch).Methods("GET")

	r.HandleFunc("/healthz", g.handleHealthz).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/ws", g.handleWebSocket)
}

// service returns the current hybrid service; RESET swaps it.
func (g *Gateway) service() *hybrid.Service {
	g.svcMu.RLock()
	defer g.svcMu.RUnlock()
	return g.svc
}

// Close tears down whichever hybrid service is current. Shutdown goes
// through the gateway because RESET may have replaced the one the caller
// originally constructed.
func (g *Gateway) Close() {
	g.service().Cleanup()
}

func (g *Gateway) handleMessage(w http.ResponseWriter, r *http.Request) {
	var frame Frame
	if err := decodeBody(r, &frame); err != nil {
		writeJSON(w, http.StatusBadRequest, errResponse(err), g.logger)
		return
	}
	resp, code := g.dispatch(r.Context(), frame)
	writeJSON(w, code, resp, g.logger)
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, code := g.opStatus()
	writeJSON(w, code, resp, g.logger)
}

func (g *Gateway) handleCredential(w http.ResponseWriter, r *http.Request) {
	var p credentialPayload
	if err := decodeBody(r, &p); err != nil {
		writeJSON(w, http.StatusBadRequest, errResponse(err), g.logger)
		return
	}
	resp, code := g.opSetCredential(r.Context(), p)
	writeJSON(w, code, resp, g.logger)
}

func (g *Gateway) handleReset(w http.ResponseWriter, r *http.Request) {
	resp, code := g.opReset(r.Context())
	writeJSON(w, code, resp, g.logger)
}

func (g *Gateway) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var p analyzePayload
	if err := decodeBody(r, &p); err != nil {
		writeJSON(w, http.StatusBadRequest, errResponse(err), g.logger)
		return
	}
	resp, code := g.opAnalyze(r.Context(), p)
	writeJSON(w, code, resp, g.logger)
}

func (g *Gateway) handleAnalyzeMultimodal(w http.ResponseWriter, r *http.Request) {
	var p multimodalPayload
	if err := decodeBody(r, &p); err != nil {
		writeJSON(w, http.StatusBadRequest, errResponse(err), g.logger)
		return
	}
	resp, code := g.opAnalyzeMultimodal(r.Context(), p)
	writeJSON(w, code, resp, g.logger)
}

func (g *Gateway) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var p generatePayload
	if err := decodeBody(r, &p); err != nil {
		writeJSON(w, http.StatusBadRequest, errResponse(err), g.logger)
		return
	}
	resp, code := g.opGenerate(r.Context(), p)
	writeJSON(w, code, resp, g.logger)
}

func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	if g.recorder == nil {
		writeJSON(w, http.StatusServiceUnavailable, Response{Error: "history disabled"}, g.logger)
		return
	}
	n, _ := strconv.Atoi(r.URL.Query().Get("n"))
	writeJSON(w, http.StatusOK, historyResponse{Success: true, Entries: g.recorder.Recent(n)}, g.logger)
}

func (g *Gateway) handleHistorySearch(w http.ResponseWriter, r *http.Request) {
	if g.recorder == nil {
		writeJSON(w, http.StatusServiceUnavailable, Response{Error: "history disabled"}, g.logger)
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, Response{Error: "missing query parameter q"}, g.logger)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := g.recorder.Search(r.Context(), q, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errResponse(err), g.logger)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Success: true, Entries: entries}, g.logger)
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"}, g.logger)
}

func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := jsonx.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any, logger *zap.Logger) {
	data, err := jsonx.Marshal(v)
	if err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

// statusRecorder captures the response code for the request log. It
// forwards Hijack so the WebSocket upgrade keeps working behind the
// middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (g *Gateway) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		g.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote", r.RemoteAddr))
	})
}
