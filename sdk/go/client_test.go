package repguard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// fakeSidecar records the last request and replies with a canned body.
type fakeSidecar struct {
	status int
	body   string

	lastMethod string
	lastPath   string
	lastQuery  string
	lastBody   []byte
}

func (f *fakeSidecar) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.lastMethod = r.Method
		f.lastPath = r.URL.Path
		f.lastQuery = r.URL.RawQuery
		f.lastBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		w.Write([]byte(f.body))
	}
}

func newFakeClient(t *testing.T, status int, body string) (*Client, *fakeSidecar) {
	t.Helper()
	fake := &fakeSidecar{status: status, body: body}
	ts := httptest.NewServer(fake.handler())
	t.Cleanup(ts.Close)
	client := NewClient(ClientConfig{BaseURL: ts.URL, Timeout: 5 * time.Second})
	return client, fake
}

func TestStatus(t *testing.T) {
	client, fake := newFakeClient(t, http.StatusOK,
		`{"success":true,"status":{"activeProvider":"ondevice","available":true,"hasCloudCredential":false,"isReprobing":false}}`)

	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if fake.lastMethod != "GET" || fake.lastPath != "/api/v1/status" {
		t.Errorf("unexpected request %s %s", fake.lastMethod, fake.lastPath)
	}
	if status.ActiveProvider != "ondevice" || !status.Available {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestSetCredential(t *testing.T) {
	client, fake := newFakeClient(t, http.StatusOK,
		`{"success":true,"status":{"activeProvider":"cloud","available":true,"hasCloudCredential":true,"isReprobing":true}}`)

	status, err := client.SetCredential(context.Background(), "test-key-123")
	if err != nil {
		t.Fatalf("SetCredential returned error: %v", err)
	}
	if fake.lastMethod != "POST" || fake.lastPath != "/api/v1/credential" {
		t.Errorf("unexpected request %s %s", fake.lastMethod, fake.lastPath)
	}

	var sent CredentialRequest
	if err := json.Unmarshal(fake.lastBody, &sent); err != nil {
		t.Fatalf("request body did not parse: %v", err)
	}
	if sent.Key != "test-key-123" {
		t.Errorf("sent key = %q, want test-key-123", sent.Key)
	}
	if !status.HasCloudCredential || !status.IsReprobing {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestReset(t *testing.T) {
	client, fake := newFakeClient(t, http.StatusOK,
		`{"success":true,"status":{"activeProvider":"ondevice","available":true}}`)

	status, err := client.Reset(context.Background())
	if err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	if fake.lastPath != "/api/v1/reset" {
		t.Errorf("unexpected path %s", fake.lastPath)
	}
	if status.ActiveProvider != "ondevice" {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestAnalyze(t *testing.T) {
	client, fake := newFakeClient(t, http.StatusOK,
		`{"success":true,"analysis":{"sentiment":"negative","sentimentScore":20,"clarity":"clear","clarityNotes":"","reputationRisk":"high","riskFactors":["personal attack"],"suggestions":["Soften the wording"],"provider":"ondevice","model":"llama3.2:3b"}}`)

	analysis, err := client.Analyze(context.Background(), "you are an idiot")
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if fake.lastPath != "/api/v1/analyze" {
		t.Errorf("unexpected path %s", fake.lastPath)
	}

	var sent AnalyzeRequest
	if err := json.Unmarshal(fake.lastBody, &sent); err != nil {
		t.Fatalf("request body did not parse: %v", err)
	}
	if sent.Text != "you are an idiot" {
		t.Errorf("sent text = %q", sent.Text)
	}
	if len(sent.Images) != 0 || len(sent.Audios) != 0 {
		t.Errorf("text-only request carried media: %+v", sent)
	}

	if analysis.Sentiment != "negative" || analysis.ReputationRisk != "high" {
		t.Errorf("unexpected analysis: %+v", analysis)
	}
	if analysis.Provider != "ondevice" || analysis.Model != "llama3.2:3b" {
		t.Errorf("unexpected attribution: %+v", analysis)
	}
}

func TestAnalyzeMedia(t *testing.T) {
	client, fake := newFakeClient(t, http.StatusOK,
		`{"success":true,"analysis":{"sentiment":"neutral","sentimentScore":50,"clarity":"moderate","reputationRisk":"low","imageAnalysis":"screenshot of a tweet","provider":"cloud","model":"gemini-2.0-flash"}}`)

	req := &AnalyzeRequest{
		Text:   "what about this screenshot",
		Images: []MediaPart{{Data: "aGVsbG8=", MIMEType: "image/png", Name: "shot.png"}},
	}
	analysis, err := client.AnalyzeMedia(context.Background(), req)
	if err != nil {
		t.Fatalf("AnalyzeMedia returned error: %v", err)
	}
	if fake.lastPath != "/api/v1/analyze/multimodal" {
		t.Errorf("unexpected path %s", fake.lastPath)
	}

	var sent AnalyzeRequest
	if err := json.Unmarshal(fake.lastBody, &sent); err != nil {
		t.Fatalf("request body did not parse: %v", err)
	}
	if len(sent.Images) != 1 || sent.Images[0].MIMEType != "image/png" {
		t.Errorf("image did not round-trip: %+v", sent)
	}
	if analysis.ImageAnalysis == "" {
		t.Error("expected imageAnalysis to be populated")
	}
}

func TestGenerate(t *testing.T) {
	client, fake := newFakeClient(t, http.StatusOK,
		`{"success":true,"response":{"text":"Here is a calmer rewrite.","provider":"cloud","model":"gemini-2.0-flash"}}`)

	gen, err := client.Generate(context.Background(), "rewrite this", "be professional")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	var sent GenerateRequest
	if err := json.Unmarshal(fake.lastBody, &sent); err != nil {
		t.Fatalf("request body did not parse: %v", err)
	}
	if sent.Prompt != "rewrite this" || sent.SystemPrompt != "be professional" {
		t.Errorf("unexpected request: %+v", sent)
	}
	if gen.Text == "" || gen.Provider != "cloud" {
		t.Errorf("unexpected generation: %+v", gen)
	}
}

func TestHistory(t *testing.T) {
	client, fake := newFakeClient(t, http.StatusOK,
		`{"success":true,"entries":[{"id":"abc","text":"draft one","result":{"sentiment":"neutral","sentimentScore":50,"reputationRisk":"low","provider":"ondevice","model":"llama3.2:3b"},"createdAt":"2026-08-24T10:00:00Z"}]}`)

	entries, err := client.History(context.Background(), 5)
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if fake.lastPath != "/api/v1/history" || fake.lastQuery != "n=5" {
		t.Errorf("unexpected request %s?%s", fake.lastPath, fake.lastQuery)
	}
	if len(entries) != 1 || entries[0].ID != "abc" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if entries[0].Result.Provider != "ondevice" {
		t.Errorf("nested result did not decode: %+v", entries[0].Result)
	}
	if entries[0].CreatedAt.IsZero() {
		t.Error("createdAt did not decode")
	}

	// n <= 0 omits the query parameter.
	if _, err := client.History(context.Background(), 0); err != nil {
		t.Fatalf("History(0) returned error: %v", err)
	}
	if fake.lastQuery != "" {
		t.Errorf("History(0) sent query %q", fake.lastQuery)
	}
}

func TestSearchHistory(t *testing.T) {
	client, fake := newFakeClient(t, http.StatusOK, `{"success":true,"entries":[]}`)

	if _, err := client.SearchHistory(context.Background(), "fired", 10); err != nil {
		t.Fatalf("SearchHistory returned error: %v", err)
	}
	if fake.lastPath != "/api/v1/history/search" {
		t.Errorf("unexpected path %s", fake.lastPath)
	}
	if fake.lastQuery != "limit=10&q=fired" {
		t.Errorf("unexpected query %q", fake.lastQuery)
	}
}

func TestAPIErrorUnwrapsEnvelope(t *testing.T) {
	client, _ := newFakeClient(t, http.StatusServiceUnavailable,
		`{"success":false,"error":"no provider available: install the on-device runtime or configure a cloud API key"}`)

	_, err := client.Analyze(context.Background(), "anything")
	if err == nil {
		t.Fatal("expected an error for a 503 response")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", apiErr.StatusCode)
	}
	if apiErr.Message != "no provider available: install the on-device runtime or configure a cloud API key" {
		t.Errorf("Message = %q, want the envelope error", apiErr.Message)
	}
}

func TestAPIErrorFallsBackToRawBody(t *testing.T) {
	client, _ := newFakeClient(t, http.StatusBadGateway, "upstream exploded")

	_, err := client.Status(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Message != "upstream exploded" {
		t.Errorf("Message = %q, want raw body", apiErr.Message)
	}
}

func TestHealthy(t *testing.T) {
	client, fake := newFakeClient(t, http.StatusOK, `{"status":"healthy"}`)

	if err := client.Healthy(context.Background()); err != nil {
		t.Fatalf("Healthy returned error: %v", err)
	}
	if fake.lastPath != "/healthz" {
		t.Errorf("unexpected path %s", fake.lastPath)
	}

	fake.status = http.StatusServiceUnavailable
	if err := client.Healthy(context.Background()); err == nil {
		t.Error("expected an error when the sidecar reports unhealthy")
	}
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(ClientConfig{})
	if client.baseURL != DefaultBaseURL {
		t.Errorf("baseURL = %q, want %q", client.baseURL, DefaultBaseURL)
	}
	if client.httpClient.Timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", client.httpClient.Timeout)
	}
}
