package cloud

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/repguard/internal/jsonx"
	"github.com/repguard/internal/media"
	"github.com/repguard/internal/provider"
)

func candidateBody(text string) string {
	resp := map[string]interface{}{
		"candidates": []map[string]interface{}{
			{"content": map[string]interface{}{
				"parts": []map[string]string{{"text": text}},
			}},
		},
	}
	data, _ := jsonx.Marshal(resp)
	return string(data)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(Config{Endpoint: srv.URL, Model: "gemini-2.0-flash", APIKey: "test-key-123456"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return client
}

func TestNewRequiresCredential(t *testing.T) {
	if _, err := New(Config{}, nil); !errors.Is(err, ErrMissingCredential) {
		t.Errorf("expected ErrMissingCredential, got %v", err)
	}
}

func TestCompleteParsesFirstTextPart(t *testing.T) {
	var gotPath, gotKey string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		io.WriteString(w, candidateBody(`{"sentiment":"positive"}`))
	})

	text, err := client.Complete(context.Background(), "system", "user text", nil)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != `{"sentiment":"positive"}` {
		t.Errorf("text = %q", text)
	}
	if gotPath != "/v1beta/models/gemini-2.0-flash:generateContent" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "test-key-123456" {
		t.Errorf("api key header = %q", gotKey)
	}
}

func TestCompleteSendsImagesInOrder(t *testing.T) {
	var gotReq generateRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := jsonx.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		io.WriteString(w, candidateBody("ok"))
	})

	images := []media.Image{
		{Data: []byte("alpha"), MIMEType: "image/png"},
		{Data: []byte("beta"), MIMEType: "image/jpeg"},
	}
	if _, err := client.Complete(context.Background(), "sys", "compare these", images); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	parts := gotReq.Contents[0].Parts
	if len(parts) != 3 {
		t.Fatalf("expected text part + 2 inline parts, got %d", len(parts))
	}
	if !strings.Contains(parts[0].Text, "compare these") {
		t.Errorf("first part should be the combined prompt, got %q", parts[0].Text)
	}
	if parts[1].InlineData == nil || parts[2].InlineData == nil {
		t.Fatal("image parts missing inline_data")
	}
	if parts[1].InlineData.MIMEType != "image/png" ||
		parts[1].InlineData.Data != base64.StdEncoding.EncodeToString([]byte("alpha")) {
		t.Errorf("first image part out of order: %+v", parts[1].InlineData)
	}
	if parts[2].InlineData.MIMEType != "image/jpeg" ||
		parts[2].InlineData.Data != base64.StdEncoding.EncodeToString([]byte("beta")) {
		t.Errorf("second image part out of order: %+v", parts[2].InlineData)
	}
	if gotReq.GenerationConfig.MaxOutputTokens != maxOutputTokens {
		t.Errorf("generation config not applied: %+v", gotReq.GenerationConfig)
	}
}

func TestCompleteNoTextIsHardError(t *testing.T) {
	t.Run("no candidates", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"candidates":[]}`)
		})
		_, err := client.Complete(context.Background(), "", "text", nil)
		assertRequestError(t, err)
	})

	t.Run("candidate without text part", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"candidates":[{"content":{"parts":[{}]}}]}`)
		})
		_, err := client.Complete(context.Background(), "", "text", nil)
		assertRequestError(t, err)
		if !errors.Is(err, ErrNoText) {
			t.Errorf("expected ErrNoText in chain, got %v", err)
		}
	})
}

func TestCompleteFallsBackToV1On404(t *testing.T) {
	var paths []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if strings.HasPrefix(r.URL.Path, "/v1beta/") {
			http.Error(w, "model not found", http.StatusNotFound)
			return
		}
		io.WriteString(w, candidateBody("from v1"))
	})

	text, err := client.Complete(context.Background(), "", "text", nil)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != "from v1" {
		t.Errorf("text = %q", text)
	}
	if len(paths) != 2 || !strings.HasPrefix(paths[1], "/v1/") {
		t.Errorf("expected v1beta then v1, got %v", paths)
	}
}

func TestCompleteAPIErrorSurfacesOnce(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"error":{"message":"API key not valid"}}`, http.StatusBadRequest)
	})

	_, err := client.Complete(context.Background(), "", "text", nil)
	assertRequestError(t, err)
	if calls != 1 {
		t.Errorf("client must not retry on non-404 errors, got %d calls", calls)
	}
}

func assertRequestError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var reqErr *provider.RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %T: %v", err, err)
	}
	if reqErr.Kind != provider.KindCloud {
		t.Errorf("error kind = %q", reqErr.Kind)
	}
}
