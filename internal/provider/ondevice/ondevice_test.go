package ondevice

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/repguard/internal/jsonx"
	"github.com/repguard/internal/media"
	"github.com/repguard/internal/provider"
)

// fakeRuntime stands in for a local Ollama instance.
type fakeRuntime struct {
	models    []string
	chatDelay time.Duration
	lastChat  chatRequest
	unloads   int
}

func (f *fakeRuntime) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		type m struct {
			Name string `json:"name"`
		}
		models := make([]m, 0, len(f.models))
		for _, name := range f.models {
			models = append(models, m{Name: name})
		}
		data, _ := jsonx.Marshal(map[string]interface{}{"models": models})
		w.Write(data)
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		if f.chatDelay > 0 {
			time.Sleep(f.chatDelay)
		}
		var req chatRequest
		if err := jsonx.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.lastChat = req
		resp := chatResponse{Model: req.Model, Done: true}
		resp.Message.Role = "assistant"
		resp.Message.Content = "OK"
		data, _ := jsonx.Marshal(resp)
		w.Write(data)
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		f.unloads++
		w.Write([]byte(`{"done":true}`))
	})
	return mux
}

func newTestRuntime(t *testing.T, f *fakeRuntime) (*Runtime, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.Model = "gemma3:4b"
	return NewRuntime(cfg, zaptest.NewLogger(t)), srv
}

func TestDetect(t *testing.T) {
	t.Run("model present", func(t *testing.T) {
		rt, _ := newTestRuntime(t, &fakeRuntime{models: []string{"gemma3:4b"}})
		report := rt.Detect(context.Background())
		if report.Availability != provider.Available {
			t.Errorf("availability = %q, want %q (%s)", report.Availability, provider.Available, report.Detail)
		}
		if !report.Usable() {
			t.Error("Available report should be usable")
		}
	})

	t.Run("latest tag counts as present", func(t *testing.T) {
		fake := &fakeRuntime{models: []string{"llava:latest"}}
		srv := httptest.NewServer(fake.handler())
		defer srv.Close()

		cfg := DefaultConfig()
		cfg.BaseURL = srv.URL
		cfg.Model = "llava"
		rt := NewRuntime(cfg, zaptest.NewLogger(t))
		if report := rt.Detect(context.Background()); report.Availability != provider.Available {
			t.Errorf("availability = %q, want available", report.Availability)
		}
	})

	t.Run("model missing means after_download", func(t *testing.T) {
		rt, _ := newTestRuntime(t, &fakeRuntime{models: []string{"nomic-embed-text"}})
		report := rt.Detect(context.Background())
		if report.Availability != provider.AfterDownload {
			t.Errorf("availability = %q, want %q", report.Availability, provider.AfterDownload)
		}
		if report.Usable() {
			t.Error("after_download must not be usable")
		}
	})

	t.Run("runtime unreachable", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.BaseURL = "http://127.0.0.1:1" // nothing listens here
		rt := NewRuntime(cfg, zaptest.NewLogger(t))
		if report := rt.Detect(context.Background()); report.Availability != provider.Unavailable {
			t.Errorf("availability = %q, want unavailable", report.Availability)
		}
	})

	t.Run("disabled means unsupported", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Enabled = false
		rt := NewRuntime(cfg, zaptest.NewLogger(t))
		if report := rt.Detect(context.Background()); report.Availability != provider.Unsupported {
			t.Errorf("availability = %q, want unsupported", report.Availability)
		}
	})

	t.Run("slow runtime is a bounded failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(500 * time.Millisecond)
		}))
		defer srv.Close()

		cfg := DefaultConfig()
		cfg.BaseURL = srv.URL
		cfg.CapabilityTimeout = 50 * time.Millisecond
		rt := NewRuntime(cfg, zaptest.NewLogger(t))

		start := time.Now()
		report := rt.Detect(context.Background())
		if report.Availability != provider.Unavailable {
			t.Errorf("availability = %q, want unavailable", report.Availability)
		}
		if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
			t.Errorf("probe took %v, should be bounded by the capability timeout", elapsed)
		}
	})
}

func TestOpenAndComplete(t *testing.T) {
	fake := &fakeRuntime{models: []string{"gemma3:4b"}}
	rt, _ := newTestRuntime(t, fake)

	session, err := rt.Open(context.Background())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if session.Kind() != provider.KindOnDevice {
		t.Errorf("Kind = %q", session.Kind())
	}
	if session.Model() != "gemma3:4b" {
		t.Errorf("Model = %q", session.Model())
	}
	if !session.SupportsImages() {
		t.Error("default config should support images")
	}

	text, err := session.Complete(context.Background(), "You are a reviewer.", "Check this draft.", nil)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != "OK" {
		t.Errorf("Complete = %q", text)
	}
	combined := fake.lastChat.Messages[0].Content
	if combined != "You are a reviewer."+promptSeparator+"Check this draft." {
		t.Errorf("combined prompt = %q", combined)
	}
}

func TestOpenTimesOutAgainstColdRuntime(t *testing.T) {
	fake := &fakeRuntime{models: []string{"gemma3:4b"}, chatDelay: 2 * time.Second}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.SessionTimeout = 100 * time.Millisecond
	rt := NewRuntime(cfg, zaptest.NewLogger(t))

	start := time.Now()
	if _, err := rt.Open(context.Background()); err == nil {
		t.Fatal("expected warmup timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Open took %v, should be bounded by the session timeout", elapsed)
	}
}

func TestCompleteAttachesImagesInOrder(t *testing.T) {
	fake := &fakeRuntime{models: []string{"gemma3:4b"}}
	rt, _ := newTestRuntime(t, fake)

	session, err := rt.Open(context.Background())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	images := []media.Image{
		{Data: []byte("first-image"), MIMEType: "image/png"},
		{Data: []byte("second-image"), MIMEType: "image/jpeg"},
	}
	if _, err := session.Complete(context.Background(), "", "compare", images); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	got := fake.lastChat.Messages[0].Images
	if len(got) != 2 {
		t.Fatalf("expected 2 image parts, got %d", len(got))
	}
	for i, img := range images {
		want := base64.StdEncoding.EncodeToString(img.Data)
		if got[i] != want {
			t.Errorf("image[%d] = %q, want %q", i, got[i], want)
		}
	}
}

func TestReleasedSessionRejectsRequests(t *testing.T) {
	fake := &fakeRuntime{models: []string{"gemma3:4b"}}
	rt, _ := newTestRuntime(t, fake)

	session, err := rt.Open(context.Background())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	session.Release()
	session.Release() // idempotent
	if fake.unloads != 1 {
		t.Errorf("expected exactly one unload call, got %d", fake.unloads)
	}

	if _, err := session.Complete(context.Background(), "", "text", nil); err == nil {
		t.Error("released session should reject Complete")
	}
}
