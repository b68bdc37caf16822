package ondevice

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/repguard/internal/provider"
)

// TestOllamaIntegration exercises the real local runtime end to end.
// It requires a running Ollama with the configured model pulled.
// Set TEST_INTEGRATION=1 to run these tests.
func TestOllamaIntegration(t *testing.T) {
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Skipping integration test; set TEST_INTEGRATION=1 to run")
	}

	rt := NewRuntime(DefaultConfig(), zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	report := rt.Detect(ctx)
	if !report.Usable() {
		t.Fatalf("runtime not usable: %s (%s)", report.Availability, report.Detail)
	}
	assert.Equal(t, provider.Available, report.Availability)

	t.Run("Open and Complete", func(t *testing.T) {
		session, err := rt.Open(ctx)
		if err != nil {
			t.Fatalf("Failed to open session: %v", err)
		}
		defer session.Release()

		assert.Equal(t, provider.KindOnDevice, session.Kind())
		assert.Equal(t, rt.Model(), session.Model())

		reply, err := session.Complete(ctx, "", "Respond with only the word PONG.", nil)
		if err != nil {
			t.Fatalf("Complete failed: %v", err)
		}
		assert.Contains(t, strings.ToUpper(reply), "PONG")
	})

	t.Run("Detect is repeatable", func(t *testing.T) {
		again := rt.Detect(ctx)
		assert.True(t, again.Usable())
	})
}
