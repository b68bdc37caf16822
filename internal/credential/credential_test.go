package credential

import (
	"encoding/base64"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
)

const testPassphrase = "correct horse battery staple"

func TestVaultRoundTrip(t *testing.T) {
	v, err := NewVault(testPassphrase, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}

	sealed, err := v.Seal("AIzaSyC9-example-key-4821z123")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if sealed == "" || strings.Contains(sealed, "example-key") {
		t.Fatalf("sealed output leaks plaintext: %q", sealed)
	}

	opened, err := v.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened != "AIzaSyC9-example-key-4821z123" {
		t.Errorf("round trip mismatch: %q", opened)
	}
}

func TestVaultSealsDiffer(t *testing.T) {
	v, _ := NewVault(testPassphrase, zaptest.NewLogger(t))
	a, _ := v.Seal("same-plaintext-here")
	b, _ := v.Seal("same-plaintext-here")
	if a == b {
		t.Error("two seals of the same plaintext must differ")
	}
}

func TestVaultEmptyPassthrough(t *testing.T) {
	v, _ := NewVault(testPassphrase, zaptest.NewLogger(t))
	if sealed, err := v.Seal(""); err != nil || sealed != "" {
		t.Errorf("Seal(\"\") = %q, %v", sealed, err)
	}
	if opened, err := v.Open(""); err != nil || opened != "" {
		t.Errorf("Open(\"\") = %q, %v", opened, err)
	}
}

func TestVaultRejectsShortPassphrase(t *testing.T) {
	if _, err := NewVault("too short", zaptest.NewLogger(t)); err == nil {
		t.Error("short passphrase accepted")
	}
}

func TestVaultWrongPassphraseFails(t *testing.T) {
	v1, _ := NewVault(testPassphrase, zaptest.NewLogger(t))
	v2, _ := NewVault("a completely different phrase", zaptest.NewLogger(t))

	sealed, err := v1.Seal("secret-value")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := v2.Open(sealed); err == nil {
		t.Error("open with wrong passphrase succeeded")
	}
}

func TestVaultDetectsTampering(t *testing.T) {
	v, _ := NewVault(testPassphrase, zaptest.NewLogger(t))
	sealed, err := v.Seal("secret-value")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	blob, _ := base64.StdEncoding.DecodeString(sealed)
	blob[len(blob)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(blob)

	if _, err := v.Open(tampered); err == nil {
		t.Error("tampered ciphertext opened cleanly")
	}
}

func TestLoadOrCreatePassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "vault.key")

	first, err := LoadOrCreatePassphrase(path)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	if len(first) != 64 {
		t.Errorf("generated passphrase length = %d, want 64 hex chars", len(first))
	}

	second, err := LoadOrCreatePassphrase(path)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if second != first {
		t.Error("reload returned a different passphrase")
	}
}

func TestMask(t *testing.T) {
	cases := []struct {
		key  string
		want string
	}{
		{"", "***"},
		{"short", "***"},
		{"12345678", "***"},
		{"123456789012", "1234...9012"},
		{"AIzaSyC9ExampleKeyWithRealisticLength123", "AIzaSyC9...h123"},
	}
	for _, tc := range cases {
		if got := Mask(tc.key); got != tc.want {
			t.Errorf("Mask(%q) = %q, want %q", tc.key, got, tc.want)
		}
	}
}

func TestRedact(t *testing.T) {
	cases := []struct {
		name  string
		input string
		leak  string
	}{
		{"header form", "request failed: x-goog-api-key: AIzaSyC9secret", "AIzaSyC9secret"},
		{"query param", "POST https://example.com/v1/models?key=AIzaSyC9secret: 400", "AIzaSyC9secret"},
		{"key-value", "config apiKey=AIzaSyC9secret rejected", "AIzaSyC9secret"},
		{"bearer", "auth: Bearer abc.def.ghi rejected", "abc.def.ghi"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Redact(tc.input)
			if strings.Contains(got, tc.leak) {
				t.Errorf("Redact left credential in place: %q", got)
			}
			if !strings.Contains(got, "[REDACTED]") {
				t.Errorf("no redaction marker in %q", got)
			}
		})
	}
}

func TestRedactKey(t *testing.T) {
	key := "AIzaSyC9ExampleKeyWithRealisticLength123"
	msg := "Get https://host/path: used key " + key + " twice: " + key
	got := RedactKey(msg, key)
	if strings.Contains(got, key) {
		t.Errorf("full key survived redaction: %q", got)
	}
	if !strings.Contains(got, Mask(key)) {
		t.Errorf("masked form missing from %q", got)
	}
	if RedactKey(msg, "") != msg {
		t.Error("empty key must leave message untouched")
	}
}
