package credential

import (
	"regexp"
	"strings"
)

// Patterns that could smuggle a credential into a log line or client-facing
// error. Provider errors often echo the failing request, including headers
// and query strings.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)api[_-]?key\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)x-goog-api-key:\s*\S+`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`),
	regexp.MustCompile(`(?i)[?&]key=[A-Za-z0-9\-_]+`),
	regexp.MustCompile(`(?i)token\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)secret\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)passphrase\s*[:=]\s*\S+`),
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Redact removes credential-shaped content from a string before it is logged
// or returned to a client.
func Redact(input string) string {
	if input == "" {
		return ""
	}
	result := input
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(result, " "))
}

// RedactError is Redact for error values; nil redacts to "".
func RedactError(err error) string {
	if err == nil {
		return ""
	}
	return Redact(err.Error())
}

// RedactKey replaces every literal occurrence of key in message with its
// masked form. Use when a known credential may appear verbatim, such as in a
// request URL echoed back by an HTTP error.
func RedactKey(message, key string) string {
	if key == "" {
		return message
	}
	return strings.ReplaceAll(message, key, Mask(key))
}
