// Package transcript turns caption and transcript files into plain text fit
// for analysis. Timing lines, cue indices and markup carry no reputation
// signal and are stripped.
package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/valyala/bytebufferpool"
)

// ErrUnsupportedFormat reports a file extension no parser claims.
var ErrUnsupportedFormat = fmt.Errorf("unsupported transcript format")

var markupTags = regexp.MustCompile(`<[^>]*>`)

// IsTranscript reports whether the path has a supported extension.
func IsTranscript(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".srt", ".vtt":
		return true
	}
	return false
}

// Load reads and parses a transcript file by extension.
func Load(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read transcript: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		return ParseTXT(string(data)), nil
	case ".srt":
		return ParseSRT(string(data)), nil
	case ".vtt":
		return ParseVTT(string(data)), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// ParseTXT keeps content lines, dropping blanks and # comments.
func ParseTXT(content string) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	for _, line := range splitLines(content) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		writeLine(buf, trimmed)
	}
	return buf.String()
}

// ParseSRT extracts cue text, dropping sequence numbers and timing lines.
func ParseSRT(content string) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	for _, line := range splitLines(content) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.Contains(trimmed, "-->") {
			continue
		}
		if _, err := strconv.Atoi(trimmed); err == nil {
			continue
		}
		writeLine(buf, stripMarkup(trimmed))
	}
	return buf.String()
}

// ParseVTT extracts cue text, dropping the WEBVTT header, NOTE/STYLE/REGION
// blocks, timing lines and cue identifiers.
func ParseVTT(content string) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	lines := splitLines(content)
	inBlock := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			inBlock = false
			continue
		}
		if inBlock {
			continue
		}
		if strings.HasPrefix(trimmed, "WEBVTT") {
			continue
		}
		if strings.HasPrefix(trimmed, "NOTE") || strings.HasPrefix(trimmed, "STYLE") || strings.HasPrefix(trimmed, "REGION") {
			// Block runs until the next blank line.
			inBlock = true
			continue
		}
		if strings.Contains(trimmed, "-->") {
			continue
		}
		// A line immediately before a timing line is a cue identifier.
		if i+1 < len(lines) && strings.Contains(lines[i+1], "-->") {
			continue
		}
		writeLine(buf, stripMarkup(trimmed))
	}
	return buf.String()
}

func splitLines(content string) []string {
	return strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
}

func stripMarkup(line string) string {
	return strings.TrimSpace(markupTags.ReplaceAllString(line, ""))
}

func writeLine(buf *bytebufferpool.ByteBuffer, line string) {
	if line == "" {
		return
	}
	if buf.Len() > 0 {
		buf.WriteByte('\n')
	}
	buf.WriteString(line)
}
