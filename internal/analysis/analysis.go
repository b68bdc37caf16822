// Package analysis holds the fixed result schema shared by both providers,
// the prompt templates that request it, and the normalizer that turns raw
// model text into it.
package analysis

import (
	"errors"
	"strings"

	"github.com/repguard/internal/media"
	"github.com/repguard/internal/provider"
)

// Sentiment classifies the overall tone of the text.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Clarity classifies how readable the text is.
type Clarity string

const (
	ClarityClear    Clarity = "clear"
	ClarityModerate Clarity = "moderate"
	ClarityUnclear  Clarity = "unclear"
)

// Risk classifies the reputation exposure of publishing the text.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// ErrEmptyText rejects analysis requests without text.
var ErrEmptyText = errors.New("analysis text must not be empty")

// Request is one analysis call: required text plus ordered optional media.
// Audio parts are accepted but have no processing path in either provider.
type Request struct {
	Text   string
	Images []media.Image
	Audios []media.Audio
}

// Validate checks the request invariants. Whitespace-only text counts as
// empty.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyText
	}
	return nil
}

// Result is the fixed analysis schema. Every field except ImageAnalysis and
// Raw is always present; RiskFactors and Suggestions may be empty but never
// nil. The normalizer synthesizes defaults rather than omitting fields.
type Result struct {
	Sentiment      Sentiment     `json:"sentiment"`
	SentimentScore int           `json:"sentimentScore"`
	Clarity        Clarity       `json:"clarity"`
	ClarityNotes   string        `json:"clarityNotes"`
	ReputationRisk Risk          `json:"reputationRisk"`
	RiskFactors    []string      `json:"riskFactors"`
	Suggestions    []string      `json:"suggestions"`
	ImageAnalysis  string        `json:"imageAnalysis,omitempty"`
	Provider       provider.Kind `json:"provider"`
	Model          string        `json:"model"`
	// Raw keeps the unparsed model text when normalization degraded, for
	// diagnostics only.
	Raw string `json:"raw,omitempty"`
}

// Generation is the lower-level raw-text result of a generate call.
type Generation struct {
	Text     string        `json:"text"`
	Provider provider.Kind `json:"provider"`
	Model    string        `json:"model"`
}
