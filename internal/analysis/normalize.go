package analysis

import (
	"strings"

	"github.com/repguard/internal/jsonx"
	"github.com/repguard/internal/provider"
)

// degradedSuggestion is the single suggestion carried by a degraded result.
const degradedSuggestion = "Unable to parse structured analysis"

// resultSchema is the exact shape requested from the model. Provider
// attribution is supplied by the caller, never by the model, so it is not
// part of the parseable schema; a model emitting extra keys fails the strict
// parse and takes the degraded path.
type resultSchema struct {
	Sentiment      string   `json:"sentiment"`
	SentimentScore *int     `json:"sentimentScore"`
	Clarity        string   `json:"clarity"`
	ClarityNotes   string   `json:"clarityNotes"`
	ReputationRisk string   `json:"reputationRisk"`
	RiskFactors    []string `json:"riskFactors"`
	Suggestions    []string `json:"suggestions"`
	ImageAnalysis  string   `json:"imageAnalysis"`
}

// Normalize turns a raw model text blob into a Result. It never fails: a
// malformed response degrades to a valid default result carrying the raw
// text, so a bad model answer can never crash a caller.
func Normalize(raw string, kind provider.Kind, model string) Result {
	cleaned := stripFences(raw)

	var parsed resultSchema
	if err := jsonx.UnmarshalStrict([]byte(cleaned), &parsed); err != nil {
		return degraded(raw, kind, model)
	}

	// Shallow merge: parsed fields win, absent fields take the defaults.
	// Out-of-enum and out-of-range values degrade field by field.
	res := Result{
		Sentiment:      coerceSentiment(parsed.Sentiment),
		SentimentScore: coerceScore(parsed.SentimentScore),
		Clarity:        coerceClarity(parsed.Clarity),
		ClarityNotes:   parsed.ClarityNotes,
		ReputationRisk: coerceRisk(parsed.ReputationRisk),
		RiskFactors:    orEmpty(parsed.RiskFactors),
		Suggestions:    orEmpty(parsed.Suggestions),
		ImageAnalysis:  parsed.ImageAnalysis,
		Provider:       kind,
		Model:          model,
	}
	return res
}

// degraded is the deliberate degrade-gracefully result: neutral scores, the
// raw text preserved verbatim, and a suggestion telling the reader why.
func degraded(raw string, kind provider.Kind, model string) Result {
	return Result{
		Sentiment:      SentimentNeutral,
		SentimentScore: 50,
		Clarity:        ClarityModerate,
		ClarityNotes:   raw,
		ReputationRisk: RiskLow,
		RiskFactors:    []string{},
		Suggestions:    []string{degradedSuggestion},
		Provider:       kind,
		Model:          model,
		Raw:            raw,
	}
}

// stripFences removes markdown code-fence wrappers and surrounding prose.
// Idempotent: applying it to already-clean JSON returns the same string.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		s = s[3:]
		// Drop a language identifier line ("json" etc).
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			first := strings.TrimSpace(s[:nl])
			if first == "json" || first == "JSON" || first == "" {
				s = s[nl+1:]
			}
		} else {
			s = strings.TrimPrefix(s, "json")
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		return strings.TrimSpace(s)
	}

	// No fence: models sometimes wrap the object in prose. Take the
	// outermost braces when present.
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return strings.TrimSpace(s[start : end+1])
	}
	return s
}

func coerceSentiment(v string) Sentiment {
	switch Sentiment(v) {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return Sentiment(v)
	default:
		return SentimentNeutral
	}
}

func coerceClarity(v string) Clarity {
	switch Clarity(v) {
	case ClarityClear, ClarityModerate, ClarityUnclear:
		return Clarity(v)
	default:
		return ClarityModerate
	}
}

func coerceRisk(v string) Risk {
	switch Risk(v) {
	case RiskLow, RiskMedium, RiskHigh:
		return Risk(v)
	default:
		return RiskLow
	}
}

func coerceScore(v *int) int {
	if v == nil || *v < 0 || *v > 100 {
		return 50
	}
	return *v
}

func orEmpty(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
