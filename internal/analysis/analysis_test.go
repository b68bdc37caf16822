package analysis

import (
	"reflect"
	"strings"
	"testing"

	"github.com/repguard/internal/media"
	"github.com/repguard/internal/provider"
)

const fullResponse = `{"sentiment":"positive","sentimentScore":95,"clarity":"clear","clarityNotes":"Well structured","reputationRisk":"low","riskFactors":[],"suggestions":["Keep it up"],"imageAnalysis":""}`

func TestNormalizeCleanJSON(t *testing.T) {
	res := Normalize(fullResponse, provider.KindCloud, "gemini-2.0-flash")

	if res.Sentiment != SentimentPositive {
		t.Errorf("sentiment = %q, want positive", res.Sentiment)
	}
	if res.SentimentScore != 95 {
		t.Errorf("sentimentScore = %d, want 95", res.SentimentScore)
	}
	if res.Clarity != ClarityClear {
		t.Errorf("clarity = %q, want clear", res.Clarity)
	}
	if res.ClarityNotes != "Well structured" {
		t.Errorf("clarityNotes = %q", res.ClarityNotes)
	}
	if res.ReputationRisk != RiskLow {
		t.Errorf("reputationRisk = %q, want low", res.ReputationRisk)
	}
	if len(res.Suggestions) != 1 || res.Suggestions[0] != "Keep it up" {
		t.Errorf("suggestions = %v", res.Suggestions)
	}
	if res.Provider != provider.KindCloud {
		t.Errorf("provider = %q, want cloud", res.Provider)
	}
	if res.Model != "gemini-2.0-flash" {
		t.Errorf("model = %q", res.Model)
	}
	if res.Raw != "" {
		t.Errorf("raw should be empty on a clean parse, got %q", res.Raw)
	}
}

func TestNormalizeFencedMatchesBare(t *testing.T) {
	variants := map[string]string{
		"json fence": "```json\n" + fullResponse + "\n```",
		"bare fence": "```\n" + fullResponse + "\n```",
		"prose wrap": "Here is the analysis:\n\n" + fullResponse + "\n\nHope this helps.",
		"whitespace": "\n\n  " + fullResponse + "  \n",
	}

	want := Normalize(fullResponse, provider.KindOnDevice, "gemma3:4b")
	for name, raw := range variants {
		t.Run(name, func(t *testing.T) {
			got := Normalize(raw, provider.KindOnDevice, "gemma3:4b")
			if !reflect.DeepEqual(got, want) {
				t.Errorf("wrapped response normalized differently:\ngot  %+v\nwant %+v", got, want)
			}
		})
	}
}

func TestStripFencesIdempotent(t *testing.T) {
	inputs := []string{
		fullResponse,
		"```json\n" + fullResponse + "\n```",
		"prefix {\"sentiment\":\"neutral\"} suffix",
		"no json here at all",
	}
	for _, in := range inputs {
		once := stripFences(in)
		twice := stripFences(once)
		if once != twice {
			t.Errorf("stripFences not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestNormalizeRefusalDegrades(t *testing.T) {
	raw := "I cannot comply."
	res := Normalize(raw, provider.KindOnDevice, "gemma3:4b")

	if res.Sentiment != SentimentNeutral {
		t.Errorf("sentiment = %q, want neutral", res.Sentiment)
	}
	if res.SentimentScore != 50 {
		t.Errorf("sentimentScore = %d, want 50", res.SentimentScore)
	}
	if res.Clarity != ClarityModerate {
		t.Errorf("clarity = %q, want moderate", res.Clarity)
	}
	if res.ClarityNotes != raw {
		t.Errorf("clarityNotes should carry the raw text verbatim, got %q", res.ClarityNotes)
	}
	if res.ReputationRisk != RiskLow {
		t.Errorf("reputationRisk = %q, want low", res.ReputationRisk)
	}
	if len(res.RiskFactors) != 0 || res.RiskFactors == nil {
		t.Errorf("riskFactors = %v, want empty non-nil slice", res.RiskFactors)
	}
	if len(res.Suggestions) != 1 || res.Suggestions[0] != degradedSuggestion {
		t.Errorf("suggestions = %v", res.Suggestions)
	}
	if res.Raw != raw {
		t.Errorf("raw = %q, want original text", res.Raw)
	}
}

func TestNormalizeUnknownFieldDegrades(t *testing.T) {
	// A model inventing fields is a malformed response, not a partial one.
	raw := `{"sentiment":"positive","confidence":0.9}`
	res := Normalize(raw, provider.KindCloud, "gemini-2.0-flash")
	if res.Raw == "" {
		t.Fatal("unknown field should take the degraded path")
	}
	if res.Sentiment != SentimentNeutral {
		t.Errorf("sentiment = %q, want neutral default", res.Sentiment)
	}
}

func TestNormalizePartialFieldsMergeDefaults(t *testing.T) {
	raw := `{"sentiment":"negative","suggestions":["Tone down the claims"]}`
	res := Normalize(raw, provider.KindCloud, "gemini-2.0-flash")

	if res.Raw != "" {
		t.Fatalf("partial but valid JSON must not degrade: %+v", res)
	}
	if res.Sentiment != SentimentNegative {
		t.Errorf("sentiment = %q, want negative", res.Sentiment)
	}
	if res.SentimentScore != 50 {
		t.Errorf("absent sentimentScore = %d, want default 50", res.SentimentScore)
	}
	if res.Clarity != ClarityModerate {
		t.Errorf("absent clarity = %q, want moderate", res.Clarity)
	}
	if res.ReputationRisk != RiskLow {
		t.Errorf("absent reputationRisk = %q, want low", res.ReputationRisk)
	}
	if res.RiskFactors == nil || len(res.RiskFactors) != 0 {
		t.Errorf("riskFactors = %v, want empty non-nil slice", res.RiskFactors)
	}
	if len(res.Suggestions) != 1 || res.Suggestions[0] != "Tone down the claims" {
		t.Errorf("suggestions = %v", res.Suggestions)
	}
}

func TestNormalizeCoercesBadValues(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		check func(t *testing.T, res Result)
	}{
		{
			name: "invalid sentiment enum",
			raw:  `{"sentiment":"angry"}`,
			check: func(t *testing.T, res Result) {
				if res.Sentiment != SentimentNeutral {
					t.Errorf("sentiment = %q, want neutral", res.Sentiment)
				}
			},
		},
		{
			name: "score above range",
			raw:  `{"sentimentScore":150}`,
			check: func(t *testing.T, res Result) {
				if res.SentimentScore != 50 {
					t.Errorf("score = %d, want 50", res.SentimentScore)
				}
			},
		},
		{
			name: "score below range",
			raw:  `{"sentimentScore":-3}`,
			check: func(t *testing.T, res Result) {
				if res.SentimentScore != 50 {
					t.Errorf("score = %d, want 50", res.SentimentScore)
				}
			},
		},
		{
			name: "zero score survives",
			raw:  `{"sentiment":"negative","sentimentScore":0}`,
			check: func(t *testing.T, res Result) {
				if res.SentimentScore != 0 {
					t.Errorf("score = %d, want 0 (absent and zero must differ)", res.SentimentScore)
				}
			},
		},
		{
			name: "invalid risk enum",
			raw:  `{"reputationRisk":"catastrophic"}`,
			check: func(t *testing.T, res Result) {
				if res.ReputationRisk != RiskLow {
					t.Errorf("risk = %q, want low", res.ReputationRisk)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Normalize(tc.raw, provider.KindOnDevice, "gemma3:4b")
			if res.Raw != "" {
				t.Fatalf("valid JSON with bad values must coerce, not degrade: %+v", res)
			}
			tc.check(t, res)
		})
	}
}

func TestBuildAnalysisPrompt(t *testing.T) {
	t.Run("text only", func(t *testing.T) {
		sys, user := BuildAnalysisPrompt(Request{Text: "Check this post."})
		if user != "Check this post." {
			t.Errorf("user prompt = %q", user)
		}
		for _, field := range []string{"sentiment", "sentimentScore", "clarity", "clarityNotes", "reputationRisk", "riskFactors", "suggestions", "imageAnalysis"} {
			if !strings.Contains(sys, `"`+field+`"`) {
				t.Errorf("system prompt missing field %q", field)
			}
		}
		if strings.Contains(sys, "images are attached") {
			t.Error("image block present without images")
		}
	})

	t.Run("with images", func(t *testing.T) {
		req := Request{
			Text:   "Photo of our new office.",
			Images: []media.Image{{Data: []byte{0x89}, MIMEType: "image/png"}},
		}
		sys, _ := BuildAnalysisPrompt(req)
		if !strings.Contains(sys, "images are attached") {
			t.Error("image block missing")
		}
		if !strings.Contains(sys, `"medium"`) {
			t.Error("mismatch escalation rule missing")
		}
	})
}

func TestRequestValidate(t *testing.T) {
	if err := (Request{}).Validate(); err != ErrEmptyText {
		t.Errorf("empty request: err = %v, want ErrEmptyText", err)
	}
	if err := (Request{Text: "   "}).Validate(); err != ErrEmptyText {
		t.Errorf("whitespace request: err = %v, want ErrEmptyText", err)
	}
	if err := (Request{Text: "fine"}).Validate(); err != nil {
		t.Errorf("valid request: err = %v", err)
	}
}
