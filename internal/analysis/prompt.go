package analysis

import "strings"

// analysisSystemPrompt pins the response schema. Field names here must match
// resultSchema exactly; the normalizer rejects anything else.
const analysisSystemPrompt = `You are a reputation analysis assistant. Analyze the provided text and respond with a single JSON object and nothing else. Do not wrap the JSON in markdown fences.

The JSON object must contain exactly these fields:
- "sentiment": one of "positive", "neutral", "negative"
- "sentimentScore": integer 0-100, where 0 is most negative and 100 is most positive
- "clarity": one of "clear", "moderate", "unclear"
- "clarityNotes": short explanation of the clarity rating
- "reputationRisk": one of "low", "medium", "high"
- "riskFactors": array of strings naming specific reputation risks found
- "suggestions": array of strings with concrete improvements
- "imageAnalysis": string describing any attached images, or "" when there are none`

// imageComparisonPrompt is appended when the request carries images. The
// mismatch rule lives in the prompt: the model is told to raise the risk
// rating itself, there is no post-hoc adjustment in code.
const imageComparisonPrompt = `

One or more images are attached. For each image, describe its main subject in "imageAnalysis". Compare the image content against the topic of the text: if an image does not match what the text claims to show, set "reputationRisk" to at least "medium" and name the mismatch in "riskFactors".`

// BuildAnalysisPrompt returns the system and user prompts for an analysis
// request. The system prompt is fixed apart from the image block; request
// text is passed through as the user prompt untouched.
func BuildAnalysisPrompt(req Request) (systemPrompt, userPrompt string) {
	var b strings.Builder
	b.WriteString(analysisSystemPrompt)
	if len(req.Images) > 0 {
		b.WriteString(imageComparisonPrompt)
	}
	return b.String(), req.Text
}
