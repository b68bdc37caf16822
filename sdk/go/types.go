// Package repguard provides types for the RepGuard sidecar Go SDK
package repguard

import "time"

// Status is the sidecar's provider status
type Status struct {
	ActiveProvider     string `json:"activeProvider"`
	Available          bool   `json:"available"`
	HasCloudCredential bool   `json:"hasCloudCredential"`
	IsReprobing        bool   `json:"isReprobing"`
}

// Analysis is a structured reputation analysis result
type Analysis struct {
	Sentiment      string   `json:"sentiment"`
	SentimentScore int      `json:"sentimentScore"`
	Clarity        string   `json:"clarity"`
	ClarityNotes   string   `json:"clarityNotes"`
	ReputationRisk string   `json:"reputationRisk"`
	RiskFactors    []string `json:"riskFactors"`
	Suggestions    []string `json:"suggestions"`
	ImageAnalysis  string   `json:"imageAnalysis,omitempty"`
	Provider       string   `json:"provider"`
	Model          string   `json:"model"`
	Raw            string   `json:"raw,omitempty"`
}

// Generation is a freeform completion with provider attribution
type Generation struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// MediaPart is one base64-encoded image or audio attachment
type MediaPart struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType,omitempty"`
	Name     string `json:"name,omitempty"`
}

// HistoryEntry is one recorded analysis
type HistoryEntry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Result    Analysis  `json:"result"`
	CreatedAt time.Time `json:"createdAt"`
}

// AnalyzeRequest is an analysis request
type AnalyzeRequest struct {
	Text   string      `json:"text"`
	Images []MediaPart `json:"images,omitempty"`
	Audios []MediaPart `json:"audios,omitempty"`
}

// CredentialRequest is a credential update request
type CredentialRequest struct {
	Key string `json:"key"`
}

// GenerateRequest is a freeform generation request
type GenerateRequest struct {
	Prompt       string `json:"prompt"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

type apiResponse struct {
	Success  bool        `json:"success"`
	Status   *Status     `json:"status,omitempty"`
	Analysis *Analysis   `json:"analysis,omitempty"`
	Response *Generation `json:"response,omitempty"`
	Error    string      `json:"error,omitempty"`
}

type historyResponse struct {
	Success bool           `json:"success"`
	Entries []HistoryEntry `json:"entries"`
	Error   string         `json:"error,omitempty"`
}
