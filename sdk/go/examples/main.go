// Package main demonstrates using the RepGuard Go SDK
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	repguard "github.com/repguard/sdk/go"
)

func main() {
	// Create client against a locally running sidecar
	client := repguard.NewClient(repguard.ClientConfig{
		BaseURL: repguard.DefaultBaseURL,
		Timeout: 30 * time.Second,
	})

	ctx := context.Background()

	// Check which provider is serving
	status, err := client.Status(ctx)
	if err != nil {
		log.Fatalf("Status failed: %v", err)
	}
	fmt.Printf("Active provider: %s (available: %t)\n", status.ActiveProvider, status.Available)

	// Analyze a draft before posting it
	analysis, err := client.Analyze(ctx, "Honestly, whoever wrote this report should be fired.")
	if err != nil {
		log.Fatalf("Analyze failed: %v", err)
	}
	fmt.Printf("Sentiment: %s (%d/100), risk: %s\n", analysis.Sentiment, analysis.SentimentScore, analysis.ReputationRisk)
	for _, s := range analysis.Suggestions {
		fmt.Printf("  - %s\n", s)
	}

	// Rewrite it with the active provider
	gen, err := client.Generate(ctx, "Rewrite this to be firm but professional: whoever wrote this report should be fired.", "")
	if err != nil {
		log.Fatalf("Generate failed: %v", err)
	}
	fmt.Printf("Rewrite (%s/%s): %s\n", gen.Provider, gen.Model, gen.Text)

	// Look back over recent analyses
	entries, err := client.History(ctx, 5)
	if err != nil {
		log.Fatalf("History failed: %v", err)
	}
	fmt.Printf("Recent analyses: %d\n", len(entries))
	for _, e := range entries {
		fmt.Printf("  - [%s] %s\n", e.Result.ReputationRisk, e.Text)
	}
}
