package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/repguard/internal/transcript"
	repguard "github.com/repguard/sdk/go"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [file]",
	Short: "Run a reputation analysis over text, a file, or a transcript",
	Long: `Analyze text before it goes out. Reads from a file, or from stdin when
the argument is "-" or missing. Meeting transcripts (.txt, .srt, .vtt)
are stripped down to their spoken lines first.

Examples:
  # Analyze a draft from stdin
  echo "whoever wrote this should be fired" | repguardctl analyze

  # Analyze a meeting transcript
  repguardctl analyze standup.vtt

  # Watch a directory and analyze every transcript dropped into it
  repguardctl analyze --watch ~/recordings`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

var (
	analyzeJSON  bool
	analyzeWatch string
)

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the raw analysis as JSON")
	analyzeCmd.Flags().StringVar(&analyzeWatch, "watch", "", "Watch a directory and analyze new transcripts")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if analyzeWatch != "" {
		return watchAndAnalyze(analyzeWatch)
	}

	text, err := readInput(args)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("nothing to analyze")
	}

	analysis, err := newClient().Analyze(cmd.Context(), text)
	if err != nil {
		return err
	}

	return printAnalysis(analysis)
}

// readInput resolves the analyze argument: stdin for "-" or no argument,
// transcript extraction for recognized transcript files, raw contents
// otherwise.
func readInput(args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}

	path := args[0]
	if transcript.IsTranscript(path) {
		return transcript.Load(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

func watchAndAnalyze(dir string) error {
	client := newClient()

	handler := func(ctx context.Context, path string) error {
		text, err := transcript.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			return nil
		}
		if strings.TrimSpace(text) == "" {
			return nil
		}

		analysis, err := client.Analyze(ctx, text)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			return nil
		}

		fmt.Printf("\n=== %s ===\n", path)
		return printAnalysis(analysis)
	}

	watcher, err := transcript.NewWatcher(dir, handler, zap.NewNop())
	if err != nil {
		return err
	}
	defer watcher.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("Watching %s for transcripts (Ctrl-C to stop)...\n", dir)
	if err := watcher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func printAnalysis(a *repguard.Analysis) error {
	if analyzeJSON {
		data, err := json.MarshalIndent(a, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Sentiment:  %s (%d/100)\n", a.Sentiment, a.SentimentScore)
	fmt.Printf("Clarity:    %s\n", a.Clarity)
	if a.ClarityNotes != "" {
		fmt.Printf("            %s\n", a.ClarityNotes)
	}
	fmt.Printf("Risk:       %s\n", a.ReputationRisk)
	if len(a.RiskFactors) > 0 {
		fmt.Println("Risk factors:")
		for _, f := range a.RiskFactors {
			fmt.Printf("  - %s\n", f)
		}
	}
	if len(a.Suggestions) > 0 {
		fmt.Println("Suggestions:")
		for _, s := range a.Suggestions {
			fmt.Printf("  - %s\n", s)
		}
	}
	if a.ImageAnalysis != "" {
		fmt.Printf("Images:     %s\n", a.ImageAnalysis)
	}
	fmt.Printf("Provider:   %s/%s\n", a.Provider, a.Model)
	return nil
}
