package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	repguard "github.com/repguard/sdk/go"
)

var historyCmd = &cobra.Command{
	Use:   "history [n]",
	Short: "List recent analyses",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

var historySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search past analyses",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runHistorySearch,
}

var historySearchLimit int

func init() {
	historySearchCmd.Flags().IntVar(&historySearchLimit, "limit", 10, "Maximum results")
	historyCmd.AddCommand(historySearchCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	n := 10
	if len(args) == 1 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil || parsed <= 0 {
			return fmt.Errorf("n must be a positive number, got %q", args[0])
		}
		n = parsed
	}

	entries, err := newClient().History(cmd.Context(), n)
	if err != nil {
		return err
	}

	printEntries(entries)
	return nil
}

func runHistorySearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	entries, err := newClient().SearchHistory(cmd.Context(), query, historySearchLimit)
	if err != nil {
		return err
	}

	printEntries(entries)
	return nil
}

func printEntries(entries []repguard.HistoryEntry) {
	if len(entries) == 0 {
		fmt.Println("No entries.")
		return
	}

	for _, e := range entries {
		fmt.Printf("%s  [%s risk, %s]  %s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
			e.Result.ReputationRisk,
			e.Result.Sentiment,
			truncate(e.Text, 80),
		)
	}
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
