// Package commands implements the repguardctl CLI.
package commands

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	repguard "github.com/repguard/sdk/go"
)

var (
	// Version is set at build time
	Version = "dev"

	flagAddr    string
	flagTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "repguardctl",
	Short: "repguardctl - control a running RepGuard sidecar",
	Long: `repguardctl talks to a locally running RepGuard sidecar: check which
provider is active, manage the cloud credential, and run reputation
analyses from the command line.

Use "repguardctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultAddr := os.Getenv("REPGUARD_ADDR")
	if defaultAddr == "" {
		defaultAddr = repguard.DefaultBaseURL
	}

	rootCmd.PersistentFlags().StringVar(&flagAddr, "addr", defaultAddr, "Sidecar base URL")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 3*time.Minute, "Request timeout")

	rootCmd.AddCommand(versionCmd)
}

// newClient builds an SDK client from the global flags.
func newClient() *repguard.Client {
	return repguard.NewClient(repguard.ClientConfig{
		BaseURL: flagAddr,
		Timeout: flagTimeout,
	})
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("repguardctl %s\n", Version)
	},
}
