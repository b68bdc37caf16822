package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Tear down the sidecar's provider service and rebuild it",
	Long: `Discard the sidecar's provider state and re-run detection from scratch.
Useful after installing the on-device runtime while the sidecar was
already running.`,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	status, err := newClient().Reset(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Println("Service rebuilt.")
	fmt.Printf("Provider: %s (available: %t)\n", status.ActiveProvider, status.Available)
	return nil
}
