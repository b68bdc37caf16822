package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which provider the sidecar is using",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	status, err := newClient().Status(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Provider:          %s\n", status.ActiveProvider)
	fmt.Printf("Available:         %t\n", status.Available)
	fmt.Printf("Cloud credential:  %s\n", yesNo(status.HasCloudCredential))
	if status.IsReprobing {
		fmt.Println("Re-probing:        yes (watching for the on-device runtime to come back)")
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
