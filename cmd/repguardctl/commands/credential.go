package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Manage the cloud API key",
}

var credentialSetCmd = &cobra.Command{
	Use:   "set [key]",
	Short: "Store a cloud API key in the sidecar",
	Long: `Store a cloud API key. The sidecar encrypts it at rest and uses it to
reach the cloud provider whenever the on-device runtime is unavailable.

With no argument the key is read from stdin, which keeps it out of
shell history:

  repguardctl credential set < key.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCredentialSet,
}

var credentialShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show whether a cloud credential is stored",
	RunE:  runCredentialShow,
}

var credentialClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored cloud API key",
	RunE:  runCredentialClear,
}

func init() {
	credentialCmd.AddCommand(credentialSetCmd)
	credentialCmd.AddCommand(credentialShowCmd)
	credentialCmd.AddCommand(credentialClearCmd)
	rootCmd.AddCommand(credentialCmd)
}

func runCredentialSet(cmd *cobra.Command, args []string) error {
	var key string
	if len(args) == 1 {
		key = args[0]
	} else {
		fmt.Fprint(os.Stderr, "API key: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read key: %w", err)
		}
		key = strings.TrimSpace(line)
	}
	if key == "" {
		return fmt.Errorf("key must not be empty; use \"credential clear\" to remove it")
	}

	status, err := newClient().SetCredential(cmd.Context(), key)
	if err != nil {
		return err
	}

	fmt.Println("Credential stored.")
	fmt.Printf("Provider: %s (available: %t)\n", status.ActiveProvider, status.Available)
	return nil
}

func runCredentialShow(cmd *cobra.Command, args []string) error {
	status, err := newClient().Status(cmd.Context())
	if err != nil {
		return err
	}

	// The sidecar never returns the key itself, only whether one exists.
	if status.HasCloudCredential {
		fmt.Println("A cloud credential is stored.")
	} else {
		fmt.Println("No cloud credential is stored.")
	}
	return nil
}

func runCredentialClear(cmd *cobra.Command, args []string) error {
	status, err := newClient().SetCredential(cmd.Context(), "")
	if err != nil {
		return err
	}

	fmt.Println("Credential cleared.")
	fmt.Printf("Provider: %s (available: %t)\n", status.ActiveProvider, status.Available)
	return nil
}
