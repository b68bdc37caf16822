package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Generate text with the active provider",
	Long: `Send a freeform prompt to whichever provider is active and print the
response.

Examples:
  repguardctl generate "rewrite this to be firm but professional: ..."

  repguardctl generate --system "You are a calm editor" "soften this reply"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerate,
}

var generateSystem string

func init() {
	generateCmd.Flags().StringVar(&generateSystem, "system", "", "System prompt")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	prompt := strings.Join(args, " ")

	gen, err := newClient().Generate(cmd.Context(), prompt, generateSystem)
	if err != nil {
		return err
	}

	fmt.Println(gen.Text)
	fmt.Fprintf(cmd.ErrOrStderr(), "\n[%s/%s]\n", gen.Provider, gen.Model)
	return nil
}
