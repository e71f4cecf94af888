package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload configuration",
	Long: `Ask the daemon to reload its configuration file.

Only the log section takes effect without a restart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReload(cmd.Context(), GetClient(), cmd.OutOrStdout())
	},
}

// runReload is the command body, separated for tests.
func runReload(ctx context.Context, client ClientInterface, out io.Writer) error {
	if err := client.ConfigReload(ctx); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	fmt.Fprintln(out, "✓ Configuration reloaded successfully")
	return nil
}
