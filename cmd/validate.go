package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"firestige.xyz/tsswitch/internal/config"
	"firestige.xyz/tsswitch/internal/daemon"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load the configuration file and initialise every configured plugin
without starting the engine.

This is useful for pre-checking configuration before restarting the daemon.

Examples:
  tsswitch validate -c /etc/tsswitch/config.yml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, cmd.OutOrStdout())
	},
}

func runValidate(path string, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}
	engine, err := daemon.BuildEngine(cfg)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}
	engine.Stop()

	names := make([]string, len(cfg.Inputs))
	for i, in := range cfg.Inputs {
		names[i] = in.Name
	}
	fmt.Fprintf(out, "VALID: %d input(s) [%s], output %s\n",
		len(cfg.Inputs), strings.Join(names, ", "), cfg.Output.Name)
	return nil
}
