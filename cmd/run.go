package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/tsswitch/internal/daemon"
)

// runCmd runs the daemon in the foreground.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the tsswitch daemon in foreground",
	Long: `Run the tsswitch daemon process in foreground.

The daemon will:
  1. Load global configuration from config file
  2. Initialize logging and metrics
  3. Build the input and output plugins and start switching
  4. Start UDS server for CLI control
  5. Start Kafka command consumer and UDP remote (if configured)
  6. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)

The process exits with a non-zero status when the output keeps failing.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Flags left at their defaults defer to the control section of the config.
		socket, pid := "", runPIDFile
		if cmd.Flags().Changed("socket") {
			socket = socketPath
		}

		d, err := daemon.New(configFile, socket, pid)
		if err != nil {
			return fmt.Errorf("failed to create daemon: %w", err)
		}
		return d.Run(cmd.Context())
	},
}

var runPIDFile string

func init() {
	runCmd.Flags().StringVarP(&runPIDFile, "pidfile", "p", "",
		"PID file path (default: control.pid_file from config)")
}
