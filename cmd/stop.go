package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/tsswitch/internal/core"
	"firestige.xyz/tsswitch/internal/daemon"
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the tsswitch daemon",
	Long: `Stop the tsswitch daemon gracefully.

This command sends daemon_shutdown over the Unix Domain Socket. The daemon
stops all inputs, closes the output and exits. With --pidfile, a daemon whose
socket does not answer is sent SIGTERM instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var fallback func() error
		if stopPIDFile != "" {
			fallback = func() error { return daemon.StopDaemon(stopPIDFile, stopWait) }
		}
		return runStop(cmd.Context(), GetClient(), cmd.OutOrStdout(), fallback)
	},
}

var (
	stopPIDFile string
	stopWait    time.Duration
)

func init() {
	stopCmd.Flags().StringVarP(&stopPIDFile, "pidfile", "p", "", "PID file used when the socket is unreachable")
	stopCmd.Flags().DurationVar(&stopWait, "wait", 10*time.Second, "how long to wait for the process to exit")
}

func runStop(ctx context.Context, client ClientInterface, out io.Writer, fallback func() error) error {
	err := client.Shutdown(ctx)
	if err == nil {
		fmt.Fprintln(out, "✓ Shutdown requested")
		return nil
	}
	if !errors.Is(err, core.ErrDaemonNotRunning) || fallback == nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	if err := fallback(); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	fmt.Fprintln(out, "✓ Daemon stopped by signal")
	return nil
}
