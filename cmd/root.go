// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/tsswitch/internal/core"
)

var (
	// Global flags
	configFile  string
	socketPath  string
	callTimeout time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tsswitch",
	Short: "tsswitch - MPEG transport stream input switcher",
	Long: `tsswitch receives MPEG transport streams from several inputs and forwards
exactly one of them, the current input, to a single output.

Features:
  - Inputs: file, UDP/RTP (unicast, multicast, SSM), SRT, pcap replay, null generator
  - Outputs: file, UDP/RTP, Kafka, drop
  - Switching: manual, cyclic, primary switch-back, receive timeout, delayed switch
  - Local control: CLI via Unix Domain Socket
  - Remote control: Kafka command subscription and UDP text commands`,
	Version:       core.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/tsswitch/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/var/run/tsswitch.sock",
		"daemon socket path")
	rootCmd.PersistentFlags().DurationVar(&callTimeout, "timeout", 10*time.Second,
		"control request timeout")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(switchCmd)
	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(previousCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(pluginsCmd)
}
