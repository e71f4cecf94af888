package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/tsswitch/internal/command"
	"firestige.xyz/tsswitch/internal/switcher"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and engine status",
	Long: `Query the tsswitch daemon for its status.

Shows: version, uptime, current input and per-input buffer and packet counters.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.Context(), GetClient(), cmd.OutOrStdout(), statusOutput)
	},
}

var statusOutput string

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "text", "output format: text, json or yaml")
}

// statusReport is the machine readable status document.
type statusReport struct {
	Daemon command.DaemonStatus `json:"daemon" yaml:"daemon"`
	Engine switcher.Status      `json:"engine" yaml:"engine"`
}

func runStatus(ctx context.Context, client ClientInterface, out io.Writer, format string) error {
	switch format {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	ds, err := client.DaemonStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to query daemon status: %w", err)
	}
	es, err := client.EngineStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to query engine status: %w", err)
	}
	report := statusReport{Daemon: ds, Engine: es}

	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(report)
	default:
		return writeStatusText(out, report)
	}
}

func writeStatusText(out io.Writer, r statusReport) error {
	state := "stopped"
	if r.Engine.Running {
		state = "running"
	}
	fmt.Fprintf(out, "tsswitch %s (pid %d), up %s, %s\n",
		r.Daemon.Version, r.Daemon.PID, time.Duration(r.Daemon.UptimeSec)*time.Second, state)
	fmt.Fprintf(out, "output: %s\n", r.Engine.Output)
	if r.Engine.Pending >= 0 {
		fmt.Fprintf(out, "current input: %d (switching to %d)\n\n", r.Engine.Current, r.Engine.Pending)
	} else {
		fmt.Fprintf(out, "current input: %d\n\n", r.Engine.Current)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tINDEX\tPLUGIN\tSTATE\tBUFFERED\tRECEIVED\tDELIVERED\tDROPPED\tINVALID\tERROR")
	for _, in := range r.Engine.Inputs {
		marker := ""
		if in.Current {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%d/%d\t%d\t%d\t%d\t%d\t%s\n",
			marker, in.Index, in.Plugin, in.State, in.Buffered, in.Capacity,
			in.Received, in.Delivered, in.Dropped, in.Invalid, in.Error)
	}
	return tw.Flush()
}
