package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"firestige.xyz/tsswitch/internal/command"
)

var switchCmd = &cobra.Command{
	Use:   "switch <index>",
	Short: "Switch to the input at index",
	Long: `Make the input at index the current input.

With delayed switching enabled the change takes effect once the new input
delivers data; the pending input is reported until then.

Examples:
  tsswitch switch 0
  tsswitch -s /run/tsswitch.sock switch 2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.Atoi(args[0])
		if err != nil || index < 0 {
			return fmt.Errorf("invalid input index %q", args[0])
		}
		client := GetClient()
		return runSwitch(cmd.Context(), cmd.OutOrStdout(), func(ctx context.Context) (command.InputResult, error) {
			return client.SelectInput(ctx, index)
		})
	},
}

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Switch to the next input",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSwitch(cmd.Context(), cmd.OutOrStdout(), GetClient().NextInput)
	},
}

var previousCmd = &cobra.Command{
	Use:     "previous",
	Aliases: []string{"prev"},
	Short:   "Switch to the previous input",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSwitch(cmd.Context(), cmd.OutOrStdout(), GetClient().PreviousInput)
	},
}

func runSwitch(ctx context.Context, out io.Writer, call func(context.Context) (command.InputResult, error)) error {
	res, err := call(ctx)
	if err != nil {
		return fmt.Errorf("failed to switch input: %w", err)
	}
	if res.Pending >= 0 {
		fmt.Fprintf(out, "current input: %d (switching to %d)\n", res.Current, res.Pending)
		return nil
	}
	fmt.Fprintf(out, "current input: %d\n", res.Current)
	return nil
}
