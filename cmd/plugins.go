package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"firestige.xyz/tsswitch/pkg/plugin"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List the available input and output plugins",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		writePlugins(cmd.OutOrStdout())
	},
}

func writePlugins(out io.Writer) {
	fmt.Fprintf(out, "inputs:  %s\n", strings.Join(plugin.ListInputs(), ", "))
	fmt.Fprintf(out, "outputs: %s\n", strings.Join(plugin.ListOutputs(), ", "))
}
