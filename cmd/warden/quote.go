package warden

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/igorsilveira/warden/pkg/shell"
)

var quoteWindows bool

var quoteCmd = &cobra.Command{
	Use:   "quote [args...]",
	Short: "Print the arguments quoted for this platform's shell",
	Run: func(cmd *cobra.Command, args []string) {
		if quoteWindows {
			parts := make([]string, len(args))
			for i, a := range args {
				parts[i] = shell.QuoteWindows(a)
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(parts, " "))
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), shell.Escape(args))
	},
}

func init() {
	quoteCmd.Flags().BoolVar(&quoteWindows, "windows", false, "quote for the Windows command-line convention")
}
