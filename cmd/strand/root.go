package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("strand.cmd")

// exit ends the process once a program has finished or died.
var exit = os.Exit

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "strand",
		Short:        "Run programs on the strand fiber runtime",
		SilenceUsage: true,
	}
	root.PersistentFlags().CountP("verbose", "v", "log verbosity (repeat for more)")
	root.AddCommand(newRunCmd(), newDisasmCmd())
	return root
}

// configureLogging applies verbosity from the flag, falling back to the
// configured level. path "" logs to stderr.
func configureLogging(cmd *cobra.Command, configured int, path string) {
	verbosity, _ := cmd.Flags().GetCount("verbose")
	if verbosity == 0 {
		verbosity = configured
	}
	if path == "" {
		commonlog.Configure(verbosity, nil)
		return
	}
	commonlog.Configure(verbosity, &path)
}
