package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/LeJamon/goXRPLd/internal/config"
)

var consensusCmd = &cobra.Command{
	Use:   "consensus",
	Short: "Print the resolved consensus/load/fee parameters",
	Long: `consensus loads the node configuration and prints the timing,
load-accounting, and fee-tracking parameters that were actually resolved
(defaults, config file, and XRPLD_-prefixed environment overrides, in that
order). It performs no consensus activity; it is a read-only diagnostic.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := config.DefaultConfigPaths()
		if configFile != "" {
			paths.Main = configFile
		}

		cfg, err := config.LoadConfig(paths)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		fmt.Fprint(os.Stdout, cfg.ConsensusSummary())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(consensusCmd)
}
