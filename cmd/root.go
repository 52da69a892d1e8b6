package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/flasharb/utils"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "flasharb",
	Short: "Flash-loan arbitrage opportunity evaluator",
	Long: `Scans DEX price observations across venues and chains, scores
buy-low/sell-high routes net of financing fees, gas and slippage, and
reports the opportunities worth executing.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func initConfig() {
	utils.InitLogger(debug)
}
