package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/config"
	"github.com/michaelpento.lv/flasharb/flashloan"
	"github.com/michaelpento.lv/flasharb/utils"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List the configured financing providers in selection order",
	Run: func(cmd *cobra.Command, args []string) {
		log := utils.GetLogger()

		cfg, err := config.Load(cfgFile)
		if err != nil {
			log.Fatal("Evaluator misconfigured", zap.Error(err))
		}

		selector, err := flashloan.NewSelector(cfg.ProviderTable(), cfg.ProviderPriority, log, prometheus.NewRegistry())
		if err != nil {
			log.Fatal("Evaluator misconfigured", zap.Error(err))
		}

		fmt.Printf("%-12s %10s %14s  %-24s %s\n", "PROVIDER", "FEE(bps)", "MAX(USD)", "CHAINS", "TOKENS")
		for _, p := range selector.Providers() {
			fmt.Printf("%-12s %10.1f %14.0f  %-24s %s\n",
				p.Name,
				p.FeeRate*10000,
				p.MaxAmountUSD,
				joinSorted(p.SupportedChains),
				joinSorted(p.SupportedTokens))
		}
	},
}

func joinSorted(set map[string]bool) string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

func init() {
	rootCmd.AddCommand(providersCmd)
}
