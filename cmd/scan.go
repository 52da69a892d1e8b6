package cmd

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/config"
	"github.com/michaelpento.lv/flasharb/dex"
	"github.com/michaelpento.lv/flasharb/feed"
	"github.com/michaelpento.lv/flasharb/flashloan"
	"github.com/michaelpento.lv/flasharb/gas"
	"github.com/michaelpento.lv/flasharb/scanner"
	"github.com/michaelpento.lv/flasharb/scorer"
	"github.com/michaelpento.lv/flasharb/sink"
	"github.com/michaelpento.lv/flasharb/types"
	"github.com/michaelpento.lv/flasharb/utils"
)

var watch bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan configured feeds for arbitrage opportunities",
	Run: func(cmd *cobra.Command, args []string) {
		log := utils.GetLogger()

		cfg, err := config.Load(cfgFile)
		if err != nil {
			log.Fatal("Evaluator misconfigured", zap.Error(err))
		}

		ctx := cmd.Context()
		sc, intake, err := buildScanner(ctx, cfg, log, watch)
		if err != nil {
			log.Fatal("Failed to assemble scanner", zap.Error(err))
		}

		if watch {
			if url := cfg.Feeds.WebSocketURL; url != "" {
				stream := feed.NewStreamSource(url, intake, log)
				if err := stream.Start(ctx); err != nil {
					log.Warn("Price stream unavailable, polling only", zap.Error(err))
				} else {
					defer stream.Close()
				}
			}
			_ = sc.Run(ctx)
			return
		}

		printCandidates(sc.Scan(ctx))
	},
}

func buildScanner(ctx context.Context, cfg *config.Config, log *zap.Logger, live bool) (*scanner.Scanner, *feed.Intake, error) {
	reg := prometheus.DefaultRegisterer
	intake := feed.NewIntake(cfg.Evaluator.PriceTTL(), log, reg)

	endpoints := make(map[string]string)
	var sources []feed.Source
	for _, sc := range cfg.Feeds.DEXSources {
		src, err := dex.NewPairSource(sc)
		if err != nil {
			log.Warn("Skipping DEX source", zap.String("venue", sc.Venue), zap.Error(err))
			continue
		}
		sources = append(sources, src)
		if _, ok := endpoints[sc.Chain]; !ok {
			endpoints[sc.Chain] = sc.RPCEndpoint
		}
	}

	fetcher := feed.NewFetcher(intake, sources,
		cfg.Feeds.RequestsPerSecond, cfg.Feeds.BurstSize, cfg.Feeds.FetchTimeout(), log)

	selector, err := flashloan.NewSelector(cfg.ProviderTable(), cfg.ProviderPriority, log, reg)
	if err != nil {
		return nil, nil, err
	}

	gasEst := gas.NewEstimator(cfg.Gas, log)
	if live && cfg.Gas.RefreshIntervalSeconds > 0 {
		startGasRefresh(ctx, cfg, gasEst, endpoints, log)
	}
	sc := scorer.NewScorer(cfg.Evaluator, gasEst, selector, log, reg)

	var pub sink.Publisher
	if cfg.Sink.Enabled {
		pub = sink.NewRedisSink(cfg.Sink.RedisAddr, cfg.Sink.Stream)
	}

	return scanner.New(cfg, intake, fetcher, sc, pub, log), intake, nil
}

// startGasRefresh attaches live fee polling for every chain that has
// both an RPC endpoint and a configured native token price.
func startGasRefresh(ctx context.Context, cfg *config.Config, gasEst *gas.Estimator, endpoints map[string]string, log *zap.Logger) {
	for chain, nativeUSD := range cfg.Gas.NativeUSD {
		endpoint, ok := endpoints[chain]
		if !ok {
			continue
		}
		client, err := ethclient.Dial(endpoint)
		if err != nil {
			log.Warn("Gas refresh disabled for chain",
				zap.String("chain", chain), zap.Error(err))
			continue
		}
		gasEst.StartRefresh(ctx, chain, client, nativeUSD, cfg.Gas.RefreshInterval())
	}
}

func printCandidates(candidates []types.Candidate) {
	if len(candidates) == 0 {
		fmt.Println("No opportunities found.")
		return
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	fmt.Printf("%-12s %-22s %-22s %8s %12s %12s %-10s %s\n",
		"PAIR", "BUY", "SELL", "SPREAD%", "NOTIONAL", "NET", "PROVIDER", "STATUS")
	for _, c := range candidates {
		net := "-"
		if c.Profit != nil {
			net = fmt.Sprintf("$%.2f", c.Profit.NetProfitUSD)
		}
		provider := c.Provider
		if provider == "" {
			provider = "-"
		}
		line := fmt.Sprintf("%-12s %-22s %-22s %8.3f %12.0f %12s %-10s",
			c.Pair.String(),
			c.BuyVenue+"@"+c.BuyChain,
			c.SellVenue+"@"+c.SellChain,
			c.SpreadPct,
			c.NotionalUSD,
			net,
			provider)
		switch {
		case c.Viable:
			green.Printf("%s %s\n", line, "viable")
		case c.Reason == types.ReasonBelowThreshold:
			yellow.Printf("%s %s\n", line, c.Reason)
		default:
			red.Printf("%s %s\n", line, c.Reason)
		}
	}
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().BoolVar(&watch, "watch", false, "scan continuously on the configured interval")
}
