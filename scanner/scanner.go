package scanner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/config"
	"github.com/michaelpento.lv/flasharb/feed"
	"github.com/michaelpento.lv/flasharb/scorer"
	"github.com/michaelpento.lv/flasharb/sink"
	"github.com/michaelpento.lv/flasharb/types"
)

// Scanner drives the evaluation cycle: fetch fresh observations, score
// every configured pair, hand viable candidates to the sink. All
// decision state lives in the scorer and intake; the scanner itself is
// stateless between ticks.
type Scanner struct {
	cfg     *config.Config
	intake  *feed.Intake
	fetcher *feed.Fetcher
	scorer  *scorer.Scorer
	sink    sink.Publisher
	pairs   []types.TokenPair
	logger  *zap.Logger
}

// New assembles a scanner. The sink may be nil, in which case viable
// candidates are only logged.
func New(cfg *config.Config, intake *feed.Intake, fetcher *feed.Fetcher, sc *scorer.Scorer, pub sink.Publisher, logger *zap.Logger) *Scanner {
	return &Scanner{
		cfg:     cfg,
		intake:  intake,
		fetcher: fetcher,
		scorer:  sc,
		sink:    pub,
		pairs:   cfg.TokenPairs(),
		logger:  logger,
	}
}

// Run scans on the configured interval until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Feeds.ScanInterval())
	defer ticker.Stop()

	s.logger.Info("scanner started",
		zap.Int("pairs", len(s.pairs)),
		zap.Duration("interval", s.cfg.Feeds.ScanInterval()))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scanner stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan runs one fetch-and-evaluate cycle and returns every candidate,
// viable and rejected, across all configured pairs. An empty result
// means no opportunities this cycle, which is normal.
func (s *Scanner) Scan(ctx context.Context) []types.Candidate {
	start := time.Now()
	accepted := s.fetcher.FetchAll(ctx)

	var all []types.Candidate
	viable := 0
	for _, pair := range s.pairs {
		observations := s.intake.Prices(pair)
		candidates := s.scorer.Evaluate(pair, observations)
		for _, c := range candidates {
			if c.Viable {
				viable++
				s.publish(ctx, c)
			}
		}
		all = append(all, candidates...)
	}

	s.logger.Info("scan cycle complete",
		zap.Int("observations", accepted),
		zap.Int("candidates", len(all)),
		zap.Int("viable", viable),
		zap.Duration("elapsed", time.Since(start)))
	return all
}

func (s *Scanner) publish(ctx context.Context, c types.Candidate) {
	s.logger.Info("viable opportunity",
		zap.String("id", c.ID),
		zap.String("pair", c.Pair.String()),
		zap.String("buy", c.BuyVenue),
		zap.String("sell", c.SellVenue),
		zap.Float64("notional_usd", c.NotionalUSD),
		zap.Float64("net_profit_usd", c.Profit.NetProfitUSD),
		zap.String("provider", c.Provider))

	if s.sink == nil {
		return
	}
	if err := s.sink.Publish(ctx, c); err != nil {
		s.logger.Error("failed to publish opportunity",
			zap.String("id", c.ID),
			zap.Error(err))
	}
}
