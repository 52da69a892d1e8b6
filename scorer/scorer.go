package scorer

import (
	"math"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/config"
	"github.com/michaelpento.lv/flasharb/flashloan"
	"github.com/michaelpento.lv/flasharb/gas"
	"github.com/michaelpento.lv/flasharb/types"
)

// slippageAbortFraction is the share of notional beyond which the
// trade is assumed to fail outright rather than partially execute.
const slippageAbortFraction = 0.5

// Scorer turns a set of venue observations for one pair into ranked
// candidates. It holds no cross-call state and does no I/O, so it is
// safe to call concurrently.
type Scorer struct {
	cfg      config.EvaluatorConfig
	gas      *gas.Estimator
	selector *flashloan.Selector
	logger   *zap.Logger

	metrics struct {
		latency     prometheus.Histogram
		candidates  *prometheus.CounterVec
		viableCount prometheus.Counter
		totalCount  prometheus.Counter
		viableRate  prometheus.Gauge
	}
}

// NewScorer creates a scorer over the given gas model and financing
// selector, registering its metrics with reg.
func NewScorer(cfg config.EvaluatorConfig, gasEst *gas.Estimator, selector *flashloan.Selector, logger *zap.Logger, reg prometheus.Registerer) *Scorer {
	s := &Scorer{
		cfg:      cfg,
		gas:      gasEst,
		selector: selector,
		logger:   logger,
	}

	metrics := promauto.With(reg)
	s.metrics.latency = metrics.NewHistogram(prometheus.HistogramOpts{
		Name:    "scorer_evaluation_latency_seconds",
		Help:    "Latency of a single pair evaluation",
		Buckets: prometheus.DefBuckets,
	})
	s.metrics.candidates = metrics.NewCounterVec(prometheus.CounterOpts{
		Name: "scorer_candidates_total",
		Help: "Scored candidates by outcome",
	}, []string{"outcome"})
	s.metrics.viableCount = metrics.NewCounter(prometheus.CounterOpts{
		Name: "scorer_viable_count",
		Help: "Number of viable candidates scored",
	})
	s.metrics.totalCount = metrics.NewCounter(prometheus.CounterOpts{
		Name: "scorer_total_count",
		Help: "Total number of candidates scored",
	})
	s.metrics.viableRate = metrics.NewGauge(prometheus.GaugeOpts{
		Name: "scorer_viable_rate",
		Help: "Fraction of scored candidates that were viable",
	})

	return s
}

// Evaluate scores every ordered venue pair with a positive spread and
// returns candidates sorted by net profit descending, ties broken by
// buy then sell venue name. Non-viable candidates are included with
// their rejection reason. Fewer than two fresh observations yield an
// empty result; that is a normal outcome, not an error.
func (s *Scorer) Evaluate(pair types.TokenPair, observations []types.PriceObservation) []types.Candidate {
	start := time.Now()
	defer func() {
		s.metrics.latency.Observe(time.Since(start).Seconds())
	}()

	if len(observations) < 2 {
		return nil
	}

	var candidates []types.Candidate
	for i := range observations {
		for j := range observations {
			if i == j {
				continue
			}
			buy, sell := observations[i], observations[j]
			if buy.Venue == sell.Venue && buy.Chain == sell.Chain {
				continue
			}
			spreadPct := (sell.Price - buy.Price) / buy.Price * 100
			if spreadPct <= 0 {
				continue
			}
			candidates = append(candidates, s.score(pair, buy, sell, spreadPct))
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ni, nj := netOf(candidates[i]), netOf(candidates[j])
		if ni != nj {
			return ni > nj
		}
		if candidates[i].BuyVenue != candidates[j].BuyVenue {
			return candidates[i].BuyVenue < candidates[j].BuyVenue
		}
		return candidates[i].SellVenue < candidates[j].SellVenue
	})

	for _, c := range candidates {
		s.metrics.totalCount.Inc()
		if c.Viable {
			s.metrics.viableCount.Inc()
			s.metrics.candidates.WithLabelValues("viable").Inc()
		} else {
			s.metrics.candidates.WithLabelValues(string(c.Reason)).Inc()
		}
	}
	s.updateViableRate()

	return candidates
}

// score nets one buy/sell route down to a tagged candidate.
func (s *Scorer) score(pair types.TokenPair, buy, sell types.PriceObservation, spreadPct float64) types.Candidate {
	opp := types.Opportunity{
		ID:         types.RouteID(pair, buy.Chain, buy.Venue, sell.Chain, sell.Venue),
		Pair:       pair,
		Token:      pair.Base,
		BuyChain:   buy.Chain,
		SellChain:  sell.Chain,
		CrossChain: buy.Chain != sell.Chain,
		BuyVenue:   buy.Venue,
		SellVenue:  sell.Venue,
		BuyPrice:   buy.Price,
		SellPrice:  sell.Price,
		SpreadPct:  spreadPct,
	}

	// A depthless venue means price impact cannot be bounded; the
	// trade is assumed to fail rather than divide by zero.
	if buy.LiquidityUSD <= 0 || sell.LiquidityUSD <= 0 {
		return types.Candidate{Opportunity: opp, Reason: types.ReasonNoLiquidity}
	}

	desired := s.sizeNotional(spreadPct, buy, sell)
	provider, notional := s.selector.SelectCapped(pair.Base, buy.Chain, desired)
	if provider == nil {
		opp.NotionalUSD = desired
		return types.Candidate{Opportunity: opp, Reason: types.ReasonNoFinancing}
	}

	gross := notional * spreadPct / 100
	gasUSD := s.gas.CostUSD(buy.Chain, sell.Chain)
	fee := flashloan.Fee(provider, notional)

	shallow := math.Min(buy.LiquidityUSD, sell.LiquidityUSD)
	slippage := notional * (notional / shallow) * s.cfg.SlippageMultiplier
	if cap := slippageAbortFraction * notional; slippage > cap {
		slippage = cap
	}

	net := gross - fee - gasUSD - slippage

	opp.NotionalUSD = notional
	opp.GrossProfitUSD = gross
	opp.Provider = provider.Name
	opp.Profit = &types.ProfitBreakdown{
		FinancingFeeUSD: fee,
		GasCostUSD:      gasUSD,
		SlippageCostUSD: slippage,
		NetProfitUSD:    net,
		ProfitPct:       net / notional * 100,
	}

	if net > s.cfg.MinProfitThresholdUSD {
		return types.Candidate{Opportunity: opp, Viable: true}
	}
	return types.Candidate{Opportunity: opp, Reason: types.ReasonBelowThreshold}
}

// sizeNotional picks the probe size for a route: the configured base
// scaled up with the spread, clamped to the capital cap, the venue
// liquidity cap, and the break-even point of the quadratic slippage
// model (past that size the impact eats the spread).
func (s *Scorer) sizeNotional(spreadPct float64, buy, sell types.PriceObservation) float64 {
	n := s.cfg.BaseTradeUSD * (1 + spreadPct)
	if n > s.cfg.MaxTradeUSD {
		n = s.cfg.MaxTradeUSD
	}
	if liqCap := buy.LiquidityUSD * s.cfg.LiquidityFractionCap; n > liqCap {
		n = liqCap
	}
	shallow := math.Min(buy.LiquidityUSD, sell.LiquidityUSD)
	if optimal := (spreadPct / 100) * shallow / (2 * s.cfg.SlippageMultiplier); n > optimal {
		n = optimal
	}
	return n
}

// netOf orders candidates: unfinanced ones sink below every priced one.
func netOf(c types.Candidate) float64 {
	if c.Profit == nil {
		return math.Inf(-1)
	}
	return c.Profit.NetProfitUSD
}

// updateViableRate recomputes the viable-rate gauge from the counter
// values.
func (s *Scorer) updateViableRate() {
	viable := counterValue(s.metrics.viableCount)
	total := counterValue(s.metrics.totalCount)
	if total > 0 {
		s.metrics.viableRate.Set(viable / total)
	}
}

func counterValue(c prometheus.Counter) float64 {
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	m := <-ch
	out := &dto.Metric{}
	if err := m.Write(out); err != nil || out.Counter == nil {
		return 0
	}
	return *out.Counter.Value
}
