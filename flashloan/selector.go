package flashloan

import (
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/types"
)

// Selector chooses the cheapest financing provider for a notional on a
// chain. The provider table is ordered once at construction; selection
// is a pure function over that table and the call's arguments.
type Selector struct {
	providers []*types.FinancingProvider
	logger    *zap.Logger
	metrics   struct {
		selections *prometheus.CounterVec
		unfunded   prometheus.Counter
	}
}

// NewSelector builds a selector over the static provider table and
// registers its metrics with reg. Ties on fee rate are broken by
// position in the priority list, then by name, so provider choice
// never depends on map iteration order.
func NewSelector(table []*types.FinancingProvider, priority []string, logger *zap.Logger, reg prometheus.Registerer) (*Selector, error) {
	if len(table) == 0 {
		return nil, fmt.Errorf("provider table is empty")
	}

	rank := make(map[string]int, len(priority))
	for i, name := range priority {
		rank[name] = i
	}
	ordered := make([]*types.FinancingProvider, len(table))
	copy(ordered, table)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, iok := rank[ordered[i].Name]
		rj, jok := rank[ordered[j].Name]
		if iok != jok {
			return iok
		}
		if iok && jok && ri != rj {
			return ri < rj
		}
		return ordered[i].Name < ordered[j].Name
	})

	s := &Selector{
		providers: ordered,
		logger:    logger,
	}

	metrics := promauto.With(reg)
	s.metrics.selections = metrics.NewCounterVec(prometheus.CounterOpts{
		Name: "financing_provider_selections_total",
		Help: "Number of times each provider was selected",
	}, []string{"provider"})

	s.metrics.unfunded = metrics.NewCounter(prometheus.CounterOpts{
		Name: "financing_unfunded_total",
		Help: "Number of selection calls with no qualifying provider",
	})

	return s, nil
}

// Select returns the cheapest provider supporting the token, chain and
// notional, or nil when none qualifies. A nil result is a normal
// outcome the caller must treat as "not financeable", not an error.
func (s *Selector) Select(token, chain string, notionalUSD float64) *types.FinancingProvider {
	best := s.pick(token, chain, notionalUSD)
	if best == nil {
		s.metrics.unfunded.Inc()
		s.logger.Debug("no financing provider qualifies",
			zap.String("token", token),
			zap.String("chain", chain),
			zap.Float64("notional_usd", notionalUSD))
		return nil
	}
	s.metrics.selections.WithLabelValues(best.Name).Inc()
	return best
}

// SelectCapped picks a provider for up to desiredUSD and returns the
// notional it can actually finance. When no provider covers the full
// amount it falls back to the largest facility supporting the token
// and chain, cheapest fee breaking ties, so a tight provider cap
// shrinks the trade instead of silently overrunning the limit.
func (s *Selector) SelectCapped(token, chain string, desiredUSD float64) (*types.FinancingProvider, float64) {
	if p := s.pick(token, chain, desiredUSD); p != nil {
		s.metrics.selections.WithLabelValues(p.Name).Inc()
		return p, desiredUSD
	}

	var best *types.FinancingProvider
	for _, p := range s.providers {
		if !p.SupportedChains[chain] || !p.SupportedTokens[token] {
			continue
		}
		if best == nil || p.MaxAmountUSD > best.MaxAmountUSD ||
			(p.MaxAmountUSD == best.MaxAmountUSD && p.FeeRate < best.FeeRate) {
			best = p
		}
	}
	if best == nil {
		s.metrics.unfunded.Inc()
		s.logger.Debug("no financing provider qualifies",
			zap.String("token", token),
			zap.String("chain", chain),
			zap.Float64("notional_usd", desiredUSD))
		return nil, 0
	}
	s.metrics.selections.WithLabelValues(best.Name).Inc()
	return best, best.MaxAmountUSD
}

// pick applies the selection rule without touching metrics: filter by
// chain, token and amount support, lowest fee wins, earlier table
// position wins ties.
func (s *Selector) pick(token, chain string, notionalUSD float64) *types.FinancingProvider {
	var best *types.FinancingProvider
	for _, p := range s.providers {
		if !p.Supports(token, chain, notionalUSD) {
			continue
		}
		if best == nil || p.FeeRate < best.FeeRate {
			best = p
		}
	}
	return best
}

// Fee returns the flash loan fee for borrowing notionalUSD from p.
func Fee(p *types.FinancingProvider, notionalUSD float64) float64 {
	if p == nil {
		return 0
	}
	return notionalUSD * p.FeeRate
}

// Providers exposes the ordered table, for CLI listings.
func (s *Selector) Providers() []*types.FinancingProvider {
	out := make([]*types.FinancingProvider, len(s.providers))
	copy(out, s.providers)
	return out
}
