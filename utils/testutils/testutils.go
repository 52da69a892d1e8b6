package testutils

import (
	"time"

	"github.com/michaelpento.lv/flasharb/types"
)

// Observation builds a price observation for testing
func Observation(chain, venue string, pair types.TokenPair, price, liquidityUSD float64, at time.Time) types.PriceObservation {
	return types.PriceObservation{
		Chain:        chain,
		Venue:        venue,
		Pair:         pair,
		Price:        price,
		LiquidityUSD: liquidityUSD,
		ObservedAt:   at,
	}
}

// Provider builds a financing provider for testing
func Provider(name string, feeRate, maxAmountUSD float64, chains, tokens []string) *types.FinancingProvider {
	p := &types.FinancingProvider{
		Name:            name,
		FeeRate:         feeRate,
		MaxAmountUSD:    maxAmountUSD,
		SupportedChains: make(map[string]bool, len(chains)),
		SupportedTokens: make(map[string]bool, len(tokens)),
	}
	for _, c := range chains {
		p.SupportedChains[c] = true
	}
	for _, t := range tokens {
		p.SupportedTokens[t] = true
	}
	return p
}
