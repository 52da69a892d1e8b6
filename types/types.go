package types

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// TokenPair identifies a base/quote market, e.g. WETH/USDC.
type TokenPair struct {
	Base  string
	Quote string
}

func (p TokenPair) String() string {
	return p.Base + "/" + p.Quote
}

// ParsePair parses a "BASE/QUOTE" string into a TokenPair.
func ParsePair(s string) (TokenPair, error) {
	for i := 1; i < len(s)-1; i++ {
		if s[i] == '/' {
			return TokenPair{Base: s[:i], Quote: s[i+1:]}, nil
		}
	}
	return TokenPair{}, fmt.Errorf("invalid token pair %q", s)
}

// PriceObservation is a single venue quote for one token pair.
// Observations are immutable once created; feed sources produce them
// and the scorer only reads them.
type PriceObservation struct {
	Chain        string
	Venue        string
	Pair         TokenPair
	Price        float64
	LiquidityUSD float64
	ObservedAt   time.Time
}

// Validate reports why an observation is unusable, or nil.
func (o PriceObservation) Validate() error {
	if o.Venue == "" {
		return fmt.Errorf("missing venue")
	}
	if o.Chain == "" {
		return fmt.Errorf("missing chain")
	}
	if o.Pair.Base == "" || o.Pair.Quote == "" {
		return fmt.Errorf("incomplete token pair %q", o.Pair)
	}
	if o.Price <= 0 {
		return fmt.Errorf("non-positive price %v", o.Price)
	}
	if o.LiquidityUSD < 0 {
		return fmt.Errorf("negative liquidity %v", o.LiquidityUSD)
	}
	return nil
}

// FinancingProvider is a static flash loan source. The table is loaded
// once at startup and never mutated during evaluation.
type FinancingProvider struct {
	Name            string
	FeeRate         float64 // fraction, e.g. 0.0009
	MaxAmountUSD    float64
	SupportedChains map[string]bool
	SupportedTokens map[string]bool
}

// Supports reports whether the provider can finance the given token on
// the given chain for the given notional.
func (p *FinancingProvider) Supports(token, chain string, notionalUSD float64) bool {
	if p == nil {
		return false
	}
	return p.SupportedChains[chain] && p.SupportedTokens[token] && notionalUSD <= p.MaxAmountUSD
}

// ProfitBreakdown nets a gross spread down to realized profit. It is
// only present once a financing provider has been chosen; an
// unfinanceable opportunity carries no breakdown at all rather than a
// misleading zero.
type ProfitBreakdown struct {
	FinancingFeeUSD float64 `json:"financing_fee_usd"`
	GasCostUSD      float64 `json:"gas_cost_usd"`
	SlippageCostUSD float64 `json:"slippage_cost_usd"`
	NetProfitUSD    float64 `json:"net_profit_usd"`
	ProfitPct       float64 `json:"profit_pct"`
}

// Opportunity is a scored buy/sell route. Constructed fresh per
// evaluation and never mutated after construction.
type Opportunity struct {
	ID             string           `json:"id"`
	Pair           TokenPair        `json:"-"`
	Token          string           `json:"token"`
	BuyChain       string           `json:"buy_chain"`
	SellChain      string           `json:"sell_chain"`
	CrossChain     bool             `json:"cross_chain"`
	BuyVenue       string           `json:"buy_venue"`
	SellVenue      string           `json:"sell_venue"`
	BuyPrice       float64          `json:"buy_price"`
	SellPrice      float64          `json:"sell_price"`
	SpreadPct      float64          `json:"spread_pct"`
	NotionalUSD    float64          `json:"notional_usd"`
	GrossProfitUSD float64          `json:"gross_profit_usd"`
	Provider       string           `json:"provider,omitempty"`
	Profit         *ProfitBreakdown `json:"profit,omitempty"`
}

// RouteID returns a stable identifier for a buy/sell route.
func RouteID(pair TokenPair, buyChain, buyVenue, sellChain, sellVenue string) string {
	h := xxhash.New()
	_, _ = h.WriteString(pair.String())
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(buyChain)
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(buyVenue)
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(sellChain)
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(sellVenue)
	return fmt.Sprintf("%016x", h.Sum64())
}

// RejectReason tags why a candidate is not executable. These are
// normal business outcomes, not errors.
type RejectReason string

const (
	ReasonNone           RejectReason = ""
	ReasonBelowThreshold RejectReason = "below_threshold"
	ReasonNoFinancing    RejectReason = "no_financing_available"
	ReasonNoLiquidity    RejectReason = "insufficient_liquidity"
)

// Candidate is the tagged result of scoring one route: either viable
// or rejected with a reason.
type Candidate struct {
	Opportunity
	Viable bool         `json:"viable"`
	Reason RejectReason `json:"reason,omitempty"`
}
