package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/michaelpento.lv/flasharb/types"
)

// Config is the single structured configuration object for the
// evaluator. It carries thresholds, the static financing provider
// table, and per-chain gas constants. It never carries secrets; feed
// endpoints may reference environment variables which are expanded at
// load time.
type Config struct {
	Evaluator EvaluatorConfig `yaml:"evaluator"`
	Gas       GasConfig       `yaml:"gas"`

	Providers        []ProviderConfig `yaml:"providers"`
	ProviderPriority []string         `yaml:"provider_priority"`

	Pairs []string   `yaml:"pairs"`
	Feeds FeedConfig `yaml:"feeds"`
	Sink  SinkConfig `yaml:"sink"`
}

type EvaluatorConfig struct {
	MinProfitThresholdUSD float64 `yaml:"min_profit_threshold_usd"`
	BaseTradeUSD          float64 `yaml:"base_trade_usd"`
	MaxTradeUSD           float64 `yaml:"max_trade_usd"`
	LiquidityFractionCap  float64 `yaml:"liquidity_fraction_cap"`
	SlippageMultiplier    float64 `yaml:"slippage_multiplier"`
	PriceTTLSeconds       int     `yaml:"price_ttl_seconds"`
}

// PriceTTL is how long an observation stays usable for scoring.
func (e EvaluatorConfig) PriceTTL() time.Duration {
	return time.Duration(e.PriceTTLSeconds) * time.Second
}

type GasConfig struct {
	// ChainsUSD maps chain name to the flat per-trade gas cost.
	ChainsUSD map[string]float64 `yaml:"chains_usd"`
	// CrossChainUSD applies to routes whose buy and sell legs sit on
	// different chains (bridging plus dual confirmation).
	CrossChainUSD float64 `yaml:"cross_chain_usd"`
	// DefaultUSD is used for chains absent from the table.
	DefaultUSD float64 `yaml:"default_usd"`

	// NativeUSD maps chain name to the USD price of its native token,
	// used to convert live fee data. Chains absent from the map never
	// get live refresh.
	NativeUSD map[string]float64 `yaml:"native_usd"`
	// RefreshIntervalSeconds enables live fee polling in watch mode
	// when positive.
	RefreshIntervalSeconds int `yaml:"refresh_interval_seconds"`
}

func (g GasConfig) RefreshInterval() time.Duration {
	return time.Duration(g.RefreshIntervalSeconds) * time.Second
}

type ProviderConfig struct {
	Name         string   `yaml:"name"`
	FeeRate      float64  `yaml:"fee_rate"`
	MaxAmountUSD float64  `yaml:"max_amount_usd"`
	Chains       []string `yaml:"chains"`
	Tokens       []string `yaml:"tokens"`
}

type FeedConfig struct {
	FetchTimeoutMS      int     `yaml:"fetch_timeout_ms"`
	ScanIntervalSeconds int     `yaml:"scan_interval_seconds"`
	RequestsPerSecond   float64 `yaml:"requests_per_second"`
	BurstSize           int     `yaml:"burst_size"`

	WebSocketURL string            `yaml:"websocket_url"`
	DEXSources   []DEXSourceConfig `yaml:"dex_sources"`
}

func (f FeedConfig) FetchTimeout() time.Duration {
	return time.Duration(f.FetchTimeoutMS) * time.Millisecond
}

func (f FeedConfig) ScanInterval() time.Duration {
	return time.Duration(f.ScanIntervalSeconds) * time.Second
}

// DEXSourceConfig points at a uniswap-v2-style pair contract whose
// reserves supply a price observation.
type DEXSourceConfig struct {
	Venue         string `yaml:"venue"`
	Chain         string `yaml:"chain"`
	RPCEndpoint   string `yaml:"rpc_endpoint"`
	PairAddress   string `yaml:"pair_address"`
	Pair          string `yaml:"pair"`
	BaseDecimals  int    `yaml:"base_decimals"`
	QuoteDecimals int    `yaml:"quote_decimals"`
}

type SinkConfig struct {
	Enabled   bool   `yaml:"enabled"`
	RedisAddr string `yaml:"redis_addr"`
	Stream    string `yaml:"stream"`
}

// Validate checks the whole configuration and collects every problem
// into a single error. A config that fails validation must prevent
// the evaluator from starting.
func (c *Config) Validate() error {
	var errors []string

	if c.Evaluator.MinProfitThresholdUSD < 0 {
		errors = append(errors, "min_profit_threshold_usd must not be negative")
	}
	if c.Evaluator.BaseTradeUSD <= 0 {
		errors = append(errors, "base_trade_usd must be positive")
	}
	if c.Evaluator.MaxTradeUSD <= 0 {
		errors = append(errors, "max_trade_usd must be positive")
	}
	if c.Evaluator.LiquidityFractionCap <= 0 || c.Evaluator.LiquidityFractionCap > 1 {
		errors = append(errors, "liquidity_fraction_cap must be in (0, 1]")
	}
	if c.Evaluator.SlippageMultiplier <= 0 {
		errors = append(errors, "slippage_multiplier must be positive")
	}
	if c.Evaluator.PriceTTLSeconds <= 0 {
		errors = append(errors, "price_ttl_seconds must be positive")
	}

	if len(c.Gas.ChainsUSD) == 0 {
		errors = append(errors, "gas chains_usd table must not be empty")
	}
	for chain, cost := range c.Gas.ChainsUSD {
		if cost <= 0 {
			errors = append(errors, fmt.Sprintf("gas cost for chain %q must be positive", chain))
		}
	}
	if c.Gas.CrossChainUSD <= 0 {
		errors = append(errors, "cross_chain_usd must be positive")
	}
	if c.Gas.DefaultUSD <= 0 {
		errors = append(errors, "gas default_usd must be positive")
	}
	if c.Gas.RefreshIntervalSeconds < 0 {
		errors = append(errors, "gas refresh_interval_seconds must not be negative")
	}
	for chain, price := range c.Gas.NativeUSD {
		if price <= 0 {
			errors = append(errors, fmt.Sprintf("native_usd for chain %q must be positive", chain))
		}
	}

	if len(c.Providers) == 0 {
		errors = append(errors, "provider table must not be empty")
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		switch {
		case p.Name == "":
			errors = append(errors, "provider with empty name")
		case seen[p.Name]:
			errors = append(errors, fmt.Sprintf("duplicate provider %q", p.Name))
		default:
			seen[p.Name] = true
		}
		if p.FeeRate < 0 {
			errors = append(errors, fmt.Sprintf("provider %q fee_rate must not be negative", p.Name))
		}
		if p.MaxAmountUSD <= 0 {
			errors = append(errors, fmt.Sprintf("provider %q max_amount_usd must be positive", p.Name))
		}
		if len(p.Chains) == 0 {
			errors = append(errors, fmt.Sprintf("provider %q supports no chains", p.Name))
		}
		if len(p.Tokens) == 0 {
			errors = append(errors, fmt.Sprintf("provider %q supports no tokens", p.Name))
		}
	}
	for _, name := range c.ProviderPriority {
		if !seen[name] {
			errors = append(errors, fmt.Sprintf("provider_priority references unknown provider %q", name))
		}
	}

	for _, s := range c.Pairs {
		if _, err := types.ParsePair(s); err != nil {
			errors = append(errors, err.Error())
		}
	}

	if c.Feeds.FetchTimeoutMS <= 0 {
		errors = append(errors, "fetch_timeout_ms must be positive")
	}
	if c.Feeds.ScanIntervalSeconds <= 0 {
		errors = append(errors, "scan_interval_seconds must be positive")
	}
	if c.Feeds.RequestsPerSecond <= 0 {
		errors = append(errors, "requests_per_second must be positive")
	}
	if c.Feeds.BurstSize <= 0 {
		errors = append(errors, "burst_size must be positive")
	}

	if c.Sink.Enabled {
		if c.Sink.RedisAddr == "" {
			errors = append(errors, "sink redis_addr must be set when the sink is enabled")
		}
		if c.Sink.Stream == "" {
			errors = append(errors, "sink stream must be set when the sink is enabled")
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

// ProviderTable converts the configured providers into the read-only
// table the financing selector works over.
func (c *Config) ProviderTable() []*types.FinancingProvider {
	table := make([]*types.FinancingProvider, 0, len(c.Providers))
	for _, p := range c.Providers {
		fp := &types.FinancingProvider{
			Name:            p.Name,
			FeeRate:         p.FeeRate,
			MaxAmountUSD:    p.MaxAmountUSD,
			SupportedChains: make(map[string]bool, len(p.Chains)),
			SupportedTokens: make(map[string]bool, len(p.Tokens)),
		}
		for _, ch := range p.Chains {
			fp.SupportedChains[ch] = true
		}
		for _, t := range p.Tokens {
			fp.SupportedTokens[t] = true
		}
		table = append(table, fp)
	}
	return table
}

// TokenPairs returns the configured pairs to scan, deduplicated and in
// a stable order.
func (c *Config) TokenPairs() []types.TokenPair {
	uniq := make(map[string]types.TokenPair, len(c.Pairs))
	for _, s := range c.Pairs {
		p, err := types.ParsePair(s)
		if err != nil {
			continue
		}
		uniq[p.String()] = p
	}
	keys := make([]string, 0, len(uniq))
	for k := range uniq {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]types.TokenPair, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, uniq[k])
	}
	return pairs
}

// Load reads, env-expands, and validates a YAML config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	// Endpoints may reference env vars (INFURA key etc); expand them
	// here so the rest of the code never touches the environment.
	cfg.Feeds.WebSocketURL = os.ExpandEnv(cfg.Feeds.WebSocketURL)
	for i := range cfg.Feeds.DEXSources {
		cfg.Feeds.DEXSources[i].RPCEndpoint = os.ExpandEnv(cfg.Feeds.DEXSources[i].RPCEndpoint)
	}
	cfg.Sink.RedisAddr = os.ExpandEnv(cfg.Sink.RedisAddr)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with working defaults for every field the
// file may omit. The provider table has no default: financing sources
// are deployment-specific and must be configured explicitly.
func Default() *Config {
	return &Config{
		Evaluator: EvaluatorConfig{
			MinProfitThresholdUSD: 1.0,
			BaseTradeUSD:          1000,
			MaxTradeUSD:           100000,
			LiquidityFractionCap:  0.25,
			SlippageMultiplier:    1.75,
			PriceTTLSeconds:       30,
		},
		Gas: GasConfig{
			ChainsUSD: map[string]float64{
				"ethereum": 25,
				"arbitrum": 2,
				"optimism": 2,
				"base":     2,
				"polygon":  3,
			},
			CrossChainUSD: 40,
			DefaultUSD:    25,
		},
		Feeds: FeedConfig{
			FetchTimeoutMS:      2000,
			ScanIntervalSeconds: 5,
			RequestsPerSecond:   10,
			BurstSize:           20,
		},
		Sink: SinkConfig{
			Stream: "opportunities.detected",
		},
	}
}
