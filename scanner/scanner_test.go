package scanner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/flasharb/config"
	"github.com/michaelpento.lv/flasharb/feed"
	"github.com/michaelpento.lv/flasharb/flashloan"
	"github.com/michaelpento.lv/flasharb/gas"
	"github.com/michaelpento.lv/flasharb/scorer"
	"github.com/michaelpento.lv/flasharb/sink"
	"github.com/michaelpento.lv/flasharb/types"
	"github.com/michaelpento.lv/flasharb/utils/testutils"
)

type stubSource struct {
	name string
	obs  []types.PriceObservation
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(ctx context.Context) ([]types.PriceObservation, error) {
	return s.obs, nil
}

type memorySink struct {
	mu        sync.Mutex
	published []types.Candidate
}

func (m *memorySink) Publish(ctx context.Context, c types.Candidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, c)
	return nil
}

func (m *memorySink) candidates() []types.Candidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Candidate(nil), m.published...)
}

func newTestScanner(t *testing.T, obs []types.PriceObservation, pub sink.Publisher) *Scanner {
	t.Helper()
	logger := zaptest.NewLogger(t)

	cfg := config.Default()
	cfg.Pairs = []string{"WETH/USDC"}
	cfg.Providers = []config.ProviderConfig{
		{Name: "aave_v3", FeeRate: 0, MaxAmountUSD: 1e9,
			Chains: []string{"arbitrum"}, Tokens: []string{"WETH", "USDC"}},
	}

	intake := feed.NewIntake(cfg.Evaluator.PriceTTL(), logger, prometheus.NewRegistry())
	fetcher := feed.NewFetcher(intake, []feed.Source{&stubSource{name: "stub", obs: obs}},
		cfg.Feeds.RequestsPerSecond, cfg.Feeds.BurstSize, cfg.Feeds.FetchTimeout(), logger)

	selector, err := flashloan.NewSelector(cfg.ProviderTable(), cfg.ProviderPriority, logger, prometheus.NewRegistry())
	require.NoError(t, err)

	estimator := gas.NewEstimator(cfg.Gas, logger)
	sc := scorer.NewScorer(cfg.Evaluator, estimator, selector, logger, prometheus.NewRegistry())

	return New(cfg, intake, fetcher, sc, pub, logger)
}

func TestScanPublishesOnlyViable(t *testing.T) {
	now := time.Now()
	pair := types.TokenPair{Base: "WETH", Quote: "USDC"}
	obs := []types.PriceObservation{
		// Wide spread across two deep venues: viable after gas and
		// slippage on a cheap chain.
		testutils.Observation("arbitrum", "uniswap_v3", pair, 2000.00, 1_000_000, now),
		testutils.Observation("arbitrum", "sushiswap", pair, 2020.00, 1_000_000, now),
		// Thin venue: routes through it lose to slippage.
		testutils.Observation("arbitrum", "shallowswap", pair, 2019.00, 5_000, now),
	}

	pub := &memorySink{}
	s := newTestScanner(t, obs, pub)

	all := s.Scan(context.Background())
	require.NotEmpty(t, all)

	viable := 0
	for _, c := range all {
		if c.Viable {
			viable++
			require.NotNil(t, c.Profit)
			assert.Greater(t, c.Profit.NetProfitUSD, s.cfg.Evaluator.MinProfitThresholdUSD)
		}
	}
	require.Greater(t, viable, 0)

	published := pub.candidates()
	assert.Len(t, published, viable)
	for _, c := range published {
		assert.True(t, c.Viable)
		assert.Equal(t, types.ReasonNone, c.Reason)
	}
}

func TestScanNoObservationsIsQuiet(t *testing.T) {
	pub := &memorySink{}
	s := newTestScanner(t, nil, pub)

	all := s.Scan(context.Background())
	assert.Empty(t, all)
	assert.Empty(t, pub.candidates())
}

func TestScanNilSink(t *testing.T) {
	now := time.Now()
	pair := types.TokenPair{Base: "WETH", Quote: "USDC"}
	obs := []types.PriceObservation{
		testutils.Observation("arbitrum", "uniswap_v3", pair, 2000.00, 1_000_000, now),
		testutils.Observation("arbitrum", "sushiswap", pair, 2020.00, 1_000_000, now),
	}

	s := newTestScanner(t, obs, nil)
	// Must not panic without a sink attached.
	all := s.Scan(context.Background())
	require.NotEmpty(t, all)
}

func TestRunStopsOnCancel(t *testing.T) {
	s := newTestScanner(t, nil, nil)
	s.cfg.Feeds.ScanIntervalSeconds = 1

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scanner did not stop on cancel")
	}
}
