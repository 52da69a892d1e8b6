package flashloan

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/flasharb/types"
	"github.com/michaelpento.lv/flasharb/utils/testutils"
)

func TestNewSelectorEmptyTable(t *testing.T) {
	_, err := NewSelector(nil, nil, zaptest.NewLogger(t), prometheus.NewRegistry())
	require.Error(t, err)
}

func TestSelectCheapestProvider(t *testing.T) {
	logger := zaptest.NewLogger(t)
	selector, err := NewSelector([]*types.FinancingProvider{
		testutils.Provider("aave", 0.0009, 1000000, []string{"ethereum", "arbitrum"}, []string{"USDC", "WETH"}),
		testutils.Provider("balancer", 0, 500000, []string{"ethereum"}, []string{"USDC", "WETH"}),
		testutils.Provider("dydx", 0.0002, 200000, []string{"ethereum"}, []string{"USDC"}),
	}, nil, logger, prometheus.NewRegistry())
	require.NoError(t, err)

	t.Run("LowestFeeWins", func(t *testing.T) {
		p := selector.Select("USDC", "ethereum", 100000)
		require.NotNil(t, p)
		assert.Equal(t, "balancer", p.Name)
	})

	t.Run("AmountFiltersProviders", func(t *testing.T) {
		// Above balancer's and dydx's caps, only aave remains.
		p := selector.Select("USDC", "ethereum", 600000)
		require.NotNil(t, p)
		assert.Equal(t, "aave", p.Name)
	})

	t.Run("ChainFilters", func(t *testing.T) {
		p := selector.Select("USDC", "arbitrum", 100000)
		require.NotNil(t, p)
		assert.Equal(t, "aave", p.Name)
	})

	t.Run("TokenFilters", func(t *testing.T) {
		p := selector.Select("WETH", "ethereum", 100000)
		require.NotNil(t, p)
		assert.Equal(t, "balancer", p.Name)
	})

	t.Run("NoneQualifies", func(t *testing.T) {
		assert.Nil(t, selector.Select("USDC", "solana", 100000))
		assert.Nil(t, selector.Select("DAI", "ethereum", 100000))
		assert.Nil(t, selector.Select("USDC", "ethereum", 2000000))
	})
}

func TestSelectTieBreakByPriority(t *testing.T) {
	logger := zaptest.NewLogger(t)
	table := []*types.FinancingProvider{
		testutils.Provider("alpha", 0, 1000000, []string{"ethereum"}, []string{"USDC"}),
		testutils.Provider("beta", 0, 1000000, []string{"ethereum"}, []string{"USDC"}),
	}

	selector, err := NewSelector(table, []string{"beta", "alpha"}, logger, prometheus.NewRegistry())
	require.NoError(t, err)

	// Deterministic across repeated calls: the priority list decides,
	// never map iteration order.
	for i := 0; i < 50; i++ {
		p := selector.Select("USDC", "ethereum", 1000)
		require.NotNil(t, p)
		require.Equal(t, "beta", p.Name)
	}
}

func TestSelectTieBreakByNameWithoutPriority(t *testing.T) {
	logger := zaptest.NewLogger(t)
	selector, err := NewSelector([]*types.FinancingProvider{
		testutils.Provider("zeta", 0, 1000000, []string{"ethereum"}, []string{"USDC"}),
		testutils.Provider("alpha", 0, 1000000, []string{"ethereum"}, []string{"USDC"}),
	}, nil, logger, prometheus.NewRegistry())
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		p := selector.Select("USDC", "ethereum", 1000)
		require.NotNil(t, p)
		require.Equal(t, "alpha", p.Name)
	}
}

func TestSelectCapped(t *testing.T) {
	logger := zaptest.NewLogger(t)
	selector, err := NewSelector([]*types.FinancingProvider{
		testutils.Provider("big", 0.001, 500000, []string{"ethereum"}, []string{"USDC"}),
		testutils.Provider("cheap", 0, 10000, []string{"ethereum"}, []string{"USDC"}),
	}, nil, logger, prometheus.NewRegistry())
	require.NoError(t, err)

	t.Run("FullAmountAvailable", func(t *testing.T) {
		p, granted := selector.SelectCapped("USDC", "ethereum", 5000)
		require.NotNil(t, p)
		assert.Equal(t, "cheap", p.Name)
		assert.Equal(t, 5000.0, granted)
	})

	t.Run("CappedToLargestFacility", func(t *testing.T) {
		p, granted := selector.SelectCapped("USDC", "ethereum", 900000)
		require.NotNil(t, p)
		assert.Equal(t, "big", p.Name)
		assert.Equal(t, 500000.0, granted)
	})

	t.Run("NothingQualifies", func(t *testing.T) {
		p, granted := selector.SelectCapped("DAI", "ethereum", 1000)
		assert.Nil(t, p)
		assert.Zero(t, granted)
	})
}

func TestSelectorRegistersMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	selector, err := NewSelector([]*types.FinancingProvider{
		testutils.Provider("aave", 0.0009, 1000000, []string{"ethereum"}, []string{"USDC"}),
	}, nil, zaptest.NewLogger(t), reg)
	require.NoError(t, err)

	require.NotNil(t, selector.Select("USDC", "ethereum", 1000))
	selector.Select("USDC", "solana", 1000)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["financing_provider_selections_total"])
	assert.True(t, names["financing_unfunded_total"])
}

func TestFee(t *testing.T) {
	p := testutils.Provider("aave", 0.0009, 1000000, []string{"ethereum"}, []string{"USDC"})
	assert.InDelta(t, 9.0, Fee(p, 10000), 1e-9)
	assert.Zero(t, Fee(nil, 10000))
}
