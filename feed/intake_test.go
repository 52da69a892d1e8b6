package feed

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/flasharb/types"
	"github.com/michaelpento.lv/flasharb/utils/testutils"
)

var pair = types.TokenPair{Base: "WETH", Quote: "USDC"}

func newTestIntake(t *testing.T, ttl time.Duration) *Intake {
	t.Helper()
	return NewIntake(ttl, zaptest.NewLogger(t), prometheus.NewRegistry())
}

func TestIntakeAcceptsAndGroups(t *testing.T) {
	in := newTestIntake(t, 30*time.Second)
	now := time.Now()

	require.NoError(t, in.Observe(testutils.Observation("ethereum", "uniswap", pair, 3000, 1e6, now)))
	require.NoError(t, in.Observe(testutils.Observation("ethereum", "sushiswap", pair, 3010, 5e5, now)))
	require.NoError(t, in.Observe(testutils.Observation("arbitrum", "camelot", pair, 2995, 2e5, now)))

	got := in.Prices(pair)
	require.Len(t, got, 3)
	// Sorted by chain then venue.
	assert.Equal(t, "camelot", got[0].Venue)
	assert.Equal(t, "sushiswap", got[1].Venue)
	assert.Equal(t, "uniswap", got[2].Venue)
}

func TestIntakeDropsMalformed(t *testing.T) {
	in := newTestIntake(t, 30*time.Second)
	now := time.Now()

	require.Error(t, in.Observe(testutils.Observation("ethereum", "uniswap", pair, 0, 1e6, now)))
	require.Error(t, in.Observe(testutils.Observation("ethereum", "uniswap", pair, -5, 1e6, now)))
	require.Error(t, in.Observe(testutils.Observation("ethereum", "uniswap", pair, 3000, -1, now)))
	require.Error(t, in.Observe(testutils.Observation("ethereum", "", pair, 3000, 1e6, now)))
	require.Error(t, in.Observe(testutils.Observation("", "uniswap", pair, 3000, 1e6, now)))

	assert.Empty(t, in.Prices(pair))
}

func TestIntakeLatestWinsPerVenue(t *testing.T) {
	in := newTestIntake(t, 30*time.Second)
	now := time.Now()

	require.NoError(t, in.Observe(testutils.Observation("ethereum", "uniswap", pair, 3000, 1e6, now.Add(-time.Second))))
	require.NoError(t, in.Observe(testutils.Observation("ethereum", "uniswap", pair, 3005, 1e6, now)))

	got := in.Prices(pair)
	require.Len(t, got, 1)
	assert.Equal(t, 3005.0, got[0].Price)
}

func TestIntakeExcludesStale(t *testing.T) {
	in := newTestIntake(t, 30*time.Second)

	base := time.Now()
	require.NoError(t, in.Observe(testutils.Observation("ethereum", "uniswap", pair, 3000, 1e6, base)))
	require.NoError(t, in.Observe(testutils.Observation("ethereum", "sushiswap", pair, 3010, 1e6, base.Add(-time.Minute))))

	in.now = func() time.Time { return base }
	got := in.Prices(pair)
	require.Len(t, got, 1)
	assert.Equal(t, "uniswap", got[0].Venue)

	// Everything ages out eventually.
	in.now = func() time.Time { return base.Add(time.Minute) }
	assert.Empty(t, in.Prices(pair))
}

func TestIntakeUnknownPair(t *testing.T) {
	in := newTestIntake(t, 30*time.Second)
	assert.Empty(t, in.Prices(types.TokenPair{Base: "FOO", Quote: "BAR"}))
}

func TestIntakeConcurrentReadersAndWriters(t *testing.T) {
	in := newTestIntake(t, 30*time.Second)
	venues := []string{"uniswap", "sushiswap", "camelot", "balancer"}

	var wg sync.WaitGroup
	for _, v := range venues {
		wg.Add(1)
		go func(v string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = in.Observe(testutils.Observation("ethereum", v, pair, 3000+float64(i), 1e6, time.Now()))
			}
		}(v)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			got := in.Prices(pair)
			// A reader sees a consistent snapshot, never a torn one.
			assert.LessOrEqual(t, len(got), len(venues))
		}
	}()
	wg.Wait()

	assert.Len(t, in.Prices(pair), len(venues))
}
