package feed

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/types"
)

// cacheSize bounds how many pairs the intake tracks at once.
const cacheSize = 512

// Intake normalizes feed input into price observations and serves
// them grouped by venue and chain. Entries older than the TTL are
// excluded from reads. Writers replace per-pair snapshots wholesale,
// so readers never observe a partially updated venue set.
type Intake struct {
	logger *zap.Logger
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex // serializes copy-on-write snapshot swaps
	cache *lru.Cache // pair key -> map[string]types.PriceObservation

	metrics struct {
		accepted prometheus.Counter
		dropped  prometheus.Counter
	}
}

// NewIntake creates an intake whose observations go stale after ttl,
// registering its metrics with reg.
func NewIntake(ttl time.Duration, logger *zap.Logger, reg prometheus.Registerer) *Intake {
	cache, err := lru.New(cacheSize)
	if err != nil {
		// lru.New only fails on a non-positive size.
		panic(err)
	}

	in := &Intake{
		logger: logger,
		ttl:    ttl,
		now:    time.Now,
		cache:  cache,
	}

	metrics := promauto.With(reg)
	in.metrics.accepted = metrics.NewCounter(prometheus.CounterOpts{
		Name: "feed_observations_accepted_total",
		Help: "Price observations accepted into the cache",
	})
	in.metrics.dropped = metrics.NewCounter(prometheus.CounterOpts{
		Name: "feed_observations_dropped_total",
		Help: "Malformed price observations dropped",
	})

	return in
}

// Observe validates and stores one observation. Malformed entries are
// dropped with a logged reason; the returned error exists for callers
// that want to count drops, a bad entry never aborts a scan cycle.
func (in *Intake) Observe(obs types.PriceObservation) error {
	if err := obs.Validate(); err != nil {
		in.metrics.dropped.Inc()
		in.logger.Warn("dropping malformed observation",
			zap.String("venue", obs.Venue),
			zap.String("chain", obs.Chain),
			zap.String("pair", obs.Pair.String()),
			zap.Error(err))
		return err
	}

	key := obs.Pair.String()
	venueKey := obs.Chain + "|" + obs.Venue

	in.mu.Lock()
	var prev map[string]types.PriceObservation
	if v, ok := in.cache.Get(key); ok {
		prev = v.(map[string]types.PriceObservation)
	}
	next := make(map[string]types.PriceObservation, len(prev)+1)
	for k, v := range prev {
		next[k] = v
	}
	next[venueKey] = obs
	in.cache.Add(key, next)
	in.mu.Unlock()

	in.metrics.accepted.Inc()
	return nil
}

// Prices returns the fresh observations for a pair, one per
// venue/chain, sorted by chain then venue so downstream ordering is
// deterministic.
func (in *Intake) Prices(pair types.TokenPair) []types.PriceObservation {
	v, ok := in.cache.Get(pair.String())
	if !ok {
		return nil
	}
	snapshot := v.(map[string]types.PriceObservation)

	cutoff := in.now().Add(-in.ttl)
	fresh := make([]types.PriceObservation, 0, len(snapshot))
	for _, obs := range snapshot {
		if obs.ObservedAt.Before(cutoff) {
			continue
		}
		fresh = append(fresh, obs)
	}

	sort.Slice(fresh, func(i, j int) bool {
		if fresh[i].Chain != fresh[j].Chain {
			return fresh[i].Chain < fresh[j].Chain
		}
		return fresh[i].Venue < fresh[j].Venue
	})
	return fresh
}
