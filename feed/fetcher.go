package feed

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/michaelpento.lv/flasharb/types"
)

// Source supplies price observations from one venue or endpoint.
// Implementations do the network I/O; the evaluator core never does.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]types.PriceObservation, error)
}

// Fetcher fans a fetch out across all sources with a shared deadline.
// Sources that miss the deadline are ignored for that cycle; a down
// feed means fewer observations, never a failed scan.
type Fetcher struct {
	intake   *Intake
	sources  []Source
	limiters map[string]*rate.Limiter
	timeout  time.Duration
	logger   *zap.Logger
}

// NewFetcher wires sources to an intake. Each source gets its own
// rate limiter so one venue's polling cadence cannot starve another.
func NewFetcher(intake *Intake, sources []Source, rps float64, burst int, timeout time.Duration, logger *zap.Logger) *Fetcher {
	limiters := make(map[string]*rate.Limiter, len(sources))
	for _, s := range sources {
		limiters[s.Name()] = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &Fetcher{
		intake:   intake,
		sources:  sources,
		limiters: limiters,
		timeout:  timeout,
		logger:   logger,
	}
}

// FetchAll polls every source concurrently and feeds results into the
// intake. It returns the number of accepted observations. Stragglers
// past the deadline are abandoned; their goroutines unwind on context
// cancellation.
func (f *Fetcher) FetchAll(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	type result struct {
		source string
		obs    []types.PriceObservation
		err    error
	}
	results := make(chan result, len(f.sources))

	for _, s := range f.sources {
		go func(s Source) {
			if err := f.limiters[s.Name()].Wait(ctx); err != nil {
				results <- result{source: s.Name(), err: err}
				return
			}
			obs, err := s.Fetch(ctx)
			results <- result{source: s.Name(), obs: obs, err: err}
		}(s)
	}

	accepted := 0
	for range f.sources {
		select {
		case r := <-results:
			if r.err != nil {
				f.logger.Warn("feed source failed, continuing without it",
					zap.String("source", r.source),
					zap.Error(r.err))
				continue
			}
			for _, obs := range r.obs {
				if f.intake.Observe(obs) == nil {
					accepted++
				}
			}
		case <-ctx.Done():
			f.logger.Warn("fetch deadline reached, ignoring stragglers",
				zap.Duration("timeout", f.timeout))
			return accepted
		}
	}
	return accepted
}
