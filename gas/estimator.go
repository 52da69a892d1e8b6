package gas

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/config"
)

// swapGasLimit approximates a flash-loan-wrapped two-leg swap.
const swapGasLimit = 400000

// Estimator maps a route to a flat USD gas cost. It starts from the
// static per-chain table and, when a live client is attached, keeps a
// per-chain override refreshed from current base and priority fees.
type Estimator struct {
	logger *zap.Logger

	chains        map[string]float64
	crossChainUSD float64
	defaultUSD    float64

	mu        sync.RWMutex
	overrides map[string]float64
}

// NewEstimator builds an estimator over the configured gas table.
func NewEstimator(cfg config.GasConfig, logger *zap.Logger) *Estimator {
	chains := make(map[string]float64, len(cfg.ChainsUSD))
	for k, v := range cfg.ChainsUSD {
		chains[k] = v
	}
	return &Estimator{
		logger:        logger,
		chains:        chains,
		crossChainUSD: cfg.CrossChainUSD,
		defaultUSD:    cfg.DefaultUSD,
		overrides:     make(map[string]float64),
	}
}

// CostUSD returns the gas cost for executing a buy on buyChain and a
// sell on sellChain. Cross-chain routes pay the flat bridging constant
// instead of either per-chain figure.
func (e *Estimator) CostUSD(buyChain, sellChain string) float64 {
	if buyChain != sellChain {
		return e.crossChainUSD
	}

	e.mu.RLock()
	override, ok := e.overrides[buyChain]
	e.mu.RUnlock()
	if ok {
		return override
	}

	if cost, ok := e.chains[buyChain]; ok {
		return cost
	}
	return e.defaultUSD
}

// StartRefresh polls live fee data for one chain and keeps the USD
// override current until ctx is done. nativeUSD is the USD price of
// the chain's native token, supplied by the caller. Failures fall
// back to the static table rather than surfacing.
func (e *Estimator) StartRefresh(ctx context.Context, chain string, client *ethclient.Client, nativeUSD float64, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := e.refresh(ctx, chain, client, nativeUSD); err != nil {
					e.logger.Warn("gas refresh failed, using static table",
						zap.String("chain", chain),
						zap.Error(err))
					e.mu.Lock()
					delete(e.overrides, chain)
					e.mu.Unlock()
				}
			}
		}
	}()
}

func (e *Estimator) refresh(ctx context.Context, chain string, client *ethclient.Client, nativeUSD float64) error {
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to get latest header: %w", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		return fmt.Errorf("chain has no base fee")
	}

	tip, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return fmt.Errorf("failed to get priority fee: %w", err)
	}

	// (base + tip) * gasLimit, wei -> native -> USD
	totalWei := new(big.Int).Add(baseFee, tip)
	totalWei.Mul(totalWei, big.NewInt(swapGasLimit))
	native, _ := new(big.Float).Quo(new(big.Float).SetInt(totalWei), big.NewFloat(1e18)).Float64()
	costUSD := native * nativeUSD

	e.mu.Lock()
	e.overrides[chain] = costUSD
	e.mu.Unlock()
	return nil
}
