package dex

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/michaelpento.lv/flasharb/config"
	"github.com/michaelpento.lv/flasharb/types"
)

const pairABIJson = `[{"constant":true,"inputs":[],"name":"getReserves","outputs":[{"internalType":"uint112","name":"_reserve0","type":"uint112"},{"internalType":"uint112","name":"_reserve1","type":"uint112"},{"internalType":"uint32","name":"_blockTimestampLast","type":"uint32"}],"payable":false,"stateMutability":"view","type":"function"}]`

// PairSource reads a uniswap-v2-style pair contract's reserves and
// turns them into one price observation per fetch. Price is the quote
// per base reserve ratio; liquidity is approximated as twice the
// quote-side reserves, which holds when the quote is a USD stable.
type PairSource struct {
	client        *ethclient.Client
	pairAddr      common.Address
	venue         string
	chain         string
	pair          types.TokenPair
	baseDecimals  int
	quoteDecimals int
	pairABI       abi.ABI
}

// NewPairSource dials the configured RPC endpoint and prepares the
// reserve call.
func NewPairSource(cfg config.DEXSourceConfig) (*PairSource, error) {
	pair, err := types.ParsePair(cfg.Pair)
	if err != nil {
		return nil, err
	}

	parsedABI, err := abi.JSON(strings.NewReader(pairABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pair ABI: %w", err)
	}

	client, err := ethclient.Dial(cfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.Venue, err)
	}

	return &PairSource{
		client:        client,
		pairAddr:      common.HexToAddress(cfg.PairAddress),
		venue:         cfg.Venue,
		chain:         cfg.Chain,
		pair:          pair,
		baseDecimals:  cfg.BaseDecimals,
		quoteDecimals: cfg.QuoteDecimals,
		pairABI:       parsedABI,
	}, nil
}

// Name identifies the source in logs and rate limiter buckets.
func (p *PairSource) Name() string {
	return p.venue + "/" + p.chain
}

// Fetch reads current reserves and derives a price observation.
func (p *PairSource) Fetch(ctx context.Context) ([]types.PriceObservation, error) {
	data, err := p.pairABI.Pack("getReserves")
	if err != nil {
		return nil, fmt.Errorf("failed to pack getReserves: %w", err)
	}

	raw, err := p.client.CallContract(ctx, ethereum.CallMsg{
		To:   &p.pairAddr,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("getReserves call failed: %w", err)
	}

	out, err := p.pairABI.Unpack("getReserves", raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack reserves: %w", err)
	}
	if len(out) < 2 {
		return nil, fmt.Errorf("unexpected getReserves output")
	}
	reserve0, ok0 := out[0].(*big.Int)
	reserve1, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, fmt.Errorf("unexpected reserve types")
	}
	if reserve0.Sign() == 0 {
		return nil, fmt.Errorf("pool %s has no base reserves", p.pairAddr.Hex())
	}

	base := normalize(reserve0, p.baseDecimals)
	quote := normalize(reserve1, p.quoteDecimals)

	return []types.PriceObservation{{
		Chain:        p.chain,
		Venue:        p.venue,
		Pair:         p.pair,
		Price:        quote / base,
		LiquidityUSD: 2 * quote,
		ObservedAt:   time.Now(),
	}}, nil
}

// Close releases the RPC connection.
func (p *PairSource) Close() {
	p.client.Close()
}

func normalize(reserve *big.Int, decimals int) float64 {
	f := new(big.Float).SetInt(reserve)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	v, _ := new(big.Float).Quo(f, scale).Float64()
	return v
}
