package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/types"
)

// StreamSource consumes a websocket price stream and pushes ticks
// straight into the intake. It reconnects with a fixed delay until
// the context is cancelled.
type StreamSource struct {
	url    string
	intake *Intake
	logger *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	reconnectDelay time.Duration
}

// tickMessage is the wire format pushed by the price stream.
type tickMessage struct {
	Chain        string  `json:"chain"`
	Venue        string  `json:"venue"`
	Base         string  `json:"base"`
	Quote        string  `json:"quote"`
	Price        float64 `json:"price"`
	LiquidityUSD float64 `json:"liquidity_usd"`
	Timestamp    int64   `json:"timestamp"`
}

// NewStreamSource creates a websocket price stream bound to an intake.
func NewStreamSource(url string, intake *Intake, logger *zap.Logger) *StreamSource {
	return &StreamSource{
		url:            url,
		intake:         intake,
		logger:         logger,
		reconnectDelay: 3 * time.Second,
	}
}

// Start connects and runs the read loop until ctx is done.
func (s *StreamSource) Start(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		return err
	}
	go s.readLoop(ctx)
	return nil
}

func (s *StreamSource) connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to price stream: %w", err)
	}

	s.conn = conn
	s.connected = true
	return nil
}

func (s *StreamSource) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		default:
		}

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			if err := s.connect(ctx); err != nil {
				s.logger.Warn("price stream reconnect failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.reconnectDelay):
				}
			}
			continue
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.logger.Warn("price stream read failed, reconnecting", zap.Error(err))
			s.dropConn()
			continue
		}

		var tick tickMessage
		if err := json.Unmarshal(raw, &tick); err != nil {
			s.logger.Warn("unparseable tick", zap.Error(err))
			continue
		}

		observedAt := time.Unix(tick.Timestamp, 0)
		if tick.Timestamp == 0 {
			observedAt = time.Now()
		}
		// Malformed ticks are dropped and logged by the intake.
		_ = s.intake.Observe(types.PriceObservation{
			Chain:        tick.Chain,
			Venue:        tick.Venue,
			Pair:         types.TokenPair{Base: tick.Base, Quote: tick.Quote},
			Price:        tick.Price,
			LiquidityUSD: tick.LiquidityUSD,
			ObservedAt:   observedAt,
		})
	}
}

func (s *StreamSource) dropConn() {
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = nil
	s.connected = false
	s.mu.Unlock()
}

// Close tears down the connection.
func (s *StreamSource) Close() {
	s.dropConn()
}
