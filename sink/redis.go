package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/michaelpento.lv/flasharb/types"
)

// Publisher hands viable candidates to whatever executes them.
type Publisher interface {
	Publish(ctx context.Context, candidate types.Candidate) error
}

// streamClient is the slice of the redis client the sink uses.
type streamClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// RedisSink publishes candidates to Redis Streams: one stream per buy
// chain plus a global stream for consumers that want everything.
type RedisSink struct {
	client streamClient
	stream string
}

// NewRedisSink connects to Redis at addr and publishes under the given
// base stream name.
func NewRedisSink(addr, stream string) *RedisSink {
	return &RedisSink{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		stream: stream,
	}
}

// Publish appends the candidate to the global and per-chain streams.
func (s *RedisSink) Publish(ctx context.Context, candidate types.Candidate) error {
	payload, err := json.Marshal(candidate)
	if err != nil {
		return fmt.Errorf("failed to marshal candidate: %w", err)
	}

	for _, stream := range []string{s.stream, StreamKey(s.stream, candidate.BuyChain)} {
		if err := s.client.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			Values: map[string]interface{}{"opportunity": string(payload)},
		}).Err(); err != nil {
			return fmt.Errorf("failed to publish to stream %s: %w", stream, err)
		}
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

// StreamKey builds the per-chain stream name.
func StreamKey(base, chain string) string {
	return base + "." + chain
}
