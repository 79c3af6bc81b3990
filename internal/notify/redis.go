package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"qc-review/internal/config"
	"qc-review/internal/models"
)

// NewRedisClient builds the shared Redis client from config.
func NewRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// RedisPublisher publishes transitions on a pub/sub channel for live listeners and
// appends them to a capped stream for consumers that poll.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	stream  string
	maxLen  int64
}

func NewRedisPublisher(client *redis.Client, channel, stream string, maxLen int64) *RedisPublisher {
	if channel == "" {
		channel = "qc-review:transitions"
	}
	if stream == "" {
		stream = "qc-review:events"
	}
	return &RedisPublisher{client: client, channel: channel, stream: stream, maxLen: maxLen}
}

// Notify writes the event to the channel and the stream in one MULTI block.
func (p *RedisPublisher) Notify(ctx context.Context, ev models.TransitionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal transition: %w", err)
	}
	pipe := p.client.TxPipeline()
	pipe.Publish(ctx, p.channel, payload)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Values: map[string]interface{}{
			"asset_id":  ev.AssetID,
			"qc_status": string(ev.QCStatus),
			"payload":   string(payload),
		},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish transition: %w", err)
	}
	return nil
}

// Recent returns up to count stream events, newest first.
func (p *RedisPublisher) Recent(ctx context.Context, count int64) ([]models.TransitionEvent, error) {
	msgs, err := p.client.XRevRangeN(ctx, p.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("read transition stream: %w", err)
	}
	out := make([]models.TransitionEvent, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["payload"].(string)
		if !ok {
			continue
		}
		var ev models.TransitionEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("decode stream entry %s: %w", msg.ID, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// Close is a no-op; the client is shared with the rate limiter.
func (p *RedisPublisher) Close() error { return nil }
