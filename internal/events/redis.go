// Package events publishes memory change notifications on a Redis stream so
// other sessions can follow what is being remembered.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yoshihito-tsuji/ClaudeMCP/internal/memory"
)

const (
	defaultStream = "memory:events"
	maxStreamLen  = 10000

	readRetryDelay = time.Second
)

// RedisBus is a memory.EventSink on top of Redis Streams.
type RedisBus struct {
	rdb    *redis.Client
	stream string
	logger *zap.Logger
}

// NewRedisBus connects to redisURL and verifies the connection.
func NewRedisBus(ctx context.Context, redisURL, stream string, logger *zap.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if stream == "" {
		stream = defaultStream
	}
	return &RedisBus{rdb: rdb, stream: stream, logger: logger}, nil
}

// Publish appends ev to the stream, trimming it to roughly maxStreamLen entries.
func (b *RedisBus) Publish(ctx context.Context, ev memory.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]interface{}{
			"type": string(ev.Type),
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", b.stream, err)
	}
	b.logger.Debug("published event", zap.String("type", string(ev.Type)), zap.String("memory", ev.MemoryID))
	return nil
}

// Subscribe follows the stream from lastID ("$" for new events only, "0" for
// the whole history). The channel closes when ctx is cancelled.
func (b *RedisBus) Subscribe(ctx context.Context, lastID string) <-chan memory.Event {
	ch := make(chan memory.Event, 16)
	if lastID == "" {
		lastID = "$"
	}

	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{b.stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					b.logger.Warn("event read failed", zap.Error(err))
					select {
					case <-ctx.Done():
						return
					case <-time.After(readRetryDelay):
					}
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev memory.Event
					if json.Unmarshal([]byte(data), &ev) != nil {
						continue
					}
					select {
					case ch <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return ch
}

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}
