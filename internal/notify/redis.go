package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisSink hands messages to an SMS gateway by pushing them onto a Redis
// list the gateway consumes.
type RedisSink struct {
	rdb *goredis.Client
	key string
	now func() time.Time
}

// Message is the JSON payload pushed for each notification.
type Message struct {
	Phone    string    `json:"phone"`
	Reason   string    `json:"reason"`
	QueuedAt time.Time `json:"queued_at"`
}

// NewRedisSink connects to addr and pings it. key is the list messages are
// pushed onto.
func NewRedisSink(ctx context.Context, addr, key string) (*RedisSink, error) {
	if addr == "" {
		return nil, fmt.Errorf("notify.NewRedisSink: missing address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("notify.NewRedisSink: ping: %w", err)
	}
	return &RedisSink{rdb: rdb, key: key, now: time.Now}, nil
}

func (s *RedisSink) SendVerificationCode(ctx context.Context, phone, reason string) error {
	raw, err := json.Marshal(Message{Phone: phone, Reason: reason, QueuedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("notify.RedisSink.SendVerificationCode: %w", err)
	}
	if err := s.rdb.RPush(ctx, s.key, raw).Err(); err != nil {
		return fmt.Errorf("notify.RedisSink.SendVerificationCode: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (s *RedisSink) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}
