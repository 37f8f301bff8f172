package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fxdesk/internal/desk"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// History 最近通知列表的保留条数，0 表示不保留
	History int
}

type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	Close() error
}

// RedisPublisher 通过 PUBLISH 广播通知，并按需保留最近 N 条历史。
type RedisPublisher struct {
	client  redisClient
	prefix  string
	history int
}

func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisPublisher(client, cfg.KeyPrefix, cfg.History), nil
}

func newRedisPublisher(client redisClient, prefix string, history int) *RedisPublisher {
	if prefix == "" {
		prefix = "fxdesk"
	}
	return &RedisPublisher{client: client, prefix: prefix, history: history}
}

func (p *RedisPublisher) Name() string { return "redis:" + p.channel() }

func (p *RedisPublisher) channel() string { return fmt.Sprintf("%s:notices", p.prefix) }

func (p *RedisPublisher) historyKey() string { return fmt.Sprintf("%s:notices:recent", p.prefix) }

func (p *RedisPublisher) Publish(ctx context.Context, n desk.Notice) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notice: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel(), payload).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if p.history <= 0 {
		return nil
	}
	if err := p.client.LPush(ctx, p.historyKey(), payload).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	return p.client.LTrim(ctx, p.historyKey(), 0, int64(p.history-1)).Err()
}

func (p *RedisPublisher) Close() error { return p.client.Close() }
