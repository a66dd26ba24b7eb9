package ledger

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"synthetic-arbitrage-engine/internal/core/model"
)

// RedisConfig Redis 连接参数
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// NewRedisClient 创建 Redis 客户端并 ping 验证连通性
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return rdb, nil
}

// Redis 持久化账本，进程重启后挂单仍可被对账
//
// Key 结构:
//
//	{prefix}:{strategy}:{side} - hash，field 为订单号，value 为订单 JSON
type Redis struct {
	rdb      *redis.Client
	prefix   string
	strategy string
}

// NewRedis 创建 Redis 账本
// 参数 prefix: key 前缀（如 arb:ledger）
// 参数 strategy: 策略实例名，用于隔离不同实例
func NewRedis(rdb *redis.Client, prefix, strategy string) *Redis {
	return &Redis{rdb: rdb, prefix: prefix, strategy: strategy}
}

func (r *Redis) key(side model.Side) string {
	return r.prefix + ":" + r.strategy + ":" + string(side)
}

func (r *Redis) Add(ctx context.Context, order model.Order) error {
	if !order.Side.Valid() || order.ID == "" {
		return fmt.Errorf("ledger: invalid order side=%q id=%q", order.Side, order.ID)
	}
	return r.put(ctx, order)
}

func (r *Redis) Update(ctx context.Context, order model.Order) error {
	if !order.Side.Valid() {
		return ErrNotFound
	}
	exists, err := r.rdb.HExists(ctx, r.key(order.Side), order.ID).Result()
	if err != nil {
		return fmt.Errorf("redis: check order %s: %w", order.ID, err)
	}
	if !exists {
		return ErrNotFound
	}
	return r.put(ctx, order)
}

func (r *Redis) put(ctx context.Context, order model.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("redis: marshal order %s: %w", order.ID, err)
	}
	if err := r.rdb.HSet(ctx, r.key(order.Side), order.ID, data).Err(); err != nil {
		return fmt.Errorf("redis: set order %s: %w", order.ID, err)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, side model.Side, id string) error {
	n, err := r.rdb.HDel(ctx, r.key(side), id).Result()
	if err != nil {
		return fmt.Errorf("redis: remove order %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Redis) List(ctx context.Context, side model.Side) ([]model.Order, error) {
	raw, err := r.rdb.HGetAll(ctx, r.key(side)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list %s orders: %w", side, err)
	}

	out := make([]model.Order, 0, len(raw))
	for id, data := range raw {
		var o model.Order
		if err := json.Unmarshal([]byte(data), &o); err != nil {
			return nil, fmt.Errorf("redis: unmarshal order %s: %w", id, err)
		}
		out = append(out, o)
	}
	sortOrders(out)
	return out, nil
}

func (r *Redis) Len(ctx context.Context, side model.Side) (int, error) {
	n, err := r.rdb.HLen(ctx, r.key(side)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: count %s orders: %w", side, err)
	}
	return int(n), nil
}
