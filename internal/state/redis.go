package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ipwatch/internal/types"
)

// DefaultRedisKey holds the pair when no key is configured
const DefaultRedisKey = "ipwatch:saved"

// RedisStore keeps the pair in a redis hash
type RedisStore struct {
	client *redis.Client
	key    string
	logger *zap.Logger
}

// NewRedisStore connects to redis and verifies the connection
func NewRedisStore(cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Key == "" {
		cfg.Key = DefaultRedisKey
	}

	rc := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		DialTimeout:  cfg.DialTimeout,
		PoolSize:     2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("redis connect error: %w", err)
	}

	return &RedisStore{client: rc, key: cfg.Key, logger: logger}, nil
}

// Load reads the saved pair from the hash
func (s *RedisStore) Load(ctx context.Context) (*types.SavedIPPair, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", s.key, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	pair := &types.SavedIPPair{External: fields["external"], Local: fields["local"]}
	if err := checkPair(*pair); err != nil {
		return nil, err
	}
	return pair, nil
}

// Save replaces the saved pair
func (s *RedisStore) Save(ctx context.Context, pair types.SavedIPPair) error {
	if err := checkPair(pair); err != nil {
		return err
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key,
			"external", pair.External,
			"local", pair.Local,
			"updated_at", time.Now().UTC().Format(time.RFC3339))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save address pair: %w", err)
	}

	s.logger.Debug("Saved address pair",
		zap.String("key", s.key),
		zap.String("external", pair.External),
		zap.String("local", pair.Local))
	return nil
}

// Close closes the redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
