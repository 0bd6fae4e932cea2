package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-resources/types"
	"github.com/saiset-co/sai-resources/utils"
)

type RedisConfig struct {
	Host               string `json:"host"`
	Port               int    `json:"port"`
	Password           string `json:"password"`
	DB                 int    `json:"db"`
	PoolSize           int    `json:"pool_size"`
	MinIdleConnections int    `json:"min_idle_connections"`
	DialTimeout        string `json:"dial_timeout"`
	ReadTimeout        string `json:"read_timeout"`
	WriteTimeout       string `json:"write_timeout"`
	KeyPrefix          string `json:"key_prefix"`
}

// RedisCache keeps msgpack-encoded values in Redis and lets Redis expire them.
type RedisCache struct {
	ctx     context.Context
	logger  types.Logger
	config  *RedisConfig
	client  *redis.Client
	clock   func() time.Time
	started int32
}

type redisFactory struct {
	ctx    context.Context
	logger types.Logger
}

func NewRedisFactory(ctx context.Context, logger types.Logger) types.CacheFactory {
	return &redisFactory{ctx: ctx, logger: logger}
}

func (f *redisFactory) Name() string {
	return "redis"
}

func (f *redisFactory) CreateCache(env types.CacheEnv) (types.Cache, error) {
	section := env.Section("redis")
	if section == nil {
		return nil, types.Errorf(types.ErrCacheConfigInvalid, "redis section is not configured")
	}

	return NewRedisCache(f.ctx, f.logger, section)
}

func NewRedisCache(ctx context.Context, logger types.Logger, config interface{}) (*RedisCache, error) {
	var redisConfig = &RedisConfig{
		Host:               "localhost",
		Port:               6379,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeout:        "5s",
		ReadTimeout:        "3s",
		WriteTimeout:       "3s",
		KeyPrefix:          "sai-resources",
	}

	if config != nil {
		err := utils.UnmarshalConfig(config, redisConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis cache config")
		}
	}

	cache := &RedisCache{
		ctx:    ctx,
		logger: logger,
		config: redisConfig,
		clock:  time.Now,
	}

	if err := cache.initRedisClient(); err != nil {
		return nil, types.WrapError(err, "failed to initialize redis client")
	}

	if err := cache.ping(); err != nil {
		_ = cache.client.Close()
		return nil, types.Errorf(types.ErrCacheConnectionFailed, "redis %s: %v", cache.client.Options().Addr, err)
	}

	return cache, nil
}

func (r *RedisCache) Get(key string) (interface{}, bool, error) {
	if key == "" {
		return nil, false, nil
	}

	data, err := r.client.Get(r.ctx, r.buildFullKey(key)).Bytes()
	if err != nil {
		if types.IsError(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, types.Errorf(types.ErrCacheOperationFailed, "redis get %s: %v", key, err)
	}

	return Encoded(data), true, nil
}

func (r *RedisCache) Put(key string, value interface{}, expires time.Time) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	ttl, live := r.ttl(expires)
	if !live {
		return r.Remove(key)
	}

	data, err := encodeValue(value)
	if err != nil {
		return err
	}

	if err := r.client.Set(r.ctx, r.buildFullKey(key), data, ttl).Err(); err != nil {
		r.logger.Error("Failed to set cache entry", zap.String("key", key), zap.Error(err))
		return types.Errorf(types.ErrCacheOperationFailed, "redis set %s: %v", key, err)
	}

	return nil
}

func (r *RedisCache) PutIfAbsent(key string, value interface{}, expires time.Time) (interface{}, bool, error) {
	if key == "" {
		return nil, false, types.ErrCacheKeyEmpty
	}

	ttl, live := r.ttl(expires)
	if !live {
		existing, found, err := r.Get(key)
		if err != nil || found {
			return existing, false, err
		}
		return value, false, nil
	}

	data, err := encodeValue(value)
	if err != nil {
		return nil, false, err
	}

	fullKey := r.buildFullKey(key)

	for attempt := 0; attempt < 3; attempt++ {
		stored, err := r.client.SetNX(r.ctx, fullKey, data, ttl).Result()
		if err != nil {
			return nil, false, types.Errorf(types.ErrCacheOperationFailed, "redis setnx %s: %v", key, err)
		}
		if stored {
			return value, true, nil
		}

		existing, found, err := r.Get(key)
		if err != nil {
			return nil, false, err
		}
		if found {
			return existing, false, nil
		}
	}

	return nil, false, types.Errorf(types.ErrCacheOperationFailed, "redis setnx %s: key keeps expiring", key)
}

func (r *RedisCache) Remove(key string) error {
	if key == "" {
		return nil
	}

	if err := r.client.Del(r.ctx, r.buildFullKey(key)).Err(); err != nil {
		r.logger.Error("Failed to delete cache key", zap.String("key", key), zap.Error(err))
		return types.Errorf(types.ErrCacheOperationFailed, "redis del %s: %v", key, err)
	}

	return nil
}

func (r *RedisCache) Start() error {
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		return nil
	}

	r.logger.Info("Redis cache started", zap.String("addr", r.client.Options().Addr))
	return nil
}

func (r *RedisCache) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.started, 1, 0) {
		return nil
	}

	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis client", zap.Error(err))
		return types.WrapError(err, "failed to close redis client")
	}

	r.logger.Info("Redis cache closed successfully")
	return nil
}

func (r *RedisCache) IsRunning() bool {
	return atomic.LoadInt32(&r.started) == 1
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// ttl converts an absolute expiration into the relative TTL Redis expects.
// Redis keeps millisecond precision, so anything shorter counts as expired.
func (r *RedisCache) ttl(expires time.Time) (time.Duration, bool) {
	if expires.IsZero() {
		return 0, true
	}

	ttl := expires.Sub(r.clock())
	if ttl < time.Millisecond {
		return 0, false
	}

	return ttl, true
}

func (r *RedisCache) initRedisClient() error {
	dialTimeout, err := parseDuration(r.config.DialTimeout)
	if err != nil {
		return err
	}
	readTimeout, err := parseDuration(r.config.ReadTimeout)
	if err != nil {
		return err
	}
	writeTimeout, err := parseDuration(r.config.WriteTimeout)
	if err != nil {
		return err
	}

	r.client = redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", r.config.Host, r.config.Port),
		Password:     r.config.Password,
		DB:           r.config.DB,
		PoolSize:     r.config.PoolSize,
		MinIdleConns: r.config.MinIdleConnections,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	return nil
}

func (r *RedisCache) ping() error {
	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()

	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) buildFullKey(key string) string {
	if r.config.KeyPrefix != "" {
		return r.config.KeyPrefix + ":" + key
	}
	return key
}

func parseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, types.Errorf(types.ErrCacheConfigInvalid, "duration %q: %v", value, err)
	}
	return d, nil
}
