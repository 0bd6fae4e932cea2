package cache

import (
	"encoding/base64"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ostafen/clover"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-resources/types"
	"github.com/saiset-co/sai-resources/utils"
)

const (
	cloverFieldKey     = "key"
	cloverFieldValue   = "value"
	cloverFieldExpires = "expires_at"
)

type CloverConfig struct {
	Path       string `json:"path"`
	Collection string `json:"collection"`
}

// CloverCache keeps one document per key. Document values hold base64
// msgpack and expires_at holds unix milliseconds (0 = no expiration).
// Clover has no transactions, so writes are serialised by the adapter.
type CloverCache struct {
	logger  types.Logger
	config  *CloverConfig
	db      *clover.DB
	clock   func() time.Time
	writeMu sync.Mutex
	state   atomic.Value
}

type cloverFactory struct {
	logger types.Logger
}

func NewCloverFactory(logger types.Logger) types.CacheFactory {
	return &cloverFactory{logger: logger}
}

func (f *cloverFactory) Name() string {
	return "clover"
}

func (f *cloverFactory) CreateCache(env types.CacheEnv) (types.Cache, error) {
	section := env.Section("clover")
	if section == nil {
		return nil, types.Errorf(types.ErrCacheConfigInvalid, "clover section is not configured")
	}

	return NewCloverCache(f.logger, section)
}

func NewCloverCache(logger types.Logger, config interface{}) (*CloverCache, error) {
	cloverConfig := &CloverConfig{Collection: "resource_cache"}

	if config != nil {
		if err := utils.UnmarshalConfig(config, cloverConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal clover cache config")
		}
	}

	if cloverConfig.Path == "" {
		return nil, types.Errorf(types.ErrCacheConfigInvalid, "clover path is required")
	}

	db, err := clover.Open(cloverConfig.Path)
	if err != nil {
		return nil, types.Errorf(types.ErrCacheConnectionFailed, "clover open %q: %v", cloverConfig.Path, err)
	}

	exists, err := db.HasCollection(cloverConfig.Collection)
	if err == nil && !exists {
		err = db.CreateCollection(cloverConfig.Collection)
	}
	if err != nil {
		_ = db.Close()
		return nil, types.Errorf(types.ErrCacheConnectionFailed, "clover collection %q: %v", cloverConfig.Collection, err)
	}

	cache := &CloverCache{
		logger: logger,
		config: cloverConfig,
		db:     db,
		clock:  time.Now,
	}

	cache.state.Store(StateStopped)

	return cache, nil
}

func (c *CloverCache) Get(key string) (interface{}, bool, error) {
	if key == "" {
		return nil, false, nil
	}

	doc, err := c.find(key)
	if err != nil {
		return nil, false, err
	}
	if doc == nil {
		return nil, false, nil
	}

	if c.isExpired(documentMillis(doc)) {
		if err := c.Remove(key); err != nil {
			c.logger.Warn("Failed to drop expired cache entry", zap.String("key", key), zap.Error(err))
		}
		return nil, false, nil
	}

	data, err := documentValue(doc)
	if err != nil {
		return nil, false, types.Errorf(types.ErrCacheOperationFailed, "clover get %s: %v", key, err)
	}

	return Encoded(data), true, nil
}

func (c *CloverCache) Put(key string, value interface{}, expires time.Time) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	expiresAt := toMillis(expires)
	if c.isExpired(expiresAt) {
		return c.Remove(key)
	}

	data, err := encodeValue(value)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.deleteUnsafe(key); err != nil {
		return err
	}

	return c.insertUnsafe(key, data, expiresAt)
}

func (c *CloverCache) PutIfAbsent(key string, value interface{}, expires time.Time) (interface{}, bool, error) {
	if key == "" {
		return nil, false, types.ErrCacheKeyEmpty
	}

	data, err := encodeValue(value)
	if err != nil {
		return nil, false, err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	doc, err := c.find(key)
	if err != nil {
		return nil, false, err
	}

	if doc != nil {
		if !c.isExpired(documentMillis(doc)) {
			existing, err := documentValue(doc)
			if err != nil {
				return nil, false, types.Errorf(types.ErrCacheOperationFailed, "clover get %s: %v", key, err)
			}
			return Encoded(existing), false, nil
		}
		if err := c.deleteUnsafe(key); err != nil {
			return nil, false, err
		}
	}

	expiresAt := toMillis(expires)
	if c.isExpired(expiresAt) {
		return value, false, nil
	}

	if err := c.insertUnsafe(key, data, expiresAt); err != nil {
		return nil, false, err
	}

	return value, true, nil
}

func (c *CloverCache) Remove(key string) error {
	if key == "" {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.deleteUnsafe(key)
}

func (c *CloverCache) Sweep() (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	now := float64(c.clock().UnixMilli())
	query := c.db.Query(c.config.Collection).
		Where(clover.Field(cloverFieldExpires).Gt(float64(0)).And(clover.Field(cloverFieldExpires).LtEq(now)))

	count, err := query.Count()
	if err != nil {
		return 0, types.Errorf(types.ErrCacheOperationFailed, "clover sweep: %v", err)
	}

	if count == 0 {
		return 0, nil
	}

	if err := query.Delete(); err != nil {
		return 0, types.Errorf(types.ErrCacheOperationFailed, "clover sweep: %v", err)
	}

	return count, nil
}

func (c *CloverCache) Start() error {
	if !c.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if c.getState() == StateStarting {
			c.setState(StateRunning)
		}
	}()

	c.logger.Info("Clover cache started", zap.String("path", c.config.Path))
	return nil
}

func (c *CloverCache) Stop() error {
	if !c.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer c.setState(StateStopped)

	if err := c.db.Close(); err != nil {
		return types.WrapError(err, "failed to close clover database")
	}

	c.logger.Info("Clover cache stopped gracefully")
	return nil
}

func (c *CloverCache) IsRunning() bool {
	return c.getState() == StateRunning
}

func (c *CloverCache) getState() State {
	return c.state.Load().(State)
}

func (c *CloverCache) setState(newState State) {
	c.state.Store(newState)
}

func (c *CloverCache) transitionState(from, to State) bool {
	return c.state.CompareAndSwap(from, to)
}

func (c *CloverCache) find(key string) (*clover.Document, error) {
	docs, err := c.db.Query(c.config.Collection).Where(clover.Field(cloverFieldKey).Eq(key)).FindAll()
	if err != nil {
		return nil, types.Errorf(types.ErrCacheOperationFailed, "clover find %s: %v", key, err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

func (c *CloverCache) insertUnsafe(key string, data []byte, expiresAt int64) error {
	doc := clover.NewDocument()
	doc.Set(cloverFieldKey, key)
	doc.Set(cloverFieldValue, base64.StdEncoding.EncodeToString(data))
	doc.Set(cloverFieldExpires, float64(expiresAt))

	if err := c.db.Insert(c.config.Collection, doc); err != nil {
		return types.Errorf(types.ErrCacheOperationFailed, "clover insert %s: %v", key, err)
	}
	return nil
}

func (c *CloverCache) deleteUnsafe(key string) error {
	err := c.db.Query(c.config.Collection).Where(clover.Field(cloverFieldKey).Eq(key)).Delete()
	if err != nil {
		return types.Errorf(types.ErrCacheOperationFailed, "clover delete %s: %v", key, err)
	}
	return nil
}

func (c *CloverCache) isExpired(expiresAt int64) bool {
	return expiresAt > 0 && expiresAt <= c.clock().UnixMilli()
}

func documentMillis(doc *clover.Document) int64 {
	switch v := doc.Get(cloverFieldExpires).(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func documentValue(doc *clover.Document) ([]byte, error) {
	encoded, _ := doc.Get(cloverFieldValue).(string)
	return base64.StdEncoding.DecodeString(encoded)
}
