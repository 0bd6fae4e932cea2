package cache

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-resources/types"
	"github.com/saiset-co/sai-resources/utils"
)

type BadgerConfig struct {
	Path     string  `json:"path"`
	InMemory bool    `json:"in_memory"`
	GCRatio  float64 `json:"gc_ratio"`
}

// BadgerCache stores entries in an embedded badger database and relies on
// badger's per-entry TTL for expiration.
type BadgerCache struct {
	logger  types.Logger
	config  *BadgerConfig
	db      *badger.DB
	clock   func() time.Time
	started int32
}

type badgerFactory struct {
	logger types.Logger
}

func NewBadgerFactory(logger types.Logger) types.CacheFactory {
	return &badgerFactory{logger: logger}
}

func (f *badgerFactory) Name() string {
	return "badger"
}

func (f *badgerFactory) CreateCache(env types.CacheEnv) (types.Cache, error) {
	section := env.Section("badger")
	if section == nil {
		return nil, types.Errorf(types.ErrCacheConfigInvalid, "badger section is not configured")
	}

	return NewBadgerCache(f.logger, section)
}

func NewBadgerCache(logger types.Logger, config interface{}) (*BadgerCache, error) {
	badgerConfig := &BadgerConfig{GCRatio: 0.5}

	if config != nil {
		if err := utils.UnmarshalConfig(config, badgerConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal badger cache config")
		}
	}

	if badgerConfig.Path == "" && !badgerConfig.InMemory {
		return nil, types.Errorf(types.ErrCacheConfigInvalid, "badger path is required")
	}

	options := badger.DefaultOptions(badgerConfig.Path).WithLogger(nil)
	if badgerConfig.InMemory {
		options = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}

	db, err := badger.Open(options)
	if err != nil {
		return nil, types.Errorf(types.ErrCacheConnectionFailed, "badger open %q: %v", badgerConfig.Path, err)
	}

	return &BadgerCache{
		logger: logger,
		config: badgerConfig,
		db:     db,
		clock:  time.Now,
	}, nil
}

func (b *BadgerCache) Get(key string) (interface{}, bool, error) {
	if key == "" {
		return nil, false, nil
	}

	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		data, err = b.readUnsafe(txn, key)
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, types.Errorf(types.ErrCacheOperationFailed, "badger get %s: %v", key, err)
	}

	return Encoded(data), true, nil
}

func (b *BadgerCache) Put(key string, value interface{}, expires time.Time) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	ttl, live := b.ttl(expires)
	if !live {
		return b.Remove(key)
	}

	data, err := encodeValue(value)
	if err != nil {
		return err
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(b.newEntry(key, data, ttl))
	})
	if err != nil {
		return types.Errorf(types.ErrCacheOperationFailed, "badger set %s: %v", key, err)
	}

	return nil
}

func (b *BadgerCache) PutIfAbsent(key string, value interface{}, expires time.Time) (interface{}, bool, error) {
	if key == "" {
		return nil, false, types.ErrCacheKeyEmpty
	}

	data, err := encodeValue(value)
	if err != nil {
		return nil, false, err
	}

	ttl, live := b.ttl(expires)

	var existing []byte
	for {
		stored := false
		err = b.db.Update(func(txn *badger.Txn) error {
			current, err := b.readUnsafe(txn, key)
			if err == nil {
				existing = current
				return nil
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if !live {
				return nil
			}
			stored = true
			return txn.SetEntry(b.newEntry(key, data, ttl))
		})

		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, false, types.Errorf(types.ErrCacheOperationFailed, "badger put-if-absent %s: %v", key, err)
		}
		if existing != nil {
			return Encoded(existing), false, nil
		}
		return value, stored, nil
	}
}

func (b *BadgerCache) Remove(key string) error {
	if key == "" {
		return nil
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return types.Errorf(types.ErrCacheOperationFailed, "badger delete %s: %v", key, err)
	}

	return nil
}

// Sweep runs badger's value log GC; expired keys are already invisible to reads.
func (b *BadgerCache) Sweep() (int, error) {
	if b.config.InMemory {
		return 0, nil
	}

	err := b.db.RunValueLogGC(b.config.GCRatio)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return 0, types.Errorf(types.ErrCacheOperationFailed, "badger value log gc: %v", err)
	}

	return 0, nil
}

func (b *BadgerCache) Start() error {
	if !atomic.CompareAndSwapInt32(&b.started, 0, 1) {
		return nil
	}

	b.logger.Info("Badger cache started",
		zap.String("path", b.config.Path),
		zap.Bool("in_memory", b.config.InMemory))
	return nil
}

func (b *BadgerCache) Stop() error {
	if !atomic.CompareAndSwapInt32(&b.started, 1, 0) {
		return nil
	}

	if err := b.db.Close(); err != nil {
		b.logger.Error("Failed to close badger database", zap.Error(err))
		return types.WrapError(err, "failed to close badger database")
	}

	b.logger.Info("Badger cache closed successfully")
	return nil
}

func (b *BadgerCache) IsRunning() bool {
	return atomic.LoadInt32(&b.started) == 1
}

func (b *BadgerCache) readUnsafe(txn *badger.Txn, key string) ([]byte, error) {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (b *BadgerCache) newEntry(key string, data []byte, ttl time.Duration) *badger.Entry {
	entry := badger.NewEntry([]byte(key), data)
	if ttl > 0 {
		entry = entry.WithTTL(ttl)
	}
	return entry
}

// Badger keeps expiry as unix seconds, so sub-second precision is lost.
func (b *BadgerCache) ttl(expires time.Time) (time.Duration, bool) {
	if expires.IsZero() {
		return 0, true
	}

	ttl := expires.Sub(b.clock())
	if ttl <= 0 {
		return 0, false
	}

	return ttl, true
}
