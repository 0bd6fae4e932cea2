package cache

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-resources/types"
	"github.com/saiset-co/sai-resources/utils"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type SQLiteConfig struct {
	Path           string `json:"path"`
	Table          string `json:"table"`
	RequestTimeout string `json:"request_timeout"`
}

// SQLiteCache keeps entries in a single table; expires_at holds unix
// milliseconds and 0 for entries without expiration.
type SQLiteCache struct {
	ctx            context.Context
	logger         types.Logger
	config         *SQLiteConfig
	db             *sql.DB
	clock          func() time.Time
	requestTimeout time.Duration
	state          atomic.Value
}

type sqliteFactory struct {
	ctx    context.Context
	logger types.Logger
}

func NewSQLiteFactory(ctx context.Context, logger types.Logger) types.CacheFactory {
	return &sqliteFactory{ctx: ctx, logger: logger}
}

func (f *sqliteFactory) Name() string {
	return "sqlite"
}

func (f *sqliteFactory) CreateCache(env types.CacheEnv) (types.Cache, error) {
	section := env.Section("sqlite")
	if section == nil {
		return nil, types.Errorf(types.ErrCacheConfigInvalid, "sqlite section is not configured")
	}

	return NewSQLiteCache(f.ctx, f.logger, section)
}

func NewSQLiteCache(ctx context.Context, logger types.Logger, config interface{}) (*SQLiteCache, error) {
	sqliteConfig := &SQLiteConfig{
		Table:          "resource_cache",
		RequestTimeout: "5s",
	}

	if config != nil {
		if err := utils.UnmarshalConfig(config, sqliteConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal sqlite cache config")
		}
	}

	if sqliteConfig.Path == "" {
		return nil, types.Errorf(types.ErrCacheConfigInvalid, "sqlite path is required")
	}

	if !tableNamePattern.MatchString(sqliteConfig.Table) {
		return nil, types.Errorf(types.ErrCacheConfigInvalid, "sqlite table %q", sqliteConfig.Table)
	}

	requestTimeout, err := parseDuration(sqliteConfig.RequestTimeout)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", sqliteConfig.Path)
	if err != nil {
		return nil, types.Errorf(types.ErrCacheConnectionFailed, "sqlite open %q: %v", sqliteConfig.Path, err)
	}

	// Concurrent writers on separate connections hit SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	cache := &SQLiteCache{
		ctx:            ctx,
		logger:         logger,
		config:         sqliteConfig,
		db:             db,
		clock:          time.Now,
		requestTimeout: requestTimeout,
	}

	cache.state.Store(StateStopped)

	if err := cache.initDatabase(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("Failed to close database during cleanup", zap.Error(closeErr))
		}
		return nil, types.Errorf(types.ErrCacheConnectionFailed, "sqlite init %q: %v", sqliteConfig.Path, err)
	}

	return cache, nil
}

func (s *SQLiteCache) Get(key string) (interface{}, bool, error) {
	if key == "" {
		return nil, false, nil
	}

	ctx, cancel := s.requestContext()
	defer cancel()

	var data []byte
	var expiresAt int64

	err := s.db.QueryRowContext(ctx,
		"SELECT value, expires_at FROM "+s.config.Table+" WHERE key = ?", key,
	).Scan(&data, &expiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, types.Errorf(types.ErrCacheOperationFailed, "sqlite get %s: %v", key, err)
	}

	if s.isExpired(expiresAt) {
		if err := s.Remove(key); err != nil {
			s.logger.Warn("Failed to drop expired cache entry", zap.String("key", key), zap.Error(err))
		}
		return nil, false, nil
	}

	return Encoded(data), true, nil
}

func (s *SQLiteCache) Put(key string, value interface{}, expires time.Time) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	expiresAt := toMillis(expires)
	if s.isExpired(expiresAt) {
		return s.Remove(key)
	}

	data, err := encodeValue(value)
	if err != nil {
		return err
	}

	ctx, cancel := s.requestContext()
	defer cancel()

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO "+s.config.Table+" (key, value, expires_at) VALUES (?, ?, ?) "+
			"ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at",
		key, data, expiresAt)
	if err != nil {
		return types.Errorf(types.ErrCacheOperationFailed, "sqlite put %s: %v", key, err)
	}

	return nil
}

func (s *SQLiteCache) PutIfAbsent(key string, value interface{}, expires time.Time) (interface{}, bool, error) {
	if key == "" {
		return nil, false, types.ErrCacheKeyEmpty
	}

	data, err := encodeValue(value)
	if err != nil {
		return nil, false, err
	}

	ctx, cancel := s.requestContext()
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, types.Errorf(types.ErrCacheOperationFailed, "sqlite begin: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.clock().UnixMilli()
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM "+s.config.Table+" WHERE key = ? AND expires_at > 0 AND expires_at <= ?", key, now,
	); err != nil {
		return nil, false, types.Errorf(types.ErrCacheOperationFailed, "sqlite put-if-absent %s: %v", key, err)
	}

	expiresAt := toMillis(expires)
	stored := false

	if !s.isExpired(expiresAt) {
		result, err := tx.ExecContext(ctx,
			"INSERT INTO "+s.config.Table+" (key, value, expires_at) VALUES (?, ?, ?) ON CONFLICT(key) DO NOTHING",
			key, data, expiresAt)
		if err != nil {
			return nil, false, types.Errorf(types.ErrCacheOperationFailed, "sqlite put-if-absent %s: %v", key, err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return nil, false, types.Errorf(types.ErrCacheOperationFailed, "sqlite put-if-absent %s: %v", key, err)
		}
		stored = affected == 1
	}

	var actual interface{} = value
	if !stored {
		var existing []byte
		err := tx.QueryRowContext(ctx, "SELECT value FROM "+s.config.Table+" WHERE key = ?", key).Scan(&existing)
		switch {
		case err == nil:
			actual = Encoded(existing)
		case !errors.Is(err, sql.ErrNoRows):
			return nil, false, types.Errorf(types.ErrCacheOperationFailed, "sqlite put-if-absent %s: %v", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, types.Errorf(types.ErrCacheOperationFailed, "sqlite commit: %v", err)
	}

	return actual, stored, nil
}

func (s *SQLiteCache) Remove(key string) error {
	if key == "" {
		return nil
	}

	ctx, cancel := s.requestContext()
	defer cancel()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+s.config.Table+" WHERE key = ?", key); err != nil {
		return types.Errorf(types.ErrCacheOperationFailed, "sqlite delete %s: %v", key, err)
	}

	return nil
}

func (s *SQLiteCache) Sweep() (int, error) {
	ctx, cancel := s.requestContext()
	defer cancel()

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM "+s.config.Table+" WHERE expires_at > 0 AND expires_at <= ?", s.clock().UnixMilli())
	if err != nil {
		return 0, types.Errorf(types.ErrCacheOperationFailed, "sqlite sweep: %v", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, types.Errorf(types.ErrCacheOperationFailed, "sqlite sweep: %v", err)
	}

	return int(affected), nil
}

func (s *SQLiteCache) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if s.getState() == StateStarting {
			s.setState(StateRunning)
		}
	}()

	s.logger.Info("SQLite cache started", zap.String("path", s.config.Path))
	return nil
}

func (s *SQLiteCache) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer s.setState(StateStopped)

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
		return types.WrapError(err, "failed to close sqlite database")
	}

	s.logger.Info("SQLite cache stopped gracefully")
	return nil
}

func (s *SQLiteCache) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *SQLiteCache) getState() State {
	return s.state.Load().(State)
}

func (s *SQLiteCache) setState(newState State) {
	s.state.Store(newState)
}

func (s *SQLiteCache) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

func (s *SQLiteCache) initDatabase() error {
	ctx, cancel := s.requestContext()
	defer cancel()

	query := `
	CREATE TABLE IF NOT EXISTS ` + s.config.Table + ` (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_` + s.config.Table + `_expires_at ON ` + s.config.Table + ` (expires_at);`

	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *SQLiteCache) requestContext() (context.Context, context.CancelFunc) {
	if s.requestTimeout <= 0 {
		return context.WithCancel(s.ctx)
	}
	return context.WithTimeout(s.ctx, s.requestTimeout)
}

func (s *SQLiteCache) isExpired(expiresAt int64) bool {
	return expiresAt > 0 && expiresAt <= s.clock().UnixMilli()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
