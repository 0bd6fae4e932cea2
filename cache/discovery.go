package cache

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-resources/types"
)

const (
	// EnvFactoryKey names a factory explicitly in the cache environment.
	EnvFactoryKey = "cache.manager_factory"
	// EnvLRUSize carries the LRU capacity in the cache environment.
	EnvLRUSize = "cache.lru_size"

	FactoryEnvVar      = "RESOURCE_CACHE_FACTORY"
	FactoryPropertyKey = "resource.cache.factory"
	ServiceMarkerPath  = "META-INF/services/resource.cache.factory"

	LRUFactoryName = "lru"
)

// DefaultFactoryChain is tried in order when nothing names a factory.
var DefaultFactoryChain = []string{"redis", "badger", "sqlite", "clover"}

type discovery struct {
	propertiesFile string
	serviceDirs    []string
	lookupEnv      func(string) (string, bool)
}

// configuredFactory walks the explicit sources in priority order and returns
// the first factory name found together with the source it came from.
func (m *CacheManager) configuredFactory(env types.CacheEnv) (string, string) {
	if name := strings.TrimSpace(env.String(EnvFactoryKey)); name != "" {
		return name, "env"
	}

	if value, ok := m.discovery.lookupEnv(FactoryEnvVar); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value), "environment variable"
	}

	if m.discovery.propertiesFile != "" {
		properties, err := readProperties(m.discovery.propertiesFile)
		switch {
		case err == nil:
			if name := properties[FactoryPropertyKey]; name != "" {
				return name, "properties file"
			}
		case os.IsNotExist(err):
		default:
			m.logger.Info("Cache properties file could not be read",
				zap.String("path", m.discovery.propertiesFile),
				zap.Error(err))
		}
	}

	for _, dir := range m.discovery.serviceDirs {
		name, err := readServiceMarker(filepath.Join(dir, filepath.FromSlash(ServiceMarkerPath)))
		if err != nil {
			if !os.IsNotExist(err) {
				m.logger.Info("Cache service marker could not be read", zap.String("dir", dir), zap.Error(err))
			}
			continue
		}
		if name != "" {
			return name, "service marker"
		}
	}

	return "", ""
}

// candidates returns the factory names to try. A configured factory replaces
// the default chain; the LRU factory always closes the list.
func (m *CacheManager) candidates(env types.CacheEnv) []string {
	configured, source := m.configuredFactory(env)
	if configured != "" {
		m.logger.Debug("Cache factory configured", zap.String("factory", configured), zap.String("source", source))
		if configured == LRUFactoryName {
			return []string{LRUFactoryName}
		}
		return []string{configured, LRUFactoryName}
	}

	chain := make([]string, 0, len(DefaultFactoryChain)+1)
	chain = append(chain, DefaultFactoryChain...)
	return append(chain, LRUFactoryName)
}

// readProperties parses a java-style properties file: key=value or key:value
// lines, '#' and '!' comments.
func readProperties(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	properties := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}

		separator := strings.IndexAny(line, "=:")
		if separator < 0 {
			properties[line] = ""
			continue
		}

		key := strings.TrimSpace(line[:separator])
		properties[key] = strings.TrimSpace(line[separator+1:])
	}

	return properties, scanner.Err()
}

func readServiceMarker(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}

	return "", scanner.Err()
}

type lruFactory struct {
	logger          types.Logger
	defaultCapacity int
}

func NewLRUFactory(logger types.Logger, defaultCapacity int) types.CacheFactory {
	return &lruFactory{logger: logger, defaultCapacity: defaultCapacity}
}

func (f *lruFactory) Name() string {
	return LRUFactoryName
}

func (f *lruFactory) CreateCache(env types.CacheEnv) (types.Cache, error) {
	capacity := f.defaultCapacity

	if raw := strings.TrimSpace(env.String(EnvLRUSize)); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return nil, types.Errorf(types.ErrCacheConfigInvalid, "%s=%q: %v", EnvLRUSize, raw, err)
		}
		capacity = size
	}

	return NewLRUMapCache(capacity, f.logger), nil
}
