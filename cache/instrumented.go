package cache

import (
	"context"
	"time"

	"github.com/saiset-co/sai-resources/types"
)

type instrumentedCache struct {
	impl    types.Cache
	name    string
	metrics types.MetricsManager
}

func newInstrumentedCache(name string, metrics types.MetricsManager, impl types.Cache) types.Cache {
	if metrics == nil {
		return impl
	}

	return &instrumentedCache{
		impl:    impl,
		name:    name,
		metrics: metrics,
	}
}

func (ic *instrumentedCache) Get(key string) (interface{}, bool, error) {
	start := time.Now()
	value, found, err := ic.impl.Get(key)
	duration := time.Since(start)

	result := "miss"
	switch {
	case err != nil:
		result = "error"
	case found:
		result = "hit"
	}

	ic.recordMetric("get", result, duration)
	return value, found, err
}

func (ic *instrumentedCache) Put(key string, value interface{}, expires time.Time) error {
	start := time.Now()
	err := ic.impl.Put(key, value, expires)

	ic.recordMetric("put", resultOf(err), time.Since(start))
	return err
}

func (ic *instrumentedCache) PutIfAbsent(key string, value interface{}, expires time.Time) (interface{}, bool, error) {
	start := time.Now()
	actual, stored, err := ic.impl.PutIfAbsent(key, value, expires)
	duration := time.Since(start)

	result := "existing"
	switch {
	case err != nil:
		result = "error"
	case stored:
		result = "stored"
	}

	ic.recordMetric("put_if_absent", result, duration)
	return actual, stored, err
}

func (ic *instrumentedCache) Remove(key string) error {
	start := time.Now()
	err := ic.impl.Remove(key)

	ic.recordMetric("remove", resultOf(err), time.Since(start))
	return err
}

func (ic *instrumentedCache) Sweep() (int, error) {
	sweeper, ok := ic.impl.(types.Sweeper)
	if !ok {
		return 0, nil
	}

	start := time.Now()
	removed, err := sweeper.Sweep()

	ic.recordMetric("sweep", resultOf(err), time.Since(start))
	if removed > 0 {
		ic.metrics.Counter("cache_expired_entries_total", map[string]string{"cache": ic.name}).Add(float64(removed))
	}
	return removed, err
}

func (ic *instrumentedCache) Ping(ctx context.Context) error {
	if pinger, ok := ic.impl.(pinger); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

func (ic *instrumentedCache) Unwrap() types.Cache {
	return ic.impl
}

func (ic *instrumentedCache) Start() error {
	start := time.Now()
	err := ic.impl.Start()

	ic.recordMetric("start", resultOf(err), time.Since(start))
	return err
}

func (ic *instrumentedCache) Stop() error {
	return ic.impl.Stop()
}

func (ic *instrumentedCache) IsRunning() bool {
	return ic.impl.IsRunning()
}

func (ic *instrumentedCache) recordMetric(operation, result string, duration time.Duration) {
	ic.metrics.Counter("cache_operations_total", map[string]string{
		"cache":     ic.name,
		"operation": operation,
		"result":    result,
	}).Inc()

	ic.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"cache": ic.name, "operation": operation},
	).Observe(duration.Seconds())
}

func resultOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Unwrap returns the cache beneath the metrics decorator, if any.
func Unwrap(c types.Cache) types.Cache {
	if wrapped, ok := c.(interface{ Unwrap() types.Cache }); ok {
		return wrapped.Unwrap()
	}
	return c
}
