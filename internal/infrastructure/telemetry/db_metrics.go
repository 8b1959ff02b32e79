package telemetry

import (
	"context"
	"database/sql"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// PoolStatsSource reports connection pool statistics
type PoolStatsSource interface {
	Stats() sql.DBStats
}

// DBPoolMetrics exports connection pool state of the named databases as
// observable gauges read at every collection.
type DBPoolMetrics struct {
	mu           sync.RWMutex
	pools        map[string]PoolStatsSource
	registration metric.Registration
	logger       *zap.Logger
}

// NewDBPoolMetrics registers the pool gauges on meter
func NewDBPoolMetrics(meter metric.Meter, logger *zap.Logger) (*DBPoolMetrics, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &DBPoolMetrics{pools: make(map[string]PoolStatsSource), logger: logger}

	connections, err := meter.Int64ObservableGauge(
		"db_pool_connections",
		metric.WithDescription("Number of connections in the pool by state"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}
	maxOpen, err := meter.Int64ObservableGauge(
		"db_pool_connections_max",
		metric.WithDescription("Maximum number of open connections"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}
	waits, err := meter.Int64ObservableCounter(
		"db_pool_wait_total",
		metric.WithDescription("Total number of connections waited for"),
		metric.WithUnit("{wait}"),
	)
	if err != nil {
		return nil, err
	}

	m.registration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		m.mu.RLock()
		defer m.mu.RUnlock()
		for name, pool := range m.pools {
			stats := pool.Stats()
			db := AttrDBName.String(name)
			o.ObserveInt64(maxOpen, int64(stats.MaxOpenConnections), metric.WithAttributes(db))
			o.ObserveInt64(connections, int64(stats.Idle), metric.WithAttributes(db, AttrDBState.String("idle")))
			o.ObserveInt64(connections, int64(stats.InUse), metric.WithAttributes(db, AttrDBState.String("in_use")))
			o.ObserveInt64(connections, int64(stats.OpenConnections), metric.WithAttributes(db, AttrDBState.String("open")))
			o.ObserveInt64(waits, stats.WaitCount, metric.WithAttributes(db))
		}
		return nil
	}, connections, maxOpen, waits)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Track adds a pool under name
func (m *DBPoolMetrics) Track(name string, pool PoolStatsSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[name] = pool
	m.logger.Debug("Tracking connection pool", zap.String("db_name", name))
}

// Stop unregisters the callback. Safe to call multiple times.
func (m *DBPoolMetrics) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registration == nil {
		return nil
	}
	err := m.registration.Unregister()
	m.registration = nil
	return err
}
