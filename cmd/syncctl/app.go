package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/diarco/connexa-sync/internal/application/publish"
	"github.com/diarco/connexa-sync/internal/domain/replenishment"
	"github.com/diarco/connexa-sync/internal/domain/staging"
	"github.com/diarco/connexa-sync/internal/infrastructure/cache"
	"github.com/diarco/connexa-sync/internal/infrastructure/config"
	"github.com/diarco/connexa-sync/internal/infrastructure/logger"
	"github.com/diarco/connexa-sync/internal/infrastructure/persistence"
	"github.com/diarco/connexa-sync/internal/infrastructure/storage"
	"github.com/diarco/connexa-sync/internal/infrastructure/telemetry"
)

// app holds the process-wide resources of one syncctl invocation
type app struct {
	cfg         *config.Config
	log         *zap.Logger
	providers   *telemetry.Providers
	poolMetrics *telemetry.DBPoolMetrics
	dbs         *persistence.Databases
	lock        cache.RunLock
}

// bootstrap loads configuration, builds the logger and starts telemetry
func bootstrap(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	log, err := logger.NewFromSettings(cfg.App.Env, cfg.Log.Level, cfg.Log.Format, cfg.Log.Output)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	providers, err := telemetry.Setup(ctx, cfg.Telemetry, log)
	if err != nil {
		_ = logger.Sync(log)
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	poolMetrics, err := telemetry.NewDBPoolMetrics(providers.Meter.Meter("connexa-sync.db"), log)
	if err != nil {
		_ = providers.Shutdown(ctx)
		return nil, fmt.Errorf("init pool metrics: %w", err)
	}

	return &app{cfg: cfg, log: log, providers: providers, poolMetrics: poolMetrics}, nil
}

// openDatabases opens the pools a command needs
func (a *app) openDatabases(source, destination bool) error {
	a.dbs = &persistence.Databases{}
	level := logger.MapGormLogLevel(a.cfg.Log.Level)

	if source {
		db, err := persistence.OpenSource(&a.cfg.Source, persistence.Options{
			Logger: logger.NewGormLogger(a.log, level,
				logger.WithDatabase("source"),
				logger.WithExpectedErrors(persistence.IsLockError)),
		})
		if err != nil {
			return err
		}
		a.dbs.Source = db
		if err := a.instrument(db, "postgresql"); err != nil {
			return err
		}
	}

	if destination {
		db, err := persistence.OpenDestination(&a.cfg.Destination, persistence.Options{
			Logger: logger.NewGormLogger(a.log, level,
				logger.WithDatabase("destination"),
				logger.WithExpectedErrors(persistence.IsLockError)),
		})
		if err != nil {
			return err
		}
		a.dbs.Destination = db
		if err := a.instrument(db, "mssql"); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) instrument(db *persistence.Database, system string) error {
	if a.cfg.Telemetry.TraceDatabase {
		plugin := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
			Enabled:  true,
			DBSystem: system,
			DBName:   db.Name,
		}, a.log)
		if err := plugin.RegisterOtelGorm(db.DB); err != nil {
			return fmt.Errorf("register %s tracing: %w", db.Name, err)
		}
	}

	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	a.poolMetrics.Track(db.Name, sqlDB)
	return nil
}

// newPipelines wires the purchase-order pipeline and, when enabled, the
// transfer pipeline over the open pools. They share the publisher, the
// lease and the artifact sink; maxID bounds each pipeline's own ids.
func (a *app) newPipelines(ctx context.Context, maxID int64) (*publish.Pipelines, error) {
	pc := a.cfg.Publish

	centers, err := replenishment.ParseDistributionCenters(pc.DistributionCenters)
	if err != nil {
		return nil, err
	}

	stock, err := persistence.NewGormStockRepository(a.dbs.Source.DB, pc.StockTable, pc.ProductsTable)
	if err != nil {
		return nil, err
	}

	store := persistence.NewSQLServerStagingStore(a.dbs.Destination.DB, a.cfg.Destination.StatementTimeout)
	publisher := publish.NewPublisher(store, publish.PublisherConfig{
		Strategy:       publish.Strategy(pc.Strategy),
		UpdateExisting: pc.UpdateExisting,
		Retry: publish.RetryPolicy{
			MaxAttempts:     pc.RetryAttempts,
			InitialInterval: pc.RetryInitial,
			MaxInterval:     pc.RetryMax,
		},
	}, a.log.Named("publisher"))

	lock, err := cache.NewRunLockFactory(a.cfg.Redis, cache.WithLogger(a.log)).CreateLock()
	if err != nil {
		return nil, err
	}
	a.lock = lock

	sink, err := storage.NewSink(ctx, a.cfg.Artifacts, a.log)
	if err != nil {
		return nil, err
	}

	meter := a.providers.Meter.Meter("connexa-sync.pipeline")
	build := func(target staging.Target, lines replenishment.PendingLineRepository) (publish.Pipeline, error) {
		metrics, err := telemetry.NewPipelineMetrics(meter, target.Name)
		if err != nil {
			return publish.Pipeline{}, err
		}
		deps := publish.Dependencies{
			Lines:     lines,
			Stock:     stock,
			Schema:    persistence.NewInformationSchemaIntrospector(a.dbs.Destination.DB),
			Publisher: publisher,
			Lock:      lock,
			Metrics:   metrics,
		}
		if sink != nil {
			deps.Artifacts = sink
		}
		svc := publish.NewService(deps, publish.Config{
			Target:  target,
			Centers: centers,
			Read: replenishment.ReadRequest{
				Limit:  pc.BatchLimit,
				MaxAge: pc.MaxAge,
				MaxID:  maxID,
			},
			ClaimTTL:     pc.ClaimTTL,
			LeaseTTL:     a.cfg.Redis.LeaseTTL,
			MarkExisting: pc.MarkExisting,
		}, a.log.With(zap.String("pipeline", target.Name)))
		return publish.Pipeline{Name: target.Name, Runner: svc}, nil
	}

	orders, err := persistence.NewGormPendingLineRepository(a.dbs.Source.DB, pc.SourceTable, pc.ProductsTable)
	if err != nil {
		return nil, err
	}
	first, err := build(pc.Target, orders)
	if err != nil {
		return nil, err
	}
	pipelines := []publish.Pipeline{first}

	if tc := a.cfg.Transfers; tc.Enabled {
		transfers, err := persistence.NewGormTransferLineRepository(a.dbs.Source.DB, persistence.TransferSource{
			HeaderTable:       tc.HeaderTable,
			DetailTable:       tc.DetailTable,
			StatusTable:       tc.StatusTable,
			PendingStatus:     tc.PendingStatus,
			PublishedStatusID: tc.PublishedStatusID,
		})
		if err != nil {
			return nil, err
		}
		second, err := build(tc.Target, transfers)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, second)
	}

	return publish.NewPipelines(a.log, pipelines...)
}

// selectPipelines narrows runner to the named pipelines; no names keeps all
func selectPipelines(runner *publish.Pipelines, names []string) (*publish.Pipelines, error) {
	if len(names) == 0 {
		return runner, nil
	}
	return runner.Select(names...)
}

// lockPolicy maps the maintenance settings
func (a *app) lockPolicy() persistence.LockPolicy {
	m := a.cfg.Maintenance
	return persistence.LockPolicy{
		NowaitAttempts:   m.NowaitAttempts,
		LockTimeout:      m.LockTimeout,
		StatementTimeout: m.StatementTimeout,
		MaxAttempts:      m.MaxAttempts,
		BackoffCap:       m.BackoffCap,
		BatchSize:        m.BatchSize,
	}
}

// maintainer returns the table maintainer for the named side
func (a *app) maintainer(side string) (*persistence.TableMaintainer, error) {
	switch side {
	case "source":
		return persistence.NewPostgresMaintainer(a.dbs.Source.DB, a.lockPolicy(), a.log), nil
	case "destination":
		return persistence.NewSQLServerMaintainer(a.dbs.Destination.DB, a.lockPolicy(), a.log), nil
	default:
		return nil, fmt.Errorf("unknown database %q, want source or destination", side)
	}
}

// close releases every resource; safe on a partially built app
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	if a.lock != nil {
		err = multierr.Append(err, a.lock.Close())
	}
	if a.dbs != nil {
		err = multierr.Append(err, a.dbs.Close())
	}
	if a.poolMetrics != nil {
		err = multierr.Append(err, a.poolMetrics.Stop())
	}
	if a.providers != nil {
		err = multierr.Append(err, a.providers.Shutdown(ctx))
	}
	_ = logger.Sync(a.log)
	return err
}
