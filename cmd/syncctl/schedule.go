package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/diarco/connexa-sync/internal/infrastructure/scheduler"
	"github.com/diarco/connexa-sync/internal/infrastructure/telemetry"
	"github.com/diarco/connexa-sync/internal/interfaces/http/handler"
	"github.com/diarco/connexa-sync/internal/interfaces/http/router"
)

func newScheduleCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the pipelines on the configured cron and serve the ops API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, root)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.close(); cerr != nil {
					a.log.Warn("Shutdown incomplete", zap.Error(cerr))
				}
			}()

			if err := a.openDatabases(true, true); err != nil {
				return err
			}
			runner, err := a.newPipelines(ctx, 0)
			if err != nil {
				return err
			}

			sched, err := scheduler.New(runner, a.cfg.Scheduler, a.log)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)

			if err := sched.Start(gctx); err != nil {
				return err
			}
			g.Go(func() error {
				<-gctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Scheduler.JobTimeout)
				defer cancel()
				return sched.Stop(stopCtx)
			})

			if a.cfg.HTTP.Enabled {
				engine := router.NewOpsEngine(router.OpsOptions{
					ServiceName: a.cfg.Telemetry.ServiceName,
					Version:     telemetry.ServiceVersion,
					Checks: map[string]handler.Pinger{
						"source":      a.dbs.Source,
						"destination": a.dbs.Destination,
					},
					Runs:           sched,
					Meter:          a.providers.Meter.Meter("connexa-sync.http"),
					Tracing:        a.cfg.Telemetry.Enabled,
					RequestTimeout: a.cfg.HTTP.ReadTimeout,
					Logger:         a.log.Named("http"),
				})
				srv := router.NewServer(a.cfg.HTTP, engine, a.log)
				g.Go(func() error { return srv.Run(gctx) })
			}

			if !a.cfg.Scheduler.Enabled && !a.cfg.HTTP.Enabled {
				a.log.Warn("Neither the cron nor the ops API is enabled, waiting for shutdown")
			}

			a.log.Info("Scheduling publish runs",
				zap.Bool("cron", a.cfg.Scheduler.Enabled),
				zap.Bool("http", a.cfg.HTTP.Enabled),
				zap.Strings("pipelines", runner.Names()))
			return g.Wait()
		},
	}
}
