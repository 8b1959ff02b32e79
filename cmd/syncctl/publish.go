package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/diarco/connexa-sync/internal/infrastructure/logger"
	"github.com/diarco/connexa-sync/internal/infrastructure/telemetry"
)

func newPublishCmd(root *rootOptions) *cobra.Command {
	var (
		maxID int64
		only  []string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Run one invocation of the publish pipelines",
		Long: "Reads pending demand, consolidates and nets it against stock, upserts it into the " +
			"staging tables and records the publish state of every key. Purchase orders always run; " +
			"distribution transfers run when transfers.enabled is set. Exits non-zero when a run fails.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if maxID < 0 {
				return fmt.Errorf("--max-id must not be negative")
			}
			ctx := cmd.Context()

			a, err := bootstrap(ctx, root)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.close(); cerr != nil && err == nil {
					a.log.Warn("Shutdown incomplete", zap.Error(cerr))
				}
			}()

			if err := a.openDatabases(true, true); err != nil {
				return err
			}
			all, err := a.newPipelines(ctx, maxID)
			if err != nil {
				return err
			}
			runner, err := selectPipelines(all, only)
			if err != nil {
				return err
			}

			ctx, log := logger.WithTrigger(ctx, a.log, "cli")
			ctx, span := telemetry.StartSpan(ctx, "publish.run",
				telemetry.WithAttribute(telemetry.SpanAttrTrigger, "cli"),
				telemetry.WithAttribute(telemetry.SpanAttrTarget, strings.Join(runner.Names(), ",")))
			defer span.End()

			summary, err := runner.Run(ctx)
			if summary != nil {
				telemetry.SetAttributes(span,
					telemetry.SpanAttrRunID, summary.RunID,
					telemetry.SpanAttrInserted, summary.Inserted,
					telemetry.SpanAttrFailed, summary.Failed)
			}
			if err != nil {
				telemetry.RecordError(span, err)
				return err
			}
			telemetry.SetOK(span)

			if summary.Failed > 0 {
				log.Warn("Run completed with failed rows", zap.Int("failed", summary.Failed))
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&maxID, "max-id", 0, "Process only pending lines (transfer headers) with id <= max-id (0 = no bound)")
	cmd.Flags().StringSliceVar(&only, "pipeline", nil, "Run only the named pipelines, by target name (default all configured)")
	return cmd
}
