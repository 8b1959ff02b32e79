package telemetry

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/diarco/connexa-sync/internal/infrastructure/config"
)

// Providers bundles the tracer and meter providers of the process
type Providers struct {
	Tracer *TracerProvider
	Meter  *MeterProvider
}

// Setup initializes tracing and metrics from configuration. With telemetry
// disabled both providers fall back to the no-op globals.
func Setup(ctx context.Context, cfg config.TelemetryConfig, logger *zap.Logger) (*Providers, error) {
	tp, err := NewTracerProvider(ctx, Config{
		Enabled:           cfg.Enabled,
		CollectorEndpoint: cfg.CollectorEndpoint,
		SamplingRatio:     cfg.SamplingRatio,
		ServiceName:       cfg.ServiceName,
		Insecure:          cfg.Insecure,
	}, logger)
	if err != nil {
		return nil, err
	}

	mp, err := NewMeterProvider(ctx, MetricsConfig{
		Enabled:           cfg.Enabled,
		CollectorEndpoint: cfg.CollectorEndpoint,
		ExportInterval:    cfg.ExportInterval,
		ServiceName:       cfg.ServiceName,
		Insecure:          cfg.Insecure,
	}, logger)
	if err != nil {
		return nil, multierr.Append(err, tp.Shutdown(ctx))
	}

	return &Providers{Tracer: tp, Meter: mp}, nil
}

// Shutdown flushes and stops both providers
func (p *Providers) Shutdown(ctx context.Context) error {
	return multierr.Combine(
		p.Meter.Shutdown(ctx),
		p.Tracer.Shutdown(ctx),
	)
}
