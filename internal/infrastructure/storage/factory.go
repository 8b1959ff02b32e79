package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/diarco/connexa-sync/internal/infrastructure/config"
)

// NewSink builds the sink selected by artifacts.kind. It returns a nil Sink
// for "none".
func NewSink(ctx context.Context, cfg config.ArtifactsConfig, logger *zap.Logger) (Sink, error) {
	switch cfg.Kind {
	case "", "none":
		return nil, nil
	case "local":
		sink, err := NewLocalSink(cfg.Dir)
		if err != nil {
			return nil, err
		}
		logger.Info("Writing run artifacts to disk", zap.String("dir", cfg.Dir))
		return sink, nil
	case "s3":
		sink, err := NewS3ObjectStorage(&cfg, WithLogger(logger))
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := sink.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		logger.Info("Writing run artifacts to S3",
			zap.String("bucket", cfg.Bucket),
			zap.String("prefix", cfg.Prefix),
		)
		return sink, nil
	default:
		return nil, fmt.Errorf("unknown artifacts kind %q", cfg.Kind)
	}
}
