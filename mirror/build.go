package mirror

import (
	"context"
	"fmt"
	"log/slog"

	"homeus/config"
	"homeus/storage"
)

// FromConfig opens every enabled sink. With none enabled the returned Multi
// is empty and every call is a no-op.
func FromConfig(ctx context.Context, cfg config.MirrorConfig, logger *slog.Logger) (*Multi, error) {
	var sinks []Sink
	fail := func(err error) (*Multi, error) {
		NewMulti(sinks...).Close()
		return nil, err
	}

	if cfg.GoogleSheets.Enabled {
		s, err := NewSheetsSink(ctx, cfg.GoogleSheets, logger)
		if err != nil {
			return fail(fmt.Errorf("google sheets mirror: %w", err))
		}
		sinks = append(sinks, s)
		logger.Info("google sheets mirror enabled", "url", s.URL())
	}

	if cfg.S3.Enabled {
		u, err := storage.NewS3Uploader(ctx, cfg.S3)
		if err != nil {
			return fail(fmt.Errorf("s3 mirror: %w", err))
		}
		sinks = append(sinks, NewArchiveSink(u, cfg.S3.Prefix, logger))
		logger.Info("s3 mirror enabled", "bucket", cfg.S3.Bucket)
	}

	if cfg.AMQP.Enabled {
		s, err := NewAMQPSink(cfg.AMQP, logger)
		if err != nil {
			return fail(fmt.Errorf("amqp mirror: %w", err))
		}
		sinks = append(sinks, s)
		logger.Info("amqp mirror enabled", "exchange", cfg.AMQP.Exchange)
	}

	return NewMulti(sinks...), nil
}
