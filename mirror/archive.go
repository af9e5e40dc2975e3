package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"
	"homeus/models"
)

type uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
	ObjectURL(key string) string
}

// ArchiveSink writes each new listing as a JSON object to S3-compatible
// storage, keyed by source and discovery date.
type ArchiveSink struct {
	uploader uploader
	prefix   string
	logger   *slog.Logger
	now      func() time.Time
}

func NewArchiveSink(u uploader, prefix string, logger *slog.Logger) *ArchiveSink {
	return &ArchiveSink{
		uploader: u,
		prefix:   prefix,
		logger:   logger.With("sink", "s3"),
		now:      time.Now,
	}
}

func (a *ArchiveSink) AppendOne(ctx context.Context, l *models.Listing) error {
	key := path.Join(a.prefix, l.Source, a.now().UTC().Format("2006/01/02"), l.ExternalID+".json")
	if err := a.put(ctx, key, l); err != nil {
		return fmt.Errorf("archive %s: %w", l.ExternalID, err)
	}
	a.logger.Debug("listing archived", "id", l.ExternalID, "url", a.uploader.ObjectURL(key))
	return nil
}

// AppendBatch writes the whole batch as one JSON array under a fresh key.
func (a *ArchiveSink) AppendBatch(ctx context.Context, listings []models.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	now := a.now().UTC()
	key := path.Join(a.prefix, "exports", now.Format("2006/01/02"), now.Format("150405")+"-"+uuid.NewString()+".json")
	if err := a.put(ctx, key, listings); err != nil {
		return fmt.Errorf("archive batch: %w", err)
	}
	a.logger.Info("batch archived", "count", len(listings), "url", a.uploader.ObjectURL(key))
	return nil
}

func (a *ArchiveSink) Close() error {
	return nil
}

func (a *ArchiveSink) put(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return a.uploader.Upload(ctx, key, bytes.NewReader(data), "application/json")
}
