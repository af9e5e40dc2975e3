package workers

import (
	"context"
	"log/slog"
	"time"
)

// InactiveMarker is the part of the store the staleness worker needs.
type InactiveMarker interface {
	MarkInactive(ctx context.Context, cutoff time.Time) (int64, error)
}

// StalenessWorker marks listings that have not shown up on any search page
// for maxAge as inactive.
type StalenessWorker struct {
	store     InactiveMarker
	maxAge    time.Duration
	triggerCh chan struct{}
	logger    *slog.Logger
	now       func() time.Time
}

func NewStalenessWorker(store InactiveMarker, maxAge time.Duration, logger *slog.Logger) *StalenessWorker {
	return &StalenessWorker{
		store:     store,
		maxAge:    maxAge,
		triggerCh: make(chan struct{}, 1),
		logger:    logger.With("component", "staleness_worker"),
		now:       time.Now,
	}
}

// Trigger causes the worker to run immediately
func (w *StalenessWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

func (w *StalenessWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("staleness worker stopping")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		case <-w.triggerCh:
			w.logger.Info("staleness worker triggered manually")
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns the number of listings it deactivated.
func (w *StalenessWorker) Sweep(ctx context.Context) int64 {
	cutoff := w.now().Add(-w.maxAge)
	n, err := w.store.MarkInactive(ctx, cutoff)
	if err != nil {
		w.logger.Error("mark inactive failed", "error", err)
		return 0
	}
	if n > 0 {
		w.logger.Info("listings marked inactive", "count", n, "unseen_since", cutoff.UTC())
	}
	return n
}
