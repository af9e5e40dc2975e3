package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"homeus/config"
	"homeus/extract"
	"homeus/mirror"
	"homeus/models"
	"homeus/storage"
)

var ErrCycleInProgress = errors.New("scraping cycle already in progress")

// CycleResult summarizes one finished cycle.
type CycleResult struct {
	SessionID     int64         `json:"session_id"`
	CorrelationID string        `json:"correlation_id"`
	Found         int           `json:"found"`
	New           int           `json:"new"`
	Errors        int           `json:"errors"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	Err           string        `json:"error,omitempty"`
}

type Orchestrator struct {
	cfg      *config.Config
	store    storage.Store
	scrapers map[string]Scraper
	sink     mirror.Sink
	logger   *slog.Logger

	running sync.Mutex
	active  atomic.Bool
	locks   keyedMutex

	mu   sync.RWMutex
	last *CycleResult
}

func NewOrchestrator(cfg *config.Config, store storage.Store, scrapers map[string]Scraper, sink mirror.Sink, logger *slog.Logger) *Orchestrator {
	if sink == nil {
		sink = mirror.NewMulti()
	}
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		scrapers: scrapers,
		sink:     sink,
		logger:   logger.With("component", "orchestrator"),
	}
}

// BuildScrapers creates one scraper per configured site.
func BuildScrapers(cfg *config.Config, logger *slog.Logger) (map[string]Scraper, error) {
	scrapers := make(map[string]Scraper, len(cfg.Sites))
	for _, id := range cfg.SiteIDs() {
		s, err := NewScraper(cfg.Sites[id], Options{
			PageDelay:      cfg.Scraping.PageDelay,
			RequestTimeout: cfg.Scraping.RequestTimeout,
			Logger:         logger,
		})
		if err != nil {
			return nil, fmt.Errorf("site %s: %w", id, err)
		}
		scrapers[id] = s
	}
	return scrapers, nil
}

// cycle holds the counters of one run. They are atomic because sources may
// run concurrently.
type cycle struct {
	found  atomic.Int64
	new    atomic.Int64
	errors atomic.Int64
}

// RunCycle scrapes every configured search target once and records the run as
// a session. It returns ErrCycleInProgress without doing anything when
// another cycle holds the lock.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !o.acquire() {
		return nil, ErrCycleInProgress
	}
	defer o.release()
	return o.runLocked(ctx)
}

// StartCycle claims the cycle lock and runs the cycle in the background. It
// returns ErrCycleInProgress when the lock is taken, so callers know whether
// their request actually started a run.
func (o *Orchestrator) StartCycle(ctx context.Context) error {
	if !o.acquire() {
		return ErrCycleInProgress
	}
	go func() {
		defer o.release()
		if _, err := o.runLocked(ctx); err != nil {
			o.logger.Error("background cycle failed", "error", err)
		}
	}()
	return nil
}

func (o *Orchestrator) acquire() bool {
	if !o.running.TryLock() {
		return false
	}
	o.active.Store(true)
	return true
}

func (o *Orchestrator) release() {
	o.active.Store(false)
	o.running.Unlock()
}

func (o *Orchestrator) runLocked(ctx context.Context) (result *CycleResult, err error) {
	started := time.Now()
	session, err := o.store.StartSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	logger := o.logger.With("session", session.ID, "correlation_id", session.CorrelationID)
	logger.Info("cycle started", "sites", len(o.scrapers))

	c := &cycle{}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}

		found, newCount := int(c.found.Load()), int(c.new.Load())
		if ferr := o.store.FinishSession(context.WithoutCancel(ctx), session.ID, found, newCount, err); ferr != nil {
			logger.Error("failed to finish session", "error", ferr)
		}

		result = &CycleResult{
			SessionID:     session.ID,
			CorrelationID: session.CorrelationID,
			Found:         found,
			New:           newCount,
			Errors:        int(c.errors.Load()),
			StartedAt:     started,
			Duration:      time.Since(started),
		}
		if err != nil {
			result.Found, result.New = 0, 0
			result.Err = err.Error()
			logger.Error("cycle failed", "error", err, "duration", result.Duration)
		} else {
			logger.Info("cycle completed",
				"found", result.Found,
				"new", result.New,
				"errors", result.Errors,
				"duration", result.Duration)
		}

		o.mu.Lock()
		o.last = result
		o.mu.Unlock()
	}()

	if o.cfg.Scraping.ParallelSources {
		err = o.runParallel(ctx, c, logger)
	} else {
		err = o.runSequential(ctx, c, logger)
	}
	return result, err
}

// Running reports whether a cycle is in progress.
func (o *Orchestrator) Running() bool {
	return o.active.Load()
}

// LastResult returns the most recently finished cycle, or nil.
func (o *Orchestrator) LastResult() *CycleResult {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.last
}

func (o *Orchestrator) runSequential(ctx context.Context, c *cycle, logger *slog.Logger) error {
	for _, id := range o.cfg.SiteIDs() {
		if err := o.runSite(ctx, id, c, logger); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) runParallel(ctx context.Context, c *cycle, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range o.cfg.SiteIDs() {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("site %s panic: %v", id, r)
				}
			}()
			return o.runSite(gctx, id, c, logger)
		})
	}
	return g.Wait()
}

func (o *Orchestrator) runSite(ctx context.Context, siteID string, c *cycle, logger *slog.Logger) error {
	siteCfg := o.cfg.Sites[siteID]
	s, ok := o.scrapers[siteID]
	if !ok {
		logger.Warn("no scraper for site, skipping", "site", siteID)
		return nil
	}
	logger = logger.With("site", siteID)

	for _, target := range siteCfg.SearchURLs {
		if err := ctx.Err(); err != nil {
			return err
		}

		logger.Info("scraping search target", "target", target.Name, "url", target.URL)
		listings, err := s.ScrapeListings(ctx, target.URL, o.cfg.Scraping.MaxPages)
		if err != nil {
			return fmt.Errorf("site %s target %s: %w", siteID, target.Name, err)
		}
		logger.Info("search target scraped", "target", target.Name, "listings", len(listings))

		for i := range listings {
			if err := ctx.Err(); err != nil {
				return err
			}
			c.found.Add(1)
			o.processListing(ctx, s, &listings[i], c, logger)
		}
	}
	return nil
}

// processListing persists one observed listing. Failures here are logged and
// counted but never end the cycle.
func (o *Orchestrator) processListing(ctx context.Context, s Scraper, l *models.Listing, c *cycle, logger *slog.Logger) {
	unlock := o.locks.Lock(l.ExternalID)
	defer unlock()

	logger = logger.With("id", l.ExternalID)

	isNew, err := o.store.IsNew(ctx, l.ExternalID)
	if err != nil {
		logger.Error("existence check failed, skipping listing", "error", err)
		c.errors.Add(1)
		return
	}

	if !isNew {
		if err := o.store.TouchLastSeen(ctx, l.ExternalID); err != nil {
			logger.Error("failed to update last seen", "error", err)
			c.errors.Add(1)
		}
		return
	}

	if l.DetailURL != "" {
		detail, err := o.scrapeDetails(ctx, s, l.DetailURL)
		if err != nil {
			logger.Warn("detail fetch failed, keeping card data", "url", l.DetailURL, "error", err)
		} else {
			l.Merge(detail)
		}
	}

	if err := o.store.Save(ctx, l); err != nil {
		logger.Error("failed to save listing", "error", err)
		c.errors.Add(1)
		return
	}
	l.IsNew = true
	c.new.Add(1)

	logger.Info("new listing",
		"title", l.Title,
		"price", extract.FormatPrice(l.Price, l.Currency),
		"location", l.Location)

	if err := o.sink.AppendOne(ctx, l); err != nil {
		logger.Warn("mirror append failed", "error", err)
	}
}

func (o *Orchestrator) scrapeDetails(ctx context.Context, s Scraper, detailURL string) (detail *models.Listing, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detail parse panic: %v", r)
		}
	}()
	return s.ScrapeDetails(ctx, detailURL)
}

// ExportRecent sends the limit most recent stored listings to the mirror in
// one batch. With reset set, sinks that support it are cleared first.
func (o *Orchestrator) ExportRecent(ctx context.Context, limit int, reset bool) (int, error) {
	stored, err := o.store.RecentListings(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("load recent listings: %w", err)
	}

	if reset {
		if r, ok := o.sink.(mirror.Resetter); ok {
			if err := r.Reset(ctx); err != nil {
				return 0, fmt.Errorf("reset mirror: %w", err)
			}
		}
	}

	listings := make([]models.Listing, 0, len(stored))
	for _, s := range stored {
		listings = append(listings, s.Listing)
	}
	if err := o.sink.AppendBatch(ctx, listings); err != nil {
		return 0, fmt.Errorf("export: %w", err)
	}
	o.logger.Info("exported listings", "count", len(listings), "reset", reset)
	return len(listings), nil
}

// keyedMutex serializes work on the same listing id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedEntry)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
