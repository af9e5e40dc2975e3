package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"homeus/config"
	"homeus/httputil"
	"homeus/models"
)

var ErrUnknownHandler = errors.New("unknown handler")

// Scraper extracts listings from one source site.
type Scraper interface {
	ID() string
	// ScrapeListings walks up to maxPages result pages of searchURL. A page
	// that fails to load ends the walk without an error; an error return
	// means the search target itself is unusable or ctx is done.
	ScrapeListings(ctx context.Context, searchURL string, maxPages int) ([]models.Listing, error)
	ScrapeDetails(ctx context.Context, detailURL string) (*models.Listing, error)
}

type Options struct {
	Fetcher        httputil.Fetcher
	PageDelay      time.Duration
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

func NewScraper(siteCfg *config.SiteConfig, opts Options) (Scraper, error) {
	if opts.Fetcher == nil {
		opts.Fetcher = httputil.NewClient(httputil.Options{
			Timeout:     opts.RequestTimeout,
			RateLimitMS: siteCfg.RateLimitMS,
			UserAgent:   siteCfg.UserAgent,
		})
	}

	switch siteCfg.Handler {
	case "", "html":
		return NewHTMLScraper(siteCfg, opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandler, siteCfg.Handler)
	}
}
