package scraper

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"homeus/config"
	"homeus/extract"
	"homeus/httputil"
	"homeus/identity"
	"homeus/models"
)

var listingDateFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02.01.2006",
}

// HTMLScraper parses server-rendered search and detail pages with goquery,
// driven by a per-source Profile.
type HTMLScraper struct {
	siteID    string
	profile   Profile
	idPattern *regexp.Regexp
	baseURL   *url.URL
	pageParam string
	fetcher   httputil.Fetcher
	pageDelay time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewHTMLScraper(siteCfg *config.SiteConfig, opts Options) (*HTMLScraper, error) {
	profile := ProfileFor(siteCfg)

	var pattern *regexp.Regexp
	if profile.IDPattern != "" {
		var err error
		pattern, err = regexp.Compile(profile.IDPattern)
		if err != nil {
			return nil, fmt.Errorf("site %s: id pattern: %w", siteCfg.ID, err)
		}
	}

	var base *url.URL
	if siteCfg.BaseURL != "" {
		var err error
		base, err = url.Parse(siteCfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("site %s: base url: %w", siteCfg.ID, err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pageParam := siteCfg.PageParam
	if pageParam == "" {
		pageParam = "page"
	}

	return &HTMLScraper{
		siteID:    siteCfg.ID,
		profile:   profile,
		idPattern: pattern,
		baseURL:   base,
		pageParam: pageParam,
		fetcher:   opts.Fetcher,
		pageDelay: opts.PageDelay,
		logger:    logger.With("source", siteCfg.ID),
		now:       time.Now,
	}, nil
}

func (h *HTMLScraper) ID() string {
	return h.siteID
}

func (h *HTMLScraper) ScrapeListings(ctx context.Context, searchURL string, maxPages int) ([]models.Listing, error) {
	search, err := url.Parse(searchURL)
	if err != nil || (search.Scheme != "http" && search.Scheme != "https") || search.Host == "" {
		return nil, fmt.Errorf("invalid search url %q", searchURL)
	}
	if maxPages < 1 {
		maxPages = 1
	}

	var all []models.Listing
	seen := make(map[string]bool)

	for page := 1; page <= maxPages; page++ {
		if page > 1 {
			if err := sleep(ctx, h.pageDelay); err != nil {
				return nil, err
			}
		}

		pageURL := h.pageURL(search, page)
		body, err := h.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			h.logger.Warn("page fetch failed, stopping pagination", "url", pageURL, "page", page, "error", err)
			break
		}

		listings, err := h.ParseListingPage(body, searchURL)
		if err != nil {
			h.logger.Warn("page parse failed, stopping pagination", "url", pageURL, "page", page, "error", err)
			break
		}
		if len(listings) == 0 {
			h.logger.Debug("empty page, stopping pagination", "url", pageURL, "page", page)
			break
		}

		for _, l := range listings {
			if seen[l.ExternalID] {
				continue
			}
			seen[l.ExternalID] = true
			all = append(all, l)
		}
		h.logger.Info("page scraped", "page", page, "listings", len(listings))
	}

	return all, nil
}

func (h *HTMLScraper) ScrapeDetails(ctx context.Context, detailURL string) (*models.Listing, error) {
	body, err := h.fetcher.Fetch(ctx, detailURL)
	if err != nil {
		return nil, err
	}
	return h.ParseDetailPage(body, detailURL)
}

// ParseListingPage extracts one listing per card on a search results page.
// Cards that fail to parse are logged and skipped.
func (h *HTMLScraper) ParseListingPage(body []byte, searchURL string) ([]models.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	cards := doc.Find(strings.Join(h.profile.Cards, ", "))
	fallback := false
	if cards.Length() == 0 && len(h.profile.FallbackCards) > 0 {
		cards = doc.Find(strings.Join(h.profile.FallbackCards, ", "))
		fallback = true
	}

	var listings []models.Listing
	seen := make(map[string]bool)
	cards.Each(func(i int, card *goquery.Selection) {
		// Loose selectors also match wrappers around several listings.
		if fallback && h.distinctLinks(card) != 1 {
			return
		}
		l := h.parseCardSafe(card, searchURL, i)
		if l == nil || seen[l.ExternalID] {
			return
		}
		seen[l.ExternalID] = true
		listings = append(listings, *l)
	})

	return listings, nil
}

func (h *HTMLScraper) parseCardSafe(card *goquery.Selection, searchURL string, index int) (l *models.Listing) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("card parse failed", "index", index, "error", fmt.Sprint(r))
			l = nil
		}
	}()
	return h.parseCard(card, searchURL)
}

func (h *HTMLScraper) parseCard(card *goquery.Selection, searchURL string) *models.Listing {
	titleSel := selectFirst(card, h.profile.Title)
	if titleSel == nil {
		return nil
	}
	title := extract.CleanText(titleSel.Text())
	detailURL := h.resolve(linkOf(titleSel, card))
	if title == "" && detailURL == "" {
		return nil
	}

	l := &models.Listing{
		Source:       h.siteID,
		Title:        title,
		Location:     h.profile.DefaultLocation,
		PropertyType: models.DefaultPropertyType,
		SourceURL:    searchURL,
		DetailURL:    detailURL,
		ScrapedAt:    h.now().UTC(),
	}
	l.ExternalID = identity.ExternalID(h.siteID, h.idPattern, detailURL, title)

	if sel := selectFirst(card, h.profile.Price); sel != nil {
		l.Price, l.Currency = extract.PriceAndCurrency(sel.Text())
	} else {
		l.Currency = extract.Currency("")
	}
	if sel := selectFirst(card, h.profile.Location); sel != nil {
		if loc := extract.CleanText(sel.Text()); loc != "" {
			l.Location = loc
		}
	}
	if sel := selectFirst(card, h.profile.District); sel != nil {
		l.District = extract.CleanText(sel.Text())
	}

	details := card.Text()
	if sel := selectFirst(card, h.profile.Details); sel != nil {
		details = sel.Text()
	}
	h.applyDetailsText(l, details)

	l.Images = h.collectImages(card.Find("img"))
	return l
}

// ParseDetailPage extracts the full listing from a single property page.
func (h *HTMLScraper) ParseDetailPage(body []byte, detailURL string) (*models.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	page := doc.Selection

	l := &models.Listing{
		Source:       h.siteID,
		Title:        models.UnknownTitle,
		Location:     h.profile.DetailDefaultLocation,
		PropertyType: models.DefaultPropertyType,
		DetailURL:    detailURL,
		ScrapedAt:    h.now().UTC(),
	}

	if sel := selectFirst(page, h.profile.DetailTitle); sel != nil {
		if title := extract.CleanText(sel.Text()); title != "" {
			l.Title = title
		}
	}
	l.ExternalID = identity.ExternalID(h.siteID, h.idPattern, detailURL, l.Title)

	if sel := selectFirst(page, h.profile.Price); sel != nil {
		l.Price, l.Currency = extract.PriceAndCurrency(sel.Text())
	} else {
		l.Currency = extract.Currency("")
	}
	if sel := selectFirst(page, h.profile.Location); sel != nil {
		if loc := extract.CleanText(sel.Text()); loc != "" {
			l.Location = loc
		}
	}
	if sel := selectFirst(page, h.profile.District); sel != nil {
		l.District = extract.CleanText(sel.Text())
	}
	if sel := selectFirst(page, h.profile.Description); sel != nil {
		l.Description = extract.CleanText(sel.Text())
	}

	h.applyDetailsText(l, doc.Find("body").Text())
	l.Images = h.collectImages(doc.Find(strings.Join(h.profile.Gallery, ", ")))

	if dt, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		l.ListingDate = parseListingDate(dt)
	}
	return l, nil
}

func (h *HTMLScraper) applyDetailsText(l *models.Listing, text string) {
	text = extract.CleanText(text)
	l.SizeM2 = extract.Size(text)
	l.Rooms = extract.Rooms(text)
	l.Bedrooms = extract.Bedrooms(text)
	l.Floor, l.TotalFloors = extract.Floor(text)
}

func (h *HTMLScraper) collectImages(imgs *goquery.Selection) []string {
	images := []string{}
	seen := make(map[string]bool)
	imgs.Each(func(_ int, img *goquery.Selection) {
		src := imageSource(img)
		if src == "" {
			return
		}
		resolved := h.resolve(src)
		if resolved == "" || seen[resolved] {
			return
		}
		seen[resolved] = true
		images = append(images, resolved)
	})
	return images
}

func (h *HTMLScraper) distinctLinks(card *goquery.Selection) int {
	links := make(map[string]bool)
	card.Find(strings.Join(h.profile.Title, ", ")).Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && href != "" {
			links[href] = true
		}
	})
	return len(links)
}

func (h *HTMLScraper) pageURL(search *url.URL, page int) string {
	if page == 1 {
		return search.String()
	}
	u := *search
	q := u.Query()
	q.Set(h.pageParam, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

func (h *HTMLScraper) resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	// A fragment-only link points back at the current page, not at a listing.
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(ref, "data:") || strings.HasPrefix(ref, "javascript:") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if h.baseURL == nil || u.IsAbs() {
		return u.String()
	}
	return h.baseURL.ResolveReference(u).String()
}

func selectFirst(sel *goquery.Selection, selectors []string) *goquery.Selection {
	for _, selector := range selectors {
		if found := sel.Find(selector).First(); found.Length() > 0 {
			return found
		}
	}
	return nil
}

func linkOf(titleSel, card *goquery.Selection) string {
	if href, ok := titleSel.Attr("href"); ok {
		return href
	}
	if href, ok := titleSel.Find("a[href]").First().Attr("href"); ok {
		return href
	}
	href, _ := card.Find("a[href]").First().Attr("href")
	return href
}

func imageSource(img *goquery.Selection) string {
	for _, attr := range []string{"src", "data-src", "data-lazy-src"} {
		if v, ok := img.Attr(attr); ok {
			v = strings.TrimSpace(v)
			if v != "" && !strings.HasPrefix(v, "data:") {
				return v
			}
		}
	}
	return ""
}

func parseListingDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range listingDateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
