package scraper

import (
	"homeus/config"
)

// Profile is the selector set the HTML scraper uses for one source. Every
// list is tried in order and the first selector that matches wins.
type Profile struct {
	Cards         []string
	FallbackCards []string
	Title         []string
	Price         []string
	Location      []string
	District      []string
	Details       []string
	DetailTitle   []string
	Description   []string
	Gallery       []string

	DefaultLocation       string
	DetailDefaultLocation string
	IDPattern             string
}

var looseCards = []string{`div[class*="item"]`, `div[class*="property"]`, `div[class*="listing"]`}

var profiles = map[string]Profile{
	"ss": {
		Cards:                 []string{".latest-item", ".property-item", ".listing-item", "[data-id]"},
		FallbackCards:         looseCards,
		Title:                 []string{"h3 a", ".title a", `a[href*="/udzravi-qoneba/"]`},
		Price:                 []string{".price", `[class*="price"]`},
		Location:              []string{".location", `[class*="location"]`, `[class*="address"]`},
		District:              []string{".district", `[class*="district"]`},
		Details:               []string{".details", `[class*="details"]`, ".info"},
		DetailTitle:           []string{"h1", ".property-title", ".main-title"},
		Description:           []string{".description", `[class*="description"]`},
		Gallery:               []string{".gallery img", ".images img", ".property-images img"},
		DefaultLocation:       "Unknown",
		DetailDefaultLocation: "Tbilisi",
		IDPattern:             `/udzravi-qoneba/[^/]+-(\d+)`,
	},
	"myhome": {
		Cards:                 []string{".statement-card", "[data-product-id]", ".card-container"},
		FallbackCards:         looseCards,
		Title:                 []string{".card-title a", "h2 a", `a[href*="/pr/"]`},
		Price:                 []string{".item-price-usd", ".card-price", `[class*="price"]`},
		Location:              []string{".address", `[class*="address"]`, `[class*="location"]`},
		District:              []string{".district", `[class*="district"]`},
		Details:               []string{".options-texts", `[class*="options"]`, `[class*="details"]`},
		DetailTitle:           []string{"h1", ".statement-title"},
		Description:           []string{".description", `[class*="description"]`},
		Gallery:               []string{".swiper-slide img", ".gallery img", `[class*="gallery"] img`},
		DefaultLocation:       "Unknown",
		DetailDefaultLocation: "Tbilisi",
		IDPattern:             `/pr/(\d+)`,
	},
}

// ProfileFor resolves the built-in profile named by the site and applies the
// site's selector overrides on top of it. An unknown profile name starts
// from the ss profile.
func ProfileFor(site *config.SiteConfig) Profile {
	p, ok := profiles[site.Profile]
	if !ok {
		p = profiles["ss"]
		p.IDPattern = ""
	}

	o := site.Selectors
	override(&p.Cards, o.Cards)
	override(&p.FallbackCards, o.FallbackCards)
	override(&p.Title, o.Title)
	override(&p.Price, o.Price)
	override(&p.Location, o.Location)
	override(&p.Details, o.Details)
	override(&p.DetailTitle, o.DetailTitle)
	override(&p.Description, o.Description)
	override(&p.Gallery, o.Gallery)
	if o.DefaultLocation != "" {
		p.DefaultLocation = o.DefaultLocation
	}
	if o.DetailDefaultLocation != "" {
		p.DetailDefaultLocation = o.DetailDefaultLocation
	}
	if site.IDPattern != "" {
		p.IDPattern = site.IDPattern
	}
	return p
}

func override(dst *[]string, src []string) {
	if len(src) > 0 {
		*dst = src
	}
}
