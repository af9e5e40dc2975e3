package mirror

import (
	"strconv"

	"homeus/models"
)

const (
	rowTimeFormat     = "2006-01-02 15:04:05"
	descriptionMaxLen = 100
	rowStatusNew      = "NEW"
)

var Headers = []interface{}{
	"Property ID", "Title", "Price", "Currency", "Location", "District",
	"Size (m²)", "Rooms", "Bedrooms", "Floor", "Total Floors",
	"Property Type", "Description", "Images Count", "Source URL",
	"Detail URL", "Listing Date", "Scraped At", "Status",
}

// Row renders a listing as one spreadsheet row, in Headers order.
func Row(l *models.Listing) []interface{} {
	size := ""
	if l.SizeM2 != nil {
		size = strconv.FormatFloat(*l.SizeM2, 'f', -1, 64) + " m²"
	}
	listingDate := ""
	if l.ListingDate != nil {
		listingDate = l.ListingDate.Format(rowTimeFormat)
	}

	return []interface{}{
		l.ExternalID,
		l.Title,
		optionalInt(l.Price),
		l.Currency,
		l.Location,
		l.District,
		size,
		optionalInt(l.Rooms),
		optionalInt(l.Bedrooms),
		l.Floor,
		optionalInt(l.TotalFloors),
		l.PropertyType,
		truncate(l.Description, descriptionMaxLen),
		len(l.Images),
		l.SourceURL,
		l.DetailURL,
		listingDate,
		l.ScrapedAt.Format(rowTimeFormat),
		rowStatusNew,
	}
}

func optionalInt(v *int) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
