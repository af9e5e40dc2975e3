// Package extract turns free-text fragments from listing markup into typed
// values. Nothing here returns an error: text that does not match yields nil.
package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// MinPlausibleSize is the floor area, in m², at or below which a match is
// treated as an incidental number rather than an area.
const MinPlausibleSize = 10.0

var (
	digitRunRegex   = regexp.MustCompile(`\d+`)
	whitespaceRegex = regexp.MustCompile(`\s+`)

	thousandsSepRegex = regexp.MustCompile(`(\d),(\d{3})(\D|$)`)
	decimalCommaRegex = regexp.MustCompile(`(\d),(\d{1,2})(\D|$)`)

	sizePatterns = []*regexp.Regexp{
		regexp.MustCompile(`ფართი\s*:?\s*(\d+(?:\.\d+)?)`),
		regexp.MustCompile(`(\d+(?:\.\d+)?)\s*m²`),
		regexp.MustCompile(`(\d+(?:\.\d+)?)\s*m2\b`),
		regexp.MustCompile(`(\d+(?:\.\d+)?)\s*მ²`),
		regexp.MustCompile(`(\d+(?:\.\d+)?)\s*კვ\.?\s*მ`),
		regexp.MustCompile(`(\d+(?:\.\d+)?)\s*sqm`),
		regexp.MustCompile(`(\d+(?:\.\d+)?)\s*sq\.?\s*m`),
		regexp.MustCompile(`(\d+(?:\.\d+)?)\s*კვადრატული\s*მეტრი`),
	}

	roomsRegex    = regexp.MustCompile(`(\d+)\s*(?:ოთახიანი|ოთახი|otaxi|room)`)
	bedroomsRegex = regexp.MustCompile(`(\d+)\s*(?:საძინებელი|bedroom)`)

	floorOfTotalPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:სართული|floor)\s*:?\s*(\d+)\s*/\s*(\d+)`),
		regexp.MustCompile(`(\d+)\s*/\s*(\d+)\s*(?:სართული|floor)`),
		regexp.MustCompile(`floor\s*(\d+)\s*of\s*(\d+)`),
	}
	floorOnlyRegex = regexp.MustCompile(`(?:სართული|floor)\s*:?\s*(\d+)`)
)

// CleanText collapses whitespace runs to a single space and trims the result.
func CleanText(text string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(text, " "))
}

// Price returns the first run of digits once thousands separators and
// whitespace have been removed.
func Price(text string) *int {
	if text == "" {
		return nil
	}
	stripped := strings.ReplaceAll(text, ",", "")
	stripped = whitespaceRegex.ReplaceAllString(stripped, "")

	run := digitRunRegex.FindString(stripped)
	if run == "" {
		return nil
	}
	n, err := strconv.Atoi(run)
	if err != nil {
		return nil
	}
	return &n
}

// Currency detects the currency marker in a price fragment. USD wins when
// nothing is found.
func Currency(text string) string {
	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(text, "$") || strings.Contains(upper, "USD"):
		return "USD"
	case strings.Contains(text, "₾") || strings.Contains(upper, "GEL") || strings.Contains(text, "ლარი"):
		return "GEL"
	case strings.Contains(text, "€") || strings.Contains(upper, "EUR"):
		return "EUR"
	default:
		return "USD"
	}
}

func PriceAndCurrency(text string) (*int, string) {
	return Price(text), Currency(text)
}

// Size returns the largest plausible floor area found by any unit pattern.
func Size(text string) *float64 {
	if text == "" {
		return nil
	}
	lower := normalizeNumberSeparators(strings.ToLower(text))

	best := math.Inf(-1)
	for _, pattern := range sizePatterns {
		for _, m := range pattern.FindAllStringSubmatch(lower, -1) {
			v, err := strconv.ParseFloat(m[1], 64)
			if err != nil || v <= MinPlausibleSize {
				continue
			}
			if v > best {
				best = v
			}
		}
	}
	if math.IsInf(best, -1) {
		return nil
	}
	return &best
}

// normalizeNumberSeparators drops thousands commas ("1,200" -> "1200") and
// turns decimal commas into points ("85,5" -> "85.5").
func normalizeNumberSeparators(text string) string {
	for {
		next := thousandsSepRegex.ReplaceAllString(text, "$1$2$3")
		if next == text {
			break
		}
		text = next
	}
	return decimalCommaRegex.ReplaceAllString(text, "$1.$2$3")
}

// Rooms returns the first integer followed by a room marker.
func Rooms(text string) *int {
	return firstInt(roomsRegex, text)
}

func Bedrooms(text string) *int {
	return firstInt(bedroomsRegex, text)
}

// Floor returns the floor descriptor and, when given as "3/9" or
// "3 of 9", the building's total floors.
func Floor(text string) (string, *int) {
	lower := strings.ToLower(text)
	for _, pattern := range floorOfTotalPatterns {
		if m := pattern.FindStringSubmatch(lower); m != nil {
			total, err := strconv.Atoi(m[2])
			if err != nil {
				return m[1], nil
			}
			return m[1], &total
		}
	}
	if m := floorOnlyRegex.FindStringSubmatch(lower); m != nil {
		return m[1], nil
	}
	return "", nil
}

// FormatPrice renders a price the way mirror rows and log lines show it.
func FormatPrice(price *int, currency string) string {
	if price == nil {
		return "Price not specified"
	}
	amount := groupThousands(*price)
	switch currency {
	case "USD":
		return "$" + amount
	case "GEL":
		return "₾" + amount
	case "EUR":
		return "€" + amount
	default:
		return amount + " " + currency
	}
}

func firstInt(pattern *regexp.Regexp, text string) *int {
	m := pattern.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}

func groupThousands(n int) string {
	s := strconv.Itoa(n)
	if n < 0 {
		return "-" + groupThousands(-n)
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}
