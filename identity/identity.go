package identity

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"homeus/extract"
	"homeus/models"
)

// ExternalID derives the stable identifier for a listing. When pattern
// captures a numeric token from the detail URL the id is "<source>_<token>".
// Otherwise it falls back to a seedless hash of the URL, or of the title
// when there is no URL, so the same input maps to the same id across runs.
func ExternalID(source string, pattern *regexp.Regexp, detailURL, title string) string {
	if pattern != nil && detailURL != "" {
		if m := pattern.FindStringSubmatch(detailURL); len(m) > 1 && m[1] != "" {
			return source + "_" + m[1]
		}
	}

	key := detailURL
	if key == "" {
		key = normalize(title)
	}
	return fmt.Sprintf("%s_h%016x", source, xxhash.Sum64String(key))
}

// ContentHash fingerprints the fields whose change makes a listing
// materially different. It is not an identity.
func ContentHash(l *models.Listing) string {
	var price, size, rooms string
	if l.Price != nil {
		price = strconv.Itoa(*l.Price)
	}
	if l.SizeM2 != nil {
		size = strconv.FormatFloat(*l.SizeM2, 'f', -1, 64)
	}
	if l.Rooms != nil {
		rooms = strconv.Itoa(*l.Rooms)
	}

	input := strings.Join([]string{
		normalize(l.Title),
		price,
		normalize(l.Location),
		size,
		rooms,
	}, "|")
	sum := md5.Sum([]byte(input))
	return hex.EncodeToString(sum[:])
}

func normalize(s string) string {
	return strings.ToLower(extract.CleanText(s))
}
