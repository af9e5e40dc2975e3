package identity

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"homeus/models"
)

var ssPattern = regexp.MustCompile(`/udzravi-qoneba/[^/]+-(\d+)`)

func TestExternalID_FromURL(t *testing.T) {
	id := ExternalID("ss", ssPattern, "https://ss.ge/ka/udzravi-qoneba/iyideba-2-otaxiani-bina-vakeshi-12345", "ignored")
	assert.Equal(t, "ss_12345", id)

	again := ExternalID("ss", ssPattern, "https://ss.ge/ka/udzravi-qoneba/iyideba-2-otaxiani-bina-vakeshi-12345", "other title")
	assert.Equal(t, id, again)
}

func TestExternalID_Fallback(t *testing.T) {
	url := "https://ss.ge/ka/some/other/page"
	a := ExternalID("ss", ssPattern, url, "Flat in Vake")
	b := ExternalID("ss", ssPattern, url, "Flat in Vake")
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "ss_h"))
	assert.Len(t, a, len("ss_h")+16)

	assert.Equal(t, a, ExternalID("ss", nil, url, ""))
	assert.NotEqual(t, a, ExternalID("ss", ssPattern, url+"/2", "Flat in Vake"))
}

// Stored ids must not change between releases, so the exact values are pinned.
func TestExternalID_PinnedValues(t *testing.T) {
	assert.Equal(t, "ss_h1abb5b3a6d925a99", ExternalID("ss", ssPattern, "https://ss.ge/ka/some/other/page", "Flat in Vake"))
	assert.Equal(t, "myhome_h646c80ee64a3fe48", ExternalID("myhome", nil, "", "  Flat   in Vake "))
	assert.Equal(t, "ss_hef46db3751d8e999", ExternalID("ss", nil, "", ""))
}

func TestExternalID_TitleOnly(t *testing.T) {
	a := ExternalID("myhome", nil, "", "  Flat   in Vake ")
	b := ExternalID("myhome", nil, "", "flat in vake")
	assert.Equal(t, a, b)
	assert.NotEmpty(t, a)
}

func TestContentHash(t *testing.T) {
	price := 1250
	size := 85.0
	rooms := 3
	l := &models.Listing{Title: "Flat in Vake", Price: &price, Location: "Vake", SizeM2: &size, Rooms: &rooms}

	h := ContentHash(l)
	assert.Len(t, h, 32)
	assert.Equal(t, h, ContentHash(l))

	other := *l
	otherPrice := 1300
	other.Price = &otherPrice
	assert.NotEqual(t, h, ContentHash(&other))

	// Fields outside the fingerprint do not change it.
	described := *l
	described.Description = "renovated"
	assert.Equal(t, h, ContentHash(&described))

	empty := &models.Listing{}
	assert.Len(t, ContentHash(empty), 32)
}
