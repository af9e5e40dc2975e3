package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"homeus/models"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSQLiteStore(t *testing.T) (*SQLiteStore, *fakeClock) {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "properties.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := &fakeClock{t: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
	store.now = clock.Now
	return store, clock
}

func sampleListing(id string, scrapedAt time.Time) *models.Listing {
	price := 1250
	size := 85.0
	rooms := 3
	return &models.Listing{
		ExternalID: id,
		Source:     "ss",
		Title:      "3 room flat in Vake",
		Price:      &price,
		Currency:   "USD",
		Location:   "Vake, Tbilisi",
		SizeM2:     &size,
		Rooms:      &rooms,
		Images:     []string{"https://ss.ge/img/1.jpg", "https://ss.ge/img/2.jpg"},
		SourceURL:  "https://ss.ge/ka/udzravi-qoneba/l/bina/iyideba",
		DetailURL:  "https://ss.ge/ka/udzravi-qoneba/flat-" + id,
		ScrapedAt:  scrapedAt,
	}
}

func TestSQLiteStore_IsNewAfterSave(t *testing.T) {
	store, clock := newTestSQLiteStore(t)
	ctx := context.Background()

	isNew, err := store.IsNew(ctx, "ss_1")
	require.NoError(t, err)
	assert.True(t, isNew)

	require.NoError(t, store.Save(ctx, sampleListing("ss_1", clock.Now())))

	isNew, err = store.IsNew(ctx, "ss_1")
	require.NoError(t, err)
	assert.False(t, isNew)
}

func TestSQLiteStore_SaveIsIdempotent(t *testing.T) {
	store, clock := newTestSQLiteStore(t)
	ctx := context.Background()
	l := sampleListing("ss_1", clock.Now())

	require.NoError(t, store.Save(ctx, l))
	first, err := store.GetListing(ctx, "ss_1")
	require.NoError(t, err)
	require.NotNil(t, first)

	clock.Advance(time.Hour)
	require.NoError(t, store.Save(ctx, l))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalProperties)

	second, err := store.GetListing(ctx, "ss_1")
	require.NoError(t, err)
	assert.True(t, second.LastSeenAt.After(first.LastSeenAt))
	assert.True(t, second.FirstSeenAt.Equal(first.FirstSeenAt))
	assert.Equal(t, first.Hash, second.Hash)
}

func TestSQLiteStore_SaveReplacesFields(t *testing.T) {
	store, clock := newTestSQLiteStore(t)
	ctx := context.Background()

	l := sampleListing("ss_1", clock.Now())
	require.NoError(t, store.Save(ctx, l))
	before, err := store.GetListing(ctx, "ss_1")
	require.NoError(t, err)

	newPrice := 1100
	l.Price = &newPrice
	l.Description = "price reduced"
	l.Images = nil
	require.NoError(t, store.Save(ctx, l))

	after, err := store.GetListing(ctx, "ss_1")
	require.NoError(t, err)
	require.NotNil(t, after.Price)
	assert.Equal(t, 1100, *after.Price)
	assert.Equal(t, "price reduced", after.Description)
	assert.Empty(t, after.Images)
	assert.NotEqual(t, before.Hash, after.Hash)
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store, clock := newTestSQLiteStore(t)
	ctx := context.Background()

	posted := time.Date(2026, 10, 17, 14, 30, 0, 0, time.UTC)
	l := sampleListing("ss_7", clock.Now())
	total := 9
	l.Floor = "3"
	l.TotalFloors = &total
	l.ListingDate = &posted
	require.NoError(t, store.Save(ctx, l))

	got, err := store.GetListing(ctx, "ss_7")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ss", got.Source)
	assert.Equal(t, l.Title, got.Title)
	assert.Equal(t, 1250, *got.Price)
	assert.Equal(t, 85.0, *got.SizeM2)
	assert.Equal(t, 3, *got.Rooms)
	assert.Nil(t, got.Bedrooms)
	assert.Equal(t, "3", got.Floor)
	assert.Equal(t, 9, *got.TotalFloors)
	assert.Equal(t, models.DefaultPropertyType, got.PropertyType)
	assert.Equal(t, l.Images, got.Images)
	assert.True(t, got.ListingDate.Equal(posted))
	assert.True(t, got.IsActive)
	assert.Len(t, got.Hash, 32)

	missing, err := store.GetListing(ctx, "ss_404")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteStore_TouchLastSeen(t *testing.T) {
	store, clock := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleListing("ss_1", clock.Now())))
	clock.Advance(24 * time.Hour)
	require.NoError(t, store.TouchLastSeen(ctx, "ss_1"))

	got, err := store.GetListing(ctx, "ss_1")
	require.NoError(t, err)
	assert.True(t, got.LastSeenAt.Equal(clock.Now()))
	assert.True(t, got.ScrapedAt.Before(got.LastSeenAt))

	// Touching an unknown id is a no-op.
	assert.NoError(t, store.TouchLastSeen(ctx, "ss_404"))
}

func TestSQLiteStore_MarkInactive(t *testing.T) {
	store, clock := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleListing("ss_old", clock.Now())))
	clock.Advance(10 * 24 * time.Hour)
	require.NoError(t, store.Save(ctx, sampleListing("ss_fresh", clock.Now())))

	n, err := store.MarkInactive(ctx, clock.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	old, err := store.GetListing(ctx, "ss_old")
	require.NoError(t, err)
	assert.False(t, old.IsActive)
	fresh, err := store.GetListing(ctx, "ss_fresh")
	require.NoError(t, err)
	assert.True(t, fresh.IsActive)

	// Seeing the listing again reactivates it.
	require.NoError(t, store.TouchLastSeen(ctx, "ss_old"))
	old, err = store.GetListing(ctx, "ss_old")
	require.NoError(t, err)
	assert.True(t, old.IsActive)
}

func TestSQLiteStore_Sessions(t *testing.T) {
	store, clock := newTestSQLiteStore(t)
	ctx := context.Background()

	ok, err := store.StartSession(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, ok.CorrelationID)
	require.NoError(t, store.FinishSession(ctx, ok.ID, 3, 2, nil))

	clock.Advance(time.Minute)
	failed, err := store.StartSession(ctx)
	require.NoError(t, err)
	require.NoError(t, store.FinishSession(ctx, failed.ID, 5, 4, errors.New("invalid search url")))

	sessions, err := store.RecentSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	assert.Equal(t, failed.ID, sessions[0].ID)
	assert.Equal(t, models.RunStatusCompletedWithError, sessions[0].Status)
	assert.Equal(t, "invalid search url", sessions[0].Errors)
	assert.Zero(t, sessions[0].PropertiesFound)
	assert.Zero(t, sessions[0].NewProperties)
	require.NotNil(t, sessions[0].CompletedAt)

	assert.Equal(t, models.RunStatusCompleted, sessions[1].Status)
	assert.Equal(t, 3, sessions[1].PropertiesFound)
	assert.Equal(t, 2, sessions[1].NewProperties)
	assert.Empty(t, sessions[1].Errors)
}

func TestSQLiteStore_AbandonRunningSessions(t *testing.T) {
	store, _ := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := store.StartSession(ctx)
	require.NoError(t, err)
	done, err := store.StartSession(ctx)
	require.NoError(t, err)
	require.NoError(t, store.FinishSession(ctx, done.ID, 1, 1, nil))

	n, err := store.AbandonRunningSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	sessions, err := store.RecentSessions(ctx, 10)
	require.NoError(t, err)
	statuses := map[models.RunStatus]int{}
	for _, s := range sessions {
		statuses[s.Status]++
	}
	assert.Equal(t, 1, statuses[models.RunStatusAbandoned])
	assert.Equal(t, 1, statuses[models.RunStatusCompleted])
}

func TestSQLiteStore_StatsAndRecent(t *testing.T) {
	store, clock := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleListing("ss_old", clock.Now().Add(-48*time.Hour))))
	require.NoError(t, store.Save(ctx, sampleListing("ss_a", clock.Now().Add(-time.Hour))))
	require.NoError(t, store.Save(ctx, sampleListing("ss_b", clock.Now())))
	_, err := store.StartSession(ctx)
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalProperties)
	assert.Equal(t, 2, stats.TodayProperties)
	assert.Equal(t, 1, stats.TodaySessions)

	recent, err := store.RecentListings(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "ss_b", recent[0].ExternalID)
	assert.Equal(t, "ss_a", recent[1].ExternalID)
}
