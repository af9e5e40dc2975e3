package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a disposable database named by HOMEUS_TEST_DATABASE_URL.
func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("HOMEUS_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("HOMEUS_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	store, err := NewPostgresStore(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.pool.Exec(ctx, "TRUNCATE properties, scraping_sessions RESTART IDENTITY")
	require.NoError(t, err)
	return store
}

func TestPostgresStore_SaveAndTouch(t *testing.T) {
	store := newTestPostgresStore(t)
	ctx := context.Background()
	clock := &fakeClock{t: time.Now().UTC().Truncate(time.Microsecond)}
	store.now = clock.Now

	isNew, err := store.IsNew(ctx, "ss_1")
	require.NoError(t, err)
	assert.True(t, isNew)

	l := sampleListing("ss_1", clock.Now())
	require.NoError(t, store.Save(ctx, l))
	clock.Advance(time.Hour)
	require.NoError(t, store.Save(ctx, l))

	got, err := store.GetListing(ctx, "ss_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.LastSeenAt.After(got.FirstSeenAt))
	assert.Equal(t, l.Images, got.Images)

	clock.Advance(time.Hour)
	require.NoError(t, store.TouchLastSeen(ctx, "ss_1"))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalProperties)
}

func TestPostgresStore_Sessions(t *testing.T) {
	store := newTestPostgresStore(t)
	ctx := context.Background()

	sess, err := store.StartSession(ctx)
	require.NoError(t, err)
	_, err = store.StartSession(ctx)
	require.NoError(t, err)
	require.NoError(t, store.FinishSession(ctx, sess.ID, 3, 2, nil))

	n, err := store.AbandonRunningSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	sessions, err := store.RecentSessions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}
