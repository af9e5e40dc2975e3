package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"homeus/logging"
	"homeus/models"
	"homeus/scraper"
)

type mockReader struct {
	mock.Mock
}

func (m *mockReader) Stats(ctx context.Context) (*models.Stats, error) {
	args := m.Called(ctx)
	stats, _ := args.Get(0).(*models.Stats)
	return stats, args.Error(1)
}

func (m *mockReader) RecentListings(ctx context.Context, limit int) ([]models.StoredListing, error) {
	args := m.Called(ctx, limit)
	listings, _ := args.Get(0).([]models.StoredListing)
	return listings, args.Error(1)
}

func (m *mockReader) RecentSessions(ctx context.Context, limit int) ([]models.Session, error) {
	args := m.Called(ctx, limit)
	sessions, _ := args.Get(0).([]models.Session)
	return sessions, args.Error(1)
}

type fakeRunner struct {
	running  bool
	startErr error
	starts   int
	last     *scraper.CycleResult
}

func (f *fakeRunner) StartCycle(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	return nil
}

func (f *fakeRunner) Running() bool { return f.running }

func (f *fakeRunner) LastResult() *scraper.CycleResult { return f.last }

type fakeSweeper struct {
	triggers int
}

func (f *fakeSweeper) Trigger() { f.triggers++ }

func newTestRouter(reader Reader, runner CycleRunner) http.Handler {
	h := NewHandlers(context.Background(), reader, runner, &fakeSweeper{}, logging.Discard())
	return NewRouter(h, logging.Discard())
}

func doRequest(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := doRequest(t, newTestRouter(&mockReader{}, &fakeRunner{}), http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))
}

func TestStats(t *testing.T) {
	reader := &mockReader{}
	reader.On("Stats", mock.Anything).Return(&models.Stats{TotalProperties: 42, TodayProperties: 3, TodaySessions: 2}, nil)
	runner := &fakeRunner{last: &scraper.CycleResult{SessionID: 7, Found: 10, New: 3}}

	rec := doRequest(t, newTestRouter(reader, runner), http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["cycle_running"])
	last, ok := body["last_cycle"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(7), last["session_id"])
	reader.AssertExpectations(t)
}

func TestStats_StoreError(t *testing.T) {
	reader := &mockReader{}
	reader.On("Stats", mock.Anything).Return(nil, errors.New("database is locked"))

	rec := doRequest(t, newTestRouter(reader, &fakeRunner{}), http.MethodGet, "/stats")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"failed to load stats"}`, rec.Body.String())
}

func TestRecentListings(t *testing.T) {
	price := 1250
	reader := &mockReader{}
	reader.On("RecentListings", mock.Anything, 5).Return([]models.StoredListing{
		{Listing: models.Listing{ExternalID: "ss_1", Title: "Flat", Price: &price, Images: []string{}}, IsActive: true},
	}, nil)

	rec := doRequest(t, newTestRouter(reader, &fakeRunner{}), http.MethodGet, "/listings/recent?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)

	var listings []models.StoredListing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listings))
	require.Len(t, listings, 1)
	assert.Equal(t, "ss_1", listings[0].ExternalID)
	reader.AssertExpectations(t)
}

func TestRecentListings_DefaultAndCappedLimit(t *testing.T) {
	reader := &mockReader{}
	reader.On("RecentListings", mock.Anything, defaultLimit).Return(nil, nil)
	reader.On("RecentListings", mock.Anything, maxLimit).Return(nil, nil)
	router := newTestRouter(reader, &fakeRunner{})

	rec := doRequest(t, router, http.MethodGet, "/listings/recent")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = doRequest(t, router, http.MethodGet, "/listings/recent?limit=100000")
	assert.Equal(t, http.StatusOK, rec.Code)
	reader.AssertExpectations(t)
}

func TestRecentListings_BadLimit(t *testing.T) {
	router := newTestRouter(&mockReader{}, &fakeRunner{})
	for _, target := range []string{"/listings/recent?limit=abc", "/sessions/recent?limit=-1"} {
		rec := doRequest(t, router, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestRecentSessions(t *testing.T) {
	reader := &mockReader{}
	reader.On("RecentSessions", mock.Anything, 2).Return([]models.Session{
		{ID: 2, Status: models.RunStatusCompleted, PropertiesFound: 10, NewProperties: 1},
		{ID: 1, Status: models.RunStatusCompletedWithError, Errors: "context canceled"},
	}, nil)

	rec := doRequest(t, newTestRouter(reader, &fakeRunner{}), http.MethodGet, "/sessions/recent?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var sessions []models.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sessions))
	require.Len(t, sessions, 2)
	assert.Equal(t, models.RunStatusCompletedWithError, sessions[1].Status)
}

func TestTriggerCycle(t *testing.T) {
	runner := &fakeRunner{}
	rec := doRequest(t, newTestRouter(&mockReader{}, runner), http.MethodPost, "/cycles")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"status":"started"}`, rec.Body.String())
	assert.Equal(t, 1, runner.starts)
}

func TestTriggerCycle_Busy(t *testing.T) {
	runner := &fakeRunner{startErr: scraper.ErrCycleInProgress}
	rec := doRequest(t, newTestRouter(&mockReader{}, runner), http.MethodPost, "/cycles")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already in progress")
	assert.Zero(t, runner.starts)
}

// Running() may still read false when another request has just claimed the
// lock. The start call is what decides the status code.
func TestTriggerCycle_LostRaceIsConflict(t *testing.T) {
	runner := &fakeRunner{running: false, startErr: fmt.Errorf("start: %w", scraper.ErrCycleInProgress)}
	rec := doRequest(t, newTestRouter(&mockReader{}, runner), http.MethodPost, "/cycles")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTriggerCycle_StartFailure(t *testing.T) {
	runner := &fakeRunner{startErr: errors.New("store closed")}
	rec := doRequest(t, newTestRouter(&mockReader{}, runner), http.MethodPost, "/cycles")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"failed to start cycle"}`, rec.Body.String())
}

func TestTriggerSweep(t *testing.T) {
	sweeper := &fakeSweeper{}
	h := NewHandlers(context.Background(), &mockReader{}, &fakeRunner{}, sweeper, logging.Discard())
	rec := doRequest(t, NewRouter(h, logging.Discard()), http.MethodPost, "/sweeps")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"status":"queued"}`, rec.Body.String())
	assert.Equal(t, 1, sweeper.triggers)
}

func TestTriggerSweep_NoWorker(t *testing.T) {
	h := NewHandlers(context.Background(), &mockReader{}, &fakeRunner{}, nil, logging.Discard())
	rec := doRequest(t, NewRouter(h, logging.Discard()), http.MethodPost, "/sweeps")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_StartStop(t *testing.T) {
	s := NewServer("127.0.0.1:0", NewHandlers(context.Background(), &mockReader{}, &fakeRunner{}, nil, logging.Discard()), logging.Discard())

	done := make(chan error, 1)
	go func() { done <- s.Start() }()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.NoError(t, <-done)
}
