package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"homeus/identity"
	"homeus/models"
)

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS properties (
		id INTEGER PRIMARY KEY,
		external_id TEXT NOT NULL UNIQUE,
		source TEXT,
		title TEXT,
		price INTEGER,
		currency TEXT,
		location TEXT,
		district TEXT,
		size_m2 REAL,
		rooms INTEGER,
		bedrooms INTEGER,
		floor TEXT,
		total_floors INTEGER,
		property_type TEXT,
		description TEXT,
		images JSON,
		source_url TEXT,
		detail_url TEXT,
		listing_date DATETIME,
		scraped_at DATETIME,
		first_seen_at DATETIME,
		last_seen_at DATETIME,
		is_active BOOLEAN DEFAULT TRUE,
		hash TEXT
	);

	CREATE TABLE IF NOT EXISTS scraping_sessions (
		id INTEGER PRIMARY KEY,
		correlation_id TEXT,
		started_at DATETIME,
		completed_at DATETIME,
		properties_found INTEGER DEFAULT 0,
		new_properties INTEGER DEFAULT 0,
		errors TEXT,
		status TEXT DEFAULT 'running'
	);

	CREATE INDEX IF NOT EXISTS idx_properties_scraped_at ON properties(scraped_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON scraping_sessions(started_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON scraping_sessions(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) IsNew(ctx context.Context, externalID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM properties WHERE external_id = ?", externalID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", externalID, err)
	}
	return count == 0, nil
}

func (s *SQLiteStore) Save(ctx context.Context, l *models.Listing) error {
	images, err := encodeImages(l.Images)
	if err != nil {
		return fmt.Errorf("save %s: encode images: %w", l.ExternalID, err)
	}
	now := s.now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO properties (
			external_id, source, title, price, currency, location, district,
			size_m2, rooms, bedrooms, floor, total_floors, property_type,
			description, images, source_url, detail_url, listing_date,
			scraped_at, first_seen_at, last_seen_at, is_active, hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, TRUE, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			source = excluded.source,
			title = excluded.title,
			price = excluded.price,
			currency = excluded.currency,
			location = excluded.location,
			district = excluded.district,
			size_m2 = excluded.size_m2,
			rooms = excluded.rooms,
			bedrooms = excluded.bedrooms,
			floor = excluded.floor,
			total_floors = excluded.total_floors,
			property_type = excluded.property_type,
			description = excluded.description,
			images = excluded.images,
			source_url = excluded.source_url,
			detail_url = excluded.detail_url,
			listing_date = excluded.listing_date,
			scraped_at = excluded.scraped_at,
			last_seen_at = excluded.last_seen_at,
			is_active = TRUE,
			hash = excluded.hash`,
		l.ExternalID, l.Source, l.Title, l.Price, l.Currency, l.Location, nullString(l.District),
		l.SizeM2, l.Rooms, l.Bedrooms, nullString(l.Floor), l.TotalFloors, propertyType(l),
		nullString(l.Description), images, l.SourceURL, nullString(l.DetailURL), utcPtr(l.ListingDate),
		l.ScrapedAt.UTC(), now, now, identity.ContentHash(l),
	)
	if err != nil {
		return fmt.Errorf("save %s: %w", l.ExternalID, err)
	}
	return nil
}

func (s *SQLiteStore) TouchLastSeen(ctx context.Context, externalID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE properties SET last_seen_at = ?, is_active = TRUE WHERE external_id = ?",
		s.now().UTC(), externalID,
	)
	if err != nil {
		return fmt.Errorf("touch %s: %w", externalID, err)
	}
	return nil
}

func (s *SQLiteStore) MarkInactive(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE properties SET is_active = FALSE WHERE is_active = TRUE AND last_seen_at < ?",
		cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("mark inactive: %w", err)
	}
	return result.RowsAffected()
}

// GetListing returns the stored row for externalID, or nil if there is none.
func (s *SQLiteStore) GetListing(ctx context.Context, externalID string) (*models.StoredListing, error) {
	row := s.db.QueryRowContext(ctx, selectListingSQL+" WHERE external_id = ?", externalID)
	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return l, err
}

func (s *SQLiteStore) RecentListings(ctx context.Context, limit int) ([]models.StoredListing, error) {
	rows, err := s.db.QueryContext(ctx,
		selectListingSQL+" ORDER BY scraped_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.StoredListing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

func (s *SQLiteStore) StartSession(ctx context.Context) (*models.Session, error) {
	session := &models.Session{
		CorrelationID: uuid.New().String(),
		StartedAt:     s.now().UTC(),
		Status:        models.RunStatusRunning,
	}

	result, err := s.db.ExecContext(ctx,
		"INSERT INTO scraping_sessions (correlation_id, started_at, status) VALUES (?, ?, ?)",
		session.CorrelationID, session.StartedAt, session.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	session.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	return session, nil
}

func (s *SQLiteStore) FinishSession(ctx context.Context, id int64, found, newCount int, cycleErr error) error {
	status, errMsg := finishedStatus(cycleErr)
	if cycleErr != nil {
		found, newCount = 0, 0
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE scraping_sessions SET
			completed_at = ?, properties_found = ?, new_properties = ?, errors = ?, status = ?
		WHERE id = ?`,
		s.now().UTC(), found, newCount, nullString(errMsg), status, id,
	)
	if err != nil {
		return fmt.Errorf("finish session %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) AbandonRunningSessions(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE scraping_sessions SET status = ?, completed_at = ? WHERE status = ?",
		models.RunStatusAbandoned, s.now().UTC(), models.RunStatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("abandon sessions: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLiteStore) RecentSessions(ctx context.Context, limit int) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, correlation_id, started_at, completed_at, properties_found,
			new_properties, errors, status
		FROM scraping_sessions ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var sess models.Session
		var correlationID, errMsg sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(&sess.ID, &correlationID, &sess.StartedAt, &completedAt,
			&sess.PropertiesFound, &sess.NewProperties, &errMsg, &sess.Status); err != nil {
			return nil, err
		}
		sess.CorrelationID = correlationID.String
		sess.Errors = errMsg.String
		if completedAt.Valid {
			sess.CompletedAt = &completedAt.Time
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) Stats(ctx context.Context) (*models.Stats, error) {
	dayStart := startOfDay(s.now())
	stats := &models.Stats{}

	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM properties").Scan(&stats.TotalProperties)
	if err != nil {
		return nil, fmt.Errorf("count properties: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM properties WHERE scraped_at >= ?", dayStart,
	).Scan(&stats.TodayProperties)
	if err != nil {
		return nil, fmt.Errorf("count today properties: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM scraping_sessions WHERE started_at >= ?", dayStart,
	).Scan(&stats.TodaySessions)
	if err != nil {
		return nil, fmt.Errorf("count today sessions: %w", err)
	}
	return stats, nil
}

const selectListingSQL = `
	SELECT external_id, source, title, price, currency, location, district,
		size_m2, rooms, bedrooms, floor, total_floors, property_type,
		description, images, source_url, detail_url, listing_date,
		scraped_at, first_seen_at, last_seen_at, is_active, hash
	FROM properties`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*models.StoredListing, error) {
	var l models.StoredListing
	var source, currency, location, district, floor, propType, description, images, sourceURL, detailURL, hash sql.NullString
	var price, rooms, bedrooms, totalFloors sql.NullInt64
	var size sql.NullFloat64
	var listingDate sql.NullTime

	err := row.Scan(
		&l.ExternalID, &source, &l.Title, &price, &currency, &location, &district,
		&size, &rooms, &bedrooms, &floor, &totalFloors, &propType,
		&description, &images, &sourceURL, &detailURL, &listingDate,
		&l.ScrapedAt, &l.FirstSeenAt, &l.LastSeenAt, &l.IsActive, &hash,
	)
	if err != nil {
		return nil, err
	}

	l.Source = source.String
	l.Currency = currency.String
	l.Location = location.String
	l.District = district.String
	l.Floor = floor.String
	l.PropertyType = propType.String
	l.Description = description.String
	l.Images = decodeImages(images.String)
	l.SourceURL = sourceURL.String
	l.DetailURL = detailURL.String
	l.Hash = hash.String
	l.Price = intPtr(price)
	l.Rooms = intPtr(rooms)
	l.Bedrooms = intPtr(bedrooms)
	l.TotalFloors = intPtr(totalFloors)
	if size.Valid {
		l.SizeM2 = &size.Float64
	}
	if listingDate.Valid {
		l.ListingDate = &listingDate.Time
	}
	return &l, nil
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
