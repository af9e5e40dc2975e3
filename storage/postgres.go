package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"homeus/identity"
	"homeus/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool, now: time.Now}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS properties (
		id BIGSERIAL PRIMARY KEY,
		external_id TEXT NOT NULL UNIQUE,
		source TEXT,
		title TEXT,
		price BIGINT,
		currency TEXT,
		location TEXT,
		district TEXT,
		size_m2 DOUBLE PRECISION,
		rooms INTEGER,
		bedrooms INTEGER,
		floor TEXT,
		total_floors INTEGER,
		property_type TEXT,
		description TEXT,
		images JSONB NOT NULL DEFAULT '[]',
		source_url TEXT,
		detail_url TEXT,
		listing_date TIMESTAMPTZ,
		scraped_at TIMESTAMPTZ NOT NULL,
		first_seen_at TIMESTAMPTZ NOT NULL,
		last_seen_at TIMESTAMPTZ NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		hash TEXT
	);

	CREATE TABLE IF NOT EXISTS scraping_sessions (
		id BIGSERIAL PRIMARY KEY,
		correlation_id UUID,
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		properties_found INTEGER NOT NULL DEFAULT 0,
		new_properties INTEGER NOT NULL DEFAULT 0,
		errors TEXT,
		status TEXT NOT NULL DEFAULT 'running'
	);

	CREATE INDEX IF NOT EXISTS idx_properties_scraped_at ON properties(scraped_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON scraping_sessions(started_at);
	`)
	return err
}

func (s *PostgresStore) IsNew(ctx context.Context, externalID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM properties WHERE external_id = $1)", externalID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", externalID, err)
	}
	return !exists, nil
}

func (s *PostgresStore) Save(ctx context.Context, l *models.Listing) error {
	images, err := encodeImages(l.Images)
	if err != nil {
		return fmt.Errorf("save %s: encode images: %w", l.ExternalID, err)
	}
	now := s.now().UTC()

	query := `
		INSERT INTO properties (
			external_id, source, title, price, currency, location, district,
			size_m2, rooms, bedrooms, floor, total_floors, property_type,
			description, images, source_url, detail_url, listing_date,
			scraped_at, first_seen_at, last_seen_at, is_active, hash
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15::jsonb, $16, $17, $18, $19, $20, $20, TRUE, $21
		)
		ON CONFLICT (external_id) DO UPDATE SET
			source = EXCLUDED.source,
			title = EXCLUDED.title,
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			location = EXCLUDED.location,
			district = EXCLUDED.district,
			size_m2 = EXCLUDED.size_m2,
			rooms = EXCLUDED.rooms,
			bedrooms = EXCLUDED.bedrooms,
			floor = EXCLUDED.floor,
			total_floors = EXCLUDED.total_floors,
			property_type = EXCLUDED.property_type,
			description = EXCLUDED.description,
			images = EXCLUDED.images,
			source_url = EXCLUDED.source_url,
			detail_url = EXCLUDED.detail_url,
			listing_date = EXCLUDED.listing_date,
			scraped_at = EXCLUDED.scraped_at,
			last_seen_at = EXCLUDED.last_seen_at,
			is_active = TRUE,
			hash = EXCLUDED.hash`

	_, err = s.pool.Exec(ctx, query,
		l.ExternalID, l.Source, l.Title, l.Price, l.Currency, l.Location, textOrNil(l.District),
		l.SizeM2, l.Rooms, l.Bedrooms, textOrNil(l.Floor), l.TotalFloors, propertyType(l),
		textOrNil(l.Description), images, l.SourceURL, textOrNil(l.DetailURL), l.ListingDate,
		l.ScrapedAt.UTC(), now, identity.ContentHash(l),
	)
	if err != nil {
		return fmt.Errorf("save %s: %w", l.ExternalID, err)
	}
	return nil
}

func (s *PostgresStore) TouchLastSeen(ctx context.Context, externalID string) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE properties SET last_seen_at = $1, is_active = TRUE WHERE external_id = $2",
		s.now().UTC(), externalID,
	)
	if err != nil {
		return fmt.Errorf("touch %s: %w", externalID, err)
	}
	return nil
}

func (s *PostgresStore) MarkInactive(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"UPDATE properties SET is_active = FALSE WHERE is_active = TRUE AND last_seen_at < $1",
		cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("mark inactive: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) GetListing(ctx context.Context, externalID string) (*models.StoredListing, error) {
	row := s.pool.QueryRow(ctx, pgSelectListingSQL+" WHERE external_id = $1", externalID)
	l, err := scanPgListing(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return l, err
}

func (s *PostgresStore) RecentListings(ctx context.Context, limit int) ([]models.StoredListing, error) {
	rows, err := s.pool.Query(ctx, pgSelectListingSQL+" ORDER BY scraped_at DESC, id DESC LIMIT $1", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.StoredListing
	for rows.Next() {
		l, err := scanPgListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

func (s *PostgresStore) StartSession(ctx context.Context) (*models.Session, error) {
	correlationID := uuid.New()
	session := &models.Session{
		CorrelationID: correlationID.String(),
		StartedAt:     s.now().UTC(),
		Status:        models.RunStatusRunning,
	}

	err := s.pool.QueryRow(ctx,
		"INSERT INTO scraping_sessions (correlation_id, started_at, status) VALUES ($1, $2, $3) RETURNING id",
		correlationID, session.StartedAt, string(session.Status),
	).Scan(&session.ID)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	return session, nil
}

func (s *PostgresStore) FinishSession(ctx context.Context, id int64, found, newCount int, cycleErr error) error {
	status, errMsg := finishedStatus(cycleErr)
	if cycleErr != nil {
		found, newCount = 0, 0
	}

	_, err := s.pool.Exec(ctx, `
		UPDATE scraping_sessions SET
			completed_at = $1, properties_found = $2, new_properties = $3, errors = $4, status = $5
		WHERE id = $6`,
		s.now().UTC(), found, newCount, textOrNil(errMsg), string(status), id,
	)
	if err != nil {
		return fmt.Errorf("finish session %d: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) AbandonRunningSessions(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"UPDATE scraping_sessions SET status = $1, completed_at = $2 WHERE status = $3",
		string(models.RunStatusAbandoned), s.now().UTC(), string(models.RunStatusRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("abandon sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) RecentSessions(ctx context.Context, limit int) ([]models.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, COALESCE(correlation_id::text, ''), started_at, completed_at,
			properties_found, new_properties, COALESCE(errors, ''), status
		FROM scraping_sessions ORDER BY started_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var sess models.Session
		var status string
		if err := rows.Scan(&sess.ID, &sess.CorrelationID, &sess.StartedAt, &sess.CompletedAt,
			&sess.PropertiesFound, &sess.NewProperties, &sess.Errors, &status); err != nil {
			return nil, err
		}
		sess.Status = models.RunStatus(status)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *PostgresStore) Stats(ctx context.Context) (*models.Stats, error) {
	dayStart := startOfDay(s.now())
	stats := &models.Stats{}

	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM properties),
			(SELECT COUNT(*) FROM properties WHERE scraped_at >= $1),
			(SELECT COUNT(*) FROM scraping_sessions WHERE started_at >= $1)`,
		dayStart,
	).Scan(&stats.TotalProperties, &stats.TodayProperties, &stats.TodaySessions)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return stats, nil
}

const pgSelectListingSQL = `
	SELECT external_id, COALESCE(source, ''), COALESCE(title, ''), price, COALESCE(currency, ''),
		COALESCE(location, ''), COALESCE(district, ''), size_m2, rooms, bedrooms,
		COALESCE(floor, ''), total_floors, COALESCE(property_type, ''), COALESCE(description, ''),
		images::text, COALESCE(source_url, ''), COALESCE(detail_url, ''), listing_date,
		scraped_at, first_seen_at, last_seen_at, is_active, COALESCE(hash, '')
	FROM properties`

func scanPgListing(row pgx.Row) (*models.StoredListing, error) {
	var l models.StoredListing
	var price *int64
	var images string

	err := row.Scan(
		&l.ExternalID, &l.Source, &l.Title, &price, &l.Currency,
		&l.Location, &l.District, &l.SizeM2, &l.Rooms, &l.Bedrooms,
		&l.Floor, &l.TotalFloors, &l.PropertyType, &l.Description,
		&images, &l.SourceURL, &l.DetailURL, &l.ListingDate,
		&l.ScrapedAt, &l.FirstSeenAt, &l.LastSeenAt, &l.IsActive, &l.Hash,
	)
	if err != nil {
		return nil, err
	}
	if price != nil {
		p := int(*price)
		l.Price = &p
	}
	l.Images = decodeImages(images)
	return &l, nil
}

func textOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
