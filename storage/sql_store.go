package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/arturpaehn/carlynx-sub002/models"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const maxListLimit = 200

// SQLStore persists listings to PostgreSQL or SQLite through sqlx.
type SQLStore struct {
	db     *sqlx.DB
	driver string
}

// OpenSQLStore opens a connection for the given driver, waits for the
// database to come up, runs schema migrations and returns a ready store.
func OpenSQLStore(driver, dsn string) (*SQLStore, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("storage: unsupported driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping failed after retries: %w", err)
	}

	if driver == DriverSQLite {
		// one writer at a time; also keeps ":memory:" on a single database
		db.SetMaxOpenConns(1)
	}

	return NewSQLStore(db)
}

// NewSQLStore wraps an already open handle and migrates the schema.
func NewSQLStore(db *sqlx.DB) (*SQLStore, error) {
	s := &SQLStore{db: db, driver: db.DriverName()}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	idCol, boolType, tsType := "BIGSERIAL PRIMARY KEY", "BOOLEAN", "TIMESTAMPTZ"
	if s.driver == DriverSQLite {
		idCol, boolType, tsType = "INTEGER PRIMARY KEY AUTOINCREMENT", "BOOLEAN", "TIMESTAMP"
	}

	_, err := s.db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS listings (
			id           %[1]s,
			source       TEXT,
			external_id  TEXT,
			title        TEXT    NOT NULL,
			brand        TEXT    NOT NULL DEFAULT '',
			model        TEXT    NOT NULL DEFAULT '',
			year         INTEGER NOT NULL,
			price        INTEGER NOT NULL CHECK (price > 0),
			category     TEXT    NOT NULL CHECK (category IN ('car', 'motorcycle')),
			transmission TEXT    NOT NULL DEFAULT '',
			fuel_type    TEXT    NOT NULL DEFAULT '',
			mileage      INTEGER NOT NULL DEFAULT 0 CHECK (mileage >= 0),
			engine_size  TEXT    NOT NULL DEFAULT '',
			state        TEXT    NOT NULL DEFAULT '',
			city         TEXT    NOT NULL DEFAULT '',
			url          TEXT    NOT NULL DEFAULT '',
			images_json  TEXT    NOT NULL DEFAULT '[]',
			is_active    %[2]s   NOT NULL DEFAULT FALSE,
			created_at   %[3]s   NOT NULL,
			updated_at   %[3]s   NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_listings_source_external ON listings(source, external_id);
		CREATE INDEX IF NOT EXISTS idx_listings_category ON listings(category);
		CREATE INDEX IF NOT EXISTS idx_listings_brand    ON listings(brand);
		CREATE INDEX IF NOT EXISTS idx_listings_active   ON listings(is_active);
	`, idCol, boolType, tsType))
	return err
}

// listingRow mirrors the listings table; source and external_id are NULL
// for first-party listings.
type listingRow struct {
	ID           int64          `db:"id"`
	Source       sql.NullString `db:"source"`
	ExternalID   sql.NullString `db:"external_id"`
	Title        string         `db:"title"`
	Brand        string         `db:"brand"`
	Model        string         `db:"model"`
	Year         int            `db:"year"`
	Price        int            `db:"price"`
	Category     string         `db:"category"`
	Transmission string         `db:"transmission"`
	FuelType     string         `db:"fuel_type"`
	Mileage      int            `db:"mileage"`
	EngineSize   string         `db:"engine_size"`
	State        string         `db:"state"`
	City         string         `db:"city"`
	URL          string         `db:"url"`
	ImagesJSON   string         `db:"images_json"`
	IsActive     bool           `db:"is_active"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

const listingColumns = `id, source, external_id, title, brand, model, year, price, category,
	transmission, fuel_type, mileage, engine_size, state, city, url, images_json,
	is_active, created_at, updated_at`

func (r *listingRow) toModel() *models.Listing {
	l := &models.Listing{
		ID:           r.ID,
		Source:       r.Source.String,
		ExternalID:   r.ExternalID.String,
		Title:        r.Title,
		Brand:        r.Brand,
		Model:        r.Model,
		Year:         r.Year,
		Price:        r.Price,
		Category:     models.Category(r.Category),
		Transmission: r.Transmission,
		FuelType:     r.FuelType,
		Mileage:      r.Mileage,
		EngineSize:   r.EngineSize,
		State:        r.State,
		City:         r.City,
		URL:          r.URL,
		IsActive:     r.IsActive,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(r.ImagesJSON), &l.Images); err != nil || l.Images == nil {
		l.Images = []string{}
	}
	return l
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func encodeImages(images []string) (string, error) {
	if images == nil {
		images = []string{}
	}
	b, err := json.Marshal(images)
	if err != nil {
		return "", fmt.Errorf("storage: encode images: %w", err)
	}
	return string(b), nil
}

// FindByKey looks a listing up by its (source, external_id) import key.
func (s *SQLStore) FindByKey(ctx context.Context, key models.ListingKey) (*models.Listing, error) {
	var row listingRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT `+listingColumns+`
		FROM listings
		WHERE source = ? AND external_id = ?
	`), key.Source, key.ExternalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: find %s: %w", key, err)
	}
	return row.toModel(), nil
}

// Insert stores a new listing and returns its id.
func (s *SQLStore) Insert(ctx context.Context, l *models.Listing) (int64, error) {
	images, err := encodeImages(l.Images)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.db.QueryRowxContext(ctx, s.db.Rebind(`
		INSERT INTO listings (source, external_id, title, brand, model, year, price, category,
			transmission, fuel_type, mileage, engine_size, state, city, url, images_json,
			is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`),
		nullable(l.Source), nullable(l.ExternalID), l.Title, l.Brand, l.Model, l.Year, l.Price,
		string(l.Category), l.Transmission, l.FuelType, l.Mileage, l.EngineSize, l.State, l.City,
		l.URL, images, l.IsActive, l.CreatedAt.UTC(), l.UpdatedAt.UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("storage: insert %s: %w", l.Key(), err)
	}
	return id, nil
}

// UpdateImported refreshes the fields a re-scrape is allowed to change:
// price, mileage, images and updated_at. Identity, created_at and the
// active flag are left alone.
func (s *SQLStore) UpdateImported(ctx context.Context, l *models.Listing) error {
	images, err := encodeImages(l.Images)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE listings
		SET price = ?, mileage = ?, images_json = ?, updated_at = ?
		WHERE id = ?
	`), l.Price, l.Mileage, images, l.UpdatedAt.UTC(), l.ID)
	if err != nil {
		return fmt.Errorf("storage: update %d: %w", l.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get fetches a listing by id.
func (s *SQLStore) Get(ctx context.Context, id int64) (*models.Listing, error) {
	var row listingRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+listingColumns+` FROM listings WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get %d: %w", id, err)
	}
	return row.toModel(), nil
}

// List returns listings matching f, newest first.
func (s *SQLStore) List(ctx context.Context, f ListFilter) ([]*models.Listing, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.ActiveOnly {
		where = append(where, "is_active = ?")
		args = append(args, true)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(f.Category))
	}
	if f.Brand != "" {
		where = append(where, "LOWER(brand) = ?")
		args = append(args, strings.ToLower(f.Brand))
	}
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, f.Source)
	}
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, f.State)
	}

	query := `SELECT ` + listingColumns + ` FROM listings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := f.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, max(f.Offset, 0))

	var rows []listingRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}

	listings := make([]*models.Listing, 0, len(rows))
	for i := range rows {
		listings = append(listings, rows[i].toModel())
	}
	return listings, nil
}

// SetActive flips the active flag of one listing. It is the hook for
// payment completion and moderation.
func (s *SQLStore) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE listings SET is_active = ?, updated_at = ? WHERE id = ?
	`), active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("storage: set active %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateMissing marks active listings of source whose external id is
// not in seen as inactive. An empty seen set is refused so that a failed
// scrape cannot wipe a whole source.
func (s *SQLStore) DeactivateMissing(ctx context.Context, source string, seen []string) (int64, error) {
	if len(seen) == 0 {
		return 0, fmt.Errorf("storage: refusing to deactivate every %q listing on an empty run", source)
	}

	query, args, err := sqlx.In(`
		UPDATE listings
		SET is_active = ?, updated_at = ?
		WHERE source = ? AND is_active = ? AND external_id NOT IN (?)
	`, false, time.Now().UTC(), source, true, seen)
	if err != nil {
		return 0, fmt.Errorf("storage: build deactivate query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("storage: deactivate missing for %q: %w", source, err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
