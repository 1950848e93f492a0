package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/unieasy/places-cli/internal/db"
	"github.com/unieasy/places-cli/internal/places"
)

// SQLiteStore implements Store using modernc.org/sqlite through sqlx.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer keeps the upsert transaction and its existence probe serial.
	conn.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: conn}, nil
}

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func sqliteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse time %q", s)
	}
	return t.UTC(), nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS places (
	id                 TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	google_place_id    TEXT UNIQUE,
	category           TEXT NOT NULL,
	type               TEXT,
	address            TEXT,
	city               TEXT,
	lat                REAL NOT NULL,
	lng                REAL NOT NULL,
	phone              TEXT,
	website            TEXT,
	is_on_campus       INTEGER NOT NULL DEFAULT 0,
	is_static          INTEGER NOT NULL DEFAULT 0,
	is_manual_override INTEGER NOT NULL DEFAULT 0,
	data_source        TEXT,
	rating             REAL,
	rating_count       INTEGER,
	price_level        INTEGER,
	photo_refs         TEXT NOT NULL DEFAULT '[]',
	extra              TEXT NOT NULL DEFAULT '{}',
	last_fetched_at    TEXT,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_places_category ON places(category);
CREATE INDEX IF NOT EXISTS idx_places_lat_lng ON places(lat, lng);
CREATE INDEX IF NOT EXISTS idx_places_last_fetched_at ON places(last_fetched_at);

CREATE TABLE IF NOT EXISTS seed_runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT 'running',
	categories  TEXT NOT NULL DEFAULT '[]',
	lat         REAL NOT NULL,
	lng         REAL NOT NULL,
	radius      REAL NOT NULL,
	fetched     INTEGER NOT NULL DEFAULT 0,
	inserted    INTEGER NOT NULL DEFAULT 0,
	updated     INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	errors      INTEGER NOT NULL DEFAULT 0,
	error       TEXT,
	started_at  TEXT NOT NULL,
	finished_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_seed_runs_started_at ON seed_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) IsProtected(ctx context.Context, externalID string) (bool, error) {
	var protected bool
	err := s.db.GetContext(ctx, &protected,
		`SELECT is_on_campus AND is_manual_override FROM places WHERE google_place_id = ?`,
		externalID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: protection check %s", externalID)
	}
	return protected, nil
}

func (s *SQLiteStore) Exists(ctx context.Context, externalID string) (bool, error) {
	return existsSQLite(ctx, s.db, externalID)
}

func existsSQLite(ctx context.Context, q sqlx.QueryerContext, externalID string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, q, &exists,
		`SELECT EXISTS (SELECT 1 FROM places WHERE google_place_id = ?)`,
		externalID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: exists %s", externalID)
	}
	return exists, nil
}

// UpsertPlace probes for the row and upserts it inside one transaction. The
// conflict guard leaves protected rows untouched, which shows up as zero
// affected rows.
func (s *SQLiteStore) UpsertPlace(ctx context.Context, rec *places.Record) (WriteResult, error) {
	photoRefs := rec.PhotoRefs
	if photoRefs == nil {
		photoRefs = []string{}
	}
	photoJSON, err := json.Marshal(photoRefs)
	if err != nil {
		return WriteUnchanged, eris.Wrap(err, "sqlite: marshal photo refs")
	}
	extra := rec.Extra
	if extra == nil {
		extra = map[string]any{}
	}
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return WriteUnchanged, eris.Wrap(err, "sqlite: marshal extra")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return WriteUnchanged, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	existed, err := existsSQLite(ctx, tx, rec.ExternalID)
	if err != nil {
		return WriteUnchanged, err
	}

	args := placeArgs(rec, string(photoJSON), string(extraJSON))
	// Timestamps go in as text; the id and created_at only apply on insert.
	args[19] = sqliteTime(rec.LastFetchedAt)
	args[20] = sqliteTime(rec.UpdatedAt)

	res, err := tx.ExecContext(ctx, sqliteInsertSQL, append([]any{uuid.New().String(), sqliteTime(rec.UpdatedAt)}, args...)...)
	if err != nil {
		return WriteUnchanged, eris.Wrapf(err, "sqlite: upsert place %s", rec.ExternalID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return WriteUnchanged, eris.Wrap(err, "sqlite: rows affected")
	}
	if err := tx.Commit(); err != nil {
		return WriteUnchanged, eris.Wrap(err, "sqlite: commit")
	}

	switch {
	case n == 0:
		return WriteUnchanged, nil
	case existed:
		return WriteUpdated, nil
	default:
		return WriteInserted, nil
	}
}

// sqliteInsertSQL prefixes the shared upsert with the id and created_at
// columns, which Postgres fills from defaults.
var sqliteInsertSQL = func() string {
	sql, err := db.BuildUpsert(db.UpsertConfig{
		Table:        placesTable,
		Columns:      append([]string{"id", "created_at"}, placeColumns...),
		ConflictKeys: []string{"google_place_id"},
		UpdateCols:   refreshColumns,
		Where:        protectedGuard(),
	}, db.Question)
	if err != nil {
		panic(err)
	}
	return sql
}()

// sqlitePlaceRow mirrors the places table with SQLite column types.
type sqlitePlaceRow struct {
	ID               string          `db:"id"`
	Name             string          `db:"name"`
	ExternalID       sql.NullString  `db:"google_place_id"`
	Category         string          `db:"category"`
	SubType          sql.NullString  `db:"type"`
	Address          sql.NullString  `db:"address"`
	City             sql.NullString  `db:"city"`
	Lat              float64         `db:"lat"`
	Lng              float64         `db:"lng"`
	IsOnCampus       bool            `db:"is_on_campus"`
	IsStatic         bool            `db:"is_static"`
	IsManualOverride bool            `db:"is_manual_override"`
	DataSource       sql.NullString  `db:"data_source"`
	Rating           sql.NullFloat64 `db:"rating"`
	RatingCount      sql.NullInt64   `db:"rating_count"`
	PriceLevel       sql.NullInt64   `db:"price_level"`
	PhotoRefs        string          `db:"photo_refs"`
	Extra            string          `db:"extra"`
	LastFetchedAt    sql.NullString  `db:"last_fetched_at"`
	CreatedAt        string          `db:"created_at"`
	UpdatedAt        string          `db:"updated_at"`
	Total            int             `db:"total"`
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func nullInt(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func (r sqlitePlaceRow) toPlace() (places.Place, error) {
	p := places.Place{
		ID:               r.ID,
		Name:             r.Name,
		ExternalID:       nullString(r.ExternalID),
		Category:         r.Category,
		SubType:          nullString(r.SubType),
		Address:          nullString(r.Address),
		City:             nullString(r.City),
		Lat:              r.Lat,
		Lng:              r.Lng,
		IsOnCampus:       r.IsOnCampus,
		IsStatic:         r.IsStatic,
		IsManualOverride: r.IsManualOverride,
		DataSource:       nullString(r.DataSource),
		RatingCount:      nullInt(r.RatingCount),
		PriceLevel:       nullInt(r.PriceLevel),
	}
	if r.Rating.Valid {
		p.Rating = &r.Rating.Float64
	}
	if err := json.Unmarshal([]byte(r.PhotoRefs), &p.PhotoRefs); err != nil {
		return p, eris.Wrapf(err, "sqlite: decode photo_refs for %s", r.ID)
	}
	if err := json.Unmarshal([]byte(r.Extra), &p.Extra); err != nil {
		return p, eris.Wrapf(err, "sqlite: decode extra for %s", r.ID)
	}
	if r.LastFetchedAt.Valid {
		t, err := parseSQLiteTime(r.LastFetchedAt.String)
		if err != nil {
			return p, err
		}
		p.LastFetchedAt = &t
	}
	var err error
	if p.CreatedAt, err = parseSQLiteTime(r.CreatedAt); err != nil {
		return p, err
	}
	if p.UpdatedAt, err = parseSQLiteTime(r.UpdatedAt); err != nil {
		return p, err
	}
	return p, nil
}

func (s *SQLiteStore) ListPlaces(ctx context.Context, filter PlaceFilter) ([]places.Place, int, error) {
	query, args := listPlacesQuery(filter, db.Question)
	var rows []sqlitePlaceRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: list places")
	}

	result := make([]places.Place, 0, len(rows))
	total := 0
	for _, r := range rows {
		p, err := r.toPlace()
		if err != nil {
			return nil, 0, err
		}
		result = append(result, p)
		total = r.Total
	}
	return result, total, nil
}

func (s *SQLiteStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]places.Place, error) {
	var rows []sqlitePlaceRow
	if err := s.db.SelectContext(ctx, &rows, staleQuery(db.Question), sqliteTime(cutoff), ClampLimit(limit)); err != nil {
		return nil, eris.Wrap(err, "sqlite: list stale")
	}

	result := make([]places.Place, 0, len(rows))
	for _, r := range rows {
		p, err := r.toPlace()
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, params RunParams) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	categories := params.Categories
	if categories == nil {
		categories = []string{}
	}
	catJSON, err := json.Marshal(categories)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal categories")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO seed_runs (id, status, categories, lat, lng, radius, started_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, string(RunStatusRunning), string(catJSON), params.Lat, params.Lng, params.Radius, sqliteTime(now),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert seed run")
	}

	return &Run{
		ID:         id,
		Status:     RunStatusRunning,
		Categories: categories,
		Lat:        params.Lat,
		Lng:        params.Lng,
		Radius:     params.Radius,
		StartedAt:  now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, counts RunCounts) error {
	return s.finishRun(ctx, runID, RunStatusComplete, counts, nil)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, counts RunCounts, runErr error) error {
	msg := "unknown error"
	if runErr != nil {
		msg = runErr.Error()
	}
	return s.finishRun(ctx, runID, RunStatusFailed, counts, &msg)
}

func (s *SQLiteStore) finishRun(ctx context.Context, runID string, status RunStatus, c RunCounts, errMsg *string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE seed_runs SET status = ?, fetched = ?, inserted = ?, updated = ?, skipped = ?, errors = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), c.Fetched, c.Inserted, c.Updated, c.Skipped, c.Errors, errMsg, sqliteTime(time.Now()), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish seed run %s", runID)
	}
	return checkRowsAffected(res, "seed run", runID)
}

type sqliteRunRow struct {
	ID         string         `db:"id"`
	Status     string         `db:"status"`
	Categories string         `db:"categories"`
	Lat        float64        `db:"lat"`
	Lng        float64        `db:"lng"`
	Radius     float64        `db:"radius"`
	Fetched    int            `db:"fetched"`
	Inserted   int            `db:"inserted"`
	Updated    int            `db:"updated"`
	Skipped    int            `db:"skipped"`
	Errors     int            `db:"errors"`
	Error      sql.NullString `db:"error"`
	StartedAt  string         `db:"started_at"`
	FinishedAt sql.NullString `db:"finished_at"`
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []sqliteRunRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, status, categories, lat, lng, radius, fetched, inserted, updated, skipped, errors, error, started_at, finished_at
		 FROM seed_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list seed runs")
	}

	runs := make([]Run, 0, len(rows))
	for _, r := range rows {
		run := Run{
			ID:     r.ID,
			Status: RunStatus(r.Status),
			Lat:    r.Lat,
			Lng:    r.Lng,
			Radius: r.Radius,
			Counts: RunCounts{
				Fetched:  r.Fetched,
				Inserted: r.Inserted,
				Updated:  r.Updated,
				Skipped:  r.Skipped,
				Errors:   r.Errors,
			},
			Error: r.Error.String,
		}
		if err := json.Unmarshal([]byte(r.Categories), &run.Categories); err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode categories for %s", r.ID)
		}
		if run.StartedAt, err = parseSQLiteTime(r.StartedAt); err != nil {
			return nil, err
		}
		if r.FinishedAt.Valid {
			t, err := parseSQLiteTime(r.FinishedAt.String)
			if err != nil {
				return nil, err
			}
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
