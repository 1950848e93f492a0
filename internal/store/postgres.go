package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/unieasy/places-cli/internal/db"
	"github.com/unieasy/places-cli/internal/places"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS places (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name               TEXT NOT NULL,
	google_place_id    TEXT UNIQUE,
	category           TEXT NOT NULL,
	type               TEXT,
	address            TEXT,
	city               TEXT,
	lat                DOUBLE PRECISION NOT NULL,
	lng                DOUBLE PRECISION NOT NULL,
	phone              TEXT,
	website            TEXT,
	is_on_campus       BOOLEAN NOT NULL DEFAULT false,
	is_static          BOOLEAN NOT NULL DEFAULT false,
	is_manual_override BOOLEAN NOT NULL DEFAULT false,
	data_source        TEXT,
	rating             DOUBLE PRECISION,
	rating_count       INTEGER,
	price_level        SMALLINT,
	photo_refs         TEXT[] NOT NULL DEFAULT '{}',
	extra              JSONB NOT NULL DEFAULT '{}',
	last_fetched_at    TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_places_category ON places(category);
CREATE INDEX IF NOT EXISTS idx_places_lat_lng ON places(lat, lng);
CREATE INDEX IF NOT EXISTS idx_places_last_fetched_at ON places(last_fetched_at);

CREATE TABLE IF NOT EXISTS seed_runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status      TEXT NOT NULL DEFAULT 'running',
	categories  TEXT[] NOT NULL DEFAULT '{}',
	lat         DOUBLE PRECISION NOT NULL,
	lng         DOUBLE PRECISION NOT NULL,
	radius      DOUBLE PRECISION NOT NULL,
	fetched     INTEGER NOT NULL DEFAULT 0,
	inserted    INTEGER NOT NULL DEFAULT 0,
	updated     INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	errors      INTEGER NOT NULL DEFAULT 0,
	error       TEXT,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_seed_runs_started_at ON seed_runs(started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) IsProtected(ctx context.Context, externalID string) (bool, error) {
	var protected bool
	err := s.pool.QueryRow(ctx,
		`SELECT is_on_campus AND is_manual_override FROM places WHERE google_place_id = $1`,
		externalID,
	).Scan(&protected)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: protection check %s", externalID)
	}
	return protected, nil
}

func (s *PostgresStore) Exists(ctx context.Context, externalID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM places WHERE google_place_id = $1)`,
		externalID,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: exists %s", externalID)
	}
	return exists, nil
}

var postgresUpsertSQL = upsertPlaceSQL(db.Dollar, "(xmax = 0) AS inserted")

// UpsertPlace writes rec in one statement. A protected conflicting row makes
// the statement return no row, reported as WriteUnchanged.
func (s *PostgresStore) UpsertPlace(ctx context.Context, rec *places.Record) (WriteResult, error) {
	var inserted bool
	err := s.pool.QueryRow(ctx, postgresUpsertSQL, placeArgs(rec, rec.PhotoRefs, rec.Extra)...).Scan(&inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		return WriteUnchanged, nil
	}
	if err != nil {
		return WriteUnchanged, eris.Wrapf(err, "postgres: upsert place %s", rec.ExternalID)
	}
	if inserted {
		return WriteInserted, nil
	}
	return WriteUpdated, nil
}

// placeArgs returns the bind values for placeColumns. photoRefs and extra are
// passed in already encoded for the target driver.
func placeArgs(rec *places.Record, photoRefs, extra any) []any {
	return []any{
		rec.Name, rec.ExternalID, string(rec.Category), rec.SubType, rec.Address, rec.City,
		rec.Lat, rec.Lng, rec.Phone, rec.Website,
		rec.IsOnCampus, rec.IsStatic, rec.IsManualOverride, rec.DataSource,
		rec.Rating, rec.RatingCount, rec.PriceLevel, photoRefs, extra,
		rec.LastFetchedAt, rec.UpdatedAt,
	}
}

func (s *PostgresStore) ListPlaces(ctx context.Context, filter PlaceFilter) ([]places.Place, int, error) {
	query, args := listPlacesQuery(filter, db.Dollar)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list places")
	}
	defer rows.Close()

	var result []places.Place
	total := 0
	for rows.Next() {
		var p places.Place
		if err := rows.Scan(append(placeDest(&p), &total)...); err != nil {
			return nil, 0, eris.Wrap(err, "postgres: scan place")
		}
		result = append(result, p)
	}
	return result, total, eris.Wrap(rows.Err(), "postgres: list places iterate")
}

func (s *PostgresStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]places.Place, error) {
	rows, err := s.pool.Query(ctx, staleQuery(db.Dollar), cutoff, ClampLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stale")
	}
	defer rows.Close()

	var result []places.Place
	for rows.Next() {
		var p places.Place
		if err := rows.Scan(placeDest(&p)...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan place")
		}
		result = append(result, p)
	}
	return result, eris.Wrap(rows.Err(), "postgres: list stale iterate")
}

func placeDest(p *places.Place) []any {
	return []any{
		&p.ID, &p.Name, &p.ExternalID, &p.Category, &p.SubType, &p.Address, &p.City,
		&p.Lat, &p.Lng, &p.IsOnCampus, &p.IsStatic, &p.IsManualOverride, &p.DataSource,
		&p.Rating, &p.RatingCount, &p.PriceLevel, &p.PhotoRefs, &p.Extra,
		&p.LastFetchedAt, &p.CreatedAt, &p.UpdatedAt,
	}
}

func (s *PostgresStore) CreateRun(ctx context.Context, params RunParams) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	categories := params.Categories
	if categories == nil {
		categories = []string{}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO seed_runs (id, status, categories, lat, lng, radius, started_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, string(RunStatusRunning), categories, params.Lat, params.Lng, params.Radius, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert seed run")
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

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, counts RunCounts) error {
	return s.finishRun(ctx, runID, RunStatusComplete, counts, nil)
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, counts RunCounts, runErr error) error {
	msg := "unknown error"
	if runErr != nil {
		msg = runErr.Error()
	}
	return s.finishRun(ctx, runID, RunStatusFailed, counts, &msg)
}

func (s *PostgresStore) finishRun(ctx context.Context, runID string, status RunStatus, c RunCounts, errMsg *string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE seed_runs SET status = $1, fetched = $2, inserted = $3, updated = $4, skipped = $5, errors = $6, error = $7, finished_at = $8 WHERE id = $9`,
		string(status), c.Fetched, c.Inserted, c.Updated, c.Skipped, c.Errors, errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish seed run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("seed run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, status, categories, lat, lng, radius, fetched, inserted, updated, skipped, errors, COALESCE(error, ''), started_at, finished_at
		 FROM seed_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list seed runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var status string
		if err := rows.Scan(&r.ID, &status, &r.Categories, &r.Lat, &r.Lng, &r.Radius,
			&r.Counts.Fetched, &r.Counts.Inserted, &r.Counts.Updated, &r.Counts.Skipped, &r.Counts.Errors,
			&r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan seed run")
		}
		r.Status = RunStatus(status)
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list seed runs iterate")
}
