// Package store persists places and the seed run log in Postgres or SQLite.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/unieasy/places-cli/internal/db"
	"github.com/unieasy/places-cli/internal/places"
)

// WriteResult reports what an upsert did to the stored row.
type WriteResult int

const (
	// WriteUnchanged means the row exists and is protected from seeding.
	WriteUnchanged WriteResult = iota
	WriteInserted
	WriteUpdated
)

func (w WriteResult) String() string {
	switch w {
	case WriteInserted:
		return "inserted"
	case WriteUpdated:
		return "updated"
	default:
		return "unchanged"
	}
}

// List limits.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// PlaceFilter specifies criteria for listing places.
type PlaceFilter struct {
	Category string
	SubType  string
	BBox     *places.BBox
	OnCampus *bool
	Limit    int
	Offset   int
}

// RunStatus is the lifecycle state of a seed run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunParams describes a seed run as it starts.
type RunParams struct {
	Categories []string
	Lat        float64
	Lng        float64
	Radius     float64
}

// RunCounts are the final tallies of a seed run.
type RunCounts struct {
	Fetched  int
	Inserted int
	Updated  int
	Skipped  int
	Errors   int
}

// Run is a recorded seed run.
type Run struct {
	ID         string     `json:"id" yaml:"id"`
	Status     RunStatus  `json:"status" yaml:"status"`
	Categories []string   `json:"categories" yaml:"categories"`
	Lat        float64    `json:"lat" yaml:"lat"`
	Lng        float64    `json:"lng" yaml:"lng"`
	Radius     float64    `json:"radius" yaml:"radius"`
	Counts     RunCounts  `json:"counts" yaml:"counts"`
	Error      string     `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// Store defines the persistence interface for the places seeder.
type Store interface {
	// Places
	IsProtected(ctx context.Context, externalID string) (bool, error)
	Exists(ctx context.Context, externalID string) (bool, error)
	UpsertPlace(ctx context.Context, rec *places.Record) (WriteResult, error)
	ListPlaces(ctx context.Context, filter PlaceFilter) ([]places.Place, int, error)
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]places.Place, error)

	// Seed runs
	CreateRun(ctx context.Context, params RunParams) (*Run, error)
	CompleteRun(ctx context.Context, runID string, counts RunCounts) error
	FailRun(ctx context.Context, runID string, counts RunCounts, runErr error) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// ConnectError is returned when the database cannot be reached.
type ConnectError struct {
	Driver string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%s: connect: %v", e.Driver, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Options configures Open.
type Options struct {
	Driver   string // "postgres" or "sqlite"
	DSN      string
	MaxConns int32
}

// Open connects to the configured backend and verifies the connection.
// Connection failures are returned as *ConnectError.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "postgres", "":
		st, err := NewPostgres(ctx, opts.DSN, &PoolConfig{MaxConns: opts.MaxConns})
		if err != nil {
			return nil, &ConnectError{Driver: "postgres", Err: err}
		}
		return st, nil
	case "sqlite":
		st, err := NewSQLite(opts.DSN)
		if err != nil {
			return nil, &ConnectError{Driver: "sqlite", Err: err}
		}
		if err := st.Ping(ctx); err != nil {
			st.Close() //nolint:errcheck
			return nil, &ConnectError{Driver: "sqlite", Err: err}
		}
		return st, nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", opts.Driver)
	}
}

// placesTable is the target of every query in this package.
const placesTable = "places"

// placeColumns are the columns a seeded record writes, in bind order.
var placeColumns = []string{
	"name", "google_place_id", "category", "type", "address", "city",
	"lat", "lng", "phone", "website",
	"is_on_campus", "is_static", "is_manual_override", "data_source",
	"rating", "rating_count", "price_level", "photo_refs", "extra",
	"last_fetched_at", "updated_at",
}

// refreshColumns are the only columns a reseed may overwrite.
var refreshColumns = []string{
	"name", "address", "lat", "lng", "rating", "rating_count", "price_level",
	"photo_refs", "extra", "last_fetched_at", "updated_at",
}

// protectedGuard keeps the DO UPDATE branch away from protected rows.
func protectedGuard() string {
	return fmt.Sprintf("NOT (%s AND %s)",
		db.QualifiedColumn(placesTable, "is_on_campus"),
		db.QualifiedColumn(placesTable, "is_manual_override"),
	)
}

func upsertPlaceSQL(ph db.Placeholder, returning string) string {
	sql, err := db.BuildUpsert(db.UpsertConfig{
		Table:        placesTable,
		Columns:      placeColumns,
		ConflictKeys: []string{"google_place_id"},
		UpdateCols:   refreshColumns,
		Where:        protectedGuard(),
		Returning:    returning,
	}, ph)
	if err != nil {
		// The column lists are constants.
		panic(err)
	}
	return sql
}

var placeSelectColumns = strings.Join([]string{
	"id", "name", "google_place_id", "category", "type", "address", "city", "lat", "lng",
	"is_on_campus", "is_static", "is_manual_override", "data_source", "rating", "rating_count",
	"price_level", "photo_refs", "extra", "last_fetched_at", "created_at", "updated_at",
}, ", ")

// ClampLimit applies the list defaults: 50 when unset, at most 200.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

// listPlacesQuery builds the filtered list query. Each row carries the total
// match count in a trailing "total" column.
func listPlacesQuery(filter PlaceFilter, ph db.Placeholder) (string, []any) {
	var where []string
	var args []any
	bind := func(v any) string {
		args = append(args, v)
		return ph(len(args))
	}

	if filter.Category != "" {
		where = append(where, "category = "+bind(filter.Category))
	}
	if filter.SubType != "" {
		where = append(where, "type = "+bind(filter.SubType))
	}
	if filter.BBox != nil {
		where = append(where,
			fmt.Sprintf("lat BETWEEN %s AND %s", bind(filter.BBox.MinLat()), bind(filter.BBox.MaxLat())),
			fmt.Sprintf("lng BETWEEN %s AND %s", bind(filter.BBox.MinLng()), bind(filter.BBox.MaxLng())),
		)
	}
	if filter.OnCampus != nil {
		where = append(where, "is_on_campus = "+bind(*filter.OnCampus))
	}

	query := "SELECT " + placeSelectColumns + ", count(*) OVER() AS total FROM places"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query += " ORDER BY rating DESC NULLS LAST, name ASC"
	query += " LIMIT " + bind(ClampLimit(filter.Limit))
	query += " OFFSET " + bind(offset)
	return query, args
}

func staleQuery(ph db.Placeholder) string {
	return "SELECT " + placeSelectColumns + " FROM places" +
		" WHERE google_place_id IS NOT NULL AND (last_fetched_at IS NULL OR last_fetched_at < " + ph(1) + ")" +
		" ORDER BY last_fetched_at ASC NULLS FIRST LIMIT " + ph(2)
}
