// Package repository provides data access implementations
package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hlystovea/reservoirs-web/internal/entities"
)

const (
	dayFormat      = "2006-01-02"
	dateTimeFormat = time.RFC3339
)

// ErrUnavailable marks storage-layer failures that should abort a run early
// instead of failing every remaining unit of work the same way.
var ErrUnavailable = errors.New("storage unavailable")

// Repository is the persistence surface the acquisition engine consumes.
// The relational schema behind it guarantees uniqueness on (date, entity id)
// per record type; that constraint is the cross-run safety net against
// duplicate concurrent runs of the same source.
type Repository interface {
	Reservoirs(ctx context.Context) ([]entities.Reservoir, error)
	ReservoirsByScope(ctx context.Context, slugs []string, exclude bool) ([]entities.Reservoir, error)
	ReservoirBySlug(ctx context.Context, slug string) (entities.Reservoir, error)
	GeoObjects(ctx context.Context) ([]entities.GeoObject, error)

	// LastSituationDate returns the earliest outstanding date across the
	// scoped reservoir set: the slowest reservoir determines the cursor.
	LastSituationDate(ctx context.Context, slugs []string, exclude bool) (time.Time, bool, error)
	LastWeatherDate(ctx context.Context, geoObjectID int64) (time.Time, bool, error)
	SituationExists(ctx context.Context, reservoirID int64, date time.Time) (bool, error)

	// Upsert stores a record idempotently under its natural key and
	// reports whether a new row was created.
	Upsert(ctx context.Context, rec entities.Record) (bool, error)

	Close() error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db     *sql.DB
	DBPath string
}

// NewSQLiteRepository creates and initializes a new SQLite repository.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if dbPath == "" {
		dbDir := "data"
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %v", err)
		}
		dbPath = filepath.Join(dbDir, "reservoirs.db")
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", ErrUnavailable)
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS reservoirs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		station_name TEXT,
		force_level REAL,
		normal_level REAL,
		dead_level REAL,
		useful_volume REAL,
		full_volume REAL,
		area REAL,
		region TEXT
	);
	CREATE TABLE IF NOT EXISTS geo_objects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		gismeteo_id INTEGER UNIQUE,
		station_id INTEGER UNIQUE,
		latitude REAL,
		longitude REAL
	);
	CREATE TABLE IF NOT EXISTS water_situation (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL,
		level REAL NOT NULL,
		free_capacity REAL,
		inflow REAL,
		outflow REAL,
		spillway REAL,
		reservoir_id INTEGER NOT NULL REFERENCES reservoirs(id),
		UNIQUE(date, reservoir_id)
	);
	CREATE TABLE IF NOT EXISTS weather (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL,
		temp REAL NOT NULL,
		pressure REAL NOT NULL,
		humidity REAL NOT NULL,
		cloudiness REAL NOT NULL,
		wind_speed REAL NOT NULL,
		wind_direction INTEGER,
		precipitation REAL NOT NULL,
		is_observable INTEGER NOT NULL DEFAULT 0,
		geo_object_id INTEGER NOT NULL REFERENCES geo_objects(id),
		UNIQUE(date, geo_object_id)
	);
	CREATE INDEX IF NOT EXISTS idx_situation_date ON water_situation(date);
	CREATE INDEX IF NOT EXISTS idx_weather_date ON weather(date);`

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %v", err)
	}

	return &SQLiteRepository{db: db, DBPath: dbPath}, nil
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Reservoirs returns all reservoirs.
func (r *SQLiteRepository) Reservoirs(ctx context.Context) ([]entities.Reservoir, error) {
	return r.ReservoirsByScope(ctx, nil, false)
}

// ReservoirsByScope returns the reservoirs selected by slugs; with exclude
// set, every reservoir except those slugs. An empty slug list means all.
func (r *SQLiteRepository) ReservoirsByScope(ctx context.Context, slugs []string, exclude bool) ([]entities.Reservoir, error) {
	query := `
		SELECT id, name, slug, station_name, force_level, normal_level, dead_level,
		       useful_volume, full_volume, area, region
		FROM reservoirs`
	args := make([]any, 0, len(slugs))
	if len(slugs) > 0 {
		op := "IN"
		if exclude {
			op = "NOT IN"
		}
		query += fmt.Sprintf(" WHERE slug %s (%s)", op, placeholders(len(slugs)))
		for _, s := range slugs {
			args = append(args, s)
		}
	}
	query += " ORDER BY slug"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("query reservoirs", err)
	}
	defer rows.Close()

	var result []entities.Reservoir
	for rows.Next() {
		var res entities.Reservoir
		var stationName, region sql.NullString
		if err := rows.Scan(
			&res.ID, &res.Name, &res.Slug, &stationName,
			&res.ForceLevel, &res.NormalLevel, &res.DeadLevel,
			&res.UsefulVolume, &res.FullVolume, &res.Area, &region,
		); err != nil {
			return nil, fmt.Errorf("failed to scan reservoir: %v", err)
		}
		res.StationName = stationName.String
		res.Region = region.String
		result = append(result, res)
	}
	return result, rows.Err()
}

// ReservoirBySlug returns one reservoir by its slug.
func (r *SQLiteRepository) ReservoirBySlug(ctx context.Context, slug string) (entities.Reservoir, error) {
	reservoirs, err := r.ReservoirsByScope(ctx, []string{slug}, false)
	if err != nil {
		return entities.Reservoir{}, err
	}
	if len(reservoirs) == 0 {
		return entities.Reservoir{}, fmt.Errorf("reservoir %q not found", slug)
	}
	return reservoirs[0], nil
}

// GeoObjects returns all geographic objects.
func (r *SQLiteRepository) GeoObjects(ctx context.Context) ([]entities.GeoObject, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, slug, gismeteo_id, station_id, latitude, longitude
		FROM geo_objects ORDER BY slug`)
	if err != nil {
		return nil, wrapErr("query geo objects", err)
	}
	defer rows.Close()

	var result []entities.GeoObject
	for rows.Next() {
		var g entities.GeoObject
		if err := rows.Scan(&g.ID, &g.Name, &g.Slug, &g.GismeteoID, &g.StationID, &g.Latitude, &g.Longitude); err != nil {
			return nil, fmt.Errorf("failed to scan geo object: %v", err)
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

// LastSituationDate returns MIN over the per-reservoir MAX(date) within the
// scope, so an entity that fell behind is never silently skipped.
func (r *SQLiteRepository) LastSituationDate(ctx context.Context, slugs []string, exclude bool) (time.Time, bool, error) {
	query := `
		SELECT MAX(ws.date) AS last_date
		FROM water_situation ws
		JOIN reservoirs r ON r.id = ws.reservoir_id`
	args := make([]any, 0, len(slugs))
	if len(slugs) > 0 {
		op := "IN"
		if exclude {
			op = "NOT IN"
		}
		query += fmt.Sprintf(" WHERE r.slug %s (%s)", op, placeholders(len(slugs)))
		for _, s := range slugs {
			args = append(args, s)
		}
	}
	query += " GROUP BY ws.reservoir_id ORDER BY last_date LIMIT 1"

	var dateStr sql.NullString
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&dateStr)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, wrapErr("query last situation date", err)
	}
	if !dateStr.Valid || dateStr.String == "" {
		return time.Time{}, false, nil
	}
	t, err := time.ParseInLocation(dayFormat, dateStr.String, time.UTC)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse date %q: %v", dateStr.String, err)
	}
	return t, true, nil
}

// LastWeatherDate returns the most recent persisted datetime for one geo object.
func (r *SQLiteRepository) LastWeatherDate(ctx context.Context, geoObjectID int64) (time.Time, bool, error) {
	var dateStr sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(date) FROM weather WHERE geo_object_id = ?`, geoObjectID,
	).Scan(&dateStr)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, wrapErr("query last weather date", err)
	}
	if !dateStr.Valid || dateStr.String == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(dateTimeFormat, dateStr.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse datetime %q: %v", dateStr.String, err)
	}
	return t, true, nil
}

// SituationExists reports whether a situation row exists for the key.
func (r *SQLiteRepository) SituationExists(ctx context.Context, reservoirID int64, date time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM water_situation WHERE date = ? AND reservoir_id = ?)`,
		date.Format(dayFormat), reservoirID,
	).Scan(&exists)
	if err != nil {
		return false, wrapErr("query situation existence", err)
	}
	return exists, nil
}

// Upsert stores a record idempotently under its (date, entity id) key.
func (r *SQLiteRepository) Upsert(ctx context.Context, rec entities.Record) (bool, error) {
	switch v := rec.(type) {
	case entities.Situation:
		return r.upsertSituation(ctx, v)
	case *entities.Situation:
		return r.upsertSituation(ctx, *v)
	case entities.WeatherObservation:
		return r.upsertWeather(ctx, v)
	case *entities.WeatherObservation:
		return r.upsertWeather(ctx, *v)
	default:
		return false, fmt.Errorf("unsupported record type %T", rec)
	}
}

// upsertSituation inserts the row if absent. Situations are immutable once
// created: a conflicting insert is a no-op, never an update.
func (r *SQLiteRepository) upsertSituation(ctx context.Context, s entities.Situation) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO water_situation (date, level, free_capacity, inflow, outflow, spillway, reservoir_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date, reservoir_id) DO NOTHING`,
		s.Date.Format(dayFormat), s.Level, s.FreeCapacity, s.Inflow, s.Outflow, s.Spillway, s.ReservoirID,
	)
	if err != nil {
		return false, wrapErr("insert situation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert situation: %v", err)
	}
	return n == 1, nil
}

// upsertWeather is update-or-create, except that an existing observed row
// is never overwritten: measured data must not be downgraded by a later
// forecast for the same key.
func (r *SQLiteRepository) upsertWeather(ctx context.Context, w entities.WeatherObservation) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, wrapErr("begin weather upsert", err)
	}
	defer tx.Rollback()

	dateStr := w.Date.UTC().Format(dateTimeFormat)

	var existingObservable bool
	err = tx.QueryRowContext(ctx,
		`SELECT is_observable FROM weather WHERE date = ? AND geo_object_id = ?`,
		dateStr, w.GeoObjectID,
	).Scan(&existingObservable)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx, `
			INSERT INTO weather (date, temp, pressure, humidity, cloudiness,
			                     wind_speed, wind_direction, precipitation, is_observable, geo_object_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(date, geo_object_id) DO NOTHING`,
			dateStr, w.Temp, w.Pressure, w.Humidity, w.Cloudiness,
			w.WindSpeed, w.WindDirection, w.Precipitation, w.IsObservable, w.GeoObjectID,
		)
		if err != nil {
			return false, wrapErr("insert weather", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("insert weather: %v", err)
		}
		return n == 1, tx.Commit()

	case err != nil:
		return false, wrapErr("query weather existence", err)

	case existingObservable:
		// Observed data takes precedence; leave the row untouched.
		return false, tx.Commit()

	default:
		_, err := tx.ExecContext(ctx, `
			UPDATE weather
			SET temp = ?, pressure = ?, humidity = ?, cloudiness = ?,
			    wind_speed = ?, wind_direction = ?, precipitation = ?, is_observable = ?
			WHERE date = ? AND geo_object_id = ? AND is_observable = 0`,
			w.Temp, w.Pressure, w.Humidity, w.Cloudiness,
			w.WindSpeed, w.WindDirection, w.Precipitation, w.IsObservable,
			dateStr, w.GeoObjectID,
		)
		if err != nil {
			return false, wrapErr("update weather", err)
		}
		return false, tx.Commit()
	}
}

// InsertReservoir adds a reference reservoir row. The engine never calls
// this at runtime; it exists for seeding and tests.
func (r *SQLiteRepository) InsertReservoir(ctx context.Context, res entities.Reservoir) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO reservoirs (name, slug, station_name, force_level, normal_level, dead_level,
		                        useful_volume, full_volume, area, region)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.Name, res.Slug, res.StationName, res.ForceLevel, res.NormalLevel, res.DeadLevel,
		res.UsefulVolume, res.FullVolume, res.Area, res.Region,
	)
	if err != nil {
		return 0, wrapErr("insert reservoir", err)
	}
	return result.LastInsertId()
}

// InsertGeoObject adds a reference geo object row. Seeding and tests only.
func (r *SQLiteRepository) InsertGeoObject(ctx context.Context, g entities.GeoObject) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO geo_objects (name, slug, gismeteo_id, station_id, latitude, longitude)
		VALUES (?, ?, ?, ?, ?, ?)`,
		g.Name, g.Slug, g.GismeteoID, g.StationID, g.Latitude, g.Longitude,
	)
	if err != nil {
		return 0, wrapErr("insert geo object", err)
	}
	return result.LastInsertId()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// wrapErr marks connection-level failures as ErrUnavailable so the
// acquisition loop can abort a run early instead of failing every
// remaining unit of work.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) ||
		strings.Contains(err.Error(), "database is locked") ||
		strings.Contains(err.Error(), "unable to open database") {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %v", op, err)
}
