// Package track records location fixes into DuckDB.
package track

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-map/internal/location"
	"github.com/joeblew999/plat-map/internal/logger"
)

const schema = `CREATE TABLE IF NOT EXISTS fixes (
	provider    VARCHAR NOT NULL,
	lon         DOUBLE NOT NULL,
	lat         DOUBLE NOT NULL,
	altitude    DOUBLE,
	accuracy    DOUBLE,
	speed       DOUBLE,
	bearing     DOUBLE,
	recorded_at TIMESTAMP NOT NULL
)`

// Recorder is a location.Listener that appends every fix to the fixes table.
type Recorder struct {
	db      *sql.DB
	log     *slog.Logger
	timeout time.Duration
}

// NewRecorder creates the fixes table if needed.
func NewRecorder(ctx context.Context, db *sql.DB) (*Recorder, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating fixes table: %w", err)
	}
	return &Recorder{db: db, log: logger.L(), timeout: 2 * time.Second}, nil
}

// OnLocationChanged runs on the feed's goroutine, so failures are only logged.
func (r *Recorder) OnLocationChanged(f location.Fix) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.Record(ctx, f); err != nil {
		r.log.Error("track_record_error", "err", err)
	}
}

func (r *Recorder) OnStatusChanged(s location.Status) {
	r.log.Debug("track_status", "status", s.String())
}

// Record inserts one fix.
func (r *Recorder) Record(ctx context.Context, f location.Fix) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO fixes (provider, lon, lat, altitude, accuracy, speed, bearing, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(f.Provider), f.Lon(), f.Lat(), f.Altitude, f.Accuracy, f.Speed, f.Bearing, f.Time.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting fix: %w", err)
	}
	return nil
}

// Recent returns up to limit fixes, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]location.Fix, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT provider, lon, lat, altitude, accuracy, speed, bearing, recorded_at
		 FROM fixes ORDER BY recorded_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying fixes: %w", err)
	}
	defer rows.Close()

	fixes := []location.Fix{}
	for rows.Next() {
		var (
			f        location.Fix
			provider string
			lon, lat float64
		)
		if err := rows.Scan(&provider, &lon, &lat, &f.Altitude, &f.Accuracy, &f.Speed, &f.Bearing, &f.Time); err != nil {
			return nil, fmt.Errorf("scanning fix: %w", err)
		}
		f.Provider = location.Provider(provider)
		f.Point = orb.Point{lon, lat}
		fixes = append(fixes, f)
	}
	return fixes, rows.Err()
}

// Count returns the number of recorded fixes.
func (r *Recorder) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM fixes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting fixes: %w", err)
	}
	return n, nil
}

// Extent returns the bounding box of the recorded track. ok is false when
// nothing has been recorded.
func (r *Recorder) Extent(ctx context.Context) (b orb.Bound, ok bool, err error) {
	var minLon, minLat, maxLon, maxLat sql.NullFloat64
	err = r.db.QueryRowContext(ctx, `SELECT min(lon), min(lat), max(lon), max(lat) FROM fixes`).
		Scan(&minLon, &minLat, &maxLon, &maxLat)
	if err != nil {
		return b, false, fmt.Errorf("querying track extent: %w", err)
	}
	if !minLon.Valid {
		return b, false, nil
	}
	return orb.Bound{
		Min: orb.Point{minLon.Float64, minLat.Float64},
		Max: orb.Point{maxLon.Float64, maxLat.Float64},
	}, true, nil
}

var _ location.Listener = (*Recorder)(nil)
