// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tracestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/relabs-tech/gps_receiver/internal/trace"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS traces (
	id       TEXT PRIMARY KEY,
	start_ns INTEGER,
	end_ns   INTEGER,
	skipped  INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS trace_points (
	trace_id  TEXT    NOT NULL REFERENCES traces(id),
	seq       INTEGER NOT NULL,
	ts_ns     INTEGER,
	device    TEXT    NOT NULL,
	latitude  REAL    NOT NULL,
	longitude REAL    NOT NULL,
	speed     REAL,
	elevation REAL,
	PRIMARY KEY (trace_id, seq)
);`

// SQLiteStore keeps traces in two tables. NULL marks an absent timestamp,
// speed or elevation.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "traces.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create trace tables: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Driver() Driver { return DriverSQLite }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func nullTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullTime(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.Unix(0, v.Int64).UTC()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func fromNullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func (s *SQLiteStore) Save(ctx context.Context, id string, sess trace.Session) (retErr error) {
	id, err := SanitizeID(id)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM traces WHERE id = ?`, id).Scan(&one)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrExists, id)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("lookup trace: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO traces (id, start_ns, end_ns, skipped) VALUES (?, ?, ?, ?)`,
		id, nullTime(sess.StartTime), nullTime(sess.EndTime), sess.Skipped,
	); err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO trace_points
		(trace_id, seq, ts_ns, device, latitude, longitude, speed, elevation)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare points: %w", err)
	}
	defer stmt.Close()
	for i, p := range sess.Points {
		if _, err := stmt.ExecContext(ctx, id, i, nullTime(p.Time), p.Device,
			p.Latitude, p.Longitude, nullFloat(p.Speed), nullFloat(p.Elevation)); err != nil {
			return fmt.Errorf("insert point %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Open(ctx context.Context, id string) (trace.Session, error) {
	id, err := SanitizeID(id)
	if err != nil {
		return trace.Session{}, err
	}

	var (
		start, end sql.NullInt64
		sess       trace.Session
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT start_ns, end_ns, skipped FROM traces WHERE id = ?`, id,
	).Scan(&start, &end, &sess.Skipped)
	if errors.Is(err, sql.ErrNoRows) {
		return trace.Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return trace.Session{}, fmt.Errorf("select trace: %w", err)
	}
	sess.StartTime = fromNullTime(start)
	sess.EndTime = fromNullTime(end)

	rows, err := s.db.QueryContext(ctx, `SELECT ts_ns, device, latitude, longitude, speed, elevation
		FROM trace_points WHERE trace_id = ? ORDER BY seq`, id)
	if err != nil {
		return trace.Session{}, fmt.Errorf("select points: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			ts         sql.NullInt64
			speed, ele sql.NullFloat64
			p          trace.Point
		)
		if err := rows.Scan(&ts, &p.Device, &p.Latitude, &p.Longitude, &speed, &ele); err != nil {
			return trace.Session{}, fmt.Errorf("scan point: %w", err)
		}
		p.Time = fromNullTime(ts)
		p.Speed = fromNullFloat(speed)
		p.Elevation = fromNullFloat(ele)
		sess.Points = append(sess.Points, p)
	}
	if err := rows.Err(); err != nil {
		return trace.Session{}, err
	}
	return sess, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM traces ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer func() { _ = rows.Close() }()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
