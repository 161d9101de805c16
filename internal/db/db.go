// Package db keeps a journal of robot runs in SQLite: one row per run and
// one row per control tick.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/rescuebot/internal/link"
	"github.com/banshee-data/rescuebot/internal/monitoring"
	"github.com/banshee-data/rescuebot/internal/navigation"
)

// ErrRunNotFound is returned for an unknown run ID.
var ErrRunNotFound = errors.New("db: run not found")

// DB is the journal database.
type DB struct {
	*sql.DB
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
}

// Open opens the database at path without touching the schema.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return &DB{sqlDB}, nil
}

// NewDB opens the database at path and brings the schema up to date.
func NewDB(path string) (*DB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(MigrationsFS()); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Run is one power-on-to-shutdown session of the robot.
type Run struct {
	ID        string     `json:"run_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Mode      string     `json:"mode"`
	Config    string     `json:"config,omitempty"`
	EndReason string     `json:"end_reason,omitempty"`
}

// StartRun inserts a new run and returns its generated ID.
func (db *DB) StartRun(ctx context.Context, startedAt time.Time, mode, config string) (string, error) {
	id := uuid.NewString()
	_, err := db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at, mode, config) VALUES (?, ?, ?, ?)`,
		id, startedAt.UnixNano(), mode, config)
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	monitoring.Logf("[db] run %s started", id)
	return id, nil
}

// FinishRun stamps the end of a run.
func (db *DB) FinishRun(ctx context.Context, id string, endedAt time.Time, reason string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE runs SET ended_at = ?, end_reason = ? WHERE run_id = ?`,
		endedAt.UnixNano(), reason, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrRunNotFound)
	}
	return nil
}

// Runs lists runs, newest first.
func (db *DB) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT run_id, started_at, ended_at, mode, config, end_reason
		   FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r       Run
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &started, &ended, &r.Mode, &r.Config, &r.EndReason); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(0, started).UTC()
		if ended.Valid {
			t := time.Unix(0, ended.Int64).UTC()
			r.EndedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LatestRunID returns the most recently started run.
func (db *DB) LatestRunID(ctx context.Context) (string, error) {
	var id string
	err := db.QueryRowContext(ctx, `SELECT run_id FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRunNotFound
	}
	return id, err
}

// InsertTicks writes a batch of tick records for a run in one transaction.
func (db *DB) InsertTicks(ctx context.Context, runID string, recs []navigation.TickRecord) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO ticks (
		run_id, seq, at, state, button, slope, last_line_x, frame_seq,
		motor_l, motor_r, dist_left, dist_front, dist_right
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range recs {
		var slope sql.NullFloat64
		if r.Slope != nil {
			slope = sql.NullFloat64{Float64: *r.Slope, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			runID, r.Seq, r.At.UnixNano(), r.State.String(), r.Button, slope,
			r.LastLineX, r.FrameSeq, r.MotorL, r.MotorR,
			r.Distances.Left, r.Distances.Front, r.Distances.Right,
		); err != nil {
			return fmt.Errorf("insert tick %d: %w", r.Seq, err)
		}
	}
	return tx.Commit()
}

// Ticks returns the ticks of a run in order.
func (db *DB) Ticks(ctx context.Context, runID string) ([]navigation.TickRecord, error) {
	rows, err := db.QueryContext(ctx, `SELECT seq, at, state, button, slope, last_line_x,
		frame_seq, motor_l, motor_r, dist_left, dist_front, dist_right
		FROM ticks WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query ticks: %w", err)
	}
	defer rows.Close()

	var out []navigation.TickRecord
	for rows.Next() {
		var (
			r     navigation.TickRecord
			at    int64
			state string
			slope sql.NullFloat64
			d     link.Distances
		)
		if err := rows.Scan(&r.Seq, &at, &state, &r.Button, &slope, &r.LastLineX,
			&r.FrameSeq, &r.MotorL, &r.MotorR, &d.Left, &d.Front, &d.Right); err != nil {
			return nil, err
		}
		r.At = time.Unix(0, at).UTC()
		if s, ok := navigation.ParseState(state); ok {
			r.State = s
		}
		if slope.Valid {
			v := slope.Float64
			r.Slope = &v
		}
		r.Distances = d
		out = append(out, r)
	}
	return out, rows.Err()
}
