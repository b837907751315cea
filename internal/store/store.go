package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/trackseg/server/internal/lib/segment"
)

// ErrRunNotFound is returned when no run has the requested id
var ErrRunNotFound = errors.New("run not found")

// Run records one segmentation of a trace
type Run struct {
	ID            string             `json:"id"`
	TraceName     string             `json:"trace_name"`
	ContentHash   string             `json:"content_hash"`
	InputPoints   int                `json:"input_points"`
	DedupedPoints int                `json:"deduplicated_points"`
	FlushTrailing bool               `json:"flush_trailing"`
	SegmentCount  int                `json:"segment_count"`
	TotalMeters   float64            `json:"total_meters"`
	CreatedAt     time.Time          `json:"created_at"`
	Segments      segment.Collection `json:"segments,omitempty"`
}

// Store persists runs in SQLite
type Store struct {
	db *sql.DB
}

const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		id                TEXT PRIMARY KEY,
		trace_name        TEXT NOT NULL,
		content_hash      TEXT NOT NULL,
		input_points      INTEGER NOT NULL,
		deduped_points    INTEGER NOT NULL,
		flush_trailing    INTEGER NOT NULL,
		segment_count     INTEGER NOT NULL,
		total_meters      DOUBLE NOT NULL,
		created_at        INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS runs_created_at ON runs (created_at);
	CREATE TABLE IF NOT EXISTS segments (
		run_id            TEXT NOT NULL,
		seq               INTEGER NOT NULL,
		point_count       INTEGER NOT NULL,
		distance_meters   DOUBLE NOT NULL,
		points            TEXT NOT NULL,
		PRIMARY KEY (run_id, seq),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
`

// Open opens (creating if needed) the SQLite database at path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY under concurrent saves
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun inserts a run and its segments. ID and CreatedAt are assigned when empty.
func (s *Store) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	run.SegmentCount = len(run.Segments)
	run.TotalMeters = run.Segments.TotalDistance()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, trace_name, content_hash, input_points, deduped_points,
			flush_trailing, segment_count, total_meters, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.TraceName, run.ContentHash, run.InputPoints, run.DedupedPoints,
		run.FlushTrailing, run.SegmentCount, run.TotalMeters, run.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for i, seg := range run.Segments {
		points, err := json.Marshal(seg.Points())
		if err != nil {
			return fmt.Errorf("failed to encode segment %d: %w", i, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO segments (run_id, seq, point_count, distance_meters, points)
			VALUES (?, ?, ?, ?, ?)`,
			run.ID, i, seg.Len(), seg.Distance(), string(points),
		)
		if err != nil {
			return fmt.Errorf("failed to insert segment %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// GetRun loads a run with its segments
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, trace_name, content_hash, input_points, deduped_points,
			flush_trailing, segment_count, total_meters, created_at
		FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, points FROM segments WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}
	defer rows.Close()

	run.Segments = segment.Collection{}
	for rows.Next() {
		var (
			seq    int
			points string
		)
		if err := rows.Scan(&seq, &points); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}

		var seg segment.Segment
		if err := json.Unmarshal([]byte(`{"points":`+points+`}`), &seg); err != nil {
			return nil, fmt.Errorf("failed to decode segment %d: %w", seq, err)
		}
		run.Segments = append(run.Segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read segments: %w", err)
	}

	return run, nil
}

// ListRuns returns the most recent runs without their segments
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trace_name, content_hash, input_points, deduped_points,
			flush_trailing, segment_count, total_meters, created_at
		FROM runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run       Run
		createdAt int64
	)
	err := row.Scan(&run.ID, &run.TraceName, &run.ContentHash, &run.InputPoints, &run.DedupedPoints,
		&run.FlushTrailing, &run.SegmentCount, &run.TotalMeters, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	run.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &run, nil
}
