package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"twostream/fileutil"
	"twostream/metrics"
)

// Store keeps the append-only train/test record streams and the run registry.
type Store struct {
	db *sql.DB
}

// Run describes one invocation of the trainer.
type Run struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	Epochs     int       `json:"epochs"`
	StartEpoch int       `json:"start_epoch"`
	BatchSize  int       `json:"batch_size"`
	LR         float64   `json:"lr"`
	Classes    int       `json:"classes"`
	Evaluate   bool      `json:"evaluate"`
}

// Open initializes the SQLite database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := fileutil.EnsureDir(filepath.Dir(path)); err != nil {
			return nil, err
		}
	}
	database, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}
	database.SetMaxOpenConns(1)

	query := `
    CREATE TABLE IF NOT EXISTS runs (
        id TEXT PRIMARY KEY,
        started_at DATETIME NOT NULL,
        epochs INTEGER NOT NULL,
        start_epoch INTEGER NOT NULL,
        batch_size INTEGER NOT NULL,
        lr REAL NOT NULL,
        classes INTEGER NOT NULL,
        evaluate INTEGER DEFAULT 0
    );
    CREATE TABLE IF NOT EXISTS train_records (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        run_id TEXT NOT NULL,
        epoch INTEGER NOT NULL,
        step INTEGER NOT NULL,
        class INTEGER NOT NULL,
        loss REAL,
        map_act TEXT NOT NULL,
        map_adv REAL NOT NULL,
        prec1_act TEXT NOT NULL,
        prec5_act TEXT NOT NULL,
        prec1_adv REAL NOT NULL,
        prec5_adv REAL NOT NULL,
        recorded_at DATETIME NOT NULL
    );
    CREATE TABLE IF NOT EXISTS test_records (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        run_id TEXT NOT NULL,
        epoch INTEGER NOT NULL,
        step INTEGER NOT NULL,
        class INTEGER NOT NULL,
        loss REAL,
        map_act TEXT NOT NULL,
        map_adv REAL NOT NULL,
        prec1_act TEXT NOT NULL,
        prec5_act TEXT NOT NULL,
        prec1_adv REAL NOT NULL,
        prec5_adv REAL NOT NULL,
        recorded_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_train_run ON train_records(run_id, epoch, step);
    CREATE INDEX IF NOT EXISTS idx_test_run ON test_records(run_id, epoch);
    `
	if _, err := database.Exec(query); err != nil {
		database.Close()
		return nil, fmt.Errorf("create tables failed: %w", err)
	}
	return &Store{db: database}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func tableFor(stream metrics.Stream) (string, error) {
	switch stream {
	case metrics.StreamTrain:
		return "train_records", nil
	case metrics.StreamTest:
		return "test_records", nil
	default:
		return "", fmt.Errorf("unknown record stream %q", stream)
	}
}

// RegisterRun saves the run's parameters.
func (s *Store) RegisterRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return errors.New("run id required")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO runs (id, started_at, epochs, start_epoch, batch_size, lr, classes, evaluate)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC(), run.Epochs, run.StartEpoch, run.BatchSize, run.LR, run.Classes, run.Evaluate)
	return err
}

// Runs lists registered runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, started_at, epochs, start_epoch, batch_size, lr, classes, evaluate
        FROM runs
        ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.Epochs, &run.StartEpoch, &run.BatchSize, &run.LR, &run.Classes, &run.Evaluate); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Append writes r to its stream's table. Rows are never updated.
func (s *Store) Append(ctx context.Context, r metrics.Record) error {
	table, err := tableFor(r.Stream)
	if err != nil {
		return err
	}
	var loss sql.NullFloat64
	if r.Loss != nil {
		loss = sql.NullFloat64{Float64: *r.Loss, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO `+table+` (
            run_id, epoch, step, class, loss, map_act, map_adv,
            prec1_act, prec5_act, prec1_adv, prec5_adv, recorded_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Epoch, r.Step, r.Class, loss, r.MAPAct, r.MAPAdv,
		r.Prec1Act, r.Prec5Act, r.Prec1Adv, r.Prec5Adv, r.Time.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append %s record: %w", r.Stream, err)
	}
	return nil
}

// Records returns up to limit rows of a stream in append order. An empty
// runID matches every run; limit <= 0 means no limit.
func (s *Store) Records(ctx context.Context, stream metrics.Stream, runID string, limit int) ([]metrics.Record, error) {
	table, err := tableFor(stream)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT run_id, epoch, step, class, loss, map_act, map_adv,
               prec1_act, prec5_act, prec1_adv, prec5_adv, recorded_at
        FROM `+table+`
        WHERE (? = '' OR run_id = ?)
        ORDER BY id
        LIMIT ?`, runID, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]metrics.Record, 0)
	for rows.Next() {
		r := metrics.Record{Stream: stream}
		var loss sql.NullFloat64
		err := rows.Scan(&r.RunID, &r.Epoch, &r.Step, &r.Class, &loss, &r.MAPAct, &r.MAPAdv,
			&r.Prec1Act, &r.Prec5Act, &r.Prec1Adv, &r.Prec5Adv, &r.Time)
		if err != nil {
			return nil, err
		}
		if loss.Valid {
			v := loss.Float64
			r.Loss = &v
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
