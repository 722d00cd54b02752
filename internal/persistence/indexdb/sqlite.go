package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"defencefield.ai/internal/sim/arena/events"
)

// RunInfo describes one server process. Every wave and reset row points at
// the run that produced it.
type RunInfo struct {
	RunID         string
	Seed          int64
	Radius        int
	Entrances     int
	PaletteDigest string
}

type WaveRow struct {
	RunID       string `json:"run_id" csv:"run_id"`
	Epoch       uint64 `json:"epoch" csv:"epoch"`
	Entrances   int    `json:"entrances" csv:"entrances"`
	Routes      int    `json:"routes" csv:"routes"`
	Missing     int    `json:"missing" csv:"missing"`
	Stale       int    `json:"stale" csv:"stale"`
	StartedAt   string `json:"started_at" csv:"started_at"`
	CompletedAt string `json:"completed_at,omitempty" csv:"completed_at"`
}

type ResetRow struct {
	RunID   string `json:"run_id" csv:"run_id"`
	Epoch   uint64 `json:"epoch" csv:"epoch"`
	Seed    int64  `json:"seed" csv:"seed"`
	Cleared int    `json:"cleared" csv:"cleared"`
	Filled  int    `json:"filled" csv:"filled"`
	At      string `json:"at" csv:"at"`
}

// WaveIndex is a queryable SQLite mirror of the field event stream. Writes
// go through a single writer goroutine; the JSONL event log stays the
// source of truth, so events are dropped when the writer falls behind.
type WaveIndex struct {
	db    *sql.DB
	runID string

	mu      sync.RWMutex
	closed  bool
	ch      chan events.Event
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

func OpenSQLite(path string, run RunInfo) (*WaveIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	if _, err := db.Exec(
		`INSERT OR REPLACE INTO runs(run_id,started_at,seed,radius,entrances,palette_digest) VALUES(?,?,?,?,?,?)`,
		run.RunID, now(), run.Seed, run.Radius, run.Entrances, run.PaletteDigest,
	); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &WaveIndex{
		db:    db,
		runID: run.RunID,
		ch:    make(chan events.Event, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			seed INTEGER NOT NULL,
			radius INTEGER NOT NULL,
			entrances INTEGER NOT NULL,
			palette_digest TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS waves (
			run_id TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			entrances INTEGER NOT NULL,
			routes INTEGER NOT NULL DEFAULT 0,
			missing INTEGER NOT NULL DEFAULT 0,
			stale INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			PRIMARY KEY (run_id, epoch)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_waves_started ON waves(started_at);`,
		`CREATE TABLE IF NOT EXISTS resets (
			run_id TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			seed INTEGER NOT NULL,
			cleared INTEGER NOT NULL,
			filled INTEGER NOT NULL,
			at TEXT NOT NULL,
			PRIMARY KEY (run_id, epoch)
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *WaveIndex) RunID() string { return s.runID }

func (s *WaveIndex) Dropped() uint64 { return s.dropped.Load() }

// Emit queues ev for the writer. It never blocks.
func (s *WaveIndex) Emit(ev events.Event) {
	if s == nil {
		return
	}
	switch ev.Kind {
	case events.WaveStarted, events.WaveCompleted, events.RouteStale, events.FieldReset:
	default:
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Close flushes queued events and closes the database.
func (s *WaveIndex) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	s.wg.Wait()
	return s.db.Close()
}

// Waves returns the most recent waves across all runs, newest first.
func (s *WaveIndex) Waves(ctx context.Context, limit int) ([]WaveRow, error) {
	return QueryWaves(ctx, s.db, limit)
}

func (s *WaveIndex) Resets(ctx context.Context, limit int) ([]ResetRow, error) {
	return QueryResets(ctx, s.db, limit)
}

func QueryWaves(ctx context.Context, db *sql.DB, limit int) ([]WaveRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `SELECT run_id,epoch,entrances,routes,missing,stale,started_at,COALESCE(completed_at,'')
		FROM waves ORDER BY started_at DESC, epoch DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []WaveRow
	for rows.Next() {
		var w WaveRow
		var epoch int64
		if err := rows.Scan(&w.RunID, &epoch, &w.Entrances, &w.Routes, &w.Missing, &w.Stale, &w.StartedAt, &w.CompletedAt); err != nil {
			return nil, err
		}
		w.Epoch = uint64(epoch)
		out = append(out, w)
	}
	return out, rows.Err()
}

func QueryResets(ctx context.Context, db *sql.DB, limit int) ([]ResetRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `SELECT run_id,epoch,seed,cleared,filled,at FROM resets ORDER BY at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ResetRow
	for rows.Next() {
		var r ResetRow
		var epoch int64
		if err := rows.Scan(&r.RunID, &epoch, &r.Seed, &r.Cleared, &r.Filled, &r.At); err != nil {
			return nil, err
		}
		r.Epoch = uint64(epoch)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *WaveIndex) loop() {
	ctx := context.Background()

	insertWave, _ := s.db.Prepare(`INSERT OR REPLACE INTO waves(run_id,epoch,entrances,started_at) VALUES(?,?,?,?)`)
	completeWave, _ := s.db.Prepare(`UPDATE waves SET routes=?, missing=?, completed_at=? WHERE run_id=? AND epoch=?`)
	staleWave, _ := s.db.Prepare(`UPDATE waves SET stale=stale+1 WHERE run_id=? AND epoch=?`)
	insertReset, _ := s.db.Prepare(`INSERT OR REPLACE INTO resets(run_id,epoch,seed,cleared,filled,at) VALUES(?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertWave, completeWave, staleWave, insertReset} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = time.Second
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			_ = tx.Rollback()
			tx = nil
			return
		}
		opCount++
	}

	for ev := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		at := ev.At.UTC().Format(time.RFC3339Nano)
		epoch := int64(ev.Epoch)
		switch ev.Kind {
		case events.WaveStarted:
			exec(insertWave, s.runID, epoch, ev.Entrances, at)
		case events.WaveCompleted:
			exec(completeWave, ev.Routes, ev.Missing, at, s.runID, epoch)
		case events.RouteStale:
			exec(staleWave, s.runID, epoch)
		case events.FieldReset:
			exec(insertReset, s.runID, epoch, ev.Seed, ev.Cleared, ev.Filled, at)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0) {
			commit()
		}
	}
	commit()
}
