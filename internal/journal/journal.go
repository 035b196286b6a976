// Package journal keeps a SQLite record of interpreter runs and the cycles
// each run completed.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/protocol"
	_ "modernc.org/sqlite"
)

// Run describes one interpreter process lifetime.
type Run struct {
	ID            string    `json:"run_id"`
	STTMode       string    `json:"stt_mode"`
	TranslateMode string    `json:"translate_mode"`
	TTSMode       string    `json:"tts_mode"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
	Cycles        int       `json:"cycles"`
}

// Journal is a no-op when retention mode is ephemeral.
type Journal struct {
	db    *sql.DB
	cfg   config.JournalConfig
	log   *slog.Logger
	clock func() time.Time
}

func Open(ctx context.Context, cfg config.JournalConfig, log *slog.Logger) (*Journal, error) {
	log = log.With(slog.String("component", "journal"))
	if cfg.RetentionMode == "ephemeral" {
		return &Journal{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	j := &Journal{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := j.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("journal vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := j.Prune(ctx); err != nil {
		log.Warn("journal prune on start failed", slog.String("error", err.Error()))
	}
	return j, nil
}

func (j *Journal) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    stt_mode TEXT,
    translate_mode TEXT,
    tts_mode TEXT,
    started_ms INTEGER NOT NULL,
    ended_ms INTEGER
);
CREATE TABLE IF NOT EXISTS cycles (
    cycle_id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    outcome TEXT NOT NULL,
    transcript TEXT,
    translation TEXT,
    cache_hit INTEGER NOT NULL DEFAULT 0,
    cached INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    utterance_ms INTEGER,
    recognize_ms INTEGER,
    translate_ms INTEGER,
    speak_ms INTEGER,
    started_ms INTEGER NOT NULL,
    completed_ms INTEGER NOT NULL,
    FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_cycles_run_started ON cycles(run_id, started_ms);
`
	_, err := j.db.ExecContext(ctx, ddl)
	return err
}

func (j *Journal) disabled() bool {
	return j.db == nil || j.cfg.RetentionMode == "ephemeral"
}

func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// BeginRun records the start of a run.
func (j *Journal) BeginRun(ctx context.Context, run Run) error {
	if j.disabled() {
		return nil
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = j.clock()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, stt_mode, translate_mode, tts_mode, started_ms)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO NOTHING`,
		run.ID, run.STTMode, run.TranslateMode, run.TTSMode, run.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// EndRun stamps the run's end time.
func (j *Journal) EndRun(ctx context.Context, runID string) error {
	if j.disabled() {
		return nil
	}
	_, err := j.db.ExecContext(ctx, `UPDATE runs SET ended_ms = ? WHERE run_id = ?`, j.clock().UnixMilli(), runID)
	if err != nil {
		return fmt.Errorf("end run: %w", err)
	}
	return nil
}

// RecordCycle stores a finished cycle. The run must already exist.
func (j *Journal) RecordCycle(ctx context.Context, r protocol.CycleReport) error {
	if j.disabled() {
		return nil
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = j.clock()
	}
	if r.CompletedAt.IsZero() {
		r.CompletedAt = j.clock()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO cycles(cycle_id, run_id, outcome, transcript, translation, cache_hit, cached, error,
		     utterance_ms, recognize_ms, translate_ms, speak_ms, started_ms, completed_ms)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.CycleID, r.RunID, r.Outcome, r.Transcript, r.Translation, r.CacheHit, r.Cached, r.Error,
		r.UtteranceMS, r.RecognizeMS, r.TranslateMS, r.SpeakMS, r.StartedAt.UnixMilli(), r.CompletedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record cycle: %w", err)
	}
	return nil
}

// ListCycles returns up to limit cycles of a run, oldest first.
func (j *Journal) ListCycles(ctx context.Context, runID string, limit int) ([]protocol.CycleReport, error) {
	if j.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT cycle_id, run_id, outcome, transcript, translation, cache_hit, cached, error,
		     utterance_ms, recognize_ms, translate_ms, speak_ms, started_ms, completed_ms
		 FROM cycles WHERE run_id = ? ORDER BY started_ms ASC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []protocol.CycleReport
	for rows.Next() {
		var r protocol.CycleReport
		var started, completed int64
		if err := rows.Scan(&r.CycleID, &r.RunID, &r.Outcome, &r.Transcript, &r.Translation, &r.CacheHit, &r.Cached, &r.Error,
			&r.UtteranceMS, &r.RecognizeMS, &r.TranslateMS, &r.SpeakMS, &started, &completed); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		r.CompletedAt = time.UnixMilli(completed).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Runs lists the most recent runs, newest first, with their cycle counts.
func (j *Journal) Runs(ctx context.Context, limit int) ([]Run, error) {
	if j.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT r.run_id, r.stt_mode, r.translate_mode, r.tts_mode, r.started_ms, COALESCE(r.ended_ms, 0),
		     (SELECT COUNT(*) FROM cycles c WHERE c.run_id = r.run_id)
		 FROM runs r ORDER BY r.started_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started, ended int64
		if err := rows.Scan(&r.ID, &r.STTMode, &r.TranslateMode, &r.TTSMode, &started, &ended, &r.Cycles); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		if ended > 0 {
			r.EndedAt = time.UnixMilli(ended).UTC()
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune applies the configured retention. Session mode keeps only what
// the limits allow, the same as persistent mode.
func (j *Journal) Prune(ctx context.Context) (err error) {
	if j.disabled() {
		return nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if j.cfg.RetentionDays > 0 {
		cutoff := j.clock().Add(-time.Duration(j.cfg.RetentionDays) * 24 * time.Hour).UnixMilli()
		if _, err = tx.ExecContext(ctx, `DELETE FROM cycles WHERE started_ms < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE started_ms < ?`, cutoff); err != nil {
			return err
		}
	}
	if j.cfg.MaxRuns > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id IN (
			SELECT run_id FROM runs ORDER BY started_ms DESC LIMIT -1 OFFSET ?
		)`, j.cfg.MaxRuns)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
