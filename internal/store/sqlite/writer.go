// Package sqlite stores analysis results and the feed transition log.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"cryptopulse/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 500 * time.Millisecond
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/chartd.db"
}

// Store implements model.AnalysisRecorder and keeps the feed event log.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// New opens the database with WAL mode and creates the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS analyses (
			id                 TEXT    PRIMARY KEY,
			pair               TEXT    NOT NULL,
			created_at         INTEGER NOT NULL,
			mode               TEXT    NOT NULL,
			entry_price_range  TEXT    NOT NULL,
			take_profit        TEXT    NOT NULL,
			stop_loss          TEXT    NOT NULL,
			ultra_take_profits TEXT    NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_analyses_created ON analyses (created_at);

		CREATE TABLE IF NOT EXISTS feed_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			ts         INTEGER NOT NULL,
			pair       TEXT    NOT NULL,
			from_state TEXT    NOT NULL,
			to_state   TEXT    NOT NULL,
			reason     TEXT    NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_feed_events_ts ON feed_events (ts);
	`)
	return err
}

// SaveAnalysis inserts rec. Saving the same ID twice replaces the row.
func (s *Store) SaveAnalysis(ctx context.Context, rec model.AnalysisRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("sqlite: save analysis: empty id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO analyses
			(id, pair, created_at, mode, entry_price_range, take_profit, stop_loss, ultra_take_profits)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Pair, rec.Date.UnixMilli(), string(rec.Mode), rec.EntryPriceRange, rec.TakeProfit, rec.StopLoss, rec.UltraTakeProfits)
	if err != nil {
		return fmt.Errorf("sqlite: save analysis: %w", err)
	}
	return nil
}

// RunEvents reads feed events from ch and inserts them in batched transactions.
// Flushes every defaultBatchSize events OR every defaultFlushDelay, whichever first.
// Blocks until ctx is cancelled or ch is closed.
func (s *Store) RunEvents(ctx context.Context, ch <-chan model.FeedEvent) {
	batch := make([]model.FeedEvent, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.insertEvents(batch); err != nil {
			log.Printf("[sqlite] feed event insert error: %v", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case ev, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertEvents inserts a batch of feed events in a single transaction.
func (s *Store) insertEvents(events []model.FeedEvent) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO feed_events (ts, pair, from_state, to_state, reason)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.Exec(ev.Time.UnixMilli(), ev.Pair, ev.From, ev.To, ev.Reason); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Prune deletes analyses and feed events created before cutoff and returns
// how many rows went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	ms := cutoff.UnixMilli()
	var total int64
	for _, q := range []string{
		`DELETE FROM analyses WHERE created_at < ?`,
		`DELETE FROM feed_events WHERE ts < ?`,
	} {
		res, err := s.db.ExecContext(ctx, q, ms)
		if err != nil {
			return total, fmt.Errorf("sqlite: prune: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
