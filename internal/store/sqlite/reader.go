package sqlite

import (
	"context"
	"fmt"
	"time"

	"cryptopulse/internal/model"
)

const maxListLimit = 500

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// ListAnalyses returns up to limit analyses, newest first.
func (s *Store) ListAnalyses(ctx context.Context, limit int) ([]model.AnalysisRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pair, created_at, mode, entry_price_range, take_profit, stop_loss, ultra_take_profits
		FROM analyses
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("sqlite query analyses: %w", err)
	}
	defer rows.Close()

	recs := []model.AnalysisRecord{}
	for rows.Next() {
		var (
			r    model.AnalysisRecord
			ms   int64
			mode string
		)
		if err := rows.Scan(&r.ID, &r.Pair, &ms, &mode, &r.EntryPriceRange, &r.TakeProfit, &r.StopLoss, &r.UltraTakeProfits); err != nil {
			return nil, fmt.Errorf("sqlite scan analyses: %w", err)
		}
		r.Date = time.UnixMilli(ms).UTC()
		r.Mode = model.AnalysisMode(mode)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// ListFeedEvents returns up to limit feed transitions, newest first.
func (s *Store) ListFeedEvents(ctx context.Context, limit int) ([]model.FeedEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, pair, from_state, to_state, reason
		FROM feed_events
		ORDER BY ts DESC, id DESC
		LIMIT ?
	`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("sqlite query feed_events: %w", err)
	}
	defer rows.Close()

	events := []model.FeedEvent{}
	for rows.Next() {
		var (
			ev model.FeedEvent
			ms int64
		)
		if err := rows.Scan(&ms, &ev.Pair, &ev.From, &ev.To, &ev.Reason); err != nil {
			return nil, fmt.Errorf("sqlite scan feed_events: %w", err)
		}
		ev.Time = time.UnixMilli(ms).UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}
