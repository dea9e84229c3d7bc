package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"cryptopulse/internal/logger"
	"cryptopulse/internal/model"
	"cryptopulse/internal/notification"
)

// Error is what callers see when an analysis fails. The message is fixed
// per mode; the provider error is kept for errors.Is/As and logs.
type Error struct {
	Mode model.AnalysisMode
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to perform %s analysis", e.Mode)
}

func (e *Error) Unwrap() error { return e.Err }

// BarSource supplies the bars for a Quick snapshot when the caller sends none.
type BarSource interface {
	Snapshot() (model.Pair, []model.Bar)
}

// Service wraps an Analyzer with record keeping and notifications.
type Service struct {
	analyzer Analyzer
	records  model.AnalysisRecorder
	settings model.SettingsStore
	notifier notification.Notifier
	bars     BarSource
	log      *slog.Logger

	now   func() time.Time
	newID func() string

	wg sync.WaitGroup

	// OnResult is called after every analysis attempt (optional).
	OnResult func(mode model.AnalysisMode, took time.Duration, err error)
}

// ServiceDeps are the collaborators of a Service. Only Analyzer is required.
type ServiceDeps struct {
	Analyzer Analyzer
	Records  model.AnalysisRecorder
	Settings model.SettingsStore
	Notifier notification.Notifier
	Bars     BarSource
	Log      *slog.Logger
}

// NewService creates a Service.
func NewService(d ServiceDeps) *Service {
	if d.Analyzer == nil {
		d.Analyzer = Disabled{}
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &Service{
		analyzer: d.Analyzer,
		records:  d.Records,
		settings: d.Settings,
		notifier: d.Notifier,
		bars:     d.Bars,
		log:      d.Log.With("component", "analysis"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Quick runs a Quick analysis. Empty ChartData is filled from the live
// series, and an empty Ticker from its pair.
func (s *Service) Quick(ctx context.Context, req QuickRequest) (QuickResult, error) {
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID("quick"))
	ctx, span := logger.StartSpan(ctx, "analysis.quick")
	defer span.End()

	if req.ChartData == "" && s.bars != nil {
		pair, bars := s.bars.Snapshot()
		req.ChartData = FormatSnapshot(bars)
		if req.Ticker == "" {
			req.Ticker = pair.Symbol
		}
	}
	span.SetAttributes(attribute.String("ticker", req.Ticker))

	start := time.Now()
	var (
		res QuickResult
		err error
	)
	if req.ChartData == "" || req.Ticker == "" {
		err = fmt.Errorf("%w: chart data and ticker are required", ErrInvalidRequest)
	} else {
		res, err = s.analyzer.Quick(ctx, req)
	}
	s.finish(ctx, model.ModeQuick, start, err)
	if err != nil {
		span.RecordError(err)
		return QuickResult{}, &Error{Mode: model.ModeQuick, Err: err}
	}

	s.store(ctx, model.AnalysisRecord{
		ID:              s.newID(),
		Pair:            req.Ticker,
		Date:            s.now().UTC(),
		Mode:            model.ModeQuick,
		EntryPriceRange: res.EntryPriceRange,
		TakeProfit:      res.TakeProfit,
		StopLoss:        res.StopLoss,
	})
	return res, nil
}

// Ultra runs an Ultra analysis of a chart image.
func (s *Service) Ultra(ctx context.Context, req UltraRequest) (UltraResult, error) {
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID("ultra"))
	ctx, span := logger.StartSpan(ctx, "analysis.ultra")
	defer span.End()
	span.SetAttributes(attribute.String("pair", req.CryptoPair))

	start := time.Now()
	var (
		res UltraResult
		err error
	)
	if req.CryptoPair == "" {
		err = fmt.Errorf("%w: crypto pair is required", ErrInvalidRequest)
	} else if _, _, err = ParseDataURI(req.ChartDataURI); err == nil {
		res, err = s.analyzer.Ultra(ctx, req)
	}
	s.finish(ctx, model.ModeUltra, start, err)
	if err != nil {
		span.RecordError(err)
		return UltraResult{}, &Error{Mode: model.ModeUltra, Err: err}
	}

	levels := strings.Join(res.TakeProfitLevels, ", ")
	s.store(ctx, model.AnalysisRecord{
		ID:               s.newID(),
		Pair:             req.CryptoPair,
		Date:             s.now().UTC(),
		Mode:             model.ModeUltra,
		EntryPriceRange:  res.EntryPriceRange,
		TakeProfit:       levels,
		StopLoss:         res.StopLossLevel,
		UltraTakeProfits: levels,
	})
	return res, nil
}

// History returns stored analyses, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]model.AnalysisRecord, error) {
	if s.records == nil {
		return []model.AnalysisRecord{}, nil
	}
	recs, err := s.records.ListAnalyses(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("analysis: history: %w", err)
	}
	return recs, nil
}

// Wait blocks until background record saves and notifications finish.
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) finish(ctx context.Context, mode model.AnalysisMode, start time.Time, err error) {
	took := time.Since(start)
	attrs := append(logger.LogWithTrace(ctx), "mode", string(mode), "took", took.String())
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, ErrDisabled) || errors.Is(err, ErrInvalidImage) || errors.Is(err, ErrInvalidRequest) {
			level = slog.LevelWarn
		}
		s.log.Log(ctx, level, "analysis failed", append(attrs, "error", err)...)
	} else {
		s.log.InfoContext(ctx, "analysis complete", attrs...)
	}
	if s.OnResult != nil {
		s.OnResult(mode, took, err)
	}
}

// store saves rec and sends a notification in the background. Failures
// are logged and never reach the caller.
func (s *Service) store(ctx context.Context, rec model.AnalysisRecord) {
	traceAttrs := logger.LogWithTrace(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		bg, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if s.records != nil {
			if err := s.records.SaveAnalysis(bg, rec); err != nil {
				s.log.Warn("store analysis", append(traceAttrs, "id", rec.ID, "error", err)...)
			}
		}
		if s.notifier == nil || !s.notificationsEnabled(bg) {
			return
		}
		if err := s.notifier.Send(bg, notification.AnalysisAlert(rec)); err != nil {
			s.log.Warn("notify analysis", append(traceAttrs, "id", rec.ID, "error", err)...)
		}
	}()
}

func (s *Service) notificationsEnabled(ctx context.Context) bool {
	if s.settings == nil {
		return model.DefaultSettings().EnableNotifications
	}
	st, err := s.settings.GetSettings(ctx)
	if err != nil {
		return model.DefaultSettings().EnableNotifications
	}
	return st.EnableNotifications
}
