package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"storepulse/internal/insights"
	"storepulse/internal/queue"
	"storepulse/internal/storage"
	"storepulse/pkg/cache"
	"storepulse/pkg/logger"
	"storepulse/pkg/model"
	"storepulse/pkg/resilience"

	"go.uber.org/zap"
)

// AnalysisWorker polls for transcribed-but-unanalyzed records and extracts
// structured insights for each one.
type AnalysisWorker struct {
	control     Control
	analyzer    Analyzer
	results     cache.Cache
	events      EventPublisher
	alerts      Notifier
	interval    time.Duration
	batchSize   int
	reportRetry *resilience.RetryConfig
}

func NewAnalysisWorker(
	control Control,
	analyzer Analyzer,
	interval time.Duration,
	batchSize int,
) *AnalysisWorker {
	if batchSize <= 0 {
		batchSize = 5
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	return &AnalysisWorker{
		control:     control,
		analyzer:    analyzer,
		interval:    interval,
		batchSize:   batchSize,
		reportRetry: resilience.DefaultRetryConfig(),
	}
}

// WithResultCache attaches an optional analysis cache keyed by transcript
// hash, so an operator retry of an unchanged transcript skips the LLM.
func (w *AnalysisWorker) WithResultCache(c cache.Cache) *AnalysisWorker {
	w.results = c
	return w
}

// WithEvents attaches an optional stage event publisher.
func (w *AnalysisWorker) WithEvents(events EventPublisher) *AnalysisWorker {
	w.events = events
	return w
}

// WithAlerts attaches an optional failure notifier.
func (w *AnalysisWorker) WithAlerts(alerts Notifier) *AnalysisWorker {
	w.alerts = alerts
	return w
}

// Run is the worker loop: one cycle immediately, then one per interval
// until ctx is cancelled.
func (w *AnalysisWorker) Run(ctx context.Context) {
	logger.Info("Analysis worker started",
		zap.Duration("interval", w.interval),
		zap.Int("batch_size", w.batchSize))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.runCycle(ctx)

		select {
		case <-ctx.Done():
			logger.Info("Analysis worker stopped")
			return
		case <-ticker.C:
		}
	}
}

func (w *AnalysisWorker) runCycle(ctx context.Context) {
	claimed, err := w.control.ClaimAnalyses(ctx, w.batchSize)
	if err != nil {
		logger.Error("Failed to claim pending analyses", zap.Error(err))
		return
	}

	if len(claimed) == 0 {
		return
	}

	logger.Info("Claimed records for analysis", zap.Int("count", len(claimed)))

	for _, f := range claimed {
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, f)
	}
}

func (w *AnalysisWorker) process(ctx context.Context, f *model.Feedback) {
	logger.Info("Analyzing feedback",
		zap.String("feedback_id", f.ID),
		zap.String("store_id", f.StoreID))

	transcript := strings.TrimSpace(f.TranscriptText())

	// Fail fast before any external call; the eligibility query filters
	// empty transcripts but not short ones.
	if len([]rune(transcript)) < 10 {
		w.fail(ctx, f, "transcription too short to analyze")
		return
	}

	if result, ok := w.cachedResult(ctx, transcript); ok {
		logger.Info("Analysis served from cache", zap.String("feedback_id", f.ID))
		w.complete(ctx, f, result)
		return
	}

	result, err := w.analyzer.Analyze(ctx, transcript)
	if err != nil {
		if errors.Is(err, insights.ErrTranscriptTooShort) {
			w.fail(ctx, f, "transcription too short to analyze")
			return
		}
		w.fail(ctx, f, err.Error())
		return
	}

	w.cacheResult(ctx, transcript, result)
	w.complete(ctx, f, result)
}

func (w *AnalysisWorker) complete(ctx context.Context, f *model.Feedback, result model.AnalysisResult) {
	err := resilience.RetryWithExponentialBackoff(ctx, w.reportRetry, func() error {
		reportErr := w.control.CompleteAnalysis(ctx, f.ID, result)
		if errors.Is(reportErr, storage.ErrNotFound) {
			return nil
		}
		return reportErr
	})
	if err != nil {
		logger.Error("Failed to report analysis outcome",
			zap.String("feedback_id", f.ID), zap.Error(err))
		return
	}

	logger.Info("Analysis completed",
		zap.String("feedback_id", f.ID),
		zap.String("tone", string(result.Tone)),
		zap.Float64("tone_score", result.ToneScore))

	w.publish(ctx, f, model.StatusCompleted, "")
}

func (w *AnalysisWorker) fail(ctx context.Context, f *model.Feedback, errMsg string) {
	logger.Error("Analysis failed",
		zap.String("feedback_id", f.ID),
		zap.String("error", errMsg))

	err := resilience.RetryWithExponentialBackoff(ctx, w.reportRetry, func() error {
		reportErr := w.control.FailAnalysis(ctx, f.ID, errMsg)
		if errors.Is(reportErr, storage.ErrNotFound) {
			return nil
		}
		return reportErr
	})
	if err != nil {
		logger.Error("Failed to report analysis failure",
			zap.String("feedback_id", f.ID), zap.Error(err))
	}

	w.publish(ctx, f, model.StatusFailed, errMsg)

	if w.alerts != nil {
		if err := w.alerts.NotifyFailure(ctx, f, model.StageAnalysis, errMsg); err != nil {
			logger.Warn("Failed to send failure alert", zap.Error(err))
		}
	}
}

func (w *AnalysisWorker) publish(ctx context.Context, f *model.Feedback, status model.StageStatus, errMsg string) {
	if w.events == nil {
		return
	}

	event := queue.StageEvent{
		FeedbackID: f.ID,
		StoreID:    f.StoreID,
		Stage:      model.StageAnalysis,
		Status:     status,
		Error:      errMsg,
		OccurredAt: time.Now().UTC(),
	}

	if err := w.events.PublishStageEvent(ctx, event); err != nil {
		logger.Warn("Failed to publish stage event",
			zap.String("feedback_id", f.ID), zap.Error(err))
	}
}

func (w *AnalysisWorker) cachedResult(ctx context.Context, transcript string) (model.AnalysisResult, bool) {
	if w.results == nil {
		return model.AnalysisResult{}, false
	}

	var result model.AnalysisResult
	if err := w.results.Get(ctx, transcriptCacheKey(transcript), &result); err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Warn("Analysis cache read failed", zap.Error(err))
		}
		return model.AnalysisResult{}, false
	}

	return result, true
}

func (w *AnalysisWorker) cacheResult(ctx context.Context, transcript string, result model.AnalysisResult) {
	if w.results == nil {
		return
	}

	if err := w.results.Set(ctx, transcriptCacheKey(transcript), result); err != nil {
		logger.Warn("Analysis cache write failed", zap.Error(err))
	}
}

func transcriptCacheKey(transcript string) string {
	sum := sha256.Sum256([]byte(transcript))
	return "analysis:" + hex.EncodeToString(sum[:])
}
