package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storepulse/internal/queue"
	"storepulse/internal/storage"
	"storepulse/pkg/logger"
	"storepulse/pkg/model"
	"storepulse/pkg/resilience"

	"go.uber.org/zap"
)

// TranscriptionWorker polls for pending records and drives each claimed
// record to completed or failed within the same cycle.
type TranscriptionWorker struct {
	control     Control
	media       MediaResolver
	engine      Transcriber
	events      EventPublisher
	alerts      Notifier
	interval    time.Duration
	batchSize   int
	reportRetry *resilience.RetryConfig
}

func NewTranscriptionWorker(
	control Control,
	media MediaResolver,
	engine Transcriber,
	interval time.Duration,
	batchSize int,
) *TranscriptionWorker {
	if batchSize <= 0 {
		batchSize = 2
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	return &TranscriptionWorker{
		control:     control,
		media:       media,
		engine:      engine,
		interval:    interval,
		batchSize:   batchSize,
		reportRetry: resilience.DefaultRetryConfig(),
	}
}

// WithEvents attaches an optional stage event publisher.
func (w *TranscriptionWorker) WithEvents(events EventPublisher) *TranscriptionWorker {
	w.events = events
	return w
}

// WithAlerts attaches an optional failure notifier.
func (w *TranscriptionWorker) WithAlerts(alerts Notifier) *TranscriptionWorker {
	w.alerts = alerts
	return w
}

// Run is the worker loop: one cycle immediately, then one per interval
// until ctx is cancelled.
func (w *TranscriptionWorker) Run(ctx context.Context) {
	logger.Info("Transcription worker started",
		zap.Duration("interval", w.interval),
		zap.Int("batch_size", w.batchSize))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.runCycle(ctx)

		select {
		case <-ctx.Done():
			logger.Info("Transcription worker stopped")
			return
		case <-ticker.C:
		}
	}
}

func (w *TranscriptionWorker) runCycle(ctx context.Context) {
	claimed, err := w.control.ClaimTranscriptions(ctx, w.batchSize)
	if err != nil {
		logger.Error("Failed to claim pending transcriptions", zap.Error(err))
		return
	}

	if len(claimed) == 0 {
		return
	}

	logger.Info("Claimed records for transcription", zap.Int("count", len(claimed)))

	for _, f := range claimed {
		if ctx.Err() != nil {
			return
		}
		// A failure in one record must not stop the rest of the batch.
		w.process(ctx, f)
	}
}

func (w *TranscriptionWorker) process(ctx context.Context, f *model.Feedback) {
	logger.Info("Transcribing feedback",
		zap.String("feedback_id", f.ID),
		zap.String("store_id", f.StoreID))

	ref := f.MediaURL
	if ref == "" {
		ref = f.MediaFilename
	}

	path, cleanup, err := w.media.Resolve(ctx, ref)
	if err != nil {
		if errors.Is(err, storage.ErrMediaNotFound) {
			w.fail(ctx, f, fmt.Sprintf("media not found: %s", ref))
		} else {
			w.fail(ctx, f, err.Error())
		}
		return
	}
	defer cleanup()

	text, err := w.engine.Transcribe(ctx, path)
	if err != nil {
		w.fail(ctx, f, err.Error())
		return
	}

	// Duration is best-effort: a probe failure never fails the record.
	var duration *float64
	if seconds, err := w.engine.Duration(ctx, path); err == nil {
		duration = &seconds
	} else {
		logger.Warn("Could not determine audio duration",
			zap.String("feedback_id", f.ID), zap.Error(err))
	}

	err = resilience.RetryWithExponentialBackoff(ctx, w.reportRetry, func() error {
		reportErr := w.control.CompleteTranscription(ctx, f.ID, text, duration)
		if errors.Is(reportErr, storage.ErrNotFound) {
			return nil // record deleted out from under us: log and move on
		}
		return reportErr
	})
	if err != nil {
		logger.Error("Failed to report transcription outcome",
			zap.String("feedback_id", f.ID), zap.Error(err))
		return
	}

	logger.Info("Transcription completed",
		zap.String("feedback_id", f.ID),
		zap.Int("chars", len(text)))

	w.publish(ctx, f, model.StatusCompleted, "")
}

func (w *TranscriptionWorker) fail(ctx context.Context, f *model.Feedback, errMsg string) {
	logger.Error("Transcription failed",
		zap.String("feedback_id", f.ID),
		zap.String("error", errMsg))

	err := resilience.RetryWithExponentialBackoff(ctx, w.reportRetry, func() error {
		reportErr := w.control.FailTranscription(ctx, f.ID, errMsg)
		if errors.Is(reportErr, storage.ErrNotFound) {
			return nil
		}
		return reportErr
	})
	if err != nil {
		logger.Error("Failed to report transcription failure",
			zap.String("feedback_id", f.ID), zap.Error(err))
	}

	w.publish(ctx, f, model.StatusFailed, errMsg)

	if w.alerts != nil {
		if err := w.alerts.NotifyFailure(ctx, f, model.StageTranscription, errMsg); err != nil {
			logger.Warn("Failed to send failure alert", zap.Error(err))
		}
	}
}

func (w *TranscriptionWorker) publish(ctx context.Context, f *model.Feedback, status model.StageStatus, errMsg string) {
	if w.events == nil {
		return
	}

	event := queue.StageEvent{
		FeedbackID: f.ID,
		StoreID:    f.StoreID,
		Stage:      model.StageTranscription,
		Status:     status,
		Error:      errMsg,
		OccurredAt: time.Now().UTC(),
	}

	if err := w.events.PublishStageEvent(ctx, event); err != nil {
		logger.Warn("Failed to publish stage event",
			zap.String("feedback_id", f.ID), zap.Error(err))
	}
}
