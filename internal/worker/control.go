package worker

import (
	"context"

	"storepulse/internal/queue"
	"storepulse/pkg/model"
)

// Control is the narrow read/write contract workers use to fetch eligible
// records and report outcomes. Satisfied by the Postgres store directly and
// by the control API HTTP client; the two are behaviourally identical.
type Control interface {
	// ClaimTranscriptions atomically moves up to limit pending records
	// to processing and returns them.
	ClaimTranscriptions(ctx context.Context, limit int) ([]*model.Feedback, error)

	// ClaimAnalyses atomically claims records whose transcription
	// completed with a non-empty transcript and whose analysis is
	// pending.
	ClaimAnalyses(ctx context.Context, limit int) ([]*model.Feedback, error)

	CompleteTranscription(ctx context.Context, id, transcription string, durationSeconds *float64) error
	FailTranscription(ctx context.Context, id, errMsg string) error

	CompleteAnalysis(ctx context.Context, id string, result model.AnalysisResult) error
	FailAnalysis(ctx context.Context, id, errMsg string) error
}

// MediaResolver locates a record's media on the local filesystem.
type MediaResolver interface {
	Resolve(ctx context.Context, ref string) (path string, cleanup func(), err error)
}

// Transcriber runs format normalization plus the speech engine.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaPath string) (string, error)
	Duration(ctx context.Context, mediaPath string) (float64, error)
}

// Analyzer extracts structured insights from a transcript.
type Analyzer interface {
	Analyze(ctx context.Context, transcript string) (model.AnalysisResult, error)
}

// EventPublisher broadcasts terminal stage transitions. Optional.
type EventPublisher interface {
	PublishStageEvent(ctx context.Context, event queue.StageEvent) error
}

// Notifier alerts operators about stage failures. Optional.
type Notifier interface {
	NotifyFailure(ctx context.Context, f *model.Feedback, stage model.Stage, errMsg string) error
}
