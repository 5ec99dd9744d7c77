package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StageStatus is the processing status of one pipeline stage. The two
// stages (transcription, analysis) are tracked independently on the same
// feedback record.
type StageStatus string

const (
	StatusPending    StageStatus = "pending"
	StatusProcessing StageStatus = "processing"
	StatusCompleted  StageStatus = "completed"
	StatusFailed     StageStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s StageStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a final state for a stage.
func (s StageStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether s -> next is a legal stage transition.
// failed -> pending is the manual retry path; there is no way to skip
// processing and no processing -> processing self-transition.
func (s StageStatus) CanTransition(next StageStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	case StatusFailed:
		return next == StatusPending
	default:
		return false
	}
}

// Stage identifies one of the two pipeline phases.
type Stage string

const (
	StageTranscription Stage = "transcription"
	StageAnalysis      Stage = "analysis"
)

// Valid reports whether st names a known stage.
func (st Stage) Valid() bool {
	return st == StageTranscription || st == StageAnalysis
}

// Tone is the overall sentiment extracted from a transcript.
type Tone string

const (
	TonePositive Tone = "positive"
	ToneNegative Tone = "negative"
	ToneNeutral  Tone = "neutral"
)

// Cardinality and length caps for AnalysisResult fields.
const (
	MaxSummaryLen      = 500
	MaxProducts        = 5
	MaxProductLen      = 100
	MaxIssues          = 5
	MaxIssueLen        = 200
	MaxActions         = 5
	MaxActionLen       = 200
	MaxKeywords        = 10
	MaxKeywordLen      = 50
	MaxErrorMessageLen = 500
)

// AnalysisResult is the structured output of insight extraction, embedded
// in a Feedback once analysis completes.
type AnalysisResult struct {
	Summary   string   `json:"summary"`
	Tone      Tone     `json:"tone"`
	ToneScore float64  `json:"tone_score"`
	Products  []string `json:"products"`
	Issues    []string `json:"issues"`
	Actions   []string `json:"actions"`
	Keywords  []string `json:"keywords"`
}

// Value implements driver.Valuer so the result is stored as JSONB.
func (a AnalysisResult) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements sql.Scanner for JSONB columns.
func (a *AnalysisResult) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into AnalysisResult", value)
	}

	return json.Unmarshal(data, a)
}

// Feedback is one uploaded staff recording and its pipeline state. Source
// attributes are immutable after creation; the two stage field groups are
// mutated exclusively by the workers.
type Feedback struct {
	ID           string    `json:"id" db:"id"`
	StoreID      string    `json:"store_id" db:"store_id"`
	FeedbackDate time.Time `json:"feedback_date" db:"feedback_date"`
	SubmittedBy  string    `json:"submitted_by" db:"submitted_by"`
	SubmittedAt  time.Time `json:"submitted_at" db:"submitted_at"`

	MediaURL      string  `json:"media_url" db:"media_url"`
	MediaFilename string  `json:"media_filename" db:"media_filename"`
	ContentType   string  `json:"content_type" db:"content_type"`
	Notes         *string `json:"notes,omitempty" db:"notes"`

	TranscriptionStatus  StageStatus `json:"transcription_status" db:"transcription_status"`
	Transcription        *string     `json:"transcription,omitempty" db:"transcription"`
	TranscriptionError   *string     `json:"transcription_error,omitempty" db:"transcription_error"`
	TranscribedAt        *time.Time  `json:"transcribed_at,omitempty" db:"transcribed_at"`
	AudioDurationSeconds *float64    `json:"audio_duration_seconds,omitempty" db:"audio_duration_seconds"`

	AnalysisStatus StageStatus     `json:"analysis_status" db:"analysis_status"`
	Analysis       *AnalysisResult `json:"analysis,omitempty" db:"analysis"`
	AnalysisError  *string         `json:"analysis_error,omitempty" db:"analysis_error"`
	AnalyzedAt     *time.Time      `json:"analyzed_at,omitempty" db:"analyzed_at"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TranscriptText returns the stored transcript or "".
func (f *Feedback) TranscriptText() string {
	if f.Transcription == nil {
		return ""
	}
	return *f.Transcription
}

// ReadyForAnalysis reports whether the analysis stage may leave pending:
// transcription must have completed with a non-empty transcript.
func (f *Feedback) ReadyForAnalysis() bool {
	return f.TranscriptionStatus == StatusCompleted &&
		f.AnalysisStatus == StatusPending &&
		f.TranscriptText() != ""
}

// StageStatusOf returns the status field for the given stage.
func (f *Feedback) StageStatusOf(st Stage) StageStatus {
	if st == StageAnalysis {
		return f.AnalysisStatus
	}
	return f.TranscriptionStatus
}
