package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"storepulse/pkg/logger"
	"storepulse/pkg/model"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a feedback id does not exist. Workers treat
// it as non-fatal: log and continue.
var ErrNotFound = errors.New("feedback not found")

const feedbackColumns = `
	id, store_id, feedback_date, submitted_by, submitted_at,
	media_url, media_filename, content_type, notes,
	transcription_status, transcription, transcription_error, transcribed_at, audio_duration_seconds,
	analysis_status, analysis, analysis_error, analyzed_at,
	updated_at`

type FeedbackStore struct {
	pool *pgxpool.Pool
}

// NewFeedbackStore connects to Postgres, pings it, and applies migrations.
// A connection failure here is process-fatal for callers: workers refuse
// to start without persistence.
func NewFeedbackStore(ctx context.Context, databaseURL, migrationsPath string) (*FeedbackStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(databaseURL, migrationsPath); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Feedback store ready")

	return &FeedbackStore{pool: pool}, nil
}

func runMigrations(databaseURL, migrationsPath string) error {
	absPath, err := filepath.Abs(migrationsPath)
	if err != nil {
		return fmt.Errorf("failed to resolve migrations path: %w", err)
	}

	var migrationsURL string
	if runtime.GOOS == "windows" {
		u := &url.URL{Scheme: "file", Path: filepath.ToSlash(absPath)}
		migrationsURL = u.String()
	} else {
		migrationsURL = fmt.Sprintf("file://%s", absPath)
	}

	connConfig, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return fmt.Errorf("failed to parse database URL: %w", err)
	}

	db := stdlib.OpenDB(*connConfig)
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(migrationsURL, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	if err == migrate.ErrNoChange {
		logger.Info("No new migrations to apply")
	} else {
		logger.Info("Migrations applied", zap.String("path", migrationsURL))
	}

	return nil
}

func (s *FeedbackStore) Close() {
	s.pool.Close()
}

// Ping verifies the store is reachable.
func (s *FeedbackStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateFeedback inserts a new record with both stages pending. Creation
// happens at upload time, outside the pipeline.
func (s *FeedbackStore) CreateFeedback(ctx context.Context, f *model.Feedback) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if f.SubmittedAt.IsZero() {
		f.SubmittedAt = now
	}
	if f.FeedbackDate.IsZero() {
		f.FeedbackDate = f.SubmittedAt
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = now
	}
	if f.TranscriptionStatus == "" {
		f.TranscriptionStatus = model.StatusPending
	}
	if f.AnalysisStatus == "" {
		f.AnalysisStatus = model.StatusPending
	}

	query := `
		INSERT INTO feedbacks (` + feedbackColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	_, err := s.pool.Exec(ctx, query,
		f.ID, f.StoreID, f.FeedbackDate, f.SubmittedBy, f.SubmittedAt,
		f.MediaURL, f.MediaFilename, f.ContentType, f.Notes,
		f.TranscriptionStatus, f.Transcription, f.TranscriptionError, f.TranscribedAt, f.AudioDurationSeconds,
		f.AnalysisStatus, f.Analysis, f.AnalysisError, f.AnalyzedAt,
		f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create feedback: %w", err)
	}

	return nil
}

// GetFeedback retrieves a single record by id.
func (s *FeedbackStore) GetFeedback(ctx context.Context, id string) (*model.Feedback, error) {
	query := `SELECT ` + feedbackColumns + ` FROM feedbacks WHERE id = $1`

	f, err := scanFeedback(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get feedback: %w", err)
	}

	return f, nil
}

// ClaimTranscriptions atomically moves up to limit pending records to
// processing and returns them. The SKIP LOCKED sub-select makes the claim a
// single conditional update: two concurrent claimers can never both take
// the same record.
func (s *FeedbackStore) ClaimTranscriptions(ctx context.Context, limit int) ([]*model.Feedback, error) {
	query := `
		UPDATE feedbacks
		SET transcription_status = $1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM feedbacks
			WHERE transcription_status = $2
			ORDER BY submitted_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + feedbackColumns

	return s.claim(ctx, query, model.StatusProcessing, model.StatusPending, limit)
}

// ClaimAnalyses atomically claims records eligible for analysis:
// transcription completed with a non-empty transcript, analysis pending.
func (s *FeedbackStore) ClaimAnalyses(ctx context.Context, limit int) ([]*model.Feedback, error) {
	query := `
		UPDATE feedbacks
		SET analysis_status = $1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM feedbacks
			WHERE transcription_status = $2
			  AND analysis_status = $3
			  AND transcription IS NOT NULL
			  AND transcription <> ''
			ORDER BY transcribed_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + feedbackColumns

	return s.claim(ctx, query, model.StatusProcessing, model.StatusCompleted, model.StatusPending, limit)
}

func (s *FeedbackStore) claim(ctx context.Context, query string, args ...interface{}) ([]*model.Feedback, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to claim records: %w", err)
	}
	defer rows.Close()

	var claimed []*model.Feedback
	for rows.Next() {
		f, err := scanFeedback(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		claimed = append(claimed, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claimed records: %w", err)
	}

	return claimed, nil
}

// CompleteTranscription writes the transcription stage outcome as one
// atomic field-group update.
func (s *FeedbackStore) CompleteTranscription(ctx context.Context, id, transcription string, durationSeconds *float64) error {
	query := `
		UPDATE feedbacks
		SET transcription = $2,
		    transcription_status = $3,
		    transcription_error = NULL,
		    transcribed_at = NOW(),
		    audio_duration_seconds = $4,
		    updated_at = NOW()
		WHERE id = $1`

	return s.exec(ctx, query, id, transcription, model.StatusCompleted, durationSeconds)
}

// FailTranscription marks the transcription stage failed with a bounded
// diagnostic message.
func (s *FeedbackStore) FailTranscription(ctx context.Context, id, errMsg string) error {
	query := `
		UPDATE feedbacks
		SET transcription_status = $2,
		    transcription_error = $3,
		    updated_at = NOW()
		WHERE id = $1`

	return s.exec(ctx, query, id, model.StatusFailed, boundError(errMsg))
}

// CompleteAnalysis writes the analysis stage outcome as one atomic
// field-group update.
func (s *FeedbackStore) CompleteAnalysis(ctx context.Context, id string, result model.AnalysisResult) error {
	query := `
		UPDATE feedbacks
		SET analysis = $2,
		    analysis_status = $3,
		    analysis_error = NULL,
		    analyzed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1`

	return s.exec(ctx, query, id, result, model.StatusCompleted)
}

// FailAnalysis marks the analysis stage failed.
func (s *FeedbackStore) FailAnalysis(ctx context.Context, id, errMsg string) error {
	query := `
		UPDATE feedbacks
		SET analysis_status = $2,
		    analysis_error = $3,
		    updated_at = NOW()
		WHERE id = $1`

	return s.exec(ctx, query, id, model.StatusFailed, boundError(errMsg))
}

// RetryStage resets exactly one stage back to pending and clears its error,
// leaving the other stage untouched. Unconditional, so invoking it twice is
// the same as once.
func (s *FeedbackStore) RetryStage(ctx context.Context, id string, stage model.Stage) error {
	var query string
	switch stage {
	case model.StageTranscription:
		query = `
			UPDATE feedbacks
			SET transcription_status = $2, transcription_error = NULL, updated_at = NOW()
			WHERE id = $1`
	case model.StageAnalysis:
		query = `
			UPDATE feedbacks
			SET analysis_status = $2, analysis_error = NULL, updated_at = NOW()
			WHERE id = $1`
	default:
		return fmt.Errorf("unknown stage: %s", stage)
	}

	return s.exec(ctx, query, id, model.StatusPending)
}

// ReclaimStuck returns records stuck in processing longer than olderThan
// back to pending. Covers records orphaned by a crash mid-cycle.
func (s *FeedbackStore) ReclaimStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	queries := []string{
		`UPDATE feedbacks
		 SET transcription_status = $1, updated_at = NOW()
		 WHERE transcription_status = $2 AND updated_at < $3`,
		`UPDATE feedbacks
		 SET analysis_status = $1, updated_at = NOW()
		 WHERE analysis_status = $2 AND updated_at < $3`,
	}

	var reclaimed int64
	for _, query := range queries {
		result, err := s.pool.Exec(ctx, query, model.StatusPending, model.StatusProcessing, cutoff)
		if err != nil {
			return reclaimed, fmt.Errorf("failed to reclaim stuck records: %w", err)
		}
		reclaimed += result.RowsAffected()
	}

	return reclaimed, nil
}

func (s *FeedbackStore) exec(ctx context.Context, query string, args ...interface{}) error {
	result, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update feedback: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func scanFeedback(row pgx.Row) (*model.Feedback, error) {
	var f model.Feedback
	err := row.Scan(
		&f.ID, &f.StoreID, &f.FeedbackDate, &f.SubmittedBy, &f.SubmittedAt,
		&f.MediaURL, &f.MediaFilename, &f.ContentType, &f.Notes,
		&f.TranscriptionStatus, &f.Transcription, &f.TranscriptionError, &f.TranscribedAt, &f.AudioDurationSeconds,
		&f.AnalysisStatus, &f.Analysis, &f.AnalysisError, &f.AnalyzedAt,
		&f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func boundError(msg string) string {
	msg = strings.TrimSpace(msg)
	runes := []rune(msg)
	if len(runes) <= model.MaxErrorMessageLen {
		return msg
	}
	return string(runes[:model.MaxErrorMessageLen])
}
