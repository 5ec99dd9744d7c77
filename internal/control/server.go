package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"storepulse/internal/storage"
	"storepulse/pkg/logger"
	"storepulse/pkg/model"

	"go.uber.org/zap"
)

// Store is the persistence surface the control API exposes over HTTP.
// Satisfied by storage.FeedbackStore.
type Store interface {
	Ping(ctx context.Context) error
	CreateFeedback(ctx context.Context, f *model.Feedback) error
	GetFeedback(ctx context.Context, id string) (*model.Feedback, error)
	ClaimTranscriptions(ctx context.Context, limit int) ([]*model.Feedback, error)
	ClaimAnalyses(ctx context.Context, limit int) ([]*model.Feedback, error)
	CompleteTranscription(ctx context.Context, id, transcription string, durationSeconds *float64) error
	FailTranscription(ctx context.Context, id, errMsg string) error
	CompleteAnalysis(ctx context.Context, id string, result model.AnalysisResult) error
	FailAnalysis(ctx context.Context, id, errMsg string) error
	RetryStage(ctx context.Context, id string, stage model.Stage) error
}

// Server exposes the worker control surface as an internal HTTP API, for
// deployments where workers run on separate hosts without direct database
// access.
type Server struct {
	store Store
	mux   *http.ServeMux
}

func NewServer(store Store) *Server {
	s := &Server{
		store: store,
		mux:   http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /internal/health", s.handleHealth)
	s.mux.HandleFunc("POST /internal/feedback", s.handleCreate)
	s.mux.HandleFunc("GET /internal/feedback/{id}", s.handleGet)
	s.mux.HandleFunc("POST /internal/claim/transcriptions", s.handleClaimTranscriptions)
	s.mux.HandleFunc("POST /internal/claim/analyses", s.handleClaimAnalyses)
	s.mux.HandleFunc("POST /internal/feedback/{id}/transcription", s.handleCompleteTranscription)
	s.mux.HandleFunc("POST /internal/feedback/{id}/transcription-error", s.handleFailTranscription)
	s.mux.HandleFunc("POST /internal/feedback/{id}/analysis", s.handleCompleteAnalysis)
	s.mux.HandleFunc("POST /internal/feedback/{id}/analysis-error", s.handleFailAnalysis)
	s.mux.HandleFunc("POST /internal/feedback/{id}/retry/{stage}", s.handleRetry)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type claimRequest struct {
	Limit int `json:"limit"`
}

type completeTranscriptionRequest struct {
	Transcription   string   `json:"transcription"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
}

type completeAnalysisRequest struct {
	Result model.AnalysisResult `json:"result"`
}

type stageErrorRequest struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var f model.Feedback
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if f.StoreID == "" {
		writeError(w, http.StatusBadRequest, "store_id is required")
		return
	}

	if err := s.store.CreateFeedback(r.Context(), &f); err != nil {
		logger.Error("Failed to create feedback", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create feedback")
		return
	}

	writeJSON(w, http.StatusCreated, &f)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	f, err := s.store.GetFeedback(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err, "failed to load feedback")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleClaimTranscriptions(w http.ResponseWriter, r *http.Request) {
	s.handleClaim(w, r, s.store.ClaimTranscriptions)
}

func (s *Server) handleClaimAnalyses(w http.ResponseWriter, r *http.Request) {
	s.handleClaim(w, r, s.store.ClaimAnalyses)
}

func (s *Server) handleClaim(
	w http.ResponseWriter,
	r *http.Request,
	claim func(ctx context.Context, limit int) ([]*model.Feedback, error),
) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Limit <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be positive")
		return
	}

	claimed, err := claim(r.Context(), req.Limit)
	if err != nil {
		logger.Error("Claim failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "claim failed")
		return
	}

	if claimed == nil {
		claimed = []*model.Feedback{}
	}
	writeJSON(w, http.StatusOK, claimed)
}

func (s *Server) handleCompleteTranscription(w http.ResponseWriter, r *http.Request) {
	var req completeTranscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.store.CompleteTranscription(r.Context(), r.PathValue("id"), req.Transcription, req.DurationSeconds)
	if err != nil {
		s.writeStoreError(w, err, "failed to record transcription")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFailTranscription(w http.ResponseWriter, r *http.Request) {
	var req stageErrorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.store.FailTranscription(r.Context(), r.PathValue("id"), req.Error); err != nil {
		s.writeStoreError(w, err, "failed to record transcription failure")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCompleteAnalysis(w http.ResponseWriter, r *http.Request) {
	var req completeAnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.store.CompleteAnalysis(r.Context(), r.PathValue("id"), req.Result); err != nil {
		s.writeStoreError(w, err, "failed to record analysis")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFailAnalysis(w http.ResponseWriter, r *http.Request) {
	var req stageErrorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.store.FailAnalysis(r.Context(), r.PathValue("id"), req.Error); err != nil {
		s.writeStoreError(w, err, "failed to record analysis failure")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	stage := model.Stage(r.PathValue("stage"))
	if stage != model.StageTranscription && stage != model.StageAnalysis {
		writeError(w, http.StatusBadRequest, "unknown stage")
		return
	}

	if err := s.store.RetryStage(r.Context(), r.PathValue("id"), stage); err != nil {
		s.writeStoreError(w, err, "failed to reset stage")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error, fallback string) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "feedback not found")
		return
	}
	logger.Error(fallback, zap.Error(err))
	writeError(w, http.StatusInternalServerError, fallback)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
