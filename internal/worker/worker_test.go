package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"storepulse/internal/queue"
	"storepulse/internal/storage"
	"storepulse/pkg/cache"
	"storepulse/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockControl struct {
	mock.Mock
}

func (m *MockControl) ClaimTranscriptions(ctx context.Context, limit int) ([]*model.Feedback, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Feedback), args.Error(1)
}

func (m *MockControl) ClaimAnalyses(ctx context.Context, limit int) ([]*model.Feedback, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Feedback), args.Error(1)
}

func (m *MockControl) CompleteTranscription(ctx context.Context, id, transcription string, durationSeconds *float64) error {
	args := m.Called(ctx, id, transcription, durationSeconds)
	return args.Error(0)
}

func (m *MockControl) FailTranscription(ctx context.Context, id, errMsg string) error {
	args := m.Called(ctx, id, errMsg)
	return args.Error(0)
}

func (m *MockControl) CompleteAnalysis(ctx context.Context, id string, result model.AnalysisResult) error {
	args := m.Called(ctx, id, result)
	return args.Error(0)
}

func (m *MockControl) FailAnalysis(ctx context.Context, id, errMsg string) error {
	args := m.Called(ctx, id, errMsg)
	return args.Error(0)
}

type MockMedia struct {
	mock.Mock
}

func (m *MockMedia) Resolve(ctx context.Context, ref string) (string, func(), error) {
	args := m.Called(ctx, ref)
	cleanup, _ := args.Get(1).(func())
	if cleanup == nil {
		cleanup = func() {}
	}
	return args.String(0), cleanup, args.Error(2)
}

type MockTranscriber struct {
	mock.Mock
}

func (m *MockTranscriber) Transcribe(ctx context.Context, mediaPath string) (string, error) {
	args := m.Called(ctx, mediaPath)
	return args.String(0), args.Error(1)
}

func (m *MockTranscriber) Duration(ctx context.Context, mediaPath string) (float64, error) {
	args := m.Called(ctx, mediaPath)
	return args.Get(0).(float64), args.Error(1)
}

type MockAnalyzer struct {
	mock.Mock
}

func (m *MockAnalyzer) Analyze(ctx context.Context, transcript string) (model.AnalysisResult, error) {
	args := m.Called(ctx, transcript)
	return args.Get(0).(model.AnalysisResult), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishStageEvent(ctx context.Context, event queue.StageEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func pendingFeedback(id string) *model.Feedback {
	return &model.Feedback{
		ID:                  id,
		StoreID:             "W042",
		MediaURL:            "/uploads/" + id + ".ogg",
		TranscriptionStatus: model.StatusProcessing,
		AnalysisStatus:      model.StatusPending,
	}
}

func transcribedFeedback(id, transcript string) *model.Feedback {
	f := pendingFeedback(id)
	f.TranscriptionStatus = model.StatusCompleted
	f.AnalysisStatus = model.StatusProcessing
	f.Transcription = &transcript
	return f
}

func TestTranscriptionWorker_Success(t *testing.T) {
	ctx := context.Background()
	control := new(MockControl)
	media := new(MockMedia)
	engine := new(MockTranscriber)

	f := pendingFeedback("fb-1")
	cleaned := false

	control.On("ClaimTranscriptions", ctx, 2).Return([]*model.Feedback{f}, nil)
	media.On("Resolve", ctx, f.MediaURL).Return("/tmp/fb-1.ogg", func() { cleaned = true }, nil)
	engine.On("Transcribe", ctx, "/tmp/fb-1.ogg").Return("stock arrived late this week", nil)
	engine.On("Duration", ctx, "/tmp/fb-1.ogg").Return(31.5, nil)
	control.On("CompleteTranscription", ctx, "fb-1", "stock arrived late this week",
		mock.MatchedBy(func(d *float64) bool { return d != nil && *d == 31.5 })).Return(nil)

	w := NewTranscriptionWorker(control, media, engine, 0, 0)
	w.runCycle(ctx)

	assert.True(t, cleaned, "media cleanup must run")
	control.AssertExpectations(t)
	engine.AssertExpectations(t)
	control.AssertNotCalled(t, "FailTranscription", mock.Anything, mock.Anything, mock.Anything)
}

func TestTranscriptionWorker_MediaMissing(t *testing.T) {
	ctx := context.Background()
	control := new(MockControl)
	media := new(MockMedia)
	engine := new(MockTranscriber)

	f := pendingFeedback("fb-2")

	control.On("ClaimTranscriptions", ctx, 2).Return([]*model.Feedback{f}, nil)
	media.On("Resolve", ctx, f.MediaURL).Return("", nil, storage.ErrMediaNotFound)
	control.On("FailTranscription", ctx, "fb-2",
		mock.MatchedBy(func(msg string) bool {
			return strings.HasPrefix(msg, "media not found")
		})).Return(nil)

	w := NewTranscriptionWorker(control, media, engine, 0, 0)
	w.runCycle(ctx)

	control.AssertExpectations(t)
	engine.AssertNotCalled(t, "Transcribe", mock.Anything, mock.Anything)
}

func TestTranscriptionWorker_EngineFailure(t *testing.T) {
	ctx := context.Background()
	control := new(MockControl)
	media := new(MockMedia)
	engine := new(MockTranscriber)

	f := pendingFeedback("fb-3")

	control.On("ClaimTranscriptions", ctx, 2).Return([]*model.Feedback{f}, nil)
	media.On("Resolve", ctx, f.MediaURL).Return("/tmp/fb-3.ogg", func() {}, nil)
	engine.On("Transcribe", ctx, "/tmp/fb-3.ogg").
		Return("", errors.New("whisper error: failed to load model"))
	control.On("FailTranscription", ctx, "fb-3", "whisper error: failed to load model").Return(nil)

	w := NewTranscriptionWorker(control, media, engine, 0, 0)
	w.runCycle(ctx)

	control.AssertExpectations(t)
	control.AssertNotCalled(t, "CompleteTranscription",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTranscriptionWorker_DurationFailureIsNonFatal(t *testing.T) {
	ctx := context.Background()
	control := new(MockControl)
	media := new(MockMedia)
	engine := new(MockTranscriber)

	f := pendingFeedback("fb-4")

	control.On("ClaimTranscriptions", ctx, 2).Return([]*model.Feedback{f}, nil)
	media.On("Resolve", ctx, f.MediaURL).Return("/tmp/fb-4.ogg", func() {}, nil)
	engine.On("Transcribe", ctx, "/tmp/fb-4.ogg").Return("good footfall today", nil)
	engine.On("Duration", ctx, "/tmp/fb-4.ogg").Return(0.0, errors.New("ffprobe error"))
	control.On("CompleteTranscription", ctx, "fb-4", "good footfall today",
		(*float64)(nil)).Return(nil)

	w := NewTranscriptionWorker(control, media, engine, 0, 0)
	w.runCycle(ctx)

	control.AssertExpectations(t)
}

func TestTranscriptionWorker_OneFailureDoesNotStopBatch(t *testing.T) {
	ctx := context.Background()
	control := new(MockControl)
	media := new(MockMedia)
	engine := new(MockTranscriber)

	bad := pendingFeedback("fb-bad")
	good := pendingFeedback("fb-good")

	control.On("ClaimTranscriptions", ctx, 2).Return([]*model.Feedback{bad, good}, nil)

	media.On("Resolve", ctx, bad.MediaURL).Return("", nil, storage.ErrMediaNotFound)
	control.On("FailTranscription", ctx, "fb-bad", mock.Anything).Return(nil)

	media.On("Resolve", ctx, good.MediaURL).Return("/tmp/fb-good.ogg", func() {}, nil)
	engine.On("Transcribe", ctx, "/tmp/fb-good.ogg").Return("display fixed", nil)
	engine.On("Duration", ctx, "/tmp/fb-good.ogg").Return(5.0, nil)
	control.On("CompleteTranscription", ctx, "fb-good", "display fixed", mock.Anything).Return(nil)

	w := NewTranscriptionWorker(control, media, engine, 0, 0)
	w.runCycle(ctx)

	control.AssertExpectations(t)
}

func TestTranscriptionWorker_RecordVanishedIsNonFatal(t *testing.T) {
	ctx := context.Background()
	control := new(MockControl)
	media := new(MockMedia)
	engine := new(MockTranscriber)

	f := pendingFeedback("fb-gone")

	control.On("ClaimTranscriptions", ctx, 2).Return([]*model.Feedback{f}, nil)
	media.On("Resolve", ctx, f.MediaURL).Return("/tmp/fb-gone.ogg", func() {}, nil)
	engine.On("Transcribe", ctx, "/tmp/fb-gone.ogg").Return("some text here", nil)
	engine.On("Duration", ctx, "/tmp/fb-gone.ogg").Return(1.0, nil)
	control.On("CompleteTranscription", ctx, "fb-gone", "some text here", mock.Anything).
		Return(storage.ErrNotFound).Once()

	w := NewTranscriptionWorker(control, media, engine, 0, 0)
	w.runCycle(ctx)

	// ErrNotFound is swallowed without retrying the report.
	control.AssertExpectations(t)
}

func TestTranscriptionWorker_PublishesEvents(t *testing.T) {
	ctx := context.Background()
	control := new(MockControl)
	media := new(MockMedia)
	engine := new(MockTranscriber)
	events := new(MockPublisher)

	f := pendingFeedback("fb-ev")

	control.On("ClaimTranscriptions", ctx, 2).Return([]*model.Feedback{f}, nil)
	media.On("Resolve", ctx, f.MediaURL).Return("", nil, storage.ErrMediaNotFound)
	control.On("FailTranscription", ctx, "fb-ev", mock.Anything).Return(nil)
	events.On("PublishStageEvent", ctx, mock.MatchedBy(func(ev queue.StageEvent) bool {
		return ev.FeedbackID == "fb-ev" &&
			ev.Stage == model.StageTranscription &&
			ev.Status == model.StatusFailed &&
			ev.Error != ""
	})).Return(nil)

	w := NewTranscriptionWorker(control, media, engine, 0, 0).WithEvents(events)
	w.runCycle(ctx)

	events.AssertExpectations(t)
}

func TestAnalysisWorker_Success(t *testing.T) {
	ctx := context.Background()
	control := new(MockControl)
	analyzer := new(MockAnalyzer)

	f := transcribedFeedback("fb-10", "customers asked for running shoes all weekend")
	result := model.AnalysisResult{
		Summary:   "Strong demand for running shoes.",
		Tone:      model.TonePositive,
		ToneScore: 0.8,
		Products:  []string{"running shoes"},
		Issues:    []string{},
		Actions:   []string{},
		Keywords:  []string{"demand"},
	}

	control.On("ClaimAnalyses", ctx, 5).Return([]*model.Feedback{f}, nil)
	analyzer.On("Analyze", ctx, *f.Transcription).Return(result, nil)
	control.On("CompleteAnalysis", ctx, "fb-10", result).Return(nil)

	w := NewAnalysisWorker(control, analyzer, 0, 0)
	w.runCycle(ctx)

	control.AssertExpectations(t)
	analyzer.AssertExpectations(t)
	control.AssertNotCalled(t, "FailAnalysis", mock.Anything, mock.Anything, mock.Anything)
}

func TestAnalysisWorker_TooShortSkipsAnalyzer(t *testing.T) {
	ctx := context.Background()
	control := new(MockControl)
	analyzer := new(MockAnalyzer)

	for _, transcript := range []string{"", "   ", "short"} {
		f := transcribedFeedback("fb-short", transcript)

		control.On("ClaimAnalyses", ctx, 5).Return([]*model.Feedback{f}, nil).Once()
		control.On("FailAnalysis", ctx, "fb-short", "transcription too short to analyze").
			Return(nil).Once()

		w := NewAnalysisWorker(control, analyzer, 0, 0)
		w.runCycle(ctx)
	}

	control.AssertExpectations(t)
	analyzer.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
}

func TestAnalysisWorker_AnalyzerFailure(t *testing.T) {
	ctx := context.Background()
	control := new(MockControl)
	analyzer := new(MockAnalyzer)

	f := transcribedFeedback("fb-11", "the card machine was down for two days straight")

	control.On("ClaimAnalyses", ctx, 5).Return([]*model.Feedback{f}, nil)
	analyzer.On("Analyze", ctx, *f.Transcription).
		Return(model.AnalysisResult{}, errors.New("llm api error: status=502 body=bad gateway"))
	control.On("FailAnalysis", ctx, "fb-11", "llm api error: status=502 body=bad gateway").Return(nil)

	w := NewAnalysisWorker(control, analyzer, 0, 0)
	w.runCycle(ctx)

	control.AssertExpectations(t)
	control.AssertNotCalled(t, "CompleteAnalysis", mock.Anything, mock.Anything, mock.Anything)
}

func TestAnalysisWorker_OneFailureDoesNotStopBatch(t *testing.T) {
	ctx := context.Background()
	control := new(MockControl)
	analyzer := new(MockAnalyzer)

	bad := transcribedFeedback("fb-bad", "register was broken most of the afternoon")
	good := transcribedFeedback("fb-good", "festival rush cleared out the kids section")
	result := model.AnalysisResult{Tone: model.ToneNeutral, ToneScore: 0.5}

	control.On("ClaimAnalyses", ctx, 5).Return([]*model.Feedback{bad, good}, nil)
	analyzer.On("Analyze", ctx, *bad.Transcription).
		Return(model.AnalysisResult{}, errors.New("llm request failed: connection refused"))
	control.On("FailAnalysis", ctx, "fb-bad", mock.Anything).Return(nil)
	analyzer.On("Analyze", ctx, *good.Transcription).Return(result, nil)
	control.On("CompleteAnalysis", ctx, "fb-good", result).Return(nil)

	w := NewAnalysisWorker(control, analyzer, 0, 0)
	w.runCycle(ctx)

	control.AssertExpectations(t)
}

type fakeCache struct {
	data map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (c *fakeCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := c.data[key]
	if !ok {
		return cache.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *fakeCache) Set(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.data[key] = raw
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, key string) error {
	delete(c.data, key)
	return nil
}

func (c *fakeCache) Close() error { return nil }

func TestAnalysisWorker_CacheSkipsLLMOnRetry(t *testing.T) {
	ctx := context.Background()
	control := new(MockControl)
	analyzer := new(MockAnalyzer)
	results := newFakeCache()

	transcript := "same transcript analyzed twice after a retry"
	first := transcribedFeedback("fb-20", transcript)
	second := transcribedFeedback("fb-20", transcript)
	result := model.AnalysisResult{Tone: model.TonePositive, ToneScore: 0.9}

	control.On("ClaimAnalyses", ctx, 5).Return([]*model.Feedback{first}, nil).Once()
	control.On("ClaimAnalyses", ctx, 5).Return([]*model.Feedback{second}, nil).Once()
	analyzer.On("Analyze", ctx, transcript).Return(result, nil).Once()
	control.On("CompleteAnalysis", ctx, "fb-20", result).Return(nil).Twice()

	w := NewAnalysisWorker(control, analyzer, 0, 0).WithResultCache(results)
	w.runCycle(ctx)
	w.runCycle(ctx)

	control.AssertExpectations(t)
	analyzer.AssertNumberOfCalls(t, "Analyze", 1)
}
