package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageStatus_CanTransition(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusProcessing))
	assert.True(t, StatusProcessing.CanTransition(StatusCompleted))
	assert.True(t, StatusProcessing.CanTransition(StatusFailed))
	assert.True(t, StatusFailed.CanTransition(StatusPending))

	// No skipping processing, no self-transitions, terminal completed.
	assert.False(t, StatusPending.CanTransition(StatusCompleted))
	assert.False(t, StatusPending.CanTransition(StatusFailed))
	assert.False(t, StatusProcessing.CanTransition(StatusProcessing))
	assert.False(t, StatusCompleted.CanTransition(StatusPending))
	assert.False(t, StatusCompleted.CanTransition(StatusProcessing))
	assert.False(t, StatusFailed.CanTransition(StatusProcessing))
}

func TestStageStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestFeedback_ReadyForAnalysis(t *testing.T) {
	transcript := "customers asked for school shoes all week"
	empty := ""

	statuses := []StageStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}
	transcripts := []*string{nil, &empty, &transcript}

	for _, ts := range statuses {
		for _, as := range statuses {
			for _, tr := range transcripts {
				f := &Feedback{
					TranscriptionStatus: ts,
					AnalysisStatus:      as,
					Transcription:       tr,
				}

				want := ts == StatusCompleted && as == StatusPending &&
					tr != nil && *tr != ""

				assert.Equal(t, want, f.ReadyForAnalysis(),
					"transcription=%s analysis=%s transcript=%v", ts, as, tr)
			}
		}
	}
}

func TestAnalysisResult_ValueScanRoundTrip(t *testing.T) {
	in := AnalysisResult{
		Summary:   "Stock is low on sandals.",
		Tone:      ToneNegative,
		ToneScore: 0.2,
		Products:  []string{"sandals"},
		Issues:    []string{"low stock on sandals"},
		Actions:   []string{"restock sandals"},
		Keywords:  []string{"stock", "sandals"},
	}

	v, err := in.Value()
	require.NoError(t, err)

	var out AnalysisResult
	require.NoError(t, out.Scan(v))
	assert.Equal(t, in, out)
}

func TestAnalysisResult_ScanNil(t *testing.T) {
	var out AnalysisResult
	require.NoError(t, out.Scan(nil))
	assert.Equal(t, AnalysisResult{}, out)
}

func TestAnalysisResult_JSONFieldNames(t *testing.T) {
	data, err := json.Marshal(AnalysisResult{Tone: ToneNeutral, ToneScore: 0.5})
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))

	for _, key := range []string{"summary", "tone", "tone_score", "products", "issues", "actions", "keywords"} {
		assert.Contains(t, raw, key)
	}
}
