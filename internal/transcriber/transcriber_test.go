package transcriber

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls   [][]string
	results []commandResult
	errs    []error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	f.calls = append(f.calls, append([]string{name}, args...))

	i := len(f.calls) - 1
	var res commandResult
	var err error
	if i < len(f.results) {
		res = f.results[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return res, err
}

func testService(t *testing.T, runner *fakeRunner) (*Service, string) {
	t.Helper()

	media := filepath.Join(t.TempDir(), "note.m4a")
	require.NoError(t, os.WriteFile(media, []byte("fake media"), 0o644))

	svc := New(Config{
		WhisperBin: "/opt/whisper.cpp/build/bin/whisper-cli",
		ModelPath:  "/opt/whisper.cpp/models/ggml-medium.bin",
		Language:   "hi",
		BeamSize:   5,
		Translate:  true,
		Timeout:    time.Minute,
	})
	svc.runner = runner

	return svc, media
}

func TestTranscribe_Success(t *testing.T) {
	runner := &fakeRunner{
		results: []commandResult{
			{},                                // ffmpeg
			{Stdout: "  school shoes sold well today  \n"}, // whisper
		},
	}
	svc, media := testService(t, runner)

	text, err := svc.Transcribe(context.Background(), media)
	require.NoError(t, err)
	assert.Equal(t, "school shoes sold well today", text)

	require.Len(t, runner.calls, 2)

	ffmpeg := runner.calls[0]
	assert.Equal(t, "ffmpeg", ffmpeg[0])
	assert.Contains(t, ffmpeg, "16000")
	assert.Contains(t, ffmpeg, "pcm_s16le")
	assert.Contains(t, ffmpeg, "-y")

	whisper := runner.calls[1]
	assert.Equal(t, "/opt/whisper.cpp/build/bin/whisper-cli", whisper[0])
	assert.Contains(t, whisper, "-nt")
	assert.Contains(t, whisper, "hi")
	assert.Contains(t, whisper, "-tr")
	assert.Contains(t, whisper, "--entropy-thold")
}

func TestTranscribe_MissingFile(t *testing.T) {
	runner := &fakeRunner{}
	svc, _ := testService(t, runner)

	_, err := svc.Transcribe(context.Background(), "/no/such/file.mp3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audio file not found")
	assert.Empty(t, runner.calls, "no tool should run for a missing file")
}

func TestTranscribe_FFmpegFails(t *testing.T) {
	runner := &fakeRunner{
		results: []commandResult{
			{ExitCode: 1, Stderr: "Invalid data found when processing input"},
		},
	}
	svc, media := testService(t, runner)

	_, err := svc.Transcribe(context.Background(), media)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffmpeg error")
	assert.Contains(t, err.Error(), "Invalid data")
	assert.Len(t, runner.calls, 1, "whisper must not run after a failed conversion")
}

func TestTranscribe_WhisperFails(t *testing.T) {
	runner := &fakeRunner{
		results: []commandResult{
			{}, // ffmpeg ok
			{ExitCode: 2, Stderr: "failed to load model"},
		},
	}
	svc, media := testService(t, runner)

	_, err := svc.Transcribe(context.Background(), media)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "whisper error")
	assert.Contains(t, err.Error(), "failed to load model")
}

func TestTranscribe_EmptyOutput(t *testing.T) {
	runner := &fakeRunner{
		results: []commandResult{
			{},
			{Stdout: "   \n"},
		},
	}
	svc, media := testService(t, runner)

	_, err := svc.Transcribe(context.Background(), media)
	assert.ErrorIs(t, err, ErrEmptyTranscript)
}

func TestTranscribe_StderrBounded(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}

	runner := &fakeRunner{
		results: []commandResult{
			{ExitCode: 1, Stderr: string(long)},
		},
	}
	svc, media := testService(t, runner)

	_, err := svc.Transcribe(context.Background(), media)
	require.Error(t, err)
	assert.LessOrEqual(t, len(err.Error()), maxToolOutput+len("ffmpeg error: "))
}

func TestDuration(t *testing.T) {
	runner := &fakeRunner{
		results: []commandResult{
			{Stdout: "42.75\n"},
		},
	}
	svc, media := testService(t, runner)

	seconds, err := svc.Duration(context.Background(), media)
	require.NoError(t, err)
	assert.InDelta(t, 42.75, seconds, 0.001)
}

func TestDuration_Unparseable(t *testing.T) {
	runner := &fakeRunner{
		results: []commandResult{
			{Stdout: "N/A"},
		},
	}
	svc, media := testService(t, runner)

	_, err := svc.Duration(context.Background(), media)
	assert.Error(t, err)
}

func TestCheckDependencies(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "whisper-cli")
	model := filepath.Join(dir, "ggml-medium.bin")
	require.NoError(t, os.WriteFile(bin, []byte{}, 0o755))
	require.NoError(t, os.WriteFile(model, []byte{}, 0o644))

	svc := New(Config{WhisperBin: bin, ModelPath: model})
	assert.NoError(t, svc.CheckDependencies())

	svc = New(Config{WhisperBin: filepath.Join(dir, "missing"), ModelPath: model})
	assert.Error(t, svc.CheckDependencies())
}
