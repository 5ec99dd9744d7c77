package transcriber

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"storepulse/pkg/logger"

	"go.uber.org/zap"
)

// ErrEmptyTranscript is returned when the speech engine exits cleanly but
// produces no text.
var ErrEmptyTranscript = errors.New("empty transcription result")

const maxToolOutput = 500

type Config struct {
	FFmpegBin  string
	FFprobeBin string
	WhisperBin string
	ModelPath  string
	Language   string
	BeamSize   int
	Translate  bool
	Timeout    time.Duration
}

// commandResult captures one external command invocation.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, err
	}

	return result, nil
}

// Service converts arbitrary media to normalized audio and runs the
// whisper.cpp speech engine over it.
type Service struct {
	cfg    Config
	runner commandRunner
}

func New(cfg Config) *Service {
	if cfg.FFmpegBin == "" {
		cfg.FFmpegBin = "ffmpeg"
	}
	if cfg.FFprobeBin == "" {
		cfg.FFprobeBin = "ffprobe"
	}
	if cfg.BeamSize <= 0 {
		cfg.BeamSize = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}

	return &Service{
		cfg:    cfg,
		runner: execRunner{},
	}
}

// CheckDependencies verifies the whisper binary and model are on disk.
// Missing tools are reported, not fatal: the worker warns and every record
// fails with a diagnostic instead.
func (s *Service) CheckDependencies() error {
	if _, err := os.Stat(s.cfg.WhisperBin); err != nil {
		return fmt.Errorf("whisper-cli not found at %s", s.cfg.WhisperBin)
	}
	if _, err := os.Stat(s.cfg.ModelPath); err != nil {
		return fmt.Errorf("whisper model not found at %s", s.cfg.ModelPath)
	}
	return nil
}

// Transcribe normalizes the media at path to mono 16 kHz 16-bit PCM and
// runs the speech engine over it. The temp WAV is removed on every exit
// path. The returned text is trimmed.
func (s *Service) Transcribe(ctx context.Context, mediaPath string) (string, error) {
	if _, err := os.Stat(mediaPath); err != nil {
		return "", fmt.Errorf("audio file not found: %s", mediaPath)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	tmp, err := os.CreateTemp("", "storepulse-*.wav")
	if err != nil {
		return "", fmt.Errorf("failed to create temp wav: %w", err)
	}
	tempWAV := tmp.Name()
	tmp.Close()
	defer os.Remove(tempWAV)

	logger.Debug("Converting media to WAV", zap.String("path", mediaPath))

	if err := s.convertToWAV(ctx, mediaPath, tempWAV); err != nil {
		return "", err
	}

	logger.Debug("Running whisper transcription",
		zap.String("language", s.cfg.Language),
		zap.Int("beam_size", s.cfg.BeamSize))

	text, err := s.runWhisper(ctx, tempWAV)
	if err != nil {
		return "", err
	}

	return text, nil
}

func (s *Service) convertToWAV(ctx context.Context, input, output string) error {
	res, err := s.runner.Run(ctx, s.cfg.FFmpegBin,
		"-i", input,
		"-ar", "16000",
		"-ac", "1",
		"-c:a", "pcm_s16le",
		output,
		"-y",
	)
	if err != nil {
		return fmt.Errorf("ffmpeg error: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("ffmpeg error: %s", truncate(res.Stderr, maxToolOutput))
	}
	return nil
}

func (s *Service) runWhisper(ctx context.Context, wavPath string) (string, error) {
	args := []string{
		"-m", s.cfg.ModelPath,
		"-f", wavPath,
		"-nt",
		"-l", s.cfg.Language,
		"-bs", strconv.Itoa(s.cfg.BeamSize),
		"--max-context", "0",
		"--entropy-thold", "2.8",
	}
	if s.cfg.Translate {
		args = append(args, "-tr")
	}

	res, err := s.runner.Run(ctx, s.cfg.WhisperBin, args...)
	if err != nil {
		return "", fmt.Errorf("whisper error: %w", err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("whisper error: %s", truncate(res.Stderr, maxToolOutput))
	}

	text := strings.TrimSpace(res.Stdout)
	if text == "" {
		return "", ErrEmptyTranscript
	}

	return text, nil
}

// Duration returns the media duration in seconds via ffprobe. Best-effort:
// callers treat an error as "unknown", never as a stage failure.
func (s *Service) Duration(ctx context.Context, mediaPath string) (float64, error) {
	res, err := s.runner.Run(ctx, s.cfg.FFprobeBin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		mediaPath,
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe error: %w", err)
	}
	if res.ExitCode != 0 {
		return 0, fmt.Errorf("ffprobe error: %s", truncate(res.Stderr, maxToolOutput))
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(res.Stdout), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}

	return seconds, nil
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
