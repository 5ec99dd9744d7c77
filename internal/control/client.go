package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storepulse/internal/storage"
	"storepulse/pkg/model"
)

// Client talks to a control API server and satisfies the same contract as
// the Postgres store, so workers are indifferent to which one they hold.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/internal/health", nil, nil)
}

func (c *Client) CreateFeedback(ctx context.Context, f *model.Feedback) error {
	return c.do(ctx, http.MethodPost, "/internal/feedback", f, f)
}

func (c *Client) GetFeedback(ctx context.Context, id string) (*model.Feedback, error) {
	var f model.Feedback
	if err := c.do(ctx, http.MethodGet, "/internal/feedback/"+url.PathEscape(id), nil, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *Client) ClaimTranscriptions(ctx context.Context, limit int) ([]*model.Feedback, error) {
	return c.claim(ctx, "/internal/claim/transcriptions", limit)
}

func (c *Client) ClaimAnalyses(ctx context.Context, limit int) ([]*model.Feedback, error) {
	return c.claim(ctx, "/internal/claim/analyses", limit)
}

func (c *Client) claim(ctx context.Context, path string, limit int) ([]*model.Feedback, error) {
	var claimed []*model.Feedback
	if err := c.do(ctx, http.MethodPost, path, claimRequest{Limit: limit}, &claimed); err != nil {
		return nil, err
	}
	return claimed, nil
}

func (c *Client) CompleteTranscription(ctx context.Context, id, transcription string, durationSeconds *float64) error {
	return c.do(ctx, http.MethodPost, c.feedbackPath(id, "transcription"), completeTranscriptionRequest{
		Transcription:   transcription,
		DurationSeconds: durationSeconds,
	}, nil)
}

func (c *Client) FailTranscription(ctx context.Context, id, errMsg string) error {
	return c.do(ctx, http.MethodPost, c.feedbackPath(id, "transcription-error"), stageErrorRequest{Error: errMsg}, nil)
}

func (c *Client) CompleteAnalysis(ctx context.Context, id string, result model.AnalysisResult) error {
	return c.do(ctx, http.MethodPost, c.feedbackPath(id, "analysis"), completeAnalysisRequest{Result: result}, nil)
}

func (c *Client) FailAnalysis(ctx context.Context, id, errMsg string) error {
	return c.do(ctx, http.MethodPost, c.feedbackPath(id, "analysis-error"), stageErrorRequest{Error: errMsg}, nil)
}

func (c *Client) RetryStage(ctx context.Context, id string, stage model.Stage) error {
	return c.do(ctx, http.MethodPost, c.feedbackPath(id, "retry/"+string(stage)), nil, nil)
}

func (c *Client) feedbackPath(id, suffix string) string {
	return "/internal/feedback/" + url.PathEscape(id) + "/" + suffix
}

func (c *Client) do(ctx context.Context, method, path string, payload, dest interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("control api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return storage.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("control api error: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
