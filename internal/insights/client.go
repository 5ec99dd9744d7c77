package insights

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"storepulse/pkg/logger"
	"storepulse/pkg/model"
	"storepulse/pkg/resilience"

	"go.uber.org/zap"
)

var ErrTranscriptTooShort = errors.New("transcription too short to analyze")

const (
	minTranscriptChars = 10
	maxTranscriptChars = 4000
	maxErrorBody       = 200
)

const systemPrompt = `You are an expert retail analyst. Analyze store staff feedback and extract structured insights.

Your response MUST be valid JSON with exactly this structure:
{
    "summary": "Brief 2-3 sentence summary of the feedback",
    "tone": "positive" or "negative" or "neutral",
    "tone_score": 0.0 to 1.0 (0=very negative, 0.5=neutral, 1=very positive),
    "products": ["product1", "product2"],
    "issues": ["issue1", "issue2"],
    "actions": ["action1", "action2"],
    "keywords": ["keyword1", "keyword2"]
}

Guidelines:
- summary: Capture the main points in 2-3 sentences
- tone: Overall sentiment (positive/negative/neutral)
- tone_score: Numerical sentiment (0.0-1.0)
- products: Extract specific product names, brands, or categories mentioned (max 5)
- issues: Problems, complaints, challenges mentioned by staff or customers (max 5)
- actions: Suggested or needed actions, requests, improvements (max 5)
- keywords: Key topics, themes, or important terms (max 10)

If a category has no items, use an empty array [].
Always respond with valid JSON only, no additional text.`

type Config struct {
	URL               string
	APIKey            string
	TargetServer      string
	MaxTokens         int
	Temperature       float64
	Timeout           time.Duration
	RequestsPerMinute int
}

// Client invokes the remote LLM chat-completion endpoint and turns its
// output into a normalized AnalysisResult.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	limiter    *resilience.RateLimiter
}

func NewClient(cfg Config) *Client {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	var limiter *resilience.RateLimiter
	if cfg.RequestsPerMinute > 0 {
		limiter = resilience.NewRateLimiter(
			cfg.RequestsPerMinute,
			time.Minute/time.Duration(cfg.RequestsPerMinute),
		)
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		breaker: resilience.NewCircuitBreaker(5, 30*time.Second),
		limiter: limiter,
	}
}

// Analyze sends the transcript for insight extraction. Transcripts shorter
// than the minimum are rejected before any network call.
func (c *Client) Analyze(ctx context.Context, transcript string) (model.AnalysisResult, error) {
	trimmed := truncateRunes(transcript, maxTranscriptChars)
	if len([]rune(trimmed)) < minTranscriptChars {
		return model.AnalysisResult{}, ErrTranscriptTooShort
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return model.AnalysisResult{}, err
		}
	}

	var result model.AnalysisResult
	err := c.breaker.Execute(func() error {
		r, err := c.complete(ctx, trimmed)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return model.AnalysisResult{}, err
	}

	return result, nil
}

func (c *Client) complete(ctx context.Context, transcript string) (model.AnalysisResult, error) {
	payload := chatRequest{
		TargetServer: c.cfg.TargetServer,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "Analyze this store feedback transcription:\n\n" + transcript},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return model.AnalysisResult{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return model.AnalysisResult{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.AnalysisResult{}, fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.AnalysisResult{}, fmt.Errorf("failed to read llm response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return model.AnalysisResult{}, fmt.Errorf("llm api error: status=%d body=%s",
			resp.StatusCode, truncateRunes(string(respBody), maxErrorBody))
	}

	var envelope chatResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return model.AnalysisResult{}, fmt.Errorf("failed to decode llm response: %w", err)
	}

	content := envelope.text()
	if content == "" {
		return model.AnalysisResult{}, errors.New("empty response from llm api")
	}

	raw, ok := ExtractJSONObject(content)
	if !ok {
		return model.AnalysisResult{}, fmt.Errorf("failed to parse llm response as JSON: %s",
			truncateRunes(content, maxErrorBody))
	}

	result := Normalize(raw)

	logger.Debug("Analysis extracted",
		zap.String("tone", string(result.Tone)),
		zap.Int("products", len(result.Products)),
		zap.Int("issues", len(result.Issues)))

	return result, nil
}
