package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"OpportunityPipeline/internal/config"
	"OpportunityPipeline/internal/domain"
	"OpportunityPipeline/internal/infrastructure/llm"
	"OpportunityPipeline/internal/ports"
)

const generatePath = "/api/generate"

// Client talks to a local model server with an Ollama-style generate API.
// The server may add a self-assessed confidence to each response.
type Client struct {
	name     string
	endpoint string
	model    string
	apiKey   string
	http     *http.Client
}

var _ ports.ConfidentGenerator = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(cfg config.BackendConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		name:     cfg.Name,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Response   string   `json:"response"`
	Confidence *float64 `json:"confidence"`
}

// Generate returns the model's text and drops the confidence.
func (c *Client) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	text, _, err := c.GenerateWithConfidence(ctx, prompt, temperature)
	return text, err
}

// GenerateWithConfidence returns the text and the model's self-assessment,
// clamped to [0,1]. A server that does not report confidence is trusted fully.
func (c *Client) GenerateWithConfidence(ctx context.Context, prompt string, temperature float64) (string, float64, error) {
	if c.endpoint == "" || c.model == "" {
		return "", 0, fmt.Errorf("local model %s misconfigured: %w", c.name, domain.ErrBackendUnavailable)
	}

	var resp generateResponse
	err := c.post(ctx, generatePath, generateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Options: generateOptions{Temperature: temperature},
	}, &resp)
	if err != nil {
		return "", 0, err
	}

	text := strings.TrimSpace(resp.Response)
	if text == "" {
		return "", 0, fmt.Errorf("%s: %w", c.name, domain.ErrGenerationEmpty)
	}

	confidence := 1.0
	if resp.Confidence != nil {
		confidence = min(max(*resp.Confidence, 0), 1)
	}
	return text, confidence, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return llm.ClassifyTransportError(ctx, c.name, err)
	}

	if err := llm.CheckStatus(resp); err != nil {
		_ = resp.Body.Close()
		return fmt.Errorf("%s: %w", c.name, err)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		_ = resp.Body.Close()
		return fmt.Errorf("decode response: %w", err)
	}

	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}

	return nil
}
