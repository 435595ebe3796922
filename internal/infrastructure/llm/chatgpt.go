package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"OpportunityPipeline/internal/config"
	"OpportunityPipeline/internal/domain"
	"OpportunityPipeline/internal/ports"
)

const defaultChatEndpoint = "https://api.openai.com/v1/chat/completions"

// ChatGPTClient implements ports.Generator backed by OpenAI-compatible
// chat completion APIs.
type ChatGPTClient struct {
	name       string
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
}

var _ ports.Generator = (*ChatGPTClient)(nil)

// NewChatGPTClient builds a client from backend configuration.
func NewChatGPTClient(cfg config.BackendConfig) *ChatGPTClient {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultChatEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &ChatGPTClient{
		name:     cfg.Name,
		endpoint: endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate sends the prompt as a single user message and returns the first
// choice.
func (c *ChatGPTClient) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	if c == nil {
		return "", fmt.Errorf("chatgpt client is nil: %w", domain.ErrBackendUnavailable)
	}
	if c.apiKey == "" || c.model == "" {
		return "", fmt.Errorf("chatgpt client %s misconfigured: %w", c.name, domain.ErrBackendUnavailable)
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chatgpt payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", ClassifyTransportError(ctx, c.name, err)
	}
	defer resp.Body.Close()

	if err := CheckStatus(resp); err != nil {
		return "", fmt.Errorf("%s: %w", c.name, err)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode chatgpt response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices: %w", c.name, domain.ErrGenerationEmpty)
	}

	text := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%s: %w", c.name, domain.ErrGenerationEmpty)
	}
	return text, nil
}

// ClassifyTransportError maps a failed HTTP round trip onto the generation
// error taxonomy. A cancelled caller context is returned as is.
func ClassifyTransportError(ctx context.Context, backend string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", backend, ctxErr)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: %w: %v", backend, domain.ErrGenerationTimeout, err)
	}
	return fmt.Errorf("%s: %w: %v", backend, domain.ErrBackendUnavailable, err)
}

// CheckStatus turns a non-2xx response into an error. Server errors, rate
// limits and auth failures mean the backend cannot serve this batch.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	detail := strings.TrimSpace(string(payload))

	switch {
	case resp.StatusCode >= http.StatusInternalServerError,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s: %s", domain.ErrBackendUnavailable, resp.Status, detail)
	default:
		return fmt.Errorf("generation error %s: %s", resp.Status, detail)
	}
}
