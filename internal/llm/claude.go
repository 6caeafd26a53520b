package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	defaultClaudeURL   = "https://api.anthropic.com/v1/messages"
	defaultClaudeModel = "claude-3-5-haiku-latest"
	anthropicVersion   = "2023-06-01"

	defaultMaxTokens = 512
)

// claudeClient talks to the Anthropic Messages API.
type claudeClient struct {
	apiKey string
	model  string
	url    string
	http   *http.Client
}

func newClaudeClient(cfg Config) *claudeClient {
	c := &claudeClient{
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		url:    cfg.BaseURL,
		http:   &http.Client{Timeout: cfg.Timeout},
	}
	if c.model == "" {
		c.model = defaultClaudeModel
	}
	if c.url == "" {
		c.url = defaultClaudeURL
	}
	return c
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
}

type claudeResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

// Complete implements Client.
func (c *claudeClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	payload := claudeRequest{
		Model:       c.model,
		System:      req.System,
		Messages:    []claudeMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal claude request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build claude request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("call claude: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read claude response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("claude api status %d: %s", resp.StatusCode, truncateBody(respBody))
	}

	var parsed claudeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode claude response: %w", err)
	}
	if len(parsed.Content) == 0 || parsed.Content[0].Text == "" {
		return "", fmt.Errorf("claude returned an empty completion")
	}
	return parsed.Content[0].Text, nil
}
