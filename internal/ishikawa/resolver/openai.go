package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bdobrica/Ishikawa/common/retry"
)

const (
	defaultModelBase = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 30 * time.Second
	defaultMaxTokens = 768
)

// Config configures the OpenAI-compatible provider.
type Config struct {
	// APIKey is the bearer token used to authenticate against the API.
	APIKey string

	// BaseURL overrides the API endpoint. Useful for local models (Ollama),
	// Azure OpenAI, or any other OpenAI-compatible endpoint.
	// Defaults to https://api.openai.com/v1 when empty.
	BaseURL string

	// Model is the chat model to use. Defaults to gpt-4o-mini when empty.
	Model string

	// Timeout is the HTTP request timeout. Defaults to 30 s.
	Timeout time.Duration
}

// openAIProvider implements Provider using the OpenAI chat completions API.
type openAIProvider struct {
	cfg    Config
	client *http.Client
}

// NewProvider returns a Provider backed by the OpenAI (or compatible) chat
// API. The returned provider is safe for concurrent use.
func NewProvider(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultModelBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultModelName
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &openAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- minimal OpenAI wire types ---

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiRequest struct {
	Model          string       `json:"model"`
	Messages       []oaiMessage `json:"messages"`
	MaxTokens      int          `json:"max_tokens,omitempty"`
	ResponseFormat *oaiFormat   `json:"response_format,omitempty"`
}

type oaiFormat struct {
	Type string `json:"type"` // "json_object"
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

// Complete sends one chat-completion request and returns the raw assistant
// text. Transient failures (network errors, 5xx) are retried with backoff;
// rate limiting maps to ErrRateLimit and everything else upstream-fatal maps
// to ErrModelUnavailable.
func (p *openAIProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	messages := make([]oaiMessage, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, oaiMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.History {
		messages = append(messages, oaiMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, oaiMessage{Role: "user", Content: req.User})

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	body := oaiRequest{
		Model:     p.cfg.Model,
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.ForceJSON {
		body.ResponseFormat = &oaiFormat{Type: "json_object"}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("resolver: marshal request: %w", err)
	}

	var content string
	err = retry.Do(ctx, retry.Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		ShouldRetry: func(err error) bool {
			// Rate limits and client errors will not get better on retry.
			return errors.Is(err, ErrModelUnavailable)
		},
	}, func() error {
		var callErr error
		content, callErr = p.call(ctx, data)
		return callErr
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

func (p *openAIProvider) call(ctx context.Context, payload []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/chat/completions",
		bytes.NewReader(payload),
	)
	if err != nil {
		return "", fmt.Errorf("resolver: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response body: %v", ErrModelUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", ErrRateLimit
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: HTTP %d", ErrModelUnavailable, resp.StatusCode)
	}

	var oaiResp oaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return "", fmt.Errorf("%w: decode API response: %v", ErrModelUnavailable, err)
	}
	if oaiResp.Error != nil {
		return "", fmt.Errorf("%w: API error (%s): %s",
			ErrModelUnavailable, oaiResp.Error.Type, oaiResp.Error.Message)
	}
	if len(oaiResp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned (HTTP %d)", ErrModelUnavailable, resp.StatusCode)
	}
	return oaiResp.Choices[0].Message.Content, nil
}
