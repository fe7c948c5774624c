// Package llm talks to an OpenAI-compatible chat completions endpoint for relevance
// classification, story grouping and category summaries.
package llm

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

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"horse.fit/newswatch/internal/globaltime"
)

const (
	DefaultEndpoint = "https://api.openai.com/v1"
	DefaultTimeout  = 120 * time.Second

	defaultRequestsPerMinute = 30
	maxResponseBytes         = 4 << 20
)

type Options struct {
	Endpoint          string
	APIKey            string
	Model             string
	ClusterModel      string
	Timeout           time.Duration
	RequestsPerMinute int
	HTTPClient        *http.Client
}

// Client is safe for concurrent use; requests are paced by a shared limiter.
type Client struct {
	endpointURL  string
	apiKey       string
	model        string
	clusterModel string
	http         *http.Client
	limiter      *rate.Limiter
	logger       zerolog.Logger
}

func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	rpm := opts.RequestsPerMinute
	if rpm <= 0 {
		rpm = defaultRequestsPerMinute
	}
	clusterModel := strings.TrimSpace(opts.ClusterModel)
	if clusterModel == "" {
		clusterModel = strings.TrimSpace(opts.Model)
	}

	return &Client{
		endpointURL:  chatCompletionsURL(opts.Endpoint),
		apiKey:       strings.TrimSpace(opts.APIKey),
		model:        strings.TrimSpace(opts.Model),
		clusterModel: clusterModel,
		http:         httpClient,
		limiter:      rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		logger:       logger,
	}
}

// ModelName is recorded on every classification the client produces.
func (c *Client) ModelName() string {
	if c == nil {
		return ""
	}
	return c.model
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// complete sends one system+user exchange and returns the assistant text.
func (c *Client) complete(ctx context.Context, model, system, user string, maxTokens int) (string, error) {
	if c == nil {
		return "", fmt.Errorf("llm client is nil")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for rate limiter: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	started := globaltime.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send chat request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errPayload chatErrorResponse
		if json.Unmarshal(respBody, &errPayload) == nil {
			if msg := strings.TrimSpace(errPayload.Error.Message); msg != "" {
				return "", fmt.Errorf("chat endpoint status %d: %s", resp.StatusCode, msg)
			}
		}
		return "", fmt.Errorf("chat endpoint status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat response missing choices")
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}

	c.logger.Debug().
		Str("model", model).
		Dur("latency", globaltime.Since(started)).
		Int("response_chars", len(content)).
		Msg("chat completion finished")
	return content, nil
}

func chatCompletionsURL(raw string) string {
	endpoint := strings.TrimSpace(raw)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}

	parsed, err := url.Parse(endpoint)
	if err != nil || strings.TrimSpace(parsed.Host) == "" {
		return DefaultEndpoint + "/chat/completions"
	}

	path := strings.TrimRight(parsed.Path, "/")
	switch {
	case strings.HasSuffix(path, "/chat/completions"):
		parsed.Path = path
	case path == "":
		parsed.Path = "/v1/chat/completions"
	default:
		parsed.Path = path + "/chat/completions"
	}
	return parsed.String()
}
