package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/nevisai/server/internal/shared/config"
)

// allowedModels mirrors the proxy's allow list. Requests for anything else
// are rejected here rather than burning a proxy round trip.
var allowedModels = map[string]bool{
	"gemini-2.5-flash-image-preview": true,
	"gemini-2.5-flash":               true,
	"gemini-1.5-pro":                 true,
}

// proxyRequest is the wire format of the generation proxy.
type proxyRequest struct {
	Prompt      string  `json:"prompt"`
	UserID      string  `json:"user_id"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// ProxyResult is a successful proxy response. Data is inline content:
// base64 image bytes for image models, plain text otherwise.
type ProxyResult struct {
	Success   bool   `json:"success"`
	Data      string `json:"data"`
	ModelUsed string `json:"model_used"`
}

// Client calls the generation proxy behind a circuit breaker. A proxy that
// keeps failing trips the breaker, and callers get ErrProviderUnavailable
// immediately instead of piling up timed-out requests.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*ProxyResult]
	logger  *zap.Logger
}

// NewClient creates a proxy client.
func NewClient(cfg config.GenerationConfig, logger *zap.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	failureThreshold := cfg.FailureThreshold
	if failureThreshold == 0 {
		failureThreshold = 5
	}
	circuitTimeout := cfg.CircuitTimeout
	if circuitTimeout == 0 {
		circuitTimeout = 60 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[*ProxyResult](gobreaker.Settings{
		Name:    "generation-proxy",
		Timeout: circuitTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{
		baseURL: cfg.ProxyBaseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
		logger:  logger,
	}
}

// GenerateImage produces an image; Data holds base64 image bytes.
func (c *Client) GenerateImage(ctx context.Context, userID, prompt, model string, maxTokens int, temperature float64) (*ProxyResult, error) {
	return c.generate(ctx, "/generate-image", userID, prompt, model, maxTokens, temperature)
}

// GenerateText produces text content.
func (c *Client) GenerateText(ctx context.Context, userID, prompt, model string, maxTokens int, temperature float64) (*ProxyResult, error) {
	return c.generate(ctx, "/generate-text", userID, prompt, model, maxTokens, temperature)
}

func (c *Client) generate(ctx context.Context, path, userID, prompt, model string, maxTokens int, temperature float64) (*ProxyResult, error) {
	if !allowedModels[model] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModelVersion, model)
	}

	result, err := c.breaker.Execute(func() (*ProxyResult, error) {
		return c.post(ctx, path, &proxyRequest{
			Prompt:      prompt,
			UserID:      userID,
			Model:       model,
			MaxTokens:   maxTokens,
			Temperature: temperature,
		})
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", ErrProviderUnavailable)
		}
		return nil, err
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, path string, body *proxyRequest) (*ProxyResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode proxy request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build proxy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call generation proxy: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read proxy response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: proxy returned %d: %s", ErrProviderUnavailable, resp.StatusCode, truncate(data, 200))
	}

	var result ProxyResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode proxy response: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("%w: proxy reported failure", ErrProviderUnavailable)
	}
	return &result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
