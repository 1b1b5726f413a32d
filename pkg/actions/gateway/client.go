// Package gateway provides the HTTP client actions use to call the
// engagement platform (messaging, tagging, assignment, notifications, AI).
// Calls go through a circuit breaker so a degraded platform endpoint does
// not pile up worker goroutines.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxFailures = 5
	defaultCBInterval  = 60 * time.Second
	defaultCBTimeout   = 30 * time.Second
)

var ErrGatewayUnavailable = errors.New("engagement gateway unavailable")

// Response is the decoded body of a gateway call.
type Response struct {
	StatusCode int
	Body       map[string]any
}

// Client calls the engagement platform's internal API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*Response]
	logger     *slog.Logger
}

// Config configures a gateway client. BaseURL is required; zero values for
// the rest fall back to defaults.
type Config struct {
	BaseURL     string
	Token       string
	Timeout     time.Duration
	MaxFailures uint32
}

func NewClient(config Config, logger *slog.Logger) *Client {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	maxFailures := config.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}

	breaker := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        "engagement-gateway",
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    defaultCBInterval,
		Timeout:     defaultCBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &Client{
		baseURL:    config.BaseURL,
		token:      config.Token,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
		logger:     logger,
	}
}

// Post sends a JSON payload to the given gateway path on behalf of a tenant.
func (c *Client) Post(ctx context.Context, tenantID, path string, payload map[string]any) (*Response, error) {
	response, err := c.breaker.Execute(func() (*Response, error) {
		return c.do(ctx, tenantID, http.MethodPost, path, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
		}

		return nil, err
	}

	return response, nil
}

func (c *Client) do(ctx context.Context, tenantID, method, path string, payload map[string]any) (*Response, error) {
	var bodyReader io.Reader

	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal gateway payload: %w", err)
		}

		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(rawBody))
	}

	decoded := map[string]any{}
	if len(rawBody) > 0 {
		if err := json.Unmarshal(rawBody, &decoded); err != nil {
			return nil, fmt.Errorf("failed to decode gateway response: %w", err)
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("gateway rejected request with status %d: %s", resp.StatusCode, string(rawBody))
	}

	return &Response{StatusCode: resp.StatusCode, Body: decoded}, nil
}
