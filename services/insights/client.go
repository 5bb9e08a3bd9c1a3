// Package insights is the client for the context aggregation service. The
// orchestrator fetches structured project context from it on a best-effort
// basis; every failure mode here is survivable upstream.
package insights

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("insight.insights.client")

// Supported context types the aggregation service can answer for.
const (
	ContextProject = "project"
	ContextCommits = "commits"
	ContextStories = "stories"
)

// APIError is an aggregation-service failure carrying the HTTP status.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("insights API error (status %d): %s", e.Status, e.Message)
}

// AsAPIError extracts an *APIError from an error chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// Config holds the client settings.
//
// # Fields
//
//   - BaseURL: Root URL of the aggregation service. Required.
//   - Timeout: Per-request HTTP timeout. Default: 10s.
//   - RequestsPerSecond: Outbound rate limit. Default: 10.
//   - Burst: Rate limiter burst. Default: 5.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Client fetches context payloads from the aggregation service.
//
// # Thread Safety
//
// Safe for concurrent use; the rate limiter serializes admission of
// outbound requests.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

// NewClient creates an aggregation-service client.
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("insights base URL not set")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 10
	}
	if config.Burst <= 0 {
		config.Burst = 5
	}
	baseURL := strings.TrimSuffix(config.BaseURL, "/")
	slog.Info("Initializing insights client", "base_url", baseURL,
		"rate", config.RequestsPerSecond, "burst", config.Burst)
	return &Client{
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
	}, nil
}

// NewClientFromEnv builds a client from INSIGHTS_BASE_URL.
func NewClientFromEnv() (*Client, error) {
	baseURL := os.Getenv("INSIGHTS_BASE_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("INSIGHTS_BASE_URL environment variable not set")
	}
	return NewClient(Config{BaseURL: baseURL})
}

type contextRequest struct {
	ContextType string            `json:"context_type"`
	Filters     map[string]string `json:"filters,omitempty"`
}

// Fetch retrieves one context payload.
//
// # Description
//
// Waits on the outbound rate limiter, then POSTs the query to the
// aggregation service. The payload is returned raw; the pipeline decodes
// it by context type.
//
// # Outputs
//
//   - json.RawMessage: The payload body on success.
//   - error: *APIError for non-2xx responses, or the transport/context
//     error otherwise.
func (c *Client) Fetch(ctx context.Context, contextType string, filters map[string]string) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "InsightsClient.Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("insights.context_type", contextType))

	if err := c.limiter.Wait(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("rate limiter wait aborted: %w", err)
	}

	reqBody, err := json.Marshal(contextRequest{ContextType: contextType, Filters: filters})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/context", bytes.NewBuffer(reqBody))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to create context request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Insights API call failed", "error", err)
		return nil, fmt.Errorf("insights API call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read insights response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: string(respBody)}
		slog.Error("Insights returned an error", "status_code", resp.StatusCode,
			"context_type", contextType)
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, apiErr.Error())
		return nil, apiErr
	}

	slog.Debug("Received context payload", "context_type", contextType, "bytes", len(respBody))
	return respBody, nil
}
