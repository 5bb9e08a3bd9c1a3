package llm

import (
	"context"
	"errors"
	"fmt"
)

// Message is one entry in the conversation sent to a backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams bound a single generation call.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Client defines the standard interface for any generation backend.
// One attempt per invocation; retries belong to the caller's circuit
// breaker, not here.
type Client interface {
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)
}

// APIError is a backend failure that carries an HTTP status code.
type APIError struct {
	Backend string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Backend, e.Status, e.Message)
}

// AsAPIError extracts an *APIError from an error chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
