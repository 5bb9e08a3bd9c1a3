// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline chains session resolution, best-effort context fetch,
// prompt assembly, protected generation, and response validation into the
// chat, analyze, and recommendations operations.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianInsight/services/llm"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/quality"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/resilience"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/session"
)

var tracer = otel.Tracer("insight.orchestrator.pipeline")

// Breaker names for the two protected dependencies.
const (
	BreakerGeneration = "generation"
	BreakerContext    = "context"
)

// fallbackMessage is returned when the generation circuit is open.
const fallbackMessage = "The generation service is temporarily unavailable. " +
	"Your message was recorded; please retry shortly."

// apologyMessage is returned when a single generation attempt fails.
const apologyMessage = "I'm sorry, I couldn't generate a response right now. " +
	"Please try again in a moment."

// ContextFetcher fetches one raw context payload from the aggregation
// service. *insights.Client satisfies it.
type ContextFetcher interface {
	Fetch(ctx context.Context, contextType string, filters map[string]string) (json.RawMessage, error)
}

// Options tune one generation request. Nil fields fall back to the session
// preferences, then to pipeline defaults.
type Options struct {
	MaxTokens      *int     `json:"max_tokens,omitempty"`
	Temperature    *float32 `json:"temperature,omitempty"`
	IncludeHistory *bool    `json:"include_history,omitempty"`
}

// ChatRequest is one conversational turn through the pipeline.
type ChatRequest struct {
	Message       string
	SessionID     string
	OwnerID       string
	ContextType   string
	ProjectFilter string
	Options       Options
}

// ContextMeta reports what context backed the response.
type ContextMeta struct {
	Type    string `json:"type,omitempty"`
	Fetched bool   `json:"fetched"`
}

// Performance carries per-stage timings for one request.
type Performance struct {
	ContextFetch time.Duration `json:"context_fetch_ns"`
	Generation   time.Duration `json:"generation_ns"`
	Total        time.Duration `json:"total_ns"`
}

// ChatResult is the pipeline outcome for one chat request.
type ChatResult struct {
	Response   string         `json:"response"`
	SessionID  string         `json:"session_id"`
	Degraded   bool           `json:"degraded"`
	RetryAfter time.Duration  `json:"retry_after,omitempty"`
	Context    ContextMeta    `json:"context"`
	Perf       Performance    `json:"performance"`
	Validation quality.Result `json:"validation"`
}

// Config bounds pipeline behavior.
//
// # Fields
//
//   - HistoryLimit: Prior turns included in the prompt. Default: 10.
//   - DefaultMaxTokens: Generation cap when neither request nor session
//     preferences set one. Default: 1024.
//   - DefaultTemperature: Generation temperature fallback. Default: 0.2.
type Config struct {
	HistoryLimit       int
	DefaultMaxTokens   int
	DefaultTemperature float32
}

// DefaultConfig returns sensible pipeline defaults.
func DefaultConfig() Config {
	return Config{
		HistoryLimit:       10,
		DefaultMaxTokens:   1024,
		DefaultTemperature: 0.2,
	}
}

// Pipeline owns the chat, analyze, and recommendations operations.
//
// # Description
//
// Both external dependencies run behind named circuit breakers from the
// injected registry. Context fetch is best-effort: any failure, an open
// circuit included, produces an empty context and the request proceeds.
// Generation failures degrade the response instead of failing the request;
// only session input and capacity errors surface to the caller.
//
// # Thread Safety
//
// Safe for concurrent use. Two concurrent requests on the same session id
// interleave at the append step; turns land in arrival order.
type Pipeline struct {
	registry  *resilience.Registry
	store     *session.Store
	validator *quality.Validator
	generator llm.Client
	fetcher   ContextFetcher
	config    Config
}

// New creates a pipeline over injected collaborators.
//
// fetcher may be nil when no aggregation service is configured; context
// fetch is then skipped entirely.
func New(registry *resilience.Registry, store *session.Store, validator *quality.Validator,
	generator llm.Client, fetcher ContextFetcher, config Config) *Pipeline {

	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 10
	}
	if config.DefaultMaxTokens <= 0 {
		config.DefaultMaxTokens = 1024
	}
	if config.DefaultTemperature <= 0 {
		config.DefaultTemperature = 0.2
	}
	return &Pipeline{
		registry:  registry,
		store:     store,
		validator: validator,
		generator: generator,
		fetcher:   fetcher,
		config:    config,
	}
}

// Chat runs one conversational turn.
//
// # Description
//
// Resolves or creates the session, appends the user turn, fetches context
// best-effort, generates through the generation breaker, validates the
// chosen content, and appends the assistant turn tagged with its quality
// data. An open generation circuit yields a structured fallback carrying
// RetryAfter; any other generation failure yields an apology. Both are
// degraded successes, not errors.
//
// # Outputs
//
//   - ChatResult: Always populated on nil error.
//   - error: Session input or capacity errors only.
func (p *Pipeline) Chat(ctx context.Context, req ChatRequest) (ChatResult, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Chat")
	defer span.End()
	start := time.Now()

	snap, err := p.store.Create(req.SessionID, req.OwnerID)
	if err != nil {
		return ChatResult{}, err
	}
	sessionID := snap.ID

	history, err := p.resolveHistory(sessionID, req.Options)
	if err != nil {
		return ChatResult{}, err
	}

	if _, err := p.store.AddTurn(sessionID, session.RoleUser, req.Message, nil); err != nil {
		return ChatResult{}, err
	}

	result := ChatResult{SessionID: sessionID}

	payload, fetchElapsed := p.fetchContext(ctx, req.ContextType, contextFilters(req))
	result.Context = ContextMeta{Type: req.ContextType, Fetched: !payload.Empty()}
	result.Perf.ContextFetch = fetchElapsed

	messages := buildMessages(req.ContextType, payload, history, req.Message)
	params := p.generationParams(sessionID, req.Options)

	genStart := time.Now()
	content, degraded, retryAfter := p.generate(ctx, messages, params)
	result.Perf.Generation = time.Since(genStart)
	result.Response = content
	result.Degraded = degraded
	result.RetryAfter = retryAfter

	result.Validation = p.validator.Validate(content, payload.qualityContext())

	metadata := map[string]any{
		"quality_score": result.Validation.Score,
		"quality_level": string(result.Validation.Level),
		"response_type": string(result.Validation.Type),
		"degraded":      degraded,
	}
	if _, err := p.store.AddTurn(sessionID, session.RoleAssistant, content, metadata); err != nil {
		// The response was already produced; losing the assistant turn is
		// not worth failing the request over.
		slog.Warn("Failed to record assistant turn", "session_id", sessionID, "error", err)
	}

	result.Perf.Total = time.Since(start)
	return result, nil
}

// resolveHistory returns the prior turns to include in the prompt,
// honoring the include-history option and session preference.
func (p *Pipeline) resolveHistory(sessionID string, opts Options) ([]session.Turn, error) {
	include := true
	if prefs, err := p.store.Preferences(sessionID); err == nil && prefs.IncludeHistory != nil {
		include = *prefs.IncludeHistory
	}
	if opts.IncludeHistory != nil {
		include = *opts.IncludeHistory
	}
	if !include {
		return nil, nil
	}
	return p.store.Recent(sessionID, p.config.HistoryLimit)
}

// fetchContext retrieves and decodes the requested context through the
// context breaker. Every failure path returns an empty payload.
func (p *Pipeline) fetchContext(ctx context.Context, contextType string, filters map[string]string) (ContextPayload, time.Duration) {
	if p.fetcher == nil || contextType == "" {
		return ContextPayload{Type: contextType}, 0
	}

	start := time.Now()
	var raw json.RawMessage
	err := p.registry.Execute(ctx, BreakerContext, func(ctx context.Context) error {
		var fetchErr error
		raw, fetchErr = p.fetcher.Fetch(ctx, contextType, filters)
		return fetchErr
	})
	elapsed := time.Since(start)

	if err != nil {
		slog.Warn("Context fetch failed, continuing without context",
			"context_type", contextType, "error", err)
		return ContextPayload{Type: contextType}, elapsed
	}
	return decodeContext(contextType, raw), elapsed
}

// generate runs one protected generation attempt and maps its failure
// modes to degraded content.
func (p *Pipeline) generate(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (content string, degraded bool, retryAfter time.Duration) {
	err := p.registry.Execute(ctx, BreakerGeneration, func(ctx context.Context) error {
		var genErr error
		content, genErr = p.generator.Chat(ctx, messages, params)
		return genErr
	})
	if err == nil {
		return content, false, 0
	}

	if openErr, ok := resilience.AsCircuitOpen(err); ok {
		slog.Warn("Generation circuit open, returning fallback", "retry_after", openErr.RetryAfter)
		return fallbackMessage, true, openErr.RetryAfter
	}

	slog.Error("Generation failed, returning degraded response", "error", err)
	return apologyMessage, true, 0
}

// generationParams folds request options and session preferences into the
// bounded generation parameters.
func (p *Pipeline) generationParams(sessionID string, opts Options) llm.GenerationParams {
	maxTokens := p.config.DefaultMaxTokens
	temperature := p.config.DefaultTemperature

	if prefs, err := p.store.Preferences(sessionID); err == nil {
		if prefs.MaxTokens > 0 {
			maxTokens = prefs.MaxTokens
		}
		if prefs.Temperature > 0 {
			temperature = prefs.Temperature
		}
	}
	if opts.MaxTokens != nil && *opts.MaxTokens > 0 {
		maxTokens = *opts.MaxTokens
	}
	if opts.Temperature != nil && *opts.Temperature > 0 {
		temperature = *opts.Temperature
	}

	return llm.GenerationParams{
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	}
}

func contextFilters(req ChatRequest) map[string]string {
	if req.ProjectFilter == "" {
		return nil
	}
	return map[string]string{"project": req.ProjectFilter}
}

// Registry exposes the breaker registry for the health surface.
func (p *Pipeline) Registry() *resilience.Registry {
	return p.registry
}

// Store exposes the session store for the admin surface.
func (p *Pipeline) Store() *session.Store {
	return p.store
}
