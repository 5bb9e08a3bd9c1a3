// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianInsight/services/insights"
	"github.com/AleutianAI/AleutianInsight/services/llm"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/quality"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/session"
)

// Analysis types and the context types each one draws on.
var analysisContextTypes = map[string][]string{
	"velocity":  {insights.ContextStories, insights.ContextCommits},
	"health":    {insights.ContextProject, insights.ContextStories},
	"activity":  {insights.ContextCommits},
	"portfolio": {insights.ContextProject},
}

// AnalyzeRequest asks for a one-shot analysis over aggregated context.
type AnalyzeRequest struct {
	AnalysisType string
	Filters      map[string]string
	Options      Options
}

// AnalyzeResult is the outcome of one analysis request.
type AnalyzeResult struct {
	Analysis   string         `json:"analysis"`
	Degraded   bool           `json:"degraded"`
	RetryAfter time.Duration  `json:"retry_after,omitempty"`
	Metadata   AnalyzeMeta    `json:"metadata"`
	Validation quality.Result `json:"validation"`
}

// AnalyzeMeta reports which context types actually backed the analysis.
type AnalyzeMeta struct {
	AnalysisType    string        `json:"analysis_type"`
	ContextsFetched []string      `json:"contexts_fetched"`
	Elapsed         time.Duration `json:"elapsed_ns"`
}

// Analyze runs a one-shot analysis over the context types relevant to the
// requested analysis type.
//
// # Description
//
// Context types are fetched concurrently, each through the context breaker
// and each best-effort; a partial or empty context set still produces an
// analysis. Generation follows the same degradation rules as Chat.
//
// # Outputs
//
//   - AnalyzeResult: Always populated on nil error.
//   - error: Only for an unknown analysis type.
func (p *Pipeline) Analyze(ctx context.Context, req AnalyzeRequest) (AnalyzeResult, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Analyze")
	defer span.End()
	start := time.Now()

	contextTypes, ok := analysisContextTypes[req.AnalysisType]
	if !ok {
		return AnalyzeResult{}, fmt.Errorf("unknown analysis type %q", req.AnalysisType)
	}

	payloads := p.fetchAll(ctx, contextTypes, req.Filters)

	var promptCtx strings.Builder
	var fetched []string
	qc := quality.Context{Type: req.AnalysisType}
	for _, payload := range payloads {
		if payload.Empty() {
			continue
		}
		fetched = append(fetched, payload.Type)
		promptCtx.WriteString(payload.promptSection())
		promptCtx.WriteString("\n")
		sub := payload.qualityContext()
		qc.EntityNames = append(qc.EntityNames, sub.EntityNames...)
		qc.Keywords = append(qc.Keywords, sub.Keywords...)
	}

	instruction := fmt.Sprintf("You are an engineering insights analyst. Produce a %s analysis "+
		"of the context below. Lead with the most significant finding and quantify it.",
		req.AnalysisType)
	userContent := "Analyze the current state."
	if promptCtx.Len() > 0 {
		userContent = "Analyze the following context:\n\n" + promptCtx.String()
	}
	messages := []llm.Message{
		{Role: session.RoleSystem, Content: instruction},
		{Role: session.RoleUser, Content: userContent},
	}

	content, degraded, retryAfter := p.generate(ctx, messages, p.analysisParams(req.Options))

	result := AnalyzeResult{
		Analysis:   content,
		Degraded:   degraded,
		RetryAfter: retryAfter,
		Metadata: AnalyzeMeta{
			AnalysisType:    req.AnalysisType,
			ContextsFetched: fetched,
			Elapsed:         time.Since(start),
		},
		Validation: p.validator.Validate(content, qc),
	}
	return result, nil
}

// fetchAll retrieves several context types concurrently. Failures are
// per-type and non-fatal; the errgroup never carries an error, it only
// bounds and joins the goroutines.
func (p *Pipeline) fetchAll(ctx context.Context, contextTypes []string, filters map[string]string) []ContextPayload {
	payloads := make([]ContextPayload, len(contextTypes))
	if p.fetcher == nil {
		for i, ct := range contextTypes {
			payloads[i] = ContextPayload{Type: ct}
		}
		return payloads
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, ct := range contextTypes {
		g.Go(func() error {
			// Each goroutine writes its own slice index.
			payloads[i], _ = p.fetchContext(gctx, ct, filters)
			return nil
		})
	}
	g.Wait()
	return payloads
}

// analysisParams bounds generation for the one-shot operations, which have
// no session preferences to consult.
func (p *Pipeline) analysisParams(opts Options) llm.GenerationParams {
	maxTokens := p.config.DefaultMaxTokens
	temperature := p.config.DefaultTemperature
	if opts.MaxTokens != nil && *opts.MaxTokens > 0 {
		maxTokens = *opts.MaxTokens
	}
	if opts.Temperature != nil && *opts.Temperature > 0 {
		temperature = *opts.Temperature
	}
	return llm.GenerationParams{MaxTokens: &maxTokens, Temperature: &temperature}
}

// ============================================================================
// Recommendations
// ============================================================================

// RecommendationsRequest asks for a bounded list of recommendations.
type RecommendationsRequest struct {
	Type     string
	Category string
	Limit    int
}

// RecommendationsResult is the outcome of one recommendations request.
type RecommendationsResult struct {
	Recommendations []string       `json:"recommendations"`
	Degraded        bool           `json:"degraded"`
	RetryAfter      time.Duration  `json:"retry_after,omitempty"`
	Metadata        AnalyzeMeta    `json:"metadata"`
	Validation      quality.Result `json:"validation"`
}

// listItemPattern strips bullet and numbering prefixes off generated lines.
var listItemPattern = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.+)$`)

// Recommendations generates and parses a bounded recommendation list.
//
// # Description
//
// Fetches the context for the requested type best-effort, asks the backend
// for a bulleted list, and parses list items out of the generated text.
// The list is truncated to Limit. A degraded generation yields an empty
// list with the degradation flagged.
func (p *Pipeline) Recommendations(ctx context.Context, req RecommendationsRequest) (RecommendationsResult, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Recommendations")
	defer span.End()
	start := time.Now()

	limit := req.Limit
	if limit <= 0 {
		limit = 5
	}

	contextType := req.Type
	if _, known := systemInstructions[contextType]; !known {
		contextType = insights.ContextProject
	}

	var filters map[string]string
	if req.Category != "" {
		filters = map[string]string{"category": req.Category}
	}
	payload, _ := p.fetchContext(ctx, contextType, filters)

	instruction := fmt.Sprintf("You are an engineering insights assistant. Produce at most %d "+
		"actionable recommendations as a bulleted list, one per line, most impactful first.", limit)
	userContent := "What should the team focus on?"
	if section := payload.promptSection(); section != "" {
		userContent = "Given this context, what should the team focus on?\n\n" + section
	}
	messages := []llm.Message{
		{Role: session.RoleSystem, Content: instruction},
		{Role: session.RoleUser, Content: userContent},
	}

	content, degraded, retryAfter := p.generate(ctx, messages, p.analysisParams(Options{}))

	var recommendations []string
	if !degraded {
		recommendations = parseListItems(content, limit)
	}

	var fetched []string
	if !payload.Empty() {
		fetched = []string{contextType}
	}

	return RecommendationsResult{
		Recommendations: recommendations,
		Degraded:        degraded,
		RetryAfter:      retryAfter,
		Metadata: AnalyzeMeta{
			AnalysisType:    req.Type,
			ContextsFetched: fetched,
			Elapsed:         time.Since(start),
		},
		Validation: p.validator.Validate(content, payload.qualityContext()),
	}, nil
}

// parseListItems extracts up to limit list items from generated text.
// Lines without a bullet or numbering prefix are ignored, except that a
// listless response yields its non-empty lines as items.
func parseListItems(content string, limit int) []string {
	var items []string
	var plain []string
	for _, line := range strings.Split(content, "\n") {
		if m := listItemPattern.FindStringSubmatch(line); m != nil {
			items = append(items, strings.TrimSpace(m[1]))
		} else if trimmed := strings.TrimSpace(line); trimmed != "" {
			plain = append(plain, trimmed)
		}
	}
	if len(items) == 0 {
		items = plain
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

// ensure the insights client satisfies the fetcher seam
var _ ContextFetcher = (*insights.Client)(nil)
