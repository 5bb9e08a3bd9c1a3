// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package quality scores and annotates generated responses. Validation
// never blocks delivery of a response - a poor result is still returned to
// the caller, tagged with its quality data.
package quality

import (
	"fmt"
	"regexp"
	"strings"
)

// ResponseType classifies what kind of answer a response is.
type ResponseType string

const (
	TypeRecommendation ResponseType = "recommendation"
	TypeAnalysis       ResponseType = "analysis"
	TypeSuggestion     ResponseType = "suggestion"
	TypeError          ResponseType = "error"
	TypeAnswer         ResponseType = "answer"
)

// Level is the discretized quality bucket derived from the score.
type Level string

const (
	LevelInvalid   Level = "invalid"
	LevelPoor      Level = "poor"
	LevelFair      Level = "fair"
	LevelGood      Level = "good"
	LevelExcellent Level = "excellent"
)

// Score thresholds mapping a quality score to its level.
const (
	thresholdExcellent = 0.80
	thresholdGood      = 0.65
	thresholdFair      = 0.50
	thresholdPoor      = 0.25
)

// Scoring weights. Relevance dominates; warnings cost the least.
const (
	weightValidity   = 0.30
	weightLengthFit  = 0.20
	weightRelevance  = 0.35
	weightNoWarnings = 0.15
)

// Relevance evidence weights, summed and clipped to [0,1].
const (
	evidenceEntity       = 0.4
	evidenceContextWords = 0.3
	evidenceQuantitative = 0.3
)

// Context carries the request-side facts a response is scored against.
//
// # Fields
//
//   - Type: The context type the request asked for (e.g. "project").
//   - EntityNames: Named entities from the fetched context (project names,
//     author names). A response mentioning one is considered on-topic.
//   - Keywords: Context-type vocabulary (e.g. "sprint", "story" for a
//     project context).
type Context struct {
	Type        string
	EntityNames []string
	Keywords    []string
}

// Result is the disposable outcome of validating one response.
type Result struct {
	IsValid  bool         `json:"is_valid"`
	Errors   []string     `json:"errors,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
	Score    float64      `json:"quality_score"`
	Level    Level        `json:"quality_level"`
	Type     ResponseType `json:"response_type"`
}

// Config bounds the structural checks.
type Config struct {
	// MinLength is the minimum acceptable content length. Shorter content
	// is an error. Default: 10.
	MinLength int

	// MaxLength is the length above which content draws a warning (never
	// an error). Default: 8000.
	MaxLength int

	// RepetitionThreshold is the repeated-token ratio above which content
	// is flagged as repetitive. Default: 0.5.
	RepetitionThreshold float64
}

// DefaultConfig returns sensible validator defaults.
func DefaultConfig() Config {
	return Config{
		MinLength:           10,
		MaxLength:           8000,
		RepetitionThreshold: 0.5,
	}
}

// Validator scores generated responses against their request context.
//
// # Thread Safety
//
// Validator is stateless after construction and safe for concurrent use.
type Validator struct {
	config Config
}

// NewValidator creates a validator, applying defaults for zero values.
func NewValidator(config Config) *Validator {
	if config.MinLength <= 0 {
		config.MinLength = 10
	}
	if config.MaxLength <= 0 {
		config.MaxLength = 8000
	}
	if config.RepetitionThreshold <= 0 {
		config.RepetitionThreshold = 0.5
	}
	return &Validator{config: config}
}

// placeholderPattern matches bracketed template tokens like [PROJECT_NAME]
// or {{value}} that indicate an incomplete generation.
var placeholderPattern = regexp.MustCompile(`\[[A-Z_]{2,}\]|\{\{[^}]+\}\}|\bTODO\b|\bFIXME\b`)

// Quantitative-signal patterns: percentages, counts, durations.
var (
	percentPattern  = regexp.MustCompile(`\b\d+(\.\d+)?%`)
	countPattern    = regexp.MustCompile(`\b\d+\b`)
	durationPattern = regexp.MustCompile(`(?i)\b\d+\s*(ms|millisecond|second|minute|hour|day|week|month|sprint)s?\b`)
)

// Trend and qualitative-level vocabulary counted as quantitative insight.
var (
	trendWords       = []string{"increase", "decrease", "growing", "declining", "upward", "downward", "trend", "faster", "slower"}
	qualitativeWords = []string{"high", "low", "moderate", "critical", "minimal", "significant"}
)

// Ordered classification signatures; first match wins.
var typeSignatures = []struct {
	responseType ResponseType
	markers      []string
}{
	{TypeRecommendation, []string{"recommend", "you should", "advise", "best course", "prioritize"}},
	{TypeAnalysis, []string{"analysis", "analyz", "breakdown", "assessment", "evaluat", "metric"}},
	{TypeSuggestion, []string{"suggest", "consider", "might want", "could try", "option"}},
	{TypeError, []string{"sorry", "unable", "cannot", "error", "unavailable", "apolog"}},
}

// Validate scores a generated response against its request context.
//
// # Description
//
// Runs structural checks (presence, length bounds), heuristic checks
// (placeholder markers, verbatim repetition), classifies the response type
// by keyword signature, accumulates weighted relevance evidence, and folds
// everything into a quality score and level.
//
// Below-minimum length is an error and makes the result invalid; an
// over-length response only draws a warning.
//
// # Inputs
//
//   - content: The generated response text.
//   - reqCtx: Request-side context the response is scored against. May be
//     the zero value when no context was available.
//
// # Outputs
//
//   - Result: The annotation. Never an error - validation only annotates.
func (v *Validator) Validate(content string, reqCtx Context) Result {
	result := Result{IsValid: true, Type: TypeAnswer}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		result.IsValid = false
		result.Errors = append(result.Errors, "response content is empty")
	} else if len(trimmed) < v.config.MinLength {
		result.IsValid = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("response too short: %d characters (minimum %d)", len(trimmed), v.config.MinLength))
	}
	if len(trimmed) > v.config.MaxLength {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("response exceeds %d characters and may be truncated downstream", v.config.MaxLength))
	}

	if placeholderPattern.MatchString(trimmed) {
		result.Warnings = append(result.Warnings, "response contains unresolved placeholder markers")
	}
	if ratio := repeatedTokenRatio(trimmed); ratio > v.config.RepetitionThreshold {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("response is highly repetitive (%.0f%% repeated tokens)", ratio*100))
	}

	result.Type = classify(trimmed)

	relevance := v.relevanceScore(trimmed, reqCtx)
	result.Score = v.qualityScore(result, trimmed, relevance)
	result.Level = levelForScore(result.Score)

	return result
}

// classify tests content against the ordered signature list.
// Priority: recommendation > analysis > suggestion > error > answer.
func classify(content string) ResponseType {
	lower := strings.ToLower(content)
	for _, sig := range typeSignatures {
		for _, marker := range sig.markers {
			if strings.Contains(lower, marker) {
				return sig.responseType
			}
		}
	}
	return TypeAnswer
}

// relevanceScore accumulates weighted evidence that the response addresses
// its request context, clipped to [0,1].
func (v *Validator) relevanceScore(content string, reqCtx Context) float64 {
	lower := strings.ToLower(content)
	score := 0.0

	for _, entity := range reqCtx.EntityNames {
		if entity != "" && strings.Contains(lower, strings.ToLower(entity)) {
			score += evidenceEntity
			break
		}
	}

	for _, keyword := range reqCtx.Keywords {
		if keyword != "" && strings.Contains(lower, strings.ToLower(keyword)) {
			score += evidenceContextWords
			break
		}
	}

	if hasQuantitativeSignal(lower) {
		score += evidenceQuantitative
	}

	return clip01(score)
}

// hasQuantitativeSignal reports whether the content carries a percentage,
// count, trend word, qualitative level, or duration.
func hasQuantitativeSignal(lower string) bool {
	if percentPattern.MatchString(lower) || durationPattern.MatchString(lower) || countPattern.MatchString(lower) {
		return true
	}
	for _, w := range trendWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	for _, w := range qualitativeWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// qualityScore folds validity, length fit, relevance, and warning count
// into a single [0,1] score.
func (v *Validator) qualityScore(r Result, content string, relevance float64) float64 {
	score := 0.0
	if r.IsValid {
		score += weightValidity
	}
	score += weightLengthFit * lengthFit(len(content), v.config.MinLength, v.config.MaxLength)
	score += weightRelevance * relevance
	if len(r.Warnings) == 0 {
		score += weightNoWarnings
	}
	return clip01(score)
}

// lengthFit returns 1.0 for content comfortably inside the bounds and
// degrades linearly toward the edges.
func lengthFit(length, min, max int) float64 {
	if length < min {
		return 0
	}
	if length > max {
		return 0.5 // Over-length content is usable but penalized.
	}
	// Very short valid responses fit less well than substantial ones.
	comfortable := min * 3
	if length >= comfortable {
		return 1.0
	}
	return 0.5 + 0.5*float64(length-min)/float64(comfortable-min)
}

// levelForScore maps a score to its bucket. The mapping is a monotonic
// step function of the score.
func levelForScore(score float64) Level {
	switch {
	case score >= thresholdExcellent:
		return LevelExcellent
	case score >= thresholdGood:
		return LevelGood
	case score >= thresholdFair:
		return LevelFair
	case score >= thresholdPoor:
		return LevelPoor
	default:
		return LevelInvalid
	}
}

// repeatedTokenRatio returns the fraction of tokens that are repeats of a
// token already seen. Short responses are never flagged.
func repeatedTokenRatio(content string) float64 {
	tokens := strings.Fields(strings.ToLower(content))
	if len(tokens) < 10 {
		return 0
	}

	seen := make(map[string]struct{}, len(tokens))
	repeats := 0
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			repeats++
		} else {
			seen[tok] = struct{}{}
		}
	}
	return float64(repeats) / float64(len(tokens))
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
