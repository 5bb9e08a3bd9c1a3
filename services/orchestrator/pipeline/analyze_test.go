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
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianInsight/services/insights"
)

func TestAnalyze_FetchesRelevantContextsConcurrently(t *testing.T) {
	gen := &fakeGenerator{response: "Velocity increased 15% this sprint with 20 stories closed across the team."}
	fetcher := &fakeFetcher{payloads: map[string]json.RawMessage{
		insights.ContextStories: json.RawMessage(`{"stories":[{"id":"S-1","title":"Ship it","status":"done","points":5}]}`),
		insights.ContextCommits: json.RawMessage(`{"repository":"insight","commits":[{"sha":"abc123def","author":"pat","message":"fix"}]}`),
	}}
	p, _ := newTestPipeline(gen, fetcher)

	result, err := p.Analyze(context.Background(), AnalyzeRequest{AnalysisType: "velocity"})
	require.NoError(t, err)

	assert.Equal(t, gen.response, result.Analysis)
	assert.False(t, result.Degraded)
	assert.ElementsMatch(t, []string{insights.ContextStories, insights.ContextCommits}, result.Metadata.ContextsFetched)
	assert.Equal(t, 2, fetcher.calls)
	assert.True(t, result.Validation.IsValid)
}

func TestAnalyze_UnknownTypeIsAnError(t *testing.T) {
	p, _ := newTestPipeline(&fakeGenerator{response: "ok"}, nil)

	_, err := p.Analyze(context.Background(), AnalyzeRequest{AnalysisType: "astrology"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown analysis type")
}

func TestAnalyze_PartialContextStillProducesAnalysis(t *testing.T) {
	gen := &fakeGenerator{response: "Based on story data alone, throughput held steady at 12 points."}
	fetcher := &fakeFetcher{err: errors.New("aggregation offline")}
	p, _ := newTestPipeline(gen, fetcher)

	result, err := p.Analyze(context.Background(), AnalyzeRequest{AnalysisType: "health"})
	require.NoError(t, err)
	assert.False(t, result.Degraded)
	assert.Empty(t, result.Metadata.ContextsFetched)
	assert.Equal(t, gen.response, result.Analysis)
}

func TestAnalyze_GenerationFailureDegrades(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("backend down")}
	p, _ := newTestPipeline(gen, nil)

	result, err := p.Analyze(context.Background(), AnalyzeRequest{AnalysisType: "activity"})
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Equal(t, apologyMessage, result.Analysis)
}

func TestRecommendations_ParsesListItems(t *testing.T) {
	gen := &fakeGenerator{response: "Here are my suggestions:\n" +
		"- Prioritize the flaky test cleanup\n" +
		"* Split the oversized epic\n" +
		"1. Schedule a dependency upgrade\n" +
		"2) Review stale pull requests\n"}
	p, _ := newTestPipeline(gen, nil)

	result, err := p.Recommendations(context.Background(), RecommendationsRequest{
		Type:  insights.ContextProject,
		Limit: 3,
	})
	require.NoError(t, err)

	assert.False(t, result.Degraded)
	require.Len(t, result.Recommendations, 3, "list must be truncated to the limit")
	assert.Equal(t, "Prioritize the flaky test cleanup", result.Recommendations[0])
	assert.Equal(t, "Split the oversized epic", result.Recommendations[1])
	assert.Equal(t, "Schedule a dependency upgrade", result.Recommendations[2])
}

func TestRecommendations_DegradedYieldsEmptyList(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("backend down")}
	p, _ := newTestPipeline(gen, nil)

	result, err := p.Recommendations(context.Background(), RecommendationsRequest{Type: insights.ContextProject})
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Empty(t, result.Recommendations)
}

func TestParseListItems(t *testing.T) {
	t.Run("bullets and numbering are stripped", func(t *testing.T) {
		items := parseListItems("- first\n2. second\n• third", 10)
		assert.Equal(t, []string{"first", "second", "third"}, items)
	})

	t.Run("listless text falls back to lines", func(t *testing.T) {
		items := parseListItems("only one idea here\nand another", 10)
		assert.Equal(t, []string{"only one idea here", "and another"}, items)
	})

	t.Run("limit truncates", func(t *testing.T) {
		items := parseListItems("- a\n- b\n- c", 2)
		assert.Equal(t, []string{"a", "b"}, items)
	})
}
