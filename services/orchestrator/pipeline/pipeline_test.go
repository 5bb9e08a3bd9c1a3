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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianInsight/services/insights"
	"github.com/AleutianAI/AleutianInsight/services/llm"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/quality"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/resilience"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/session"
)

// fakeGenerator scripts the generation backend.
type fakeGenerator struct {
	response string
	err      error
	calls    int
	lastMsgs []llm.Message
}

func (f *fakeGenerator) Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	f.calls++
	f.lastMsgs = messages
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

// fakeFetcher scripts the aggregation service.
type fakeFetcher struct {
	payloads map[string]json.RawMessage
	err      error
	calls    int
}

func (f *fakeFetcher) Fetch(ctx context.Context, contextType string, filters map[string]string) (json.RawMessage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.payloads[contextType], nil
}

func newTestPipeline(gen llm.Client, fetcher ContextFetcher) (*Pipeline, *session.Store) {
	registry := resilience.NewRegistry(resilience.DefaultConfig())
	store := session.NewStore(session.DefaultStoreConfig())
	validator := quality.NewValidator(quality.DefaultConfig())
	return New(registry, store, validator, gen, fetcher, DefaultConfig()), store
}

func TestChat_HappyPath(t *testing.T) {
	gen := &fakeGenerator{response: "The project Foo is 42% complete with 10 stories remaining."}
	fetcher := &fakeFetcher{payloads: map[string]json.RawMessage{
		insights.ContextProject: json.RawMessage(`{"name":"Foo","status":"active","completion_percent":42,"open_stories":10}`),
	}}
	p, store := newTestPipeline(gen, fetcher)

	result, err := p.Chat(context.Background(), ChatRequest{
		Message:     "How is Foo doing?",
		ContextType: insights.ContextProject,
	})
	require.NoError(t, err)

	assert.Equal(t, gen.response, result.Response)
	assert.False(t, result.Degraded)
	assert.NotEmpty(t, result.SessionID)
	assert.True(t, result.Context.Fetched)
	assert.True(t, result.Validation.IsValid)

	history, err := store.History(result.SessionID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, session.RoleUser, history[0].Role)
	assert.Equal(t, session.RoleAssistant, history[1].Role)
	assert.Equal(t, false, history[1].Metadata["degraded"])
}

func TestChat_SystemMessageCarriesContext(t *testing.T) {
	gen := &fakeGenerator{response: "Foo is on track for the release."}
	fetcher := &fakeFetcher{payloads: map[string]json.RawMessage{
		insights.ContextProject: json.RawMessage(`{"name":"Foo","status":"active","completion_percent":42}`),
	}}
	p, _ := newTestPipeline(gen, fetcher)

	_, err := p.Chat(context.Background(), ChatRequest{
		Message:     "Status?",
		ContextType: insights.ContextProject,
	})
	require.NoError(t, err)

	require.NotEmpty(t, gen.lastMsgs)
	assert.Equal(t, session.RoleSystem, gen.lastMsgs[0].Role)
	assert.Contains(t, gen.lastMsgs[0].Content, "Foo")
	assert.Equal(t, session.RoleUser, gen.lastMsgs[len(gen.lastMsgs)-1].Role)
}

func TestChat_ContextFailureIsSwallowed(t *testing.T) {
	gen := &fakeGenerator{response: "I don't have project context right now, but here is what I know."}
	fetcher := &fakeFetcher{err: &insights.APIError{Status: 503, Message: "down"}}
	p, _ := newTestPipeline(gen, fetcher)

	result, err := p.Chat(context.Background(), ChatRequest{
		Message:     "How is Foo doing?",
		ContextType: insights.ContextProject,
	})
	require.NoError(t, err)

	assert.False(t, result.Degraded, "a context failure must not degrade the response")
	assert.False(t, result.Context.Fetched)
	assert.Equal(t, gen.response, result.Response)
}

func TestChat_GenerationFailureDegrades(t *testing.T) {
	gen := &fakeGenerator{err: &llm.APIError{Backend: "openai", Status: 500, Message: "boom"}}
	p, store := newTestPipeline(gen, nil)

	result, err := p.Chat(context.Background(), ChatRequest{Message: "Hello there"})
	require.NoError(t, err, "generation failure is a degraded success, not an error")

	assert.True(t, result.Degraded)
	assert.Equal(t, apologyMessage, result.Response)
	assert.Zero(t, result.RetryAfter)

	// The degraded turn is still recorded with its metadata.
	history, err := store.History(result.SessionID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, true, history[1].Metadata["degraded"])
}

func TestChat_OpenCircuitReturnsFallbackWithRetryAfter(t *testing.T) {
	registry := resilience.NewRegistry(resilience.Config{
		FailureThreshold: 1,
		OpenTimeout:      time.Minute,
	})
	store := session.NewStore(session.DefaultStoreConfig())
	validator := quality.NewValidator(quality.DefaultConfig())
	gen := &fakeGenerator{err: errors.New("backend down")}
	p := New(registry, store, validator, gen, nil, DefaultConfig())

	// First call trips the breaker.
	first, err := p.Chat(context.Background(), ChatRequest{Message: "Hello there"})
	require.NoError(t, err)
	assert.True(t, first.Degraded)

	// Second call is rejected without reaching the backend.
	callsBefore := gen.calls
	second, err := p.Chat(context.Background(), ChatRequest{Message: "Hello again"})
	require.NoError(t, err)
	assert.True(t, second.Degraded)
	assert.Equal(t, fallbackMessage, second.Response)
	assert.Greater(t, second.RetryAfter, time.Duration(0))
	assert.Equal(t, callsBefore, gen.calls, "open circuit must not invoke the backend")
}

func TestChat_InputErrorsSurface(t *testing.T) {
	gen := &fakeGenerator{response: "ok"}
	p, _ := newTestPipeline(gen, nil)

	_, err := p.Chat(context.Background(), ChatRequest{Message: "   "})
	require.Error(t, err)
	assert.True(t, errors.Is(err, session.ErrInvalidInput))
	assert.Zero(t, gen.calls, "invalid input must not reach generation")
}

func TestChat_ReusesExistingSession(t *testing.T) {
	gen := &fakeGenerator{response: "Sure, noted. That sounds like a reasonable plan overall."}
	p, store := newTestPipeline(gen, nil)

	first, err := p.Chat(context.Background(), ChatRequest{Message: "First message"})
	require.NoError(t, err)

	second, err := p.Chat(context.Background(), ChatRequest{
		Message:   "Second message",
		SessionID: first.SessionID,
	})
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)

	history, err := store.History(first.SessionID)
	require.NoError(t, err)
	assert.Len(t, history, 4)

	// The second generation saw the earlier turns.
	assert.GreaterOrEqual(t, len(gen.lastMsgs), 4)
}

func TestChat_IncludeHistoryFalseSkipsHistory(t *testing.T) {
	gen := &fakeGenerator{response: "Understood, answering without conversation history."}
	p, _ := newTestPipeline(gen, nil)

	first, err := p.Chat(context.Background(), ChatRequest{Message: "First message"})
	require.NoError(t, err)

	include := false
	_, err = p.Chat(context.Background(), ChatRequest{
		Message:   "Second message",
		SessionID: first.SessionID,
		Options:   Options{IncludeHistory: &include},
	})
	require.NoError(t, err)

	// System + new user message only.
	assert.Len(t, gen.lastMsgs, 2)
}

func TestChat_OptionsOverridePreferences(t *testing.T) {
	gen := &fakeGenerator{response: "ok then, proceeding with the requested settings."}
	p, store := newTestPipeline(gen, nil)

	snap, err := store.Create("", "")
	require.NoError(t, err)
	require.NoError(t, store.UpdatePreferences(snap.ID, session.Preferences{MaxTokens: 256}))

	maxTokens := 99
	params := p.generationParams(snap.ID, Options{MaxTokens: &maxTokens})
	require.NotNil(t, params.MaxTokens)
	assert.Equal(t, 99, *params.MaxTokens)

	params = p.generationParams(snap.ID, Options{})
	require.NotNil(t, params.MaxTokens)
	assert.Equal(t, 256, *params.MaxTokens)
}

func TestDecodeContext_TaggedUnion(t *testing.T) {
	t.Run("project payload", func(t *testing.T) {
		p := decodeContext(insights.ContextProject, json.RawMessage(`{"name":"Foo","completion_percent":42}`))
		require.NotNil(t, p.Project)
		assert.Equal(t, "Foo", p.Project.Name)
		assert.False(t, p.Empty())
	})

	t.Run("commits payload", func(t *testing.T) {
		p := decodeContext(insights.ContextCommits, json.RawMessage(`{"repository":"insight","commits":[{"sha":"abcdef1234","author":"pat"}]}`))
		require.NotNil(t, p.Commits)
		assert.Equal(t, "insight", p.Commits.Repository)
	})

	t.Run("unknown type falls back to opaque", func(t *testing.T) {
		p := decodeContext("weather", json.RawMessage(`{"temp":12}`))
		assert.Nil(t, p.Project)
		assert.NotEmpty(t, p.Opaque)
		assert.False(t, p.Empty())
	})

	t.Run("empty payload is empty", func(t *testing.T) {
		p := decodeContext(insights.ContextProject, nil)
		assert.True(t, p.Empty())
	})
}
