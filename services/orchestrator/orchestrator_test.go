// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianInsight/services/orchestrator/resilience"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// newTestService builds a fully wired service against an unreachable Ollama
// endpoint. Construction never dials out, so this works offline; requests
// that reach the backend fail fast and exercise the degraded paths.
func newTestService(t *testing.T) Service {
	t.Helper()

	t.Setenv("OLLAMA_BASE_URL", "http://127.0.0.1:1")
	t.Setenv("OLLAMA_MODEL", "test-model")
	t.Setenv("INSIGHTS_BASE_URL", "")

	svc, err := New(Config{
		LLMBackend:   "ollama",
		GinMode:      gin.TestMode,
		OTelEndpoint: "127.0.0.1:4317",
	})
	require.NoError(t, err, "New() should succeed without reachable backends")
	t.Cleanup(svc.Stop)

	return svc
}

// =============================================================================
// Config Tests
// =============================================================================

// TestApplyConfigDefaults_AllDefaults verifies default values are applied.
func TestApplyConfigDefaults_AllDefaults(t *testing.T) {
	// Arrange
	cfg := Config{}

	// Act
	result := applyConfigDefaults(cfg)

	// Assert
	assert.Equal(t, 12210, result.Port, "default port should be 12210")
	assert.Equal(t, "ollama", result.LLMBackend, "default LLM backend should be ollama")
	assert.Equal(t, "insight-otel-collector:4317", result.OTelEndpoint)
	assert.Equal(t, 1000, result.MaxSessions)
	assert.Equal(t, 50, result.MaxHistory)
	assert.Equal(t, 30*time.Minute, result.SessionTimeout)
	assert.Equal(t, time.Minute, result.SweepInterval)
	assert.Equal(t, 8, result.AdmissionCapacity)
	assert.Equal(t, 64, result.AdmissionQueue)
	assert.Equal(t, 5, result.BreakerFailureThreshold)
	assert.Equal(t, 30*time.Second, result.BreakerOpenTimeout)
	assert.Equal(t, 60*time.Second, result.GenerationTimeout)
	assert.Equal(t, 5*time.Second, result.ContextFetchTimeout)
}

// TestApplyConfigDefaults_PreservesCustomValues verifies custom values are
// not overwritten.
func TestApplyConfigDefaults_PreservesCustomValues(t *testing.T) {
	cfg := Config{
		Port:              9000,
		LLMBackend:        "openai",
		MaxSessions:       5,
		SessionTimeout:    time.Second,
		AdmissionCapacity: 2,
	}

	result := applyConfigDefaults(cfg)

	assert.Equal(t, 9000, result.Port)
	assert.Equal(t, "openai", result.LLMBackend)
	assert.Equal(t, 5, result.MaxSessions)
	assert.Equal(t, time.Second, result.SessionTimeout)
	assert.Equal(t, 2, result.AdmissionCapacity)
	// Untouched fields still pick up defaults
	assert.Equal(t, 64, result.AdmissionQueue)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestrator.yaml")
	content := strings.Join([]string{
		"port: 9100",
		"llm_backend: openai",
		"max_sessions: 25",
		"session_timeout: 10m",
		"admission_capacity: 4",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "openai", cfg.LLMBackend)
	assert.Equal(t, 25, cfg.MaxSessions)
	assert.Equal(t, 10*time.Minute, cfg.SessionTimeout)
	assert.Equal(t, 4, cfg.AdmissionCapacity)
	assert.Zero(t, cfg.MaxHistory, "absent fields should stay zero until defaulting")
}

func TestLoadConfigFile_Missing(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [not an int"), 0o644))

	_, err := LoadConfigFile(path)
	assert.Error(t, err)
}

// =============================================================================
// Breaker Gauge Mapping Tests
// =============================================================================

func TestBreakerStateValue(t *testing.T) {
	assert.Equal(t, float64(0), breakerStateValue(resilience.CircuitClosed))
	assert.Equal(t, float64(1), breakerStateValue(resilience.CircuitHalfOpen))
	assert.Equal(t, float64(2), breakerStateValue(resilience.CircuitOpen))
}

// =============================================================================
// Service Wiring Tests
// =============================================================================

// TestNew_WiresService verifies a service comes up fully wired without any
// reachable external dependency.
func TestNew_WiresService(t *testing.T) {
	svc := newTestService(t)

	require.NotNil(t, svc.Router(), "router should be configured")

	// Health endpoint reports healthy: both breakers start closed.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	svc.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])

	breakers, ok := body["breakers"].(map[string]any)
	require.True(t, ok, "health body should include breakers")
	assert.Contains(t, breakers, "generation")
	assert.Contains(t, breakers, "context")
}

// TestNew_ChatDegradesWithoutBackend verifies an unreachable LLM backend
// produces a degraded 200, not an error status.
func TestNew_ChatDegradesWithoutBackend(t *testing.T) {
	svc := newTestService(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat",
		strings.NewReader(`{"message": "How is the sprint tracking?"}`))
	req.Header.Set("Content-Type", "application/json")
	svc.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, "generation failure should degrade, not error")

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["degraded"])
	assert.NotEmpty(t, body["answer"])
	assert.NotEmpty(t, body["session_id"])
}

// TestNew_UnknownBackendFallsBack verifies an unrecognized backend name
// falls back to ollama instead of failing construction.
func TestNew_UnknownBackendFallsBack(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "http://127.0.0.1:1")
	t.Setenv("INSIGHTS_BASE_URL", "")

	svc, err := New(Config{
		LLMBackend:   "mystery",
		GinMode:      gin.TestMode,
		OTelEndpoint: "127.0.0.1:4317",
	})
	require.NoError(t, err)
	defer svc.Stop()

	assert.NotNil(t, svc.Router())
}

// TestService_StopIdempotent verifies Stop can be called repeatedly.
func TestService_StopIdempotent(t *testing.T) {
	svc := newTestService(t)

	svc.Stop()
	svc.Stop()
}
