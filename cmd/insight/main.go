// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command insight starts the AleutianInsight orchestrator HTTP server.
//
// This is the main entry point for the containerized orchestrator service.
// It reads configuration from a YAML file (if INSIGHT_CONFIG_FILE is set)
// or from environment variables and starts the server.
//
// # Environment Variables
//
//   - INSIGHT_CONFIG_FILE: Path to a YAML config file (optional)
//   - INSIGHT_PORT: HTTP server port (default: 12210)
//   - LLM_BACKEND_TYPE: LLM provider - openai, ollama (default: ollama)
//   - INSIGHTS_BASE_URL: Context aggregation service URL (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: insight-otel-collector:4317)
//
// # Usage
//
//	# Build
//	go build -o insight ./cmd/insight
//
//	# Run
//	./insight
//
//	# Or via container
//	podman-compose up orchestrator
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/AleutianAI/AleutianInsight/services/orchestrator"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	slog.Info("Starting orchestrator",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"insights_url", cfg.InsightsURL,
	)

	svc, err := orchestrator.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Orchestrator error: %v", err)
	}
}

// loadConfig builds the orchestrator configuration. A config file, when
// given, provides the base values; environment variables fill the gaps.
func loadConfig() (orchestrator.Config, error) {
	var cfg orchestrator.Config

	if path := os.Getenv("INSIGHT_CONFIG_FILE"); path != "" {
		loaded, err := orchestrator.LoadConfigFile(path)
		if err != nil {
			return orchestrator.Config{}, err
		}
		cfg = loaded
		slog.Info("Loaded configuration file", "path", path)
	}

	if cfg.Port == 0 {
		cfg.Port = getEnvInt("INSIGHT_PORT", 0)
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = os.Getenv("LLM_BACKEND_TYPE")
	}
	if cfg.InsightsURL == "" {
		cfg.InsightsURL = os.Getenv("INSIGHTS_BASE_URL")
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if cfg.GinMode == "" {
		cfg.GinMode = os.Getenv("GIN_MODE")
	}

	return cfg, nil
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
