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
	"strings"

	"github.com/AleutianAI/AleutianInsight/services/insights"
	"github.com/AleutianAI/AleutianInsight/services/llm"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/session"
)

// System instructions keyed by context type. The default instruction is
// used when no context type was requested or the type is unknown.
var systemInstructions = map[string]string{
	insights.ContextProject: "You are a project delivery assistant. Answer using the project " +
		"context provided below. Cite concrete numbers from the context when they exist.",
	insights.ContextCommits: "You are a code review assistant. Answer using the recent commit " +
		"activity provided below. Refer to commits by author and short hash.",
	insights.ContextStories: "You are a backlog planning assistant. Answer using the story " +
		"context provided below. Refer to stories by their identifiers.",
}

const defaultInstruction = "You are a helpful engineering insights assistant. Answer concisely " +
	"and state clearly when you do not have enough context."

// buildMessages assembles the ordered message list for one generation call.
//
// # Description
//
// Layout: one system message (instruction keyed by context type, plus the
// rendered context block when present), then the prior history turns in
// order, then the new user message. History roles map 1:1 onto backend
// roles.
func buildMessages(contextType string, payload ContextPayload, history []session.Turn, userMessage string) []llm.Message {
	instruction, ok := systemInstructions[contextType]
	if !ok {
		instruction = defaultInstruction
	}

	var system strings.Builder
	system.WriteString(instruction)
	if section := payload.promptSection(); section != "" {
		system.WriteString("\n\nContext:\n")
		system.WriteString(section)
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: session.RoleSystem, Content: system.String()})
	for _, turn := range history {
		messages = append(messages, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, llm.Message{Role: session.RoleUser, Content: userMessage})
	return messages
}
