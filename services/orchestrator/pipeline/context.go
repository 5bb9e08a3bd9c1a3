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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianInsight/services/insights"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/quality"
)

// ============================================================================
// Context payloads
// ============================================================================

// ProjectContext is the aggregation payload for a project overview.
type ProjectContext struct {
	Name              string   `json:"name"`
	Status            string   `json:"status"`
	CompletionPercent float64  `json:"completion_percent"`
	OpenStories       int      `json:"open_stories"`
	TeamMembers       []string `json:"team_members"`
}

// CommitSummary is one commit inside a CommitsContext.
type CommitSummary struct {
	SHA          string `json:"sha"`
	Author       string `json:"author"`
	Message      string `json:"message"`
	FilesChanged int    `json:"files_changed"`
}

// CommitsContext is the aggregation payload for recent repository activity.
type CommitsContext struct {
	Repository string          `json:"repository"`
	Commits    []CommitSummary `json:"commits"`
}

// StorySummary is one story inside a StoriesContext.
type StorySummary struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Assignee string `json:"assignee"`
	Points   int    `json:"points"`
}

// StoriesContext is the aggregation payload for backlog state.
type StoriesContext struct {
	Stories []StorySummary `json:"stories"`
}

// ContextPayload is the decoded context for one request. Exactly one of the
// typed variants is set when Type matches a known context type; unknown
// types keep the raw payload in Opaque so the prompt can still carry it.
type ContextPayload struct {
	Type    string
	Project *ProjectContext
	Commits *CommitsContext
	Stories *StoriesContext
	Opaque  json.RawMessage
}

// Empty reports whether no context was fetched at all.
func (p ContextPayload) Empty() bool {
	return p.Project == nil && p.Commits == nil && p.Stories == nil && len(p.Opaque) == 0
}

// decodeContext parses a raw aggregation payload into its typed variant.
// A payload that fails to decode falls back to the opaque variant rather
// than failing the request.
func decodeContext(contextType string, raw json.RawMessage) ContextPayload {
	payload := ContextPayload{Type: contextType}
	if len(raw) == 0 {
		return payload
	}

	switch contextType {
	case insights.ContextProject:
		var pc ProjectContext
		if err := json.Unmarshal(raw, &pc); err == nil {
			payload.Project = &pc
			return payload
		}
	case insights.ContextCommits:
		var cc CommitsContext
		if err := json.Unmarshal(raw, &cc); err == nil {
			payload.Commits = &cc
			return payload
		}
	case insights.ContextStories:
		var sc StoriesContext
		if err := json.Unmarshal(raw, &sc); err == nil {
			payload.Stories = &sc
			return payload
		}
	}
	payload.Opaque = raw
	return payload
}

// promptSection renders the payload as the context block of a prompt.
func (p ContextPayload) promptSection() string {
	switch {
	case p.Project != nil:
		var b strings.Builder
		fmt.Fprintf(&b, "Project: %s (status: %s)\n", p.Project.Name, p.Project.Status)
		fmt.Fprintf(&b, "Completion: %.0f%%, open stories: %d\n", p.Project.CompletionPercent, p.Project.OpenStories)
		if len(p.Project.TeamMembers) > 0 {
			fmt.Fprintf(&b, "Team: %s\n", strings.Join(p.Project.TeamMembers, ", "))
		}
		return b.String()
	case p.Commits != nil:
		var b strings.Builder
		fmt.Fprintf(&b, "Recent commits in %s:\n", p.Commits.Repository)
		for _, c := range p.Commits.Commits {
			fmt.Fprintf(&b, "- %s by %s: %s (%d files)\n", shortSHA(c.SHA), c.Author, c.Message, c.FilesChanged)
		}
		return b.String()
	case p.Stories != nil:
		var b strings.Builder
		b.WriteString("Stories:\n")
		for _, s := range p.Stories.Stories {
			fmt.Fprintf(&b, "- [%s] %s (%s, %d points, assignee: %s)\n", s.ID, s.Title, s.Status, s.Points, s.Assignee)
		}
		return b.String()
	case len(p.Opaque) > 0:
		return string(p.Opaque)
	default:
		return ""
	}
}

// qualityContext maps the payload to the facts a response is scored against.
func (p ContextPayload) qualityContext() quality.Context {
	qc := quality.Context{Type: p.Type}
	switch {
	case p.Project != nil:
		qc.EntityNames = append(qc.EntityNames, p.Project.Name)
		qc.EntityNames = append(qc.EntityNames, p.Project.TeamMembers...)
		qc.Keywords = []string{"project", "sprint", "story", "completion", "team"}
	case p.Commits != nil:
		qc.EntityNames = append(qc.EntityNames, p.Commits.Repository)
		for _, c := range p.Commits.Commits {
			qc.EntityNames = append(qc.EntityNames, c.Author)
		}
		qc.Keywords = []string{"commit", "repository", "change", "author"}
	case p.Stories != nil:
		for _, s := range p.Stories.Stories {
			qc.EntityNames = append(qc.EntityNames, s.Title)
		}
		qc.Keywords = []string{"story", "backlog", "points", "assignee", "status"}
	}
	return qc
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
