// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package mcptools exposes the journal over MCP so assistants can search and
// read entries. The tool surface is read-only; all mutation stays on HTTP.
package mcptools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/tejzpr/whisperjournal/internal/database"
	"github.com/tejzpr/whisperjournal/internal/note"
	"github.com/tejzpr/whisperjournal/internal/settings"
)

// NewMCPServer builds the stdio MCP server with the journal tools registered
func NewMCPServer(store *database.Store) *server.MCPServer {
	srv := server.NewMCPServer(
		"WhisperJournal",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	srv.AddTool(NewSearchTool(), SearchHandler(store))
	srv.AddTool(NewReadTool(), ReadHandler(store))

	return srv
}

// NewSearchTool creates the journal_search tool definition
func NewSearchTool() mcp.Tool {
	return mcp.NewTool("journal_search",
		mcp.WithDescription("Search journal entries by transcript and generated content. Returns matching entries with id, date, kind and stage."),
		mcp.WithString("query",
			mcp.Description("Search terms. Whitespace-split, prefix-matched, all terms must match."),
		),
		mcp.WithString("type",
			mcp.Description("Filter by entry kind: brain-dump, daily-reflection or quick-note"),
		),
		mcp.WithString("status",
			mcp.Description("Filter by stage class: active, done or failed"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max results. Default: 10"),
		),
	)
}

// SearchHandler handles the journal_search tool
func SearchHandler(store *database.Store) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		params := database.SearchParams{
			Query:      request.GetString("query", ""),
			Kind:       request.GetString("type", ""),
			StageClass: request.GetString("status", ""),
			Limit:      int(request.GetFloat("limit", 10.0)),
		}

		result, err := store.Search(params)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}

		if len(result.Entries) == 0 {
			return mcp.NewToolResultText("No entries found."), nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "%d entries (%d total):\n", len(result.Entries), result.Total)
		for _, entry := range result.Entries {
			fmt.Fprintf(&b, "\n- %s [%s] %s (%s)", entry.ID, entry.Kind, entry.EntryDate, entry.Stage)
			if excerpt := excerptOf(&entry); excerpt != "" {
				fmt.Fprintf(&b, "\n  %s", excerpt)
			}
		}

		return mcp.NewToolResultText(b.String()), nil
	}
}

// NewReadTool creates the journal_read tool definition
func NewReadTool() mcp.Tool {
	return mcp.NewTool("journal_read",
		mcp.WithDescription("Read one journal entry: its transcript and, when written, the full note content."),
		mcp.WithString("id",
			mcp.Description("Entry id as returned by journal_search"),
			mcp.Required(),
		),
	)
}

// ReadHandler handles the journal_read tool
func ReadHandler(store *database.Store) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := request.GetString("id", "")
		if id == "" {
			return mcp.NewToolResultError("id is required"), nil
		}

		entry, err := store.GetEntry(id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("entry not found: %s", id)), nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Entry %s\nKind: %s\nDate: %s\nStage: %s\n", entry.ID, entry.Kind, entry.EntryDate, entry.Stage)

		if st, err := settings.Load(store); err == nil {
			writer := note.NewWriter(st.VaultPath)
			if content, found, err := writer.ReadNote(entry); err == nil && found {
				fmt.Fprintf(&b, "\n%s", content)
				return mcp.NewToolResultText(b.String()), nil
			}
		}

		if transcript := entry.Transcript(); transcript != "" {
			fmt.Fprintf(&b, "\nTranscript:\n%s\n", transcript)
		} else {
			b.WriteString("\nNo transcript yet.\n")
		}

		return mcp.NewToolResultText(b.String()), nil
	}
}

// excerptOf returns a short transcript excerpt for search listings
func excerptOf(entry *database.Entry) string {
	text := strings.TrimSpace(entry.Transcript())
	if text == "" {
		return ""
	}
	if len(text) > 120 {
		text = text[:120] + "..."
	}
	return strings.ReplaceAll(text, "\n", " ")
}
