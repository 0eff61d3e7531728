// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Loam knowledge tools for LLM integration via stdio
// transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/loam/internal/graph"
	"github.com/starford/loam/internal/service"
	"github.com/starford/loam/internal/store"
)

// Server wraps the MCP server with Loam tools. Every tool accepts an
// optional "project" argument; omitted means the default project.
type Server struct {
	mcp *server.MCPServer
	svc *service.Service
}

// New creates a new MCP server with all Loam tools registered.
func New(svc *service.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Loam",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	projectArg := mcp.WithString("project", mcp.Description("Project name or permalink (omit for the default project)"))

	s.mcp.AddTool(mcp.NewTool("write_note",
		mcp.WithDescription("Create or update a knowledge note by title. "+
			"Content should follow the canonical format (observations as "+
			"'- [category] fact', relations as '- relation_type [[Target]]'). "+
			"Read the loam://note-format resource first."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Entity title; also derives the permalink")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown body following the note format")),
		mcp.WithString("folder", mcp.Description("Folder for the file, e.g. 'topics' (empty for vault root)")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags")),
		projectArg,
	), s.writeNote)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read a note by any identifier: memory:// URL, permalink, title, or file path."),
		mcp.WithString("identifier", mcp.Required(), mcp.Description("Entity identifier")),
		projectArg,
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("delete_note",
		mcp.WithDescription("Delete a note's file and its indexed rows. Links from other notes become forward references."),
		mcp.WithString("identifier", mcp.Required(), mcp.Description("Entity identifier")),
		projectArg,
	), s.deleteNote)

	s.mcp.AddTool(mcp.NewTool("move_note",
		mcp.WithDescription("Move a note to a new file path, preserving its permalink and relations."),
		mcp.WithString("identifier", mcp.Required(), mcp.Description("Entity identifier")),
		mcp.WithString("new_path", mcp.Required(), mcp.Description("Destination path relative to the vault root (must end with .md)")),
		projectArg,
	), s.moveNote)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Full-text search across note titles, bodies, and tags."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Max results (default 10)")),
		projectArg,
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("build_context",
		mcp.WithDescription("Walk the knowledge graph around an entity and return related entities with their observations and relations."),
		mcp.WithString("url", mcp.Required(), mcp.Description("memory:// URL, permalink, or folder glob like 'topics/*'")),
		mcp.WithNumber("depth", mcp.Description("Traversal depth 1-5 (default 2)")),
		mcp.WithString("timeframe", mcp.Description("Only include entities updated within e.g. '7d' or '24h'")),
		projectArg,
	), s.buildContext)

	s.mcp.AddTool(mcp.NewTool("recent_activity",
		mcp.WithDescription("List entities updated within a timeframe, newest first."),
		mcp.WithString("timeframe", mcp.Description("Window such as '7d' or '24h' (default 7d)")),
		mcp.WithNumber("limit", mcp.Description("Max results (default 10)")),
		projectArg,
	), s.recentActivity)

	s.mcp.AddTool(mcp.NewTool("sync_status",
		mcp.WithDescription("Report sync worker state and the last scan summary for each project."),
		projectArg,
	), s.syncStatus)

	s.mcp.AddTool(mcp.NewTool("list_projects",
		mcp.WithDescription("List all registered projects."),
	), s.listProjects)

	// Resource: note format contract.
	s.mcp.AddResource(
		mcp.NewResource("loam://note-format", "Note Format Contract",
			mcp.WithResourceDescription("Canonical Markdown knowledge file format that all notes must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readNoteFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// optString reads an optional string argument.
func optString(req mcp.CallToolRequest, key string) string {
	if v, err := req.RequireString(key); err == nil {
		return v
	}
	return ""
}

// optInt reads an optional integer argument.
func optInt(req mcp.CallToolRequest, key string) int {
	if v, err := req.RequireInt(key); err == nil {
		return v
	}
	return 0
}

func (s *Server) writeNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var tags []string
	for _, t := range strings.Split(optString(req, "tags"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}

	det, err := s.svc.WriteEntity(ctx, optString(req, "project"), service.WriteRequest{
		Title:   title,
		Folder:  optString(req, "folder"),
		Content: content,
		Tags:    tags,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("saved: %s (%s)", det.MemoryURL, det.FilePath)), nil
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	identifier, err := req.RequireString("identifier")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	det, err := s.svc.ReadEntity(ctx, optString(req, "project"), identifier)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", identifier)), nil
	}
	return mcp.NewToolResultText(det.Content), nil
}

func (s *Server) deleteNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	identifier, err := req.RequireString("identifier")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.DeleteEntity(ctx, optString(req, "project"), identifier); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", identifier)), nil
}

func (s *Server) moveNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	identifier, err := req.RequireString("identifier")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	newPath, err := req.RequireString("new_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	det, err := s.svc.MoveEntity(ctx, optString(req, "project"), identifier, newPath)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("moved to %s (permalink %s unchanged)", det.FilePath, det.Permalink)), nil
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := optInt(req, "limit")
	if limit <= 0 {
		limit = 10
	}
	results, err := s.svc.Search(ctx, optString(req, "project"), query, limit, 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("no results"), nil
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) buildContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	timeframe, err := service.ParseTimeframe(optString(req, "timeframe"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	snap, err := s.svc.BuildContext(ctx, optString(req, "project"), url, graph.Options{
		Depth:     optInt(req, "depth"),
		Timeframe: timeframe,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(snap, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) recentActivity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	timeframe, err := service.ParseTimeframe(optString(req, "timeframe"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := optInt(req, "limit")
	if limit <= 0 {
		limit = 10
	}
	ents, err := s.svc.RecentActivity(ctx, optString(req, "project"), timeframe, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(ents) == 0 {
		return mcp.NewToolResultText("no recent activity"), nil
	}
	var b strings.Builder
	for _, e := range ents {
		fmt.Fprintf(&b, "- %s (%s) updated %s\n", e.Title, e.Permalink, e.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) syncStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	statuses, err := s.svc.SyncStatus(ctx, optString(req, "project"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(statuses, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listProjects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects := s.svc.Projects()
	rows := make([]store.Project, 0, len(projects))
	for _, p := range projects {
		rows = append(rows, p.Project)
	}
	out, _ := json.MarshalIndent(rows, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readNoteFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "loam://note-format",
			MIMEType: "text/markdown",
			Text:     NoteFormatContract,
		},
	}, nil
}
