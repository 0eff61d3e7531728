package mcpserver

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/loam/internal/service"
	"github.com/starford/loam/internal/sync"
	"github.com/starford/loam/internal/testutil"
)

func testServer(t *testing.T) *Server {
	t.Helper()

	s := testutil.TestStore(t)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := service.New(s, logger, nil, sync.Options{})
	if _, err := svc.AddProject("main", t.TempDir(), true); err != nil {
		t.Fatal(err)
	}
	return New(svc)
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go doesn't expose a direct "call tool" test helper, so we call
	// the handler functions directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "write_note":
		result, err = srv.writeNote(ctx, req)
	case "read_note":
		result, err = srv.readNote(ctx, req)
	case "delete_note":
		result, err = srv.deleteNote(ctx, req)
	case "move_note":
		result, err = srv.moveNote(ctx, req)
	case "search_notes":
		result, err = srv.searchNotes(ctx, req)
	case "build_context":
		result, err = srv.buildContext(ctx, req)
	case "recent_activity":
		result, err = srv.recentActivity(ctx, req)
	case "sync_status":
		result, err = srv.syncStatus(ctx, req)
	case "list_projects":
		result, err = srv.listProjects(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestWriteAndReadNote(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "write_note", map[string]interface{}{
		"title":   "Coffee Brewing",
		"content": "- [method] pour over\n- requires [[Burr Grinder]]\n",
		"folder":  "guides",
		"tags":    "drinks, brewing",
	})
	text := resultText(r)
	if r.IsError || !strings.Contains(text, "memory://main/coffee-brewing") {
		t.Errorf("write result = %q", text)
	}

	r = callTool(t, srv, "read_note", map[string]interface{}{
		"identifier": "coffee-brewing",
	})
	text = resultText(r)
	if !strings.Contains(text, "pour over") || !strings.Contains(text, "title: Coffee Brewing") {
		t.Errorf("read result = %q", text)
	}

	// memory:// URL also resolves.
	r = callTool(t, srv, "read_note", map[string]interface{}{
		"identifier": "memory://main/coffee-brewing",
	})
	if r.IsError {
		t.Errorf("read by URL failed: %q", resultText(r))
	}
}

func TestReadNoteMissing(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "read_note", map[string]interface{}{"identifier": "nope"})
	if !r.IsError {
		t.Error("expected error for missing note")
	}
}

func TestMoveNote(t *testing.T) {
	srv := testServer(t)
	_ = callTool(t, srv, "write_note", map[string]interface{}{
		"title": "Roadmap", "content": "plan",
	})

	r := callTool(t, srv, "move_note", map[string]interface{}{
		"identifier": "roadmap",
		"new_path":   "archive/roadmap.md",
	})
	text := resultText(r)
	if r.IsError || !strings.Contains(text, "archive/roadmap.md") {
		t.Errorf("move result = %q", text)
	}
}

func TestDeleteNote(t *testing.T) {
	srv := testServer(t)
	_ = callTool(t, srv, "write_note", map[string]interface{}{
		"title": "Gone", "content": "x",
	})

	r := callTool(t, srv, "delete_note", map[string]interface{}{"identifier": "gone"})
	if r.IsError {
		t.Fatalf("delete failed: %q", resultText(r))
	}
	r = callTool(t, srv, "read_note", map[string]interface{}{"identifier": "gone"})
	if !r.IsError {
		t.Error("note should be gone")
	}
}

func TestSearchNotes(t *testing.T) {
	srv := testServer(t)
	_ = callTool(t, srv, "write_note", map[string]interface{}{
		"title": "Espresso Guide", "content": "grind fine for espresso",
	})

	r := callTool(t, srv, "search_notes", map[string]interface{}{"query": "espresso"})
	if r.IsError || !strings.Contains(resultText(r), "Espresso Guide") {
		t.Errorf("search result = %q", resultText(r))
	}

	r = callTool(t, srv, "search_notes", map[string]interface{}{"query": "zzz-nothing"})
	if resultText(r) != "no results" {
		t.Errorf("empty search = %q", resultText(r))
	}
}

func TestBuildContext(t *testing.T) {
	srv := testServer(t)
	_ = callTool(t, srv, "write_note", map[string]interface{}{
		"title": "Tea", "content": "leaves",
	})
	_ = callTool(t, srv, "write_note", map[string]interface{}{
		"title": "Coffee", "content": "- pairs_with [[Tea]]\n",
	})

	r := callTool(t, srv, "build_context", map[string]interface{}{
		"url": "memory://main/coffee",
	})
	text := resultText(r)
	if r.IsError || !strings.Contains(text, `"related"`) || !strings.Contains(text, "Tea") {
		t.Errorf("context result = %q", text)
	}
}

func TestRecentActivityAndStatus(t *testing.T) {
	srv := testServer(t)
	_ = callTool(t, srv, "write_note", map[string]interface{}{
		"title": "Fresh", "content": "x",
	})

	r := callTool(t, srv, "recent_activity", map[string]interface{}{"timeframe": "1d"})
	if r.IsError || !strings.Contains(resultText(r), "Fresh") {
		t.Errorf("recent activity = %q", resultText(r))
	}

	r = callTool(t, srv, "sync_status", map[string]interface{}{})
	if r.IsError || !strings.Contains(resultText(r), "main") {
		t.Errorf("sync status = %q", resultText(r))
	}
}

func TestListProjects(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "list_projects", map[string]interface{}{})
	if r.IsError || !strings.Contains(resultText(r), `"main"`) {
		t.Errorf("projects = %q", resultText(r))
	}
}
