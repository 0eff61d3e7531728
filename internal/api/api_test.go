package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/starford/loam/internal/service"
	"github.com/starford/loam/internal/sync"
	"github.com/starford/loam/internal/testutil"
)

// testEnv sets up a temp vault, SQLite store, service, and router.
// An empty authToken means disabled auth.
func testEnv(t *testing.T, authToken string) (*service.Service, http.Handler) {
	t.Helper()

	s := testutil.TestStore(t)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := service.New(s, logger, nil, sync.Options{})
	if _, err := svc.AddProject("main", t.TempDir(), true); err != nil {
		t.Fatalf("AddProject: %v", err)
	}

	router := NewRouter(svc, authToken != "", authToken, nil)
	return svc, router
}

func do(router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWriteAndGetEntity(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(router, http.MethodPost, "/main/entities", WriteEntityRequest{
		Title:   "Coffee Notes",
		Folder:  "drinks",
		Content: "- [method] pour over\n- pairs_with [[Tea]]\n",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("write status = %d, body = %s", w.Code, w.Body.String())
	}
	var det EntityDetail
	_ = json.Unmarshal(w.Body.Bytes(), &det)
	if det.Permalink != "coffee-notes" || det.FilePath != "drinks/coffee-notes.md" {
		t.Errorf("entity = %+v", det.Entity)
	}

	w = do(router, http.MethodGet, "/main/entities/coffee-notes", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var got EntityDetail
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.Title != "Coffee Notes" || len(got.Observations) != 1 {
		t.Errorf("detail = %+v", got)
	}
}

func TestGetEntityByEncodedPath(t *testing.T) {
	_, router := testEnv(t, "")
	if w := do(router, http.MethodPost, "/main/entities", WriteEntityRequest{Title: "Deep", Folder: "a/b", Content: "x"}); w.Code != http.StatusCreated {
		t.Fatalf("write = %d", w.Code)
	}

	w := do(router, http.MethodGet, "/main/entities/a%2Fb%2Fdeep.md", nil)
	if w.Code != http.StatusOK {
		t.Errorf("encoded path get = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestGetEntityNotFound(t *testing.T) {
	_, router := testEnv(t, "")
	if w := do(router, http.MethodGet, "/main/entities/ghost", nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestUnknownProject(t *testing.T) {
	_, router := testEnv(t, "")
	if w := do(router, http.MethodGet, "/nope/entities", nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestMoveEntity(t *testing.T) {
	_, router := testEnv(t, "")
	if w := do(router, http.MethodPost, "/main/entities", WriteEntityRequest{Title: "Roadmap", Content: "plan"}); w.Code != http.StatusCreated {
		t.Fatalf("write = %d", w.Code)
	}

	w := do(router, http.MethodPost, "/main/entities/move", MoveEntityRequest{Identifier: "roadmap", NewPath: "archive/roadmap.md"})
	if w.Code != http.StatusOK {
		t.Fatalf("move status = %d, body = %s", w.Code, w.Body.String())
	}
	var det EntityDetail
	_ = json.Unmarshal(w.Body.Bytes(), &det)
	if det.FilePath != "archive/roadmap.md" || det.Permalink != "roadmap" {
		t.Errorf("moved = %+v", det.Entity)
	}
}

func TestPutEntityByPath(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(router, http.MethodPut, "/main/entities/notes/daily.md", WriteEntityFileRequest{
		Content: "# Daily\n\n- [log] first entry\n",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("put status = %d, body = %s", w.Code, w.Body.String())
	}
	var det EntityDetail
	_ = json.Unmarshal(w.Body.Bytes(), &det)
	if det.FilePath != "notes/daily.md" || len(det.Observations) != 1 {
		t.Errorf("entity = %+v", det.Entity)
	}

	// Replacing content updates the same entity.
	w = do(router, http.MethodPut, "/main/entities/notes/daily.md", WriteEntityFileRequest{
		Content: "# Daily\n\nrewritten\n",
	})
	var again EntityDetail
	_ = json.Unmarshal(w.Body.Bytes(), &again)
	if again.ID != det.ID {
		t.Errorf("put created a new entity: %d vs %d", again.ID, det.ID)
	}

	if w := do(router, http.MethodPut, "/main/entities/notes/daily.txt", WriteEntityFileRequest{Content: "x"}); w.Code != http.StatusConflict {
		t.Errorf("non-md put = %d, want 409", w.Code)
	}
}

func TestCreateProject(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(router, http.MethodPost, "/projects", CreateProjectRequest{Name: "Research", Path: t.TempDir()})
	if w.Code != http.StatusCreated {
		t.Fatalf("create project = %d, body = %s", w.Code, w.Body.String())
	}

	if w := do(router, http.MethodGet, "/research/entities", nil); w.Code != http.StatusOK {
		t.Errorf("new project listing = %d", w.Code)
	}

	if w := do(router, http.MethodPost, "/projects", CreateProjectRequest{Name: "Incomplete"}); w.Code != http.StatusBadRequest {
		t.Errorf("missing path = %d, want 400", w.Code)
	}
}

func TestDeleteEntity(t *testing.T) {
	_, router := testEnv(t, "")
	if w := do(router, http.MethodPost, "/main/entities", WriteEntityRequest{Title: "Gone", Content: "x"}); w.Code != http.StatusCreated {
		t.Fatalf("write = %d", w.Code)
	}
	if w := do(router, http.MethodDelete, "/main/entities/gone", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	if w := do(router, http.MethodGet, "/main/entities/gone", nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d", w.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	_, router := testEnv(t, "")
	if w := do(router, http.MethodPost, "/main/entities", WriteEntityRequest{Title: "Espresso Guide", Content: "grind fine for espresso"}); w.Code != http.StatusCreated {
		t.Fatalf("write = %d", w.Code)
	}

	w := do(router, http.MethodGet, "/main/search?q=espresso", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d", w.Code)
	}
	var resp SearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Results) != 1 {
		t.Errorf("results = %+v", resp.Results)
	}

	if w := do(router, http.MethodGet, "/main/search", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing q = %d, want 400", w.Code)
	}
}

func TestContextEndpoint(t *testing.T) {
	_, router := testEnv(t, "")
	if w := do(router, http.MethodPost, "/main/entities", WriteEntityRequest{Title: "Tea", Content: "leaves"}); w.Code != http.StatusCreated {
		t.Fatal("write tea")
	}
	if w := do(router, http.MethodPost, "/main/entities", WriteEntityRequest{Title: "Coffee", Content: "- pairs_with [[Tea]]\n"}); w.Code != http.StatusCreated {
		t.Fatal("write coffee")
	}

	w := do(router, http.MethodGet, "/main/context?ref=coffee&depth=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("context = %d, body = %s", w.Code, w.Body.String())
	}
	var snap struct {
		Roots   []json.RawMessage `json:"roots"`
		Related []json.RawMessage `json:"related"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &snap)
	if len(snap.Roots) != 1 || len(snap.Related) != 1 {
		t.Errorf("snapshot roots=%d related=%d", len(snap.Roots), len(snap.Related))
	}

	if w := do(router, http.MethodGet, "/main/context?ref=coffee&timeframe=bogus", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad timeframe = %d, want 400", w.Code)
	}
}

func TestProjectsEndpoint(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(router, http.MethodGet, "/projects", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("projects = %d", w.Code)
	}
	var resp ProjectListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Projects) != 1 || resp.Projects[0].Permalink != "main" {
		t.Errorf("projects = %+v", resp.Projects)
	}
}

func TestSyncStatusEndpoint(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(router, http.MethodGet, "/main/sync", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sync status = %d", w.Code)
	}
	var resp SyncStatusResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Statuses) != 1 || resp.Statuses[0].Project != "main" {
		t.Errorf("statuses = %+v", resp.Statuses)
	}

	if w := do(router, http.MethodPost, "/main/sync/scan", nil); w.Code != http.StatusAccepted {
		t.Errorf("trigger scan = %d, want 202", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	_, router := testEnv(t, "secret")

	if w := do(router, http.MethodGet, "/projects", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/projects", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/projects", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid token = %d, want 200", w.Code)
	}
}
