package http

import (
	"net/http"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/rhuss/polyrun/pkg/api"
)

func strPtr(s string) *string { return &s }

func createProject(t *testing.T, a *Adapter, name, src string, tags ...string) *api.Project {
	t.Helper()
	rec := do(t, a, http.MethodPost, "/api/projects", api.ProjectInput{
		Name:   strPtr(name),
		Source: strPtr(src),
		Tags:   tags,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	p := decode[api.Project](t, rec)
	return &p
}

func TestProjects_Lifecycle(t *testing.T) {
	a := newStoreAdapter(t)

	p := createProject(t, a, "hello", "#lang:echo\nprint hi\n#lang:python\nprint(1)\n", "Demo", "demo")
	if !api.ValidateProjectID(p.ID) {
		t.Errorf("ID = %q, want a project ID", p.ID)
	}
	if diff := cmp.Diff([]string{"demo"}, p.Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
	if p.LanguageCount != 2 || p.Version != 1 {
		t.Errorf("language_count=%d version=%d, want 2 and 1", p.LanguageCount, p.Version)
	}

	got := decode[api.Project](t, do(t, a, http.MethodGet, "/api/projects/"+p.ID, nil))
	if got.Name != "hello" {
		t.Errorf("get name = %q", got.Name)
	}

	rec := do(t, a, http.MethodPut, "/api/projects/"+p.ID, api.ProjectInput{
		Source:  strPtr("#lang:echo\nprint bye\n"),
		Changes: "shorter",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", rec.Code, rec.Body.String())
	}
	updated := decode[api.Project](t, rec)
	if updated.Version != 2 || updated.LanguageCount != 1 {
		t.Errorf("version=%d language_count=%d, want 2 and 1", updated.Version, updated.LanguageCount)
	}

	versions := decode[struct {
		Object string               `json:"object"`
		Data   []api.ProjectVersion `json:"data"`
	}](t, do(t, a, http.MethodGet, "/api/projects/"+p.ID+"/versions", nil))
	if len(versions.Data) != 1 || versions.Data[0].Source != p.Source || versions.Data[0].Changes != "shorter" {
		t.Errorf("versions = %+v", versions.Data)
	}

	if rec := do(t, a, http.MethodDelete, "/api/projects/"+p.ID, nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rec.Code)
	}
	if rec := do(t, a, http.MethodGet, "/api/projects/"+p.ID, nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", rec.Code)
	}
}

func TestProjects_Errors(t *testing.T) {
	a := newStoreAdapter(t)
	missing := api.NewProjectID()

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
	}{
		{"create without name", http.MethodPost, "/api/projects", api.ProjectInput{Source: strPtr("#lang:echo\nx\n")}, http.StatusBadRequest},
		{"create without source", http.MethodPost, "/api/projects", api.ProjectInput{Name: strPtr("x")}, http.StatusBadRequest},
		{"malformed id", http.MethodGet, "/api/projects/nope", nil, http.StatusBadRequest},
		{"missing project", http.MethodGet, "/api/projects/" + missing, nil, http.StatusNotFound},
		{"update missing", http.MethodPut, "/api/projects/" + missing, api.ProjectInput{Name: strPtr("x")}, http.StatusNotFound},
		{"update empty name", http.MethodPut, "/api/projects/" + missing, api.ProjectInput{Name: strPtr(" ")}, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/projects?limit=0", nil, http.StatusBadRequest},
		{"bad offset", http.MethodGet, "/api/projects?offset=x", nil, http.StatusBadRequest},
		{"malformed token", http.MethodGet, "/api/shared/zz", nil, http.StatusBadRequest},
		{"unknown token", http.MethodGet, "/api/shared/0123456789abcdef", nil, http.StatusNotFound},
		{"bad tag limit", http.MethodGet, "/api/tags?limit=-1", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, a, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestProjects_NoStore(t *testing.T) {
	a, _ := newTestAdapter(t, nil)
	for _, path := range []string{"/api/projects", "/api/tags", "/api/stats"} {
		if rec := do(t, a, http.MethodGet, path, nil); rec.Code != http.StatusNotImplemented {
			t.Errorf("GET %s = %d, want 501", path, rec.Code)
		}
	}
}

func TestProjects_ListAndTags(t *testing.T) {
	a := newStoreAdapter(t)
	createProject(t, a, "one", "#lang:echo\nprint 1\n", "go", "web")
	createProject(t, a, "two", "#lang:echo\nprint 2\n", "go")
	createProject(t, a, "three", "#lang:echo\nprint 3\n", "cli")

	list := decode[api.ProjectList](t, do(t, a, http.MethodGet, "/api/projects?tag=go&limit=1", nil))
	if list.Object != "list" || len(list.Data) != 1 || !list.HasMore {
		t.Errorf("list = %+v, want one of two go projects with more", list)
	}

	list = decode[api.ProjectList](t, do(t, a, http.MethodGet, "/api/projects?search=THR", nil))
	if len(list.Data) != 1 || list.Data[0].Name != "three" {
		t.Errorf("search returned %+v", list.Data)
	}

	tags := decode[[]api.TagCount](t, do(t, a, http.MethodGet, "/api/tags?limit=2", nil))
	want := []api.TagCount{{Name: "go", Count: 2}, {Name: "cli", Count: 1}}
	if diff := cmp.Diff(want, tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}

	stats := decode[api.Stats](t, do(t, a, http.MethodGet, "/api/stats", nil))
	if stats.TotalProjects != 3 || stats.LanguageDistribution[1] != 3 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestProjects_Run(t *testing.T) {
	a := newStoreAdapter(t)
	p := createProject(t, a, "runme", "#lang:echo\nprint from project\n")

	// The body is optional.
	req := httptestRequest(http.MethodPost, "/api/projects/"+p.ID+"/run", "")
	rec := serve(a, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("run status = %d, body = %s", rec.Code, rec.Body.String())
	}
	sum := decode[api.RunSummary](t, rec)
	if !sum.Success || sum.Output != "[echo] from project" {
		t.Errorf("summary = %+v", sum)
	}

	// Code in the body is ignored in favor of the stored source.
	rec = do(t, a, http.MethodPost, "/api/projects/"+p.ID+"/run?stream=true", api.ExecuteRequest{Code: "#lang:echo\nprint other\n"})
	types, events := readSSE(t, rec.Body.String())
	if types[len(types)-1] != "run_finished" {
		t.Fatalf("last event = %q", types[len(types)-1])
	}
	if out := events[len(events)-1].Summary.Output; out != "[echo] from project" {
		t.Errorf("streamed output = %q", out)
	}
}

func TestProjects_Share(t *testing.T) {
	a := newStoreAdapter(t)
	p := createProject(t, a, "shared", "#lang:echo\nprint 1\n")

	if rec := do(t, a, http.MethodPost, "/api/projects/"+p.ID+"/share", api.ShareRequest{TTLSeconds: -1}); rec.Code != http.StatusBadRequest {
		t.Errorf("negative ttl status = %d, want 400", rec.Code)
	}

	rec := do(t, a, http.MethodPost, "/api/projects/"+p.ID+"/share", api.ShareRequest{TTLSeconds: 3600})
	if rec.Code != http.StatusCreated {
		t.Fatalf("share status = %d, body = %s", rec.Code, rec.Body.String())
	}
	link := decode[api.ShareLink](t, rec)
	if !api.ValidateShareToken(link.Token) || link.ExpiresAt == nil {
		t.Errorf("link = %+v", link)
	}

	shared := decode[sharedProject](t, do(t, a, http.MethodGet, "/api/shared/"+link.Token, nil))
	if shared.Project == nil || shared.Project.ID != p.ID {
		t.Fatalf("shared project = %+v", shared.Project)
	}
	if shared.Share.AccessCount != 1 {
		t.Errorf("access count = %d, want 1", shared.Share.AccessCount)
	}

	stats := decode[api.Stats](t, do(t, a, http.MethodGet, "/api/stats", nil))
	if stats.ActiveShares != 1 {
		t.Errorf("active shares = %d, want 1", stats.ActiveShares)
	}
}

func TestParseProjectFilter_Clamps(t *testing.T) {
	req := httptestRequest(http.MethodGet, "/api/projects?limit=500&author=ann", "")
	f, apiErr := parseProjectFilter(req)
	if apiErr != nil {
		t.Fatalf("parseProjectFilter() error = %v", apiErr)
	}
	want := api.ProjectFilter{Author: "ann", Limit: api.MaxListLimit}
	if diff := cmp.Diff(want, f); diff != "" {
		t.Errorf("filter mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(req.URL.RawQuery, "limit=500") {
		t.Errorf("query modified: %q", req.URL.RawQuery)
	}
}
