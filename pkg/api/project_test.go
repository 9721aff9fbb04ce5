package api

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func strPtr(s string) *string { return &s }

func TestDetectLanguages(t *testing.T) {
	src := "#lang:python\nx = 1\n#lang:cpp\nint a;\n#lang:Python\nprint(x)\n"
	langs, count := DetectLanguages(src)
	if diff := cmp.Diff([]string{"python", "cpp"}, langs); diff != "" {
		t.Errorf("languages mismatch (-want +got):\n%s", diff)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestNewProject(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := NewProject(&ProjectInput{
		Name:   strPtr("  demo "),
		Source: strPtr("#lang:bash\necho hi\n"),
		Tags:   []string{"Demo", "demo", " shell ", ""},
	}, "alice", now)

	if !ValidateProjectID(p.ID) {
		t.Errorf("ID = %q, want a valid project ID", p.ID)
	}
	if p.Name != "demo" || p.Owner != "alice" || p.Version != 1 {
		t.Errorf("project = %+v", p)
	}
	if diff := cmp.Diff([]string{"demo", "shell"}, p.Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"bash"}, p.Languages); diff != "" {
		t.Errorf("languages mismatch (-want +got):\n%s", diff)
	}
	if !p.CreatedAt.Equal(now) || !p.UpdatedAt.Equal(now) {
		t.Errorf("timestamps = %v/%v, want %v", p.CreatedAt, p.UpdatedAt, now)
	}
}

func TestProjectApply(t *testing.T) {
	now := time.Now()
	p := NewProject(&ProjectInput{Name: strPtr("demo"), Source: strPtr("#lang:bash\necho 1\n")}, "", now)

	if prev := p.Apply(&ProjectInput{Description: strPtr("about")}, now); prev != nil {
		t.Errorf("metadata update returned version %+v, want nil", prev)
	}
	if p.Version != 1 || p.Description != "about" {
		t.Errorf("project = %+v", p)
	}

	later := now.Add(time.Minute)
	prev := p.Apply(&ProjectInput{Source: strPtr("#lang:python\nprint(2)\n"), Changes: "port"}, later)
	want := &ProjectVersion{ProjectID: p.ID, Version: 1, Source: "#lang:bash\necho 1\n", Changes: "port", CreatedAt: later}
	if diff := cmp.Diff(want, prev); diff != "" {
		t.Errorf("previous version mismatch (-want +got):\n%s", diff)
	}
	if p.Version != 2 || p.Languages[0] != "python" {
		t.Errorf("project = %+v", p)
	}
}

func TestProjectMatches(t *testing.T) {
	p := &Project{Name: "Fibonacci", Description: "numbers", Author: "bob", Tags: []string{"math", "cpp"}}
	tests := []struct {
		filter ProjectFilter
		want   bool
	}{
		{ProjectFilter{}, true},
		{ProjectFilter{Tag: "MATH"}, true},
		{ProjectFilter{Tag: "web"}, false},
		{ProjectFilter{Author: "bob"}, true},
		{ProjectFilter{Author: "eve"}, false},
		{ProjectFilter{Search: "fibo"}, true},
		{ProjectFilter{Search: "NUMB"}, true},
		{ProjectFilter{Search: "cp"}, true},
		{ProjectFilter{Search: "sorting"}, false},
	}
	for _, tt := range tests {
		if got := p.Matches(tt.filter); got != tt.want {
			t.Errorf("Matches(%+v) = %v, want %v", tt.filter, got, tt.want)
		}
	}
}

func TestProjectAccess(t *testing.T) {
	private := &Project{Owner: "alice"}
	public := &Project{Owner: "alice", Public: true}
	tests := []struct {
		name        string
		p           *Project
		owner       string
		wantVisible bool
		wantOwned   bool
	}{
		{"anonymous sees all", private, "", true, true},
		{"owner", private, "alice", true, true},
		{"other user private", private, "bob", false, false},
		{"other user public", public, "bob", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.VisibleTo(tt.owner); got != tt.wantVisible {
				t.Errorf("VisibleTo(%q) = %v, want %v", tt.owner, got, tt.wantVisible)
			}
			if got := tt.p.OwnedBy(tt.owner); got != tt.wantOwned {
				t.Errorf("OwnedBy(%q) = %v, want %v", tt.owner, got, tt.wantOwned)
			}
		})
	}
}

func TestProjectClone(t *testing.T) {
	p := &Project{Tags: []string{"a"}, Metadata: map[string]string{"k": "v"}}
	c := p.Clone()
	c.Tags[0] = "b"
	c.Metadata["k"] = "w"
	if p.Tags[0] != "a" || p.Metadata["k"] != "v" {
		t.Errorf("Clone shares state with original: %+v", p)
	}
}
