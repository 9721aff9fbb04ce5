package api

import (
	"strings"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestValidateExecuteRequest(t *testing.T) {
	cfg := DefaultValidationConfig()
	tests := []struct {
		name      string
		req       ExecuteRequest
		wantParam string
	}{
		{"valid", ExecuteRequest{Code: "#lang:python\nprint(1)"}, ""},
		{"valid with language", ExecuteRequest{Code: "print(1)", Language: "python", TimeoutSeconds: 10}, ""},
		{"empty code", ExecuteRequest{Code: "  \n"}, "code"},
		{"too large", ExecuteRequest{Code: strings.Repeat("x", cfg.MaxSourceSize+1)}, "code"},
		{"negative timeout", ExecuteRequest{Code: "x", TimeoutSeconds: -1}, "timeout_seconds"},
		{"timeout over max", ExecuteRequest{Code: "x", TimeoutSeconds: 301}, "timeout_seconds"},
		{"language list", ExecuteRequest{Code: "x", Language: "python,bash"}, "language"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExecuteRequest(&tt.req, cfg)
			if tt.wantParam == "" {
				if err != nil {
					t.Fatalf("ValidateExecuteRequest() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("ValidateExecuteRequest() = nil, want error on %q", tt.wantParam)
			}
			if err.Param != tt.wantParam {
				t.Errorf("Param = %q, want %q", err.Param, tt.wantParam)
			}
			if err.Type != ErrorTypeInvalidRequest {
				t.Errorf("Type = %q, want %q", err.Type, ErrorTypeInvalidRequest)
			}
		})
	}
}

func TestExecuteRequest_Source(t *testing.T) {
	plain := ExecuteRequest{Code: "#lang:bash\necho hi"}
	if got := plain.Source(); got != plain.Code {
		t.Errorf("Source() = %q, want code unchanged", got)
	}
	wrapped := ExecuteRequest{Code: "print(1)", Language: "py"}
	if got, want := wrapped.Source(), "#lang:py\nprint(1)"; got != want {
		t.Errorf("Source() = %q, want %q", got, want)
	}
}

func TestValidateProjectInput(t *testing.T) {
	cfg := DefaultValidationConfig()
	tests := []struct {
		name      string
		in        ProjectInput
		create    bool
		wantParam string
	}{
		{"create valid", ProjectInput{Name: strPtr("demo"), Source: strPtr("#lang:bash\necho")}, true, ""},
		{"create without name", ProjectInput{Source: strPtr("x")}, true, "name"},
		{"create without source", ProjectInput{Name: strPtr("demo")}, true, "source"},
		{"update empty", ProjectInput{}, false, ""},
		{"update blank name", ProjectInput{Name: strPtr(" ")}, false, "name"},
		{"long name", ProjectInput{Name: strPtr(strings.Repeat("n", 201))}, false, "name"},
		{"too many tags", ProjectInput{Tags: make([]string, 21)}, false, "tags"},
		{"empty tag", ProjectInput{Tags: []string{"ok", ""}}, false, "tags[1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProjectInput(&tt.in, tt.create, cfg)
			switch {
			case tt.wantParam == "" && err != nil:
				t.Fatalf("ValidateProjectInput() = %v, want nil", err)
			case tt.wantParam != "" && err == nil:
				t.Fatalf("ValidateProjectInput() = nil, want error on %q", tt.wantParam)
			case err != nil && err.Param != tt.wantParam:
				t.Errorf("Param = %q, want %q", err.Param, tt.wantParam)
			}
		})
	}
}

func TestProjectFilter_Normalize(t *testing.T) {
	tests := []struct {
		in              ProjectFilter
		wantLim, wantOf int
	}{
		{ProjectFilter{}, 20, 0},
		{ProjectFilter{Limit: 500, Offset: -3}, 100, 0},
		{ProjectFilter{Limit: 5, Offset: 10}, 5, 10},
	}
	for _, tt := range tests {
		got := tt.in.Normalize()
		if got.Limit != tt.wantLim || got.Offset != tt.wantOf {
			t.Errorf("Normalize(%+v) = limit %d offset %d, want %d/%d", tt.in, got.Limit, got.Offset, tt.wantLim, tt.wantOf)
		}
	}
}
