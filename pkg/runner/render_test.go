package runner

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/rhuss/polyrun/pkg/sandbox"
	"github.com/rhuss/polyrun/pkg/value"
)

func TestRender_DeclaresImports(t *testing.T) {
	imports := value.Set{
		"count": value.NewInt(3),
		"name":  value.NewString("ada"),
	}

	tests := []struct {
		name   string
		render Render
		file   string
		want   []string
	}{
		{"python", renderPython, "main.py", []string{`count = 3`, `name = "ada"`, "import json as _polyrun_json"}},
		{"javascript", renderJavaScript, "main.cjs", []string{`var count = 3;`, `var name = "ada";`}},
		{"bash", renderBash, "main.sh", []string{`count='3'`, `name='ada'`}},
		{"cpp", renderCpp, "main.cpp", []string{`const long long count = 3LL;`, `const std::string name = "ada";`}},
		{"go", renderGo, "main.go", []string{`var count int64 = 3`, `var name = "ada"`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files, err := tt.render("", imports, nil)
			if err != nil {
				t.Fatalf("render: %v", err)
			}
			src, ok := files[tt.file]
			if !ok {
				t.Fatalf("no %s in %v", tt.file, files)
			}
			for _, w := range tt.want {
				if !strings.Contains(src, w) {
					t.Errorf("source missing %q:\n%s", w, src)
				}
			}
		})
	}
}

func TestRender_ExportEpilogue(t *testing.T) {
	tests := []struct {
		name   string
		render Render
		file   string
		code   string
		want   []string
	}{
		{"python", renderPython, "main.py", "x = 1", []string{`_polyrun_export(["x", "y"])`}},
		{"javascript", renderJavaScript, "main.cjs", "let x = 1;", []string{
			`__polyrunOut["x"] = __polyrunSafe(typeof x === "undefined" ? undefined : x);`,
			`process.env.POLYRUN_EXPORT_FILE`,
		}},
		{"bash", renderBash, "main.sh", "x=1", []string{
			"__polyrun_status=$?",
			"  __polyrun_val x\n",
			`printf ',"y":'`,
			"exit $__polyrun_status",
		}},
		{"cpp", renderCpp, "main.cpp", "int x = 1;", []string{
			`polyrun::json(x)`,
			`polyrun_out << ",\"y\":" << polyrun::json(y);`,
			"static const std::nullptr_t y = nullptr;\n",
		}},
		{"go", renderGo, "main.go", "x := 1", []string{
			`polyrunWriteExports(map[string]any{"x": x, "y": y})`,
			"var y any\n",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files, err := tt.render(tt.code, nil, []string{"x", "y"})
			if err != nil {
				t.Fatalf("render: %v", err)
			}
			src := files[tt.file]
			for _, w := range tt.want {
				if !strings.Contains(src, w) {
					t.Errorf("source missing %q:\n%s", w, src)
				}
			}
		})
	}
}

func TestRenderCpp_WrapsMainAndKeepsHelpers(t *testing.T) {
	code := `#include <iostream>
using namespace std;

int square(int v) { return v * v; }

int main() {
    cout << square(4) << endl;
    return 0;
}`
	files, _ := renderCpp(code, nil, nil)
	src := files["main.cpp"]

	if strings.Count(src, "int main()") != 1 {
		t.Errorf("expected exactly one main:\n%s", src)
	}
	if strings.Count(src, "#include <iostream>") != 1 || !strings.Contains(src, "using namespace std;") {
		t.Errorf("preamble not carried:\n%s", src)
	}
	helper := strings.Index(src, "int square(int v)")
	main := strings.Index(src, "int main()")
	if helper < 0 || helper > main {
		t.Errorf("helper must precede main:\n%s", src)
	}
	if !strings.Contains(src, "    cout << square(4) << endl;\n    return 0;\n}") {
		t.Errorf("body not placed in main:\n%s", src)
	}
}

func TestRenderCpp_ExportPlaceholders(t *testing.T) {
	code := `#include <cstdio>
int total = 5;
int main() {
    std::printf("count\n");
    return 0;
}`
	files, _ := renderCpp(code, value.Set{"seed": value.NewInt(1)}, []string{"total", "seed", "count"})
	src := files["main.cpp"]

	if !strings.Contains(src, "static const std::nullptr_t count = nullptr;\n") {
		t.Errorf("placeholder for undeclared export missing:\n%s", src)
	}
	for _, name := range []string{"total", "seed"} {
		if strings.Contains(src, "std::nullptr_t "+name+" ") {
			t.Errorf("placeholder emitted for declared %s:\n%s", name, src)
		}
	}
	if main, placeholder := strings.Index(src, "int main()"), strings.Index(src, "std::nullptr_t count"); placeholder > main {
		t.Errorf("placeholder must precede main:\n%s", src)
	}
}

func TestRenderGo_StatementMode(t *testing.T) {
	files, _ := renderGo("fmt.Println(strings.ToUpper(\"hi\"))", value.Set{"ratio": value.NewFloat(0.5)}, nil)
	src := files["main.go"]

	want := "package main\n\nimport (\n\t\"fmt\"\n\t\"strings\"\n)\n\nvar ratio float64 = 0.5\n\nfunc main() {\n\tfmt.Println(strings.ToUpper(\"hi\"))\n}\n"
	if diff := cmp.Diff(want, src); diff != "" {
		t.Errorf("main.go mismatch (-want +got):\n%s", diff)
	}
	if _, ok := files["polyrun_helpers.go"]; !ok {
		t.Error("helpers file missing")
	}
}

func TestRenderGo_FileMode(t *testing.T) {
	code := `package main

import "fmt"

var total = 0

func add(n int) { total += n }

func main() {
	add(2)
	fmt.Println(total)
}`
	files, _ := renderGo(code, nil, []string{"total", "local"})
	src := files["main.go"]

	if strings.Count(src, "package main") != 1 {
		t.Errorf("package clause duplicated:\n%s", src)
	}
	if strings.Count(src, `"fmt"`) != 1 {
		t.Errorf("fmt imported more than once:\n%s", src)
	}
	if !strings.Contains(src, "func main() {\n\tdefer func() { polyrunWriteExports(map[string]any{\"total\": total, \"local\": nil}) }()\n") {
		t.Errorf("export hook not injected:\n%s", src)
	}
}

func TestRenderGo_FileModeWithoutMain(t *testing.T) {
	files, _ := renderGo("func helper() int { return 1 }", nil, nil)
	if !strings.Contains(files["main.go"], "func main() {\n}") {
		t.Errorf("main not synthesized:\n%s", files["main.go"])
	}
}

func TestGoImports(t *testing.T) {
	tests := []struct {
		name     string
		program  string
		explicit []string
		want     []string
	}{
		{"auto", "fmt.Println(math.Pi)", nil, []string{`"fmt"`, `"math"`}},
		{"explicit kept", "fmt.Println()", []string{`"fmt"`}, []string{`"fmt"`}},
		{"aliased", "str.ToUpper(x)", []string{`str "strings"`}, []string{`str "strings"`}},
		{"field access ignored", "p.json.Name", nil, nil},
		{"nested path", "json.Marshal(v)", nil, []string{`"encoding/json"`}},
		{"unknown package", "foo.Bar()", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := goImports(tt.program, tt.explicit)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("goImports mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// The remaining tests execute real toolchains and skip when they are not
// installed.

func requireTool(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not on PATH", name)
	}
}

func roundTrip(t *testing.T, run Runner, code string, imports value.Set, exports []string) *Result {
	t.Helper()
	art, err := run.Prepare(code, imports, exports)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	defer run.Cleanup(art)
	return run.Execute(context.Background(), art, sandbox.Limits{Timeout: 60 * time.Second})
}

func TestToolchain_RoundTrip(t *testing.T) {
	imports := value.Set{
		"n":     value.NewInt(20),
		"words": value.NewList(value.NewString("a"), value.NewString("b")),
	}

	tests := []struct {
		name  string
		tool  string
		new   Factory
		code  string
		check func(t *testing.T, got value.Value)
	}{
		{"python", "python3", NewPython, "out = n * 2 + len(words)", func(t *testing.T, got value.Value) {
			if got.Kind() != value.Int || got.Int() != 42 {
				t.Errorf("out = %v, want 42", got)
			}
		}},
		{"javascript", "node", NewJavaScript, "const out = n * 2 + words.length;", func(t *testing.T, got value.Value) {
			if got.Kind() != value.Int || got.Int() != 42 {
				t.Errorf("out = %v, want 42", got)
			}
		}},
		{"bash", "bash", NewBash, "declare -i out=$(( n * 2 + ${#words[@]} ))", func(t *testing.T, got value.Value) {
			if got.Kind() != value.Int || got.Int() != 42 {
				t.Errorf("out = %v, want 42", got)
			}
		}},
		{"cpp", "g++", NewCpp, "long long out = n * 2 + (long long)words.size();", func(t *testing.T, got value.Value) {
			if got.Kind() != value.Int || got.Int() != 42 {
				t.Errorf("out = %v, want 42", got)
			}
		}},
		{"go", "go", NewGo, "out := n*2 + int64(len(words))", func(t *testing.T, got value.Value) {
			if got.Kind() != value.Int || got.Int() != 42 {
				t.Errorf("out = %v, want 42", got)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireTool(t, tt.tool)
			res := roundTrip(t, tt.new(Env{TempDir: t.TempDir()}), tt.code, imports, []string{"out"})
			if res.Status != StatusCompleted {
				t.Fatalf("Status = %s, stderr = %s", res.Status, res.Stderr)
			}
			tt.check(t, res.Exported["out"])
		})
	}
}

func TestToolchain_CompileFailure(t *testing.T) {
	requireTool(t, "g++")
	res := roundTrip(t, NewCpp(Env{TempDir: t.TempDir()}), "int x = ;", nil, nil)
	if res.Status != StatusCompileFailed {
		t.Errorf("Status = %s, want compile_failed", res.Status)
	}
	if res.Stderr == "" {
		t.Error("compiler diagnostics missing")
	}
}

func TestToolchain_RuntimeFailure(t *testing.T) {
	requireTool(t, "python3")
	res := roundTrip(t, NewPython(Env{TempDir: t.TempDir()}), "raise SystemExit(3)", nil, []string{"x"})
	if res.Status != StatusRuntimeFailed || res.ExitCode != 3 {
		t.Errorf("Status = %s, ExitCode = %d", res.Status, res.ExitCode)
	}
	if len(res.Exported) != 0 {
		t.Errorf("Exported = %v, want empty", res.Exported)
	}
}

func TestToolchain_CppExportFallsBackToNull(t *testing.T) {
	requireTool(t, "g++")

	tests := []struct {
		name string
		code string
		want value.Value
	}{
		{"only in a string", `std::printf("total\n");`, value.NewNull()},
		{"nested scope", "for (int i = 0; i < 1; i++) { int total = i; (void)total; }", value.NewNull()},
		{"top level of main", "int total = 7;", value.NewInt(7)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := roundTrip(t, NewCpp(Env{TempDir: t.TempDir()}), tt.code, nil, []string{"total"})
			if res.Status != StatusCompleted {
				t.Fatalf("Status = %s, stderr = %s", res.Status, res.Stderr)
			}
			got, ok := res.Exported["total"]
			if !ok {
				t.Fatalf("total not exported: %v", res.Exported)
			}
			if !got.Equal(tt.want) {
				t.Errorf("total = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToolchain_BashControlCharacters(t *testing.T) {
	requireTool(t, "bash")
	code := "colored=$'x\\x01y\\e[31mz\\b'\nplain=ok"
	res := roundTrip(t, NewBash(Env{TempDir: t.TempDir()}), code, nil, []string{"colored", "plain"})
	if res.Status != StatusCompleted {
		t.Fatalf("Status = %s, stderr = %s", res.Status, res.Stderr)
	}
	if got := res.Exported["colored"]; got.Kind() != value.String || got.Str() != "x\x01y\x1b[31mz\b" {
		t.Errorf("colored = %q, want the control bytes preserved", got.Str())
	}
	if got := res.Exported["plain"]; got.Str() != "ok" {
		t.Errorf("plain = %v, want ok", got)
	}
}

func TestToolchain_TimeoutLeavesNoWorkspace(t *testing.T) {
	requireTool(t, "python3")
	dir := t.TempDir()
	run := NewPython(Env{TempDir: dir})

	art, err := run.Prepare("import time\nresult = 1\ntime.sleep(5)", nil, []string{"result"})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	res := run.Execute(context.Background(), art, sandbox.Limits{Timeout: 500 * time.Millisecond})
	run.Cleanup(art)

	if res.Status != StatusTimedOut {
		t.Errorf("Status = %s, want timed_out", res.Status)
	}
	if len(res.Exported) != 0 {
		t.Errorf("Exported = %v, want empty", res.Exported)
	}
	left, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("%d entries left in the temp dir after cleanup", len(left))
	}
}
