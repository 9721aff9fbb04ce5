package runner

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rhuss/polyrun/pkg/value"
)

// NewGo creates the Go runner. Blocks may be bare statements, which are
// wrapped in main, or a file body with func main.
func NewGo(env Env) Runner {
	return New(Definition{
		Language:    "go",
		File:        "main.go",
		Toolchain:   "go",
		VersionArgs: []string{"version"},
		Compile:     []string{"go", "build", "-o", "{work}/prog", "{src}/main.go", "{src}/polyrun_helpers.go"},
		Run:         []string{"{work}/prog"},
		Render:      renderGo,
	}, env)
}

const goHelpers = `package main

import (
	"encoding/json"
	"fmt"
	"os"
)

func ` + value.GoJSONHelper + `(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func polyrunWriteExports(values map[string]any) {
	out := make(map[string]any, len(values))
	for name, v := range values {
		if _, err := json.Marshal(v); err != nil {
			v = fmt.Sprint(v)
		}
		out[name] = v
	}
	data, err := json.Marshal(out)
	if err != nil {
		fmt.Fprintln(os.Stderr, "polyrun: encoding exports:", err)
		return
	}
	path := os.Getenv("POLYRUN_EXPORT_FILE")
	if path == "" {
		path = "__export__.json"
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fmt.Fprintln(os.Stderr, "polyrun: writing exports:", err)
	}
}
`

// goStdlib maps package identifiers to import paths for automatic
// imports.
var goStdlib = map[string]string{
	"bufio":    "bufio",
	"bytes":    "bytes",
	"errors":   "errors",
	"fmt":      "fmt",
	"json":     "encoding/json",
	"math":     "math",
	"os":       "os",
	"rand":     "math/rand",
	"regexp":   "regexp",
	"slices":   "slices",
	"sort":     "sort",
	"strconv":  "strconv",
	"strings":  "strings",
	"sync":     "sync",
	"time":     "time",
	"unicode":  "unicode",
	"maps":     "maps",
	"big":      "math/big",
	"utf8":     "unicode/utf8",
	"filepath": "path/filepath",
}

var (
	goPackageLine  = regexp.MustCompile(`^\s*package\s+\w+\s*$`)
	goImportLine   = regexp.MustCompile(`^\s*import\s+((\w+|_|\.)\s+)?"([^"]+)"\s*$`)
	goImportOpen   = regexp.MustCompile(`^\s*import\s*\(\s*$`)
	goImportSpec   = regexp.MustCompile(`^\s*((\w+|_|\.)\s+)?"([^"]+)"\s*$`)
	goTopLevel     = regexp.MustCompile(`^(func|type)\s`)
	goMainFunc     = regexp.MustCompile(`^func\s+main\s*\(\s*\)\s*\{\s*$`)
	goPkgReference = regexp.MustCompile(`(?:^|[^.\w])([a-z][a-z0-9]*)\.[A-Za-z_]`)
	goVarDecl      = regexp.MustCompile(`^(?:var|const)\s+(\w+)`)
	goDeclOpen     = regexp.MustCompile(`^(?:var|const)\s*\(\s*$`)
	goDeclSpec     = regexp.MustCompile(`^\s+(\w+)`)
)

func renderGo(code string, imports value.Set, exports []string) (map[string]string, error) {
	var d value.Go
	body, explicit := liftGoImports(code)

	var decls strings.Builder
	for _, name := range imports.Names() {
		decls.WriteString(d.Declare(name, imports[name]))
		decls.WriteString("\n")
	}

	fileMode := false
	for _, line := range body {
		if goTopLevel.MatchString(line) {
			fileMode = true
			break
		}
	}

	var exportCall string
	if len(exports) > 0 {
		var pkgLevel map[string]bool
		if fileMode {
			pkgLevel = goPackageVars(body)
		}
		parts := make([]string, len(exports))
		for i, name := range exports {
			_, imported := imports[name]
			visible := true
			switch {
			case fileMode:
				// The export runs in a deferred closure at the top of
				// main, where only package-level names are in scope.
				visible = imported || pkgLevel[name]
			case !imported:
				// A declaration at the top level of main shadows the
				// placeholder.
				decls.WriteString("var " + name + " any\n")
			}
			expr := "nil"
			if visible {
				expr = name
			}
			parts[i] = strconv.Quote(name) + ": " + expr
		}
		exportCall = "polyrunWriteExports(map[string]any{" + strings.Join(parts, ", ") + "})"
	}

	var main strings.Builder
	if fileMode {
		hasMain := false
		for _, line := range body {
			main.WriteString(line)
			main.WriteString("\n")
			if !hasMain && goMainFunc.MatchString(line) {
				hasMain = true
				if exportCall != "" {
					main.WriteString("\tdefer func() { " + exportCall + " }()\n")
				}
			}
		}
		if !hasMain {
			main.WriteString("\nfunc main() {\n")
			if exportCall != "" {
				main.WriteString("\t" + exportCall + "\n")
			}
			main.WriteString("}\n")
		}
	} else {
		main.WriteString("func main() {\n")
		for _, line := range body {
			if strings.TrimSpace(line) == "" {
				main.WriteString("\n")
				continue
			}
			main.WriteString("\t" + line + "\n")
		}
		if exportCall != "" {
			main.WriteString("\t" + exportCall + "\n")
		}
		main.WriteString("}\n")
	}

	program := decls.String() + "\n" + main.String()
	paths := goImports(program, explicit)

	var b strings.Builder
	b.WriteString("package main\n\n")
	if len(paths) > 0 {
		b.WriteString("import (\n")
		for _, p := range paths {
			b.WriteString("\t" + p + "\n")
		}
		b.WriteString(")\n\n")
	}
	b.WriteString(program)

	return map[string]string{
		"main.go":            b.String(),
		"polyrun_helpers.go": goHelpers,
	}, nil
}

// goPackageVars returns the names declared by top-level var and const
// declarations.
func goPackageVars(lines []string) map[string]bool {
	out := make(map[string]bool)
	inBlock := false
	for _, line := range lines {
		if inBlock {
			if strings.TrimSpace(line) == ")" {
				inBlock = false
				continue
			}
			if m := goDeclSpec.FindStringSubmatch(line); m != nil {
				out[m[1]] = true
			}
			continue
		}
		if goDeclOpen.MatchString(line) {
			inBlock = true
			continue
		}
		if m := goVarDecl.FindStringSubmatch(line); m != nil {
			out[m[1]] = true
		}
	}
	return out
}

// liftGoImports removes package clauses and import declarations from
// code and returns the remaining lines with the import specs found.
func liftGoImports(code string) (body, specs []string) {
	inBlock := false
	for _, line := range strings.Split(code, "\n") {
		switch {
		case inBlock:
			if strings.TrimSpace(line) == ")" {
				inBlock = false
				continue
			}
			if goImportSpec.MatchString(line) {
				specs = append(specs, strings.TrimSpace(line))
			}
			continue
		case goPackageLine.MatchString(line):
			continue
		case goImportOpen.MatchString(line):
			inBlock = true
			continue
		case goImportLine.MatchString(line):
			specs = append(specs, strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "import")))
			continue
		}
		body = append(body, line)
	}
	return trimBlankLines(body), specs
}

// goImports returns the import specs for program: the explicit ones plus
// any standard package referenced but not imported.
func goImports(program string, explicit []string) []string {
	have := make(map[string]bool)
	bound := make(map[string]bool)
	var out []string
	for _, spec := range explicit {
		if have[spec] {
			continue
		}
		have[spec] = true
		out = append(out, spec)

		m := goImportSpec.FindStringSubmatch(spec)
		if m == nil {
			continue
		}
		name := m[2]
		if name == "" {
			path := m[3]
			name = path[strings.LastIndex(path, "/")+1:]
		}
		bound[name] = true
	}

	var auto []string
	for _, m := range goPkgReference.FindAllStringSubmatch(program, -1) {
		name := m[1]
		path, ok := goStdlib[name]
		if !ok || bound[name] {
			continue
		}
		bound[name] = true
		auto = append(auto, strconv.Quote(path))
	}
	sort.Strings(auto)
	return append(out, auto...)
}

func trimBlankLines(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
