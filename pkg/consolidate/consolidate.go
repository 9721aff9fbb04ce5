// Package consolidate merges same-language blocks into one execution unit
// per language.
//
// Unit-compiled languages (the C family) need a single translation unit,
// so their blocks are split into preamble lines (#include, #define,
// #pragma, using), top-level declarations, and the statements of main.
// The result has a sorted, deduplicated preamble followed by one
// synthesized main that runs every block's statements in order and ends
// with exactly one "return 0;". Other languages are concatenated with a
// blank line between blocks.
package consolidate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rhuss/polyrun/pkg/debug"
	"github.com/rhuss/polyrun/pkg/source"
)

// Block is the merged form of every source block in one language.
type Block struct {
	Language string
	Code     string
	Imports  []string
	Exports  []string

	// Preamble is the sorted, deduplicated set of preamble lines
	// (unit-compiled languages only).
	Preamble []string

	// Sources are the indexes of the source blocks merged into this one.
	Sources []int

	// SourceLine is the line of the first merged source block.
	SourceLine int
}

// Options controls how blocks are grouped and merged.
type Options struct {
	// Disabled passes blocks through one-to-one without merging.
	Disabled bool

	// Canonical maps a language name to its grouping key, so aliases such
	// as "c++" and "cpp" land in the same unit. Nil keeps names as written.
	Canonical func(language string) string

	// UnitCompiled reports whether a (canonical) language needs a single
	// translation unit. Nil uses IsUnitCompiled.
	UnitCompiled func(language string) bool
}

const successReturn = "return 0;"

var (
	unitCompiled = map[string]bool{"c": true, "cpp": true, "c++": true, "cc": true}

	preamblePattern = regexp.MustCompile(`^\s*(#\s*include\b|#\s*define\b|#\s*pragma\b|using\s+)`)
	mainPattern     = regexp.MustCompile(`^\s*(int|void)\s+main\s*\(`)
)

// IsUnitCompiled reports whether language is one of the C-family languages.
func IsUnitCompiled(language string) bool {
	return unitCompiled[strings.ToLower(language)]
}

// Consolidate merges blocks into one Block per language, in first-seen
// order.
func Consolidate(blocks []source.Block, opts Options) []Block {
	if opts.Canonical == nil {
		opts.Canonical = func(s string) string { return s }
	}
	if opts.UnitCompiled == nil {
		opts.UnitCompiled = IsUnitCompiled
	}

	if opts.Disabled {
		out := make([]Block, 0, len(blocks))
		for i, b := range blocks {
			out = append(out, Block{
				Language:   opts.Canonical(b.Language),
				Code:       b.Code,
				Imports:    b.Imports,
				Exports:    b.Exports,
				Sources:    []int{i},
				SourceLine: b.SourceLine,
			})
		}
		return out
	}

	var order []string
	groups := make(map[string]*accumulator)
	for i, b := range blocks {
		lang := opts.Canonical(b.Language)
		acc, ok := groups[lang]
		if !ok {
			acc = &accumulator{
				lang:     lang,
				unit:     opts.UnitCompiled(lang),
				preamble: make(map[string]bool),
				line:     b.SourceLine,
			}
			groups[lang] = acc
			order = append(order, lang)
		}
		acc.add(i, b)
	}

	out := make([]Block, 0, len(order))
	for _, lang := range order {
		out = append(out, groups[lang].build())
	}
	debug.Log("consolidate", "blocks merged", "in", len(blocks), "out", len(out))
	return out
}

type accumulator struct {
	lang     string
	unit     bool
	line     int
	sources  []int
	imports  []string
	exports  []string
	preamble map[string]bool
	decls    []string
	bodies   [][]string
	texts    []string
}

func (a *accumulator) add(index int, b source.Block) {
	a.sources = append(a.sources, index)

	// A name exported by an earlier block of the same unit is defined
	// natively inside the unit and needs no import.
	for _, name := range b.Imports {
		if !contains(a.exports, name) && !contains(a.imports, name) {
			a.imports = append(a.imports, name)
		}
	}
	for _, name := range b.Exports {
		if !contains(a.exports, name) {
			a.exports = append(a.exports, name)
		}
	}

	if !a.unit {
		a.texts = append(a.texts, b.Code)
		return
	}

	u := Split(b.Code)
	for _, line := range u.Preamble {
		a.preamble[line] = true
	}
	if len(u.Decls) > 0 {
		a.decls = append(a.decls, strings.Join(u.Decls, "\n"))
	}
	a.bodies = append(a.bodies, withSeparator(index, b.SourceLine, u.Body))
}

// Unit is C-family source split into its parts.
type Unit struct {
	// Preamble holds the trimmed preamble lines in source order.
	Preamble []string
	// Decls are the top-level lines outside main.
	Decls []string
	// Body holds the statements of main, dedented, without a trailing
	// success return.
	Body []string
}

// Split breaks C-family code into preamble lines, top-level declarations
// and the statements of main.
func Split(code string) Unit {
	var u Unit
	var rest []string
	for _, line := range strings.Split(code, "\n") {
		if preamblePattern.MatchString(line) {
			u.Preamble = append(u.Preamble, strings.TrimSpace(line))
			continue
		}
		rest = append(rest, line)
	}
	u.Decls, u.Body = splitMain(rest)
	return u
}

func withSeparator(index, line int, body []string) []string {
	out := make([]string, 0, len(body)+1)
	out = append(out, fmt.Sprintf("// --- block %d (line %d) ---", index+1, line))
	return append(out, body...)
}

// splitMain separates the lines of a C-family block into top-level
// declarations and the statements inside main. Braces inside literals and
// comments do not count toward the nesting of main. Lines that are only a
// success return are dropped from the body. A block without main
// contributes all of its lines as statements.
func splitMain(lines []string) (decls, body []string) {
	start := -1
	for i, line := range lines {
		if mainPattern.MatchString(line) {
			start = i
			break
		}
	}
	if start < 0 {
		for _, line := range lines {
			if strings.TrimSpace(line) == successReturn {
				continue
			}
			body = append(body, line)
		}
		return nil, trimBlank(body)
	}

	decls = trimBlank(lines[:start])

	var sc scanner
	for _, line := range lines[:start] {
		sc.code(line)
	}

	depth := 0
	opened := false
	end := len(lines)
	for i := start; i < len(lines); i++ {
		line := lines[i]
		code := sc.code(line)
		if !opened {
			// Skip the signature up to and including its opening brace.
			idx := strings.Index(code, "{")
			if idx < 0 {
				continue
			}
			opened = true
			depth = 1
			tail, tailCode := line[idx+1:], code[idx+1:]
			depth += strings.Count(tailCode, "{") - strings.Count(tailCode, "}")
			if depth <= 0 {
				inner := tail[:strings.LastIndex(tailCode, "}")]
				if s := strings.TrimSpace(inner); s != "" && s != successReturn {
					body = append(body, s)
				}
				end = i + 1
				break
			}
			if s := strings.TrimSpace(tail); s != "" && s != successReturn {
				body = append(body, s)
			}
			continue
		}

		depth += strings.Count(code, "{") - strings.Count(code, "}")
		if depth <= 0 {
			// Closing brace of main; keep anything before it on the line.
			if idx := strings.LastIndex(code, "}"); idx > 0 {
				if s := strings.TrimSpace(line[:idx]); s != "" && s != successReturn {
					body = append(body, s)
				}
			}
			end = i + 1
			break
		}
		if strings.TrimSpace(line) == successReturn {
			continue
		}
		body = append(body, line)
	}

	if end < len(lines) {
		if trailing := trimBlank(lines[end:]); len(trailing) > 0 {
			decls = append(decls, trailing...)
		}
	}
	return decls, dedent(trimBlank(body))
}

func (a *accumulator) build() Block {
	b := Block{
		Language:   a.lang,
		Imports:    a.imports,
		Exports:    a.exports,
		Sources:    a.sources,
		SourceLine: a.line,
	}

	if !a.unit {
		b.Code = strings.Join(a.texts, "\n\n")
		return b
	}

	b.Preamble = make([]string, 0, len(a.preamble))
	for line := range a.preamble {
		b.Preamble = append(b.Preamble, line)
	}
	sort.Strings(b.Preamble)

	var sb strings.Builder
	if len(b.Preamble) > 0 {
		sb.WriteString(strings.Join(b.Preamble, "\n"))
		sb.WriteString("\n\n")
	}
	for _, d := range a.decls {
		sb.WriteString(d)
		sb.WriteString("\n\n")
	}
	sb.WriteString("int main() {\n")
	for _, body := range a.bodies {
		for _, line := range body {
			if line == "" {
				sb.WriteString("\n")
				continue
			}
			sb.WriteString("    ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	sb.WriteString("    " + successReturn + "\n")
	sb.WriteString("}\n")
	b.Code = sb.String()
	return b
}

// trimBlank drops leading and trailing blank lines.
func trimBlank(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// dedent removes the common leading whitespace of non-blank lines.
func dedent(lines []string) []string {
	prefix := ""
	first := true
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		ws := l[:len(l)-len(strings.TrimLeft(l, " \t"))]
		if first {
			prefix = ws
			first = false
			continue
		}
		for !strings.HasPrefix(ws, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	if prefix == "" {
		return lines
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strings.TrimPrefix(l, prefix)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
