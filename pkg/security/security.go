// Package security implements an advisory static check that rejects source
// matching known-dangerous patterns before it is executed.
//
// The pattern lists are necessarily incomplete. They are a pre-filter
// only; the isolation boundary is the sandbox executor's container path.
package security

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rhuss/polyrun/pkg/debug"
)

// Rule is one forbidden pattern.
type Rule struct {
	Pattern *regexp.Regexp
	Reason  string
}

// LoopRule flags an unbounded loop unless Unless also matches the code.
type LoopRule struct {
	Pattern *regexp.Regexp
	Unless  *regexp.Regexp
	Reason  string
}

// Verdict is the outcome of a check.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Pattern string `json:"pattern,omitempty"`
}

// Validator holds per-language rules. Rules are evaluated in order and the
// first match wins. A Validator is safe for concurrent use once built.
type Validator struct {
	enabled bool
	rules   map[string][]Rule
	loops   map[string][]LoopRule
	aliases map[string]string
}

// Option configures a Validator.
type Option func(*Validator)

// WithDisabled turns every check into an allow.
func WithDisabled() Option {
	return func(v *Validator) { v.enabled = false }
}

// WithPatterns appends extra forbidden patterns for a language. Patterns
// are compiled case-insensitively.
func WithPatterns(language string, patterns ...string) Option {
	return func(v *Validator) {
		lang := v.canonical(language)
		for _, p := range patterns {
			re, err := compile(p)
			if err != nil {
				continue
			}
			v.rules[lang] = append(v.rules[lang], Rule{Pattern: re, Reason: "matches configured pattern " + p})
		}
	}
}

// WithAlias makes language share the rules of target.
func WithAlias(language, target string) Option {
	return func(v *Validator) { v.aliases[strings.ToLower(language)] = strings.ToLower(target) }
}

// New returns a Validator loaded with the built-in rule tables.
func New(opts ...Option) *Validator {
	v := &Validator{
		enabled: true,
		rules:   make(map[string][]Rule),
		loops:   make(map[string][]LoopRule),
		aliases: map[string]string{
			"py": "python", "python3": "python",
			"js": "javascript", "node": "javascript",
			"sh": "bash", "shell": "bash",
			"c": "cpp", "c++": "cpp", "cc": "cpp",
			"golang": "go",
		},
	}
	for lang, table := range builtinRules {
		for _, r := range table {
			v.rules[lang] = append(v.rules[lang], Rule{Pattern: mustCompile(r[0]), Reason: r[1]})
		}
	}
	for lang, table := range builtinLoops {
		for _, r := range table {
			lr := LoopRule{Pattern: mustCompile(r[0]), Reason: r[2]}
			if r[1] != "" {
				lr.Unless = mustCompile(r[1])
			}
			v.loops[lang] = append(v.loops[lang], lr)
		}
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Check evaluates code written in language. Languages without rules are
// allowed.
func (v *Validator) Check(code, language string) Verdict {
	if !v.enabled {
		return Verdict{Allowed: true}
	}
	lang := v.canonical(language)

	for _, r := range v.rules[lang] {
		if r.Pattern.MatchString(code) {
			debug.Log("security", "pattern matched", "language", lang, "pattern", r.Pattern.String())
			return Verdict{
				Allowed: false,
				Reason:  fmt.Sprintf("potentially dangerous operation: %s", r.Reason),
				Pattern: r.Pattern.String(),
			}
		}
	}
	for _, l := range v.loops[lang] {
		if l.Pattern.MatchString(code) && (l.Unless == nil || !l.Unless.MatchString(code)) {
			debug.Log("security", "loop heuristic matched", "language", lang, "pattern", l.Pattern.String())
			return Verdict{
				Allowed: false,
				Reason:  fmt.Sprintf("potential infinite loop: %s", l.Reason),
				Pattern: l.Pattern.String(),
			}
		}
	}
	return Verdict{Allowed: true}
}

// Enabled reports whether checks are active.
func (v *Validator) Enabled() bool { return v.enabled }

// Languages returns the languages that have at least one rule.
func (v *Validator) Languages() []string {
	var out []string
	for lang := range v.rules {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

func (v *Validator) canonical(language string) string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if target, ok := v.aliases[lang]; ok {
		return target
	}
	return lang
}

func compile(p string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + p)
}

func mustCompile(p string) *regexp.Regexp {
	return regexp.MustCompile("(?i)" + p)
}
