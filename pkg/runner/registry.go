package runner

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Registry maps language names and aliases to runner factories and
// caches one runner instance per canonical language. Create one registry
// per run so instances are never shared across runs.
type Registry struct {
	mu        sync.RWMutex
	env       Env
	factories map[string]Factory
	aliases   map[string]string
	instances map[string]Runner
}

// NewRegistry creates an empty registry whose runners are bound to env.
func NewRegistry(env Env) *Registry {
	return &Registry{
		env:       env.withDefaults(),
		factories: make(map[string]Factory),
		aliases:   make(map[string]string),
		instances: make(map[string]Runner),
	}
}

// Default returns a registry with the built-in runners registered.
func Default(env Env) *Registry {
	r := NewRegistry(env)
	r.Register("python", NewPython, "py", "python3")
	r.Register("javascript", NewJavaScript, "js", "node", "nodejs")
	r.Register("bash", NewBash, "sh", "shell")
	r.Register("cpp", NewCpp, "c", "c++", "cc")
	r.Register("go", NewGo, "golang")
	return r
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds a factory under a canonical language name and its
// aliases. Registering a name again replaces the earlier factory and
// drops any cached instance.
func (r *Registry) Register(language string, factory Factory, aliases ...string) {
	language = normalize(language)

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.aliases[language]; ok && prev != language {
		r.env.Logger.Warn("language name shadows an alias", "language", language, "alias_of", prev)
	}
	r.factories[language] = factory
	r.aliases[language] = language
	delete(r.instances, language)

	for _, a := range aliases {
		a = normalize(a)
		if a == "" || a == language {
			continue
		}
		if prev, ok := r.aliases[a]; ok && prev != language {
			r.env.Logger.Warn("alias reassigned", "alias", a, "from", prev, "to", language)
		}
		r.aliases[a] = language
	}
}

// Canonical resolves a language name or alias.
func (r *Registry) Canonical(language string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.aliases[normalize(language)]
	return c, ok
}

// Supports reports whether a runner is registered for the language or
// alias.
func (r *Registry) Supports(language string) bool {
	_, ok := r.Canonical(language)
	return ok
}

// Get returns the runner for a language or alias, creating it on first
// use.
func (r *Registry) Get(language string) (Runner, bool) {
	canonical, ok := r.Canonical(language)
	if !ok {
		return nil, false
	}

	r.mu.RLock()
	inst, ok := r.instances[canonical]
	r.mu.RUnlock()
	if ok {
		return inst, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[canonical]; ok {
		return inst, true
	}
	factory, ok := r.factories[canonical]
	if !ok {
		return nil, false
	}
	inst = factory(r.env)
	r.instances[canonical] = inst
	return inst, true
}

// Languages returns the canonical language names in sorted order.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	langs := make([]string, 0, len(r.factories))
	for l := range r.factories {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

// Aliases returns the sorted aliases of a canonical language, excluding
// the language name itself.
func (r *Registry) Aliases(language string) []string {
	language = normalize(language)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for a, c := range r.aliases {
		if c == language && a != language {
			out = append(out, a)
		}
	}
	sort.Strings(out)
	return out
}

// AliasMap returns a copy of the alias table, including each canonical
// name mapped to itself.
func (r *Registry) AliasMap() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.aliases))
	for a, c := range r.aliases {
		out[a] = c
	}
	return out
}

// Info describes every registered runner.
func (r *Registry) Info(ctx context.Context) []Info {
	var out []Info
	for _, lang := range r.Languages() {
		inst, ok := r.Get(lang)
		if !ok {
			continue
		}
		info := Info{Language: lang}
		if d, ok := inst.(Describer); ok {
			info = d.Info(ctx)
		}
		info.Language = lang
		info.Aliases = r.Aliases(lang)
		out = append(out, info)
	}
	return out
}

// Logger returns the logger runners of this registry use.
func (r *Registry) Logger() *slog.Logger { return r.env.Logger }
