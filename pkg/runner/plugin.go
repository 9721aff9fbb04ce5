package runner

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/polyrun/pkg/value"
)

// Manifest describes a subprocess runner loaded from YAML:
//
//	language: ruby
//	aliases: [rb]
//	file: main.rb
//	toolchain: ruby
//	version_args: ["--version"]
//	run: ["ruby", "{src}/main.rb"]
//	dialect: python
//
// Imports are declared with the named built-in dialect, if any, and are
// always written to the file named by POLYRUN_IMPORT_FILE. A manifest
// runner exports values by writing a JSON object to POLYRUN_EXPORT_FILE;
// Prelude and Epilogue are placed around the block code for that purpose.
type Manifest struct {
	Language    string   `yaml:"language"`
	Aliases     []string `yaml:"aliases"`
	File        string   `yaml:"file"`
	Toolchain   string   `yaml:"toolchain"`
	VersionArgs []string `yaml:"version_args"`
	Image       string   `yaml:"image"`
	Compile     []string `yaml:"compile"`
	Run         []string `yaml:"run"`
	Dialect     string   `yaml:"dialect"`
	Prelude     string   `yaml:"prelude"`
	Epilogue    string   `yaml:"epilogue"`
}

// Validate checks the required fields.
func (m Manifest) Validate() error {
	var errs []error
	if strings.TrimSpace(m.Language) == "" {
		errs = append(errs, errors.New("language is required"))
	}
	if m.File == "" {
		errs = append(errs, errors.New("file is required"))
	} else if filepath.Base(m.File) != m.File {
		errs = append(errs, fmt.Errorf("file %q must be a plain file name", m.File))
	}
	if len(m.Run) == 0 {
		errs = append(errs, errors.New("run is required"))
	}
	if m.Dialect != "" {
		if _, ok := value.DialectByName(m.Dialect); !ok {
			errs = append(errs, fmt.Errorf("unknown dialect %q", m.Dialect))
		}
	}
	return errors.Join(errs...)
}

// Definition converts the manifest to a runner definition.
func (m Manifest) Definition() Definition {
	dialect, _ := value.DialectByName(m.Dialect)
	toolchain := m.Toolchain
	if toolchain == "" {
		toolchain = m.Run[0]
	}
	return Definition{
		Language:    normalize(m.Language),
		File:        m.File,
		Toolchain:   toolchain,
		VersionArgs: m.VersionArgs,
		Image:       m.Image,
		Compile:     m.Compile,
		Run:         m.Run,
		Plugin:      true,
		Render: func(code string, imports value.Set, _ []string) (map[string]string, error) {
			var b strings.Builder
			if m.Prelude != "" {
				b.WriteString(strings.TrimRight(m.Prelude, "\n"))
				b.WriteString("\n")
			}
			if dialect != nil {
				for _, name := range imports.Names() {
					b.WriteString(dialect.Declare(name, imports[name]))
					b.WriteString("\n")
				}
			}
			b.WriteString(code)
			b.WriteString("\n")
			if m.Epilogue != "" {
				b.WriteString(strings.TrimRight(m.Epilogue, "\n"))
				b.WriteString("\n")
			}
			return map[string]string{m.File: b.String()}, nil
		},
	}
}

// ParseManifest decodes one YAML manifest. Unknown fields are rejected.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("parsing manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, fmt.Errorf("invalid manifest for %q: %w", m.Language, err)
	}
	return m, nil
}

// LoadManifests reads every *.yaml and *.yml file in dir, in name order.
// A missing directory yields no manifests.
func LoadManifests(dir string) ([]Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading plugin directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.Type().IsRegular() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []Manifest
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		m, err := ParseManifest(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// RegisterManifest registers a manifest runner. A manifest may replace a
// built-in language.
func (r *Registry) RegisterManifest(m Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	def := m.Definition()
	r.Register(def.Language, func(env Env) Runner { return New(def, env) }, m.Aliases...)
	r.env.Logger.Info("runner plugin registered", "language", def.Language, "aliases", m.Aliases)
	return nil
}

// LoadPlugins registers every manifest in dir and returns how many were
// loaded.
func (r *Registry) LoadPlugins(dir string) (int, error) {
	manifests, err := LoadManifests(dir)
	if err != nil {
		return 0, err
	}
	for _, m := range manifests {
		if err := r.RegisterManifest(m); err != nil {
			return 0, err
		}
	}
	return len(manifests), nil
}
