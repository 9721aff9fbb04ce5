package value

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
)

// ExportFile is the interchange file name, relative to the working
// directory of the executing block.
const ExportFile = "__export__.json"

// ImportFile is the file through which manifest-defined runners receive
// their imports as a JSON object.
const ImportFile = "__import__.json"

// Set maps variable names to values.
type Set map[string]Value

// Names returns the names in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Encode renders s as a JSON object.
func (s Set) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range s.Names() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := s[name].MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("encoding %q: %w", name, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// WriteFile writes s to path as a JSON object.
func (s Set) WriteFile(path string) error {
	data, err := s.Encode()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Decode parses an interchange document and keeps only the declared
// names. Undeclared names are dropped with a warning. A value that cannot
// be decoded becomes null. A document that is not a JSON object yields an
// empty set and an error.
func Decode(data []byte, declared []string, logger *slog.Logger) (Set, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Set{}, fmt.Errorf("parsing interchange data: %w", err)
	}

	allowed := make(map[string]bool, len(declared))
	for _, n := range declared {
		allowed[n] = true
	}

	out := make(Set, len(raw))
	for name, msg := range raw {
		if !allowed[name] {
			logger.Warn("dropping undeclared export", "name", name)
			continue
		}
		var v Value
		if err := v.UnmarshalJSON(msg); err != nil {
			logger.Warn("export value could not be decoded, using null", "name", name, "error", err)
			v = NewNull()
		}
		out[name] = v
	}
	return out, nil
}

// ReadExports reads the interchange file at path, decodes it with Decode
// and removes it. A missing or malformed file yields an empty set; read
// problems are logged, never returned.
func ReadExports(path string, declared []string, logger *slog.Logger) Set {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("reading interchange file failed", "path", path, "error", err)
		}
		return Set{}
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("removing interchange file failed", "path", path, "error", err)
	}

	set, err := Decode(data, declared, logger)
	if err != nil {
		logger.Warn("malformed interchange file", "path", path, "error", err)
		return Set{}
	}
	return set
}
