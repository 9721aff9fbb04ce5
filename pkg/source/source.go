// Package source parses polyglot source files into language blocks.
//
// A source file is plain UTF-8 text. Three directive lines, each starting
// at column 0, structure it:
//
//	#lang:<name>               start a new block in language <name>
//	#import:<name>[,<name>...] names this block reads from earlier blocks
//	#export:<name>[,<name>...] names this block publishes to later blocks
//
// Every other line inside a block belongs to its body. Lines before the
// first #lang: directive are ignored.
package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rhuss/polyrun/pkg/debug"
)

// ErrMalformedSource is returned when the source cannot be read.
var ErrMalformedSource = errors.New("malformed source")

const (
	langDirective   = "#lang:"
	importDirective = "#import:"
	exportDirective = "#export:"
	endDirective    = "#end"
)

// Block is one contiguous fragment of source in one declared language.
type Block struct {
	Language   string   `json:"language"`
	Code       string   `json:"code"`
	Imports    []string `json:"imports,omitempty"`
	Exports    []string `json:"exports,omitempty"`
	SourceLine int      `json:"source_line"`
}

// HasExport reports whether name is declared in the block's exports.
func (b Block) HasExport(name string) bool {
	for _, e := range b.Exports {
		if e == name {
			return true
		}
	}
	return false
}

// ParseFile reads and parses the file at path.
func ParseFile(path string) ([]Block, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSource, err)
	}
	defer f.Close()
	return ParseReader(f)
}

// ParseReader reads all of r and parses it.
func ParseReader(r io.Reader) ([]Block, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSource, err)
	}
	return Parse(string(data)), nil
}

// Parse splits text into blocks in source order. Directives are handled
// permissively: everything after the first ':' is split on ',' and trimmed.
func Parse(text string) []Block {
	var (
		blocks  []Block
		current *Block
		body    []string
	)

	flush := func() {
		if current == nil {
			return
		}
		current.Code = strings.TrimSpace(strings.Join(body, "\n"))
		// A block with neither a language nor a body carries nothing.
		if current.Language != "" || current.Code != "" {
			blocks = append(blocks, *current)
		}
		current = nil
		body = nil
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")

		switch {
		case strings.HasPrefix(line, langDirective):
			flush()
			current = &Block{
				Language:   normalizeLanguage(line[len(langDirective):]),
				SourceLine: lineNo,
			}
		case current == nil:
			// Outside any block.
		case strings.HasPrefix(line, importDirective):
			current.Imports = appendNames(current.Imports, line[len(importDirective):])
		case strings.HasPrefix(line, exportDirective):
			current.Exports = appendNames(current.Exports, line[len(exportDirective):])
		case strings.TrimSpace(line) == endDirective:
			flush()
		default:
			body = append(body, line)
		}
	}
	flush()

	debug.Log("parser", "source parsed", "lines", lineNo, "blocks", len(blocks))
	return blocks
}

func normalizeLanguage(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// appendNames adds the comma-separated names in list to names, skipping
// empty entries and names already present.
func appendNames(names []string, list string) []string {
	for _, n := range strings.Split(list, ",") {
		n = strings.TrimSpace(n)
		if n == "" || contains(names, n) {
			continue
		}
		names = append(names, n)
	}
	return names
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
