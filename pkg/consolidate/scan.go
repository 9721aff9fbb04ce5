package consolidate

import (
	"regexp"
	"strings"
)

// scanner blanks out string literals, character literals and comments in
// C-family source, line by line, so braces and names inside them are not
// counted. Blanked lines keep their byte length, so offsets found in the
// blanked line index the original.
type scanner struct {
	inComment bool
}

func (s *scanner) code(line string) string {
	b := []byte(line)
	for i := 0; i < len(b); i++ {
		if s.inComment {
			if b[i] == '*' && i+1 < len(b) && b[i+1] == '/' {
				b[i], b[i+1] = ' ', ' '
				i++
				s.inComment = false
				continue
			}
			b[i] = ' '
			continue
		}
		switch b[i] {
		case '/':
			if i+1 < len(b) && b[i+1] == '/' {
				for j := i; j < len(b); j++ {
					b[j] = ' '
				}
				return string(b)
			}
			if i+1 < len(b) && b[i+1] == '*' {
				b[i], b[i+1] = ' ', ' '
				i++
				s.inComment = true
			}
		case '"', '\'':
			quote := b[i]
			j := i + 1
			for j < len(b) && b[j] != quote {
				if b[j] == '\\' {
					j++
				}
				j++
			}
			end := min(j, len(b)-1)
			for k := i; k <= end; k++ {
				b[k] = ' '
			}
			i = end
		}
	}
	return string(b)
}

// Declares reports whether name is declared at file scope by the unit:
// either as a preamble macro or as a word in the declarations outside
// literals, comments, bodies and parameter lists.
func (u Unit) Declares(name string) bool {
	word := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`)
	for _, line := range u.Preamble {
		if word.MatchString(line) {
			return true
		}
	}

	var sc scanner
	var top strings.Builder
	depth := 0
	for _, line := range u.Decls {
		for _, c := range []byte(sc.code(line)) {
			switch c {
			case '{', '(':
				depth++
				c = ' '
			case '}', ')':
				if depth > 0 {
					depth--
				}
				c = ' '
			}
			if depth > 0 {
				c = ' '
			}
			top.WriteByte(c)
		}
		top.WriteByte('\n')
	}
	return word.MatchString(top.String())
}
