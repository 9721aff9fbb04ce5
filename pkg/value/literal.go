package value

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Dialect renders Values as source text in one target language.
// Rendering never fails: anything without a convenient native literal is
// carried as JSON text and parsed by the target at run time.
type Dialect interface {
	// Name is the dialect identifier used by runner manifests.
	Name() string

	// Literal renders v as an expression.
	Literal(v Value) string

	// Declare renders a statement binding name to v.
	Declare(name string, v Value) string
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name can be used as a variable name in
// every supported target language.
func ValidIdentifier(name string) bool {
	return identPattern.MatchString(name)
}

// DialectByName returns the built-in dialect with the given name.
func DialectByName(name string) (Dialect, bool) {
	switch strings.ToLower(name) {
	case "python":
		return Python{}, true
	case "javascript", "js":
		return JavaScript{}, true
	case "bash", "sh", "shell":
		return Bash{}, true
	case "cpp", "c++":
		return Cpp{}, true
	case "go", "golang":
		return Go{}, true
	}
	return nil, false
}

// Python renders Python 3 literals. The JSON fallback calls
// PythonJSONModule.loads, which the prepared script must import.
type Python struct{}

// PythonJSONModule is the alias under which prepared Python scripts import
// the json module.
const PythonJSONModule = "_polyrun_json"

func (Python) Name() string { return "python" }

func (p Python) Literal(v Value) string {
	switch v.Kind() {
	case Null:
		return "None"
	case String:
		return strconv.Quote(v.Str())
	case Int:
		return strconv.FormatInt(v.Int(), 10)
	case Float:
		switch {
		case math.IsNaN(v.Float()):
			return `float("nan")`
		case math.IsInf(v.Float(), 1):
			return `float("inf")`
		case math.IsInf(v.Float(), -1):
			return `float("-inf")`
		}
		return formatFloat(v.Float())
	case Bool:
		if v.Bool() {
			return "True"
		}
		return "False"
	case List:
		if _, ok := v.Homogeneous(); ok {
			parts := make([]string, len(v.Items()))
			for i, e := range v.Items() {
				parts[i] = p.Literal(e)
			}
			return "[" + strings.Join(parts, ", ") + "]"
		}
	case Map:
		if _, ok := v.Homogeneous(); ok {
			parts := make([]string, 0, len(v.Fields()))
			for _, k := range v.Keys() {
				parts = append(parts, strconv.Quote(k)+": "+p.Literal(v.Fields()[k]))
			}
			return "{" + strings.Join(parts, ", ") + "}"
		}
	}
	return PythonJSONModule + ".loads(" + strconv.Quote(v.JSON()) + ")"
}

func (p Python) Declare(name string, v Value) string {
	return name + " = " + p.Literal(v)
}

// JavaScript renders ECMAScript literals.
type JavaScript struct{}

func (JavaScript) Name() string { return "javascript" }

func (j JavaScript) Literal(v Value) string {
	switch v.Kind() {
	case Null:
		return "null"
	case String:
		return jsString(v.Str())
	case Int:
		return strconv.FormatInt(v.Int(), 10)
	case Float:
		switch {
		case math.IsNaN(v.Float()):
			return "NaN"
		case math.IsInf(v.Float(), 1):
			return "Infinity"
		case math.IsInf(v.Float(), -1):
			return "-Infinity"
		}
		return formatFloat(v.Float())
	case Bool:
		return strconv.FormatBool(v.Bool())
	case List:
		if _, ok := v.Homogeneous(); ok {
			parts := make([]string, len(v.Items()))
			for i, e := range v.Items() {
				parts[i] = j.Literal(e)
			}
			return "[" + strings.Join(parts, ", ") + "]"
		}
	case Map:
		if _, ok := v.Homogeneous(); ok {
			parts := make([]string, 0, len(v.Fields()))
			for _, k := range v.Keys() {
				parts = append(parts, jsString(k)+": "+j.Literal(v.Fields()[k]))
			}
			return "{" + strings.Join(parts, ", ") + "}"
		}
	}
	return "JSON.parse(" + jsString(v.JSON()) + ")"
}

func (j JavaScript) Declare(name string, v Value) string {
	return "var " + name + " = " + j.Literal(v) + ";"
}

// jsString quotes s as a JSON string, which is also a valid JavaScript
// string literal (U+2028 and U+2029 are escaped by encoding/json).
func jsString(s string) string {
	b, err := NewString(s).MarshalJSON()
	if err != nil {
		return `""`
	}
	return string(b)
}

// Bash renders shell words. Scalars become single-quoted strings, booleans
// become true/false, null becomes the empty string, homogeneous lists
// become indexed arrays and everything else is carried as JSON text.
type Bash struct{}

func (Bash) Name() string { return "bash" }

func (b Bash) Literal(v Value) string {
	switch v.Kind() {
	case Null:
		return "''"
	case String:
		return shellQuote(v.Str())
	case Int, Float:
		return shellQuote(v.JSON())
	case Bool:
		return strconv.FormatBool(v.Bool())
	case List:
		if _, ok := v.Homogeneous(); ok {
			parts := make([]string, len(v.Items()))
			for i, e := range v.Items() {
				parts[i] = b.Literal(e)
			}
			return "(" + strings.Join(parts, " ") + ")"
		}
	}
	return shellQuote(v.JSON())
}

func (b Bash) Declare(name string, v Value) string {
	return name + "=" + b.Literal(v)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Cpp renders C++17 declarations. Homogeneous lists and maps become
// std::vector and std::map; other containers are held as raw JSON text in
// a std::string. Prepared sources must include <string>, <vector>, <map>
// and <cstddef>.
type Cpp struct{}

func (Cpp) Name() string { return "cpp" }

const rawDelim = "polyrun"

func (c Cpp) Literal(v Value) string {
	switch v.Kind() {
	case Null:
		return "nullptr"
	case String:
		return "std::string(" + cString(v.Str()) + ")"
	case Int:
		return strconv.FormatInt(v.Int(), 10) + "LL"
	case Float:
		switch {
		case math.IsNaN(v.Float()):
			return "std::numeric_limits<double>::quiet_NaN()"
		case math.IsInf(v.Float(), 1):
			return "std::numeric_limits<double>::infinity()"
		case math.IsInf(v.Float(), -1):
			return "-std::numeric_limits<double>::infinity()"
		}
		return formatFloat(v.Float())
	case Bool:
		return strconv.FormatBool(v.Bool())
	case List:
		if k, ok := v.Homogeneous(); ok {
			parts := make([]string, len(v.Items()))
			for i, e := range v.Items() {
				parts[i] = c.Literal(e)
			}
			return "std::vector<" + cppType(k) + ">{" + strings.Join(parts, ", ") + "}"
		}
	case Map:
		if k, ok := v.Homogeneous(); ok {
			parts := make([]string, 0, len(v.Fields()))
			for _, key := range v.Keys() {
				parts = append(parts, "{"+cString(key)+", "+c.Literal(v.Fields()[key])+"}")
			}
			return "std::map<std::string, " + cppType(k) + ">{" + strings.Join(parts, ", ") + "}"
		}
	}
	return "std::string(" + cppRaw(v.JSON()) + ")"
}

func (c Cpp) Declare(name string, v Value) string {
	switch v.Kind() {
	case Null:
		return "const std::nullptr_t " + name + " = nullptr;"
	case String:
		return "const std::string " + name + " = " + cString(v.Str()) + ";"
	case Int:
		return "const long long " + name + " = " + c.Literal(v) + ";"
	case Float:
		return "const double " + name + " = " + c.Literal(v) + ";"
	case Bool:
		return "const bool " + name + " = " + c.Literal(v) + ";"
	}
	if k, ok := v.Homogeneous(); ok {
		if v.Kind() == List {
			return "const std::vector<" + cppType(k) + "> " + name + " = " + c.Literal(v) + ";"
		}
		return "const std::map<std::string, " + cppType(k) + "> " + name + " = " + c.Literal(v) + ";"
	}
	return "const std::string " + name + " = " + cppRaw(v.JSON()) + ";"
}

func cppType(k Kind) string {
	switch k {
	case String:
		return "std::string"
	case Int:
		return "long long"
	case Float:
		return "double"
	case Bool:
		return "bool"
	}
	return "std::string"
}

// cString quotes s as a C string literal. Control and quote characters
// are escaped with octal escapes, which unlike \x cannot swallow a
// following hex digit.
func cString(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch ch {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		case '?':
			// Avoid trigraphs.
			sb.WriteString(`\?`)
		default:
			if ch < 0x20 || ch == 0x7f {
				fmt.Fprintf(&sb, `\%03o`, ch)
				continue
			}
			sb.WriteByte(ch)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

func cppRaw(s string) string {
	if strings.Contains(s, ")"+rawDelim+`"`) {
		return cString(s)
	}
	return `R"` + rawDelim + "(" + s + ")" + rawDelim + `"`
}

// Go renders Go literals for package-level var declarations. The JSON
// fallback calls GoJSONHelper, which the prepared program must define.
type Go struct{}

// GoJSONHelper is the name of the helper function prepared Go programs
// define to decode JSON fallback values.
const GoJSONHelper = "polyrunDecodeJSON"

func (Go) Name() string { return "go" }

func (g Go) Literal(v Value) string {
	switch v.Kind() {
	case Null:
		return "nil"
	case String:
		return strconv.Quote(v.Str())
	case Int:
		return strconv.FormatInt(v.Int(), 10)
	case Float:
		switch {
		case math.IsNaN(v.Float()):
			return "math.NaN()"
		case math.IsInf(v.Float(), 1):
			return "math.Inf(1)"
		case math.IsInf(v.Float(), -1):
			return "math.Inf(-1)"
		}
		return formatFloat(v.Float())
	case Bool:
		return strconv.FormatBool(v.Bool())
	case List:
		if k, ok := v.Homogeneous(); ok {
			parts := make([]string, len(v.Items()))
			for i, e := range v.Items() {
				parts[i] = g.Literal(e)
			}
			return "[]" + goType(k) + "{" + strings.Join(parts, ", ") + "}"
		}
	case Map:
		if k, ok := v.Homogeneous(); ok {
			parts := make([]string, 0, len(v.Fields()))
			for _, key := range v.Keys() {
				parts = append(parts, strconv.Quote(key)+": "+g.Literal(v.Fields()[key]))
			}
			return "map[string]" + goType(k) + "{" + strings.Join(parts, ", ") + "}"
		}
	}
	return GoJSONHelper + "(" + strconv.Quote(v.JSON()) + ")"
}

func (g Go) Declare(name string, v Value) string {
	switch v.Kind() {
	case Null:
		return "var " + name + " any = nil"
	case Int:
		return "var " + name + " int64 = " + g.Literal(v)
	case Float:
		return "var " + name + " float64 = " + g.Literal(v)
	}
	return "var " + name + " = " + g.Literal(v)
}

func goType(k Kind) string {
	switch k {
	case String:
		return "string"
	case Int:
		return "int64"
	case Float:
		return "float64"
	case Bool:
		return "bool"
	}
	return "any"
}
