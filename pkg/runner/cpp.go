package runner

import (
	"strings"

	"github.com/rhuss/polyrun/pkg/consolidate"
	"github.com/rhuss/polyrun/pkg/value"
)

// NewCpp creates the C++17 runner. C blocks are compiled as C++.
func NewCpp(env Env) Runner {
	return New(Definition{
		Language:    "cpp",
		File:        "main.cpp",
		Toolchain:   "g++",
		VersionArgs: []string{"--version"},
		Compile:     []string{"g++", "-std=c++17", "-O2", "-o", "{work}/prog", "{src}/main.cpp"},
		Run:         []string{"{work}/prog"},
		Render:      renderCpp,
	}, env)
}

var cppHeaders = []string{
	"#include <cmath>",
	"#include <cstddef>",
	"#include <cstdio>",
	"#include <cstdlib>",
	"#include <fstream>",
	"#include <limits>",
	"#include <map>",
	"#include <sstream>",
	"#include <string>",
	"#include <type_traits>",
	"#include <vector>",
}

// cppJSON is an overload set rendering common C++ values as JSON. Types
// without an overload render as null.
const cppJSON = `namespace polyrun {
inline std::string json(const std::string& s) {
    std::string out = "\"";
    for (unsigned char c : s) {
        switch (c) {
        case '"': out += "\\\""; break;
        case '\\': out += "\\\\"; break;
        case '\n': out += "\\n"; break;
        case '\r': out += "\\r"; break;
        case '\t': out += "\\t"; break;
        default:
            if (c < 0x20) {
                char buf[8];
                std::snprintf(buf, sizeof buf, "\\u%04x", c);
                out += buf;
            } else {
                out += static_cast<char>(c);
            }
        }
    }
    return out + "\"";
}
inline std::string json(const char* s) { return s ? json(std::string(s)) : "null"; }
inline std::string json(char c) { return json(std::string(1, c)); }
inline std::string json(bool b) { return b ? "true" : "false"; }
inline std::string json(std::nullptr_t) { return "null"; }
template <typename T>
typename std::enable_if<std::is_integral<T>::value && !std::is_same<T, bool>::value && !std::is_same<T, char>::value, std::string>::type
json(T v) { return std::to_string(v); }
template <typename T>
typename std::enable_if<std::is_floating_point<T>::value, std::string>::type
json(T v) {
    if (!std::isfinite(v)) return "null";
    std::ostringstream os;
    os.precision(std::numeric_limits<T>::max_digits10);
    os << v;
    std::string s = os.str();
    if (s.find_first_of(".eE") == std::string::npos) s += ".0";
    return s;
}
struct fallback {
    template <typename T>
    fallback(const T&) {}
};
inline std::string json(fallback) { return "null"; }
template <typename T> std::string json(const std::vector<T>& v);
template <typename T> std::string json(const std::map<std::string, T>& m);
template <typename T>
std::string json(const std::vector<T>& v) {
    std::string out = "[";
    for (std::size_t i = 0; i < v.size(); ++i) {
        if (i) out += ",";
        out += json(static_cast<T>(v[i]));
    }
    return out + "]";
}
template <typename T>
std::string json(const std::map<std::string, T>& m) {
    std::string out = "{";
    bool first = true;
    for (const auto& kv : m) {
        if (!first) out += ",";
        first = false;
        out += json(kv.first) + ":" + json(kv.second);
    }
    return out + "}";
}
}  // namespace polyrun
`

func renderCpp(code string, imports value.Set, exports []string) (map[string]string, error) {
	var d value.Cpp
	u := consolidate.Split(code)

	var b strings.Builder
	seen := make(map[string]bool)
	for _, h := range cppHeaders {
		seen[h] = true
		b.WriteString(h + "\n")
	}
	for _, line := range u.Preamble {
		if seen[line] {
			continue
		}
		seen[line] = true
		b.WriteString(line + "\n")
	}
	b.WriteString("\n")

	if len(exports) > 0 {
		b.WriteString(cppJSON)
		b.WriteString("\n")
	}

	for _, name := range imports.Names() {
		b.WriteString(d.Declare(name, imports[name]))
		b.WriteString("\n")
	}
	if len(imports) > 0 {
		b.WriteString("\n")
	}

	if len(u.Decls) > 0 {
		b.WriteString(strings.Join(u.Decls, "\n"))
		b.WriteString("\n\n")
	}

	// Exports without a file-scope declaration get a null placeholder. A
	// declaration at the top level of main shadows it.
	placeholders := 0
	for _, name := range exports {
		if _, imported := imports[name]; imported || u.Declares(name) {
			continue
		}
		b.WriteString("static const std::nullptr_t " + name + " = nullptr;\n")
		placeholders++
	}
	if placeholders > 0 {
		b.WriteString("\n")
	}

	b.WriteString("int main() {\n")
	for _, line := range u.Body {
		if line == "" {
			b.WriteString("\n")
			continue
		}
		b.WriteString("    " + line + "\n")
	}
	if len(exports) > 0 {
		b.WriteString(cppExportBlock(exports))
	}
	b.WriteString("    return 0;\n}\n")
	return map[string]string{"main.cpp": b.String()}, nil
}

// cppExportBlock writes the exports at the end of main.
func cppExportBlock(exports []string) string {
	var b strings.Builder
	b.WriteString("    {\n")
	b.WriteString("        const char* polyrun_path = std::getenv(\"POLYRUN_EXPORT_FILE\");\n")
	b.WriteString("        std::ofstream polyrun_out(polyrun_path ? polyrun_path : \"__export__.json\");\n")
	b.WriteString("        polyrun_out << \"{\";\n")
	for i, name := range exports {
		sep := ""
		if i > 0 {
			sep = ","
		}
		b.WriteString("        polyrun_out << \"" + sep + "\\\"" + name + "\\\":\" << polyrun::json(" + name + ");\n")
	}
	b.WriteString("        polyrun_out << \"}\";\n")
	b.WriteString("    }\n")
	return b.String()
}
