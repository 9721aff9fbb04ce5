package runner

import (
	"strings"

	"github.com/rhuss/polyrun/pkg/value"
)

// NewJavaScript creates the Node.js runner. The source is written as
// CommonJS so require is always available.
func NewJavaScript(env Env) Runner {
	return New(Definition{
		Language:    "javascript",
		File:        "main.cjs",
		Toolchain:   "node",
		VersionArgs: []string{"--version"},
		Run:         []string{"node", "{src}/main.cjs"},
		Render:      renderJavaScript,
	}, env)
}

// jsSafe converts a value to something JSON.stringify encodes without
// throwing or silently dropping it.
const jsSafe = `
function __polyrunSafe(v) {
  if (v === undefined || typeof v === "function" || typeof v === "symbol") {
    return null;
  }
  if (typeof v === "bigint") {
    return v.toString();
  }
  if (v instanceof Map) {
    return __polyrunSafe(Object.fromEntries(v));
  }
  if (v instanceof Set) {
    return __polyrunSafe(Array.from(v));
  }
  try {
    JSON.stringify(v);
    return v;
  } catch (e) {
    return String(v);
  }
}
`

func renderJavaScript(code string, imports value.Set, exports []string) (map[string]string, error) {
	var d value.JavaScript
	var b strings.Builder

	for _, name := range imports.Names() {
		b.WriteString(d.Declare(name, imports[name]))
		b.WriteString("\n")
	}
	b.WriteString(code)
	b.WriteString("\n")

	if len(exports) > 0 {
		b.WriteString(jsSafe)
		b.WriteString("process.on(\"exit\", function () {\n")
		b.WriteString("  var __polyrunOut = {};\n")
		for _, name := range exports {
			key := d.Literal(value.NewString(name))
			b.WriteString("  __polyrunOut[" + key + "] = __polyrunSafe(typeof " + name + " === \"undefined\" ? undefined : " + name + ");\n")
		}
		b.WriteString("  require(\"fs\").writeFileSync(process.env.POLYRUN_EXPORT_FILE || \"__export__.json\", JSON.stringify(__polyrunOut));\n")
		b.WriteString("});\n")
	}
	return map[string]string{"main.cjs": b.String()}, nil
}
