package runner

import (
	"strings"

	"github.com/rhuss/polyrun/pkg/value"
)

// NewPython creates the Python 3 runner.
func NewPython(env Env) Runner {
	return New(Definition{
		Language:    "python",
		File:        "main.py",
		Toolchain:   "python3",
		VersionArgs: []string{"--version"},
		Run:         []string{"python3", "{src}/main.py"},
		Render:      renderPython,
	}, env)
}

// pythonExport writes the requested globals to the interchange file.
// Values json cannot encode are exported as their repr.
const pythonExport = `

def _polyrun_export(_names):
    _g = globals()
    _out = {}
    for _n in _names:
        _v = _g.get(_n)
        try:
            ` + value.PythonJSONModule + `.dumps(_v, allow_nan=False)
        except (TypeError, ValueError):
            _v = repr(_v)
        _out[_n] = _v
    with open(_polyrun_os.environ.get("POLYRUN_EXPORT_FILE", "__export__.json"), "w") as _f:
        ` + value.PythonJSONModule + `.dump(_out, _f)

`

func renderPython(code string, imports value.Set, exports []string) (map[string]string, error) {
	var d value.Python
	var b strings.Builder

	b.WriteString("import json as " + value.PythonJSONModule + "\n")
	b.WriteString("import os as _polyrun_os\n")
	for _, name := range imports.Names() {
		b.WriteString(d.Declare(name, imports[name]))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(code)
	b.WriteString("\n")

	if len(exports) > 0 {
		b.WriteString(pythonExport)
		b.WriteString("_polyrun_export(" + d.Literal(stringList(exports)) + ")\n")
	}
	return map[string]string{"main.py": b.String()}, nil
}

func stringList(names []string) value.Value {
	items := make([]value.Value, len(names))
	for i, n := range names {
		items[i] = value.NewString(n)
	}
	return value.NewList(items...)
}
