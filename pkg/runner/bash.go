package runner

import (
	"strings"

	"github.com/rhuss/polyrun/pkg/value"
)

// NewBash creates the Bash runner.
func NewBash(env Env) Runner {
	return New(Definition{
		Language:    "bash",
		File:        "main.sh",
		Toolchain:   "bash",
		VersionArgs: []string{"--version"},
		Run:         []string{"bash", "{src}/main.sh"},
		Render:      renderBash,
	}, env)
}

// bashExport defines the JSON writers used after the block code. Indexed
// arrays become lists, associative arrays objects, integer variables
// numbers and everything else strings. Unset names are null. The writers
// run under LC_ALL=C so strings are walked byte by byte and every control
// byte left after the short escapes becomes \u00XX.
const bashExport = `
__polyrun_str() {
  local s=$1
  s=${s//\\/\\\\}
  s=${s//\"/\\\"}
  s=${s//$'\n'/\\n}
  s=${s//$'\r'/\\r}
  s=${s//$'\t'/\\t}
  case $s in
    *[[:cntrl:]]*)
      local out='' c code i
      for (( i = 0; i < ${#s}; i++ )); do
        c=${s:i:1}
        case $c in
          [[:cntrl:]])
            printf -v code '%d' "'$c"
            (( code < 32 )) && printf -v c '\\u%04x' "$code"
            ;;
        esac
        out+=$c
      done
      s=$out
      ;;
  esac
  printf '"%s"' "$s"
}

__polyrun_val() {
  local __decl
  __decl=$(declare -p "$1" 2>/dev/null) || { printf 'null'; return; }
  case "$__decl" in
    "declare -a"*)
      local -n __polyrun_ref="$1"
      local __first=1 __item
      printf '['
      for __item in "${__polyrun_ref[@]}"; do
        [ "$__first" = 1 ] || printf ','
        __first=0
        __polyrun_str "$__item"
      done
      printf ']'
      ;;
    "declare -A"*)
      local -n __polyrun_map="$1"
      local __first=1 __key
      printf '{'
      for __key in "${!__polyrun_map[@]}"; do
        [ "$__first" = 1 ] || printf ','
        __first=0
        __polyrun_str "$__key"
        printf ':'
        __polyrun_str "${__polyrun_map[$__key]}"
      done
      printf '}'
      ;;
    "declare -i"*)
      printf '%s' "${!1:-0}"
      ;;
    *)
      __polyrun_str "${!1}"
      ;;
  esac
}
`

func renderBash(code string, imports value.Set, exports []string) (map[string]string, error) {
	var d value.Bash
	var b strings.Builder

	for _, name := range imports.Names() {
		b.WriteString(d.Declare(name, imports[name]))
		b.WriteString("\n")
	}
	b.WriteString(code)
	b.WriteString("\n")

	if len(exports) > 0 {
		b.WriteString("__polyrun_status=$?\n")
		b.WriteString("LC_ALL=C\n")
		b.WriteString(bashExport)
		b.WriteString("{\n  printf '{'\n")
		for i, name := range exports {
			sep := ""
			if i > 0 {
				sep = ","
			}
			b.WriteString("  printf '" + sep + "\"" + name + "\":'\n")
			b.WriteString("  __polyrun_val " + name + "\n")
		}
		b.WriteString("  printf '}'\n")
		b.WriteString("} > \"${POLYRUN_EXPORT_FILE:-__export__.json}\"\n")
		b.WriteString("exit $__polyrun_status\n")
	}
	return map[string]string{"main.sh": b.String()}, nil
}
