package security

// builtinRules maps a canonical language to ordered {pattern, reason}
// pairs. Patterns are matched case-insensitively.
var builtinRules = map[string][][2]string{
	"python": {
		{`os\.system\s*\(`, "shell command execution (os.system)"},
		{`subprocess\.`, "process spawning (subprocess)"},
		{`os\.(popen|exec\w*|spawn\w*|fork)\s*\(`, "process spawning (os)"},
		{`\beval\s*\(`, "dynamic evaluation (eval)"},
		{`\bexec\s*\(`, "dynamic evaluation (exec)"},
		{`__import__\s*\(`, "dynamic import (__import__)"},
		{`\bopen\s*\([^)]*["'][rwa]`, "raw file access (open)"},
		{`import\s+socket`, "network access (socket)"},
		{`import\s+urllib`, "network access (urllib)"},
		{`import\s+requests`, "network access (requests)"},
		{`from\s+(socket|urllib|requests|http)\b`, "network access"},
		{`shutil\.rmtree\s*\(`, "recursive deletion (shutil.rmtree)"},
	},
	"javascript": {
		{`require\s*\(\s*['"](node:)?child_process['"]\s*\)`, "process spawning (child_process)"},
		{`\beval\s*\(`, "dynamic evaluation (eval)"},
		{`new\s+Function\s*\(`, "dynamic evaluation (Function constructor)"},
		{`require\s*\(\s*['"](node:)?(net|http|https|dgram|tls)['"]\s*\)`, "network access"},
		{`\bfetch\s*\(`, "network access (fetch)"},
		{`process\.binding\s*\(`, "native binding access"},
		{`\.(rmSync|rmdirSync|unlinkSync)\s*\(`, "file deletion"},
	},
	"bash": {
		{`\brm\s+-[a-z]*r[a-z]*f?\s+/`, "recursive deletion from root"},
		{`\b(curl|wget|nc|ncat|telnet|ssh|scp)\b`, "network access"},
		{`/dev/tcp/`, "network access (/dev/tcp)"},
		{`\b(mkfs|dd\s+if=|shutdown|reboot|halt)\b`, "system modification"},
		{`:\(\)\s*\{\s*:\|:&\s*\};:`, "fork bomb"},
		{`\bsudo\b`, "privilege escalation (sudo)"},
		{`\beval\b`, "dynamic evaluation (eval)"},
	},
	"cpp": {
		{`\bsystem\s*\(`, "shell command execution (system)"},
		{`\bfork\s*\(`, "process spawning (fork)"},
		{`\bexec[lv]\w*\s*\(`, "process spawning (exec)"},
		{`#include\s*<sys/`, "system headers"},
		{`#include\s*<unistd\.h>`, "POSIX system interface (unistd.h)"},
		{`\bfopen\s*\(`, "raw file access (fopen)"},
		{`\bpopen\s*\(`, "process spawning (popen)"},
		{`#include\s*<(netinet|arpa)/`, "network access"},
	},
	"go": {
		{`"os/exec"`, "process spawning (os/exec)"},
		{`"syscall"`, "raw system calls (syscall)"},
		{`"unsafe"`, "unsafe memory access"},
		{`"net(/http)?"`, "network access"},
		{`\bos\.(Remove|RemoveAll|WriteFile|Create|OpenFile)\s*\(`, "raw file access"},
		{`"plugin"`, "dynamic code loading (plugin)"},
	},
}

// builtinLoops maps a canonical language to {pattern, unless, reason}
// triples. An empty unless always flags.
var builtinLoops = map[string][][3]string{
	"python": {
		{`while\s+true\s*:`, `time\.sleep|\bbreak\b`, "while True without sleep or break"},
	},
	"javascript": {
		{`while\s*\(\s*true\s*\)|for\s*\(\s*;\s*;\s*\)`, `\bbreak\b`, "endless loop without break"},
	},
	"bash": {
		{`while\s+(true|:)\s*;?\s*do`, `\b(sleep|break)\b`, "while true without sleep or break"},
	},
	"cpp": {
		{`while\s*\(\s*(true|1)\s*\)|for\s*\(\s*;\s*;\s*\)`, `\bbreak\b`, "endless loop without break"},
	},
	"go": {
		{`for\s*\{`, `\bbreak\b|\breturn\b`, "endless for loop without break"},
	},
}
