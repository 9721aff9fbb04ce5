// Package runnertest provides a toolchain-free runner for tests of
// packages built on the engine.
//
// The echo language understands one command per line:
//
//	print <text>       append text to stdout
//	set <name> <text>  export name as a string
//	fail <code>        fail at runtime with the given exit code
//	wait               block until the context is done, then time out
package runnertest

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rhuss/polyrun/pkg/runner"
	"github.com/rhuss/polyrun/pkg/sandbox"
	"github.com/rhuss/polyrun/pkg/value"
)

// Echo is the echo language runner. Executed counts Execute calls.
type Echo struct {
	Executed atomic.Int64

	// Started, when not nil, receives a value each time a block starts.
	Started chan struct{}
}

var _ runner.Runner = (*Echo)(nil)

func (e *Echo) Language() string { return "echo" }

func (e *Echo) Prepare(code string, imports value.Set, exports []string) (*runner.Artifact, error) {
	var b strings.Builder
	for _, name := range imports.Names() {
		b.WriteString("print " + name + "=" + imports[name].String() + "\n")
	}
	b.WriteString(code)
	return &runner.Artifact{Language: "echo", Code: b.String(), Exports: exports}, nil
}

func (e *Echo) Execute(ctx context.Context, art *runner.Artifact, limits sandbox.Limits) *runner.Result {
	e.Executed.Add(1)
	if e.Started != nil {
		e.Started <- struct{}{}
	}
	start := time.Now()
	res := &runner.Result{Status: runner.StatusCompleted, Backend: "echo", Phase: sandbox.PhaseRun}
	exported := value.Set{}
	var stdout strings.Builder

	for _, line := range strings.Split(art.Code, "\n") {
		cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
		switch cmd {
		case "print":
			stdout.WriteString(arg + "\n")
		case "set":
			name, v, _ := strings.Cut(arg, " ")
			exported[name] = value.NewString(v)
		case "fail":
			code, err := strconv.Atoi(arg)
			if err != nil {
				code = 1
			}
			res.Status = runner.StatusRuntimeFailed
			res.ExitCode = code
			res.Stderr = "failed\n"
		case "wait":
			select {
			case <-ctx.Done():
			case <-time.After(limits.WithDefaults().Timeout):
			}
			res.Status = runner.StatusTimedOut
			res.ExitCode = -1
		}
		if res.Status != runner.StatusCompleted {
			break
		}
	}

	res.Stdout = stdout.String()
	res.Duration = time.Since(start)
	if res.Status == runner.StatusCompleted {
		res.Exported = value.Set{}
		for _, name := range art.Exports {
			if v, ok := exported[name]; ok {
				res.Exported[name] = v
			}
		}
	}
	return res
}

func (e *Echo) Cleanup(*runner.Artifact) {}

// Registry returns a registry constructor that serves echo (alias "e")
// from the given runner.
func Registry(echo *Echo) func(runner.Env) *runner.Registry {
	return func(env runner.Env) *runner.Registry {
		reg := runner.NewRegistry(env)
		reg.Register("echo", func(runner.Env) runner.Runner { return echo }, "e")
		return reg
	}
}
