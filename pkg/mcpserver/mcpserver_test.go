package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/polyrun/pkg/api"
	"github.com/rhuss/polyrun/pkg/engine"
	"github.com/rhuss/polyrun/pkg/runner/runnertest"
)

// connect starts a server over the echo language and returns a client
// session connected through in-memory transports.
func connect(t *testing.T) (*mcp.ClientSession, *runnertest.Echo) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	echo := &runnertest.Echo{}
	e := engine.New(
		engine.WithLogger(logger),
		engine.WithRegistry(runnertest.Registry(echo)),
	)
	s := New(e, Config{Version: "test", Defaults: engine.DefaultRunConfig(), Logger: logger})

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = s.Run(ctx, serverTransport)
	}()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		cancel()
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() {
		_ = session.Close()
		cancel()
	})
	return session, echo
}

func call(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (*mcp.CallToolResult, string) {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s) error = %v", name, err)
	}
	if len(res.Content) != 1 {
		t.Fatalf("CallTool(%s) returned %d content items, want 1", name, len(res.Content))
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want *mcp.TextContent", res.Content[0])
	}
	return res, text.Text
}

func TestListTools(t *testing.T) {
	session, _ := connect(t)

	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"execute", "check", "languages"} {
		if !names[want] {
			t.Errorf("tool %q not listed", want)
		}
	}
}

func TestExecute(t *testing.T) {
	session, echo := connect(t)

	res, text := call(t, session, "execute", map[string]any{
		"code":        "#lang:echo\n#export:x\nset x 42\n#lang:echo\n#import:x\nprint done",
		"consolidate": false,
	})
	if res.IsError {
		t.Fatalf("IsError = true: %s", text)
	}
	var sum api.RunSummary
	if err := json.Unmarshal([]byte(text), &sum); err != nil {
		t.Fatalf("decoding summary: %v", err)
	}
	if !sum.Success || sum.RunID == "" {
		t.Errorf("summary = success %v run %q", sum.Success, sum.RunID)
	}
	if !strings.Contains(sum.Output, "x=42") {
		t.Errorf("Output = %q, want imported value", sum.Output)
	}
	if echo.Executed.Load() != 2 {
		t.Errorf("executed %d blocks, want 2", echo.Executed.Load())
	}
}

func TestExecute_FailedRunIsError(t *testing.T) {
	session, _ := connect(t)

	res, text := call(t, session, "execute", map[string]any{
		"code":     "fail 3",
		"language": "echo",
	})
	if !res.IsError {
		t.Fatal("IsError = false for a failed run")
	}
	var sum api.RunSummary
	if err := json.Unmarshal([]byte(text), &sum); err != nil {
		t.Fatalf("decoding summary: %v", err)
	}
	if sum.Success || len(sum.Blocks) != 1 || sum.Blocks[0].ExitCode != 3 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestExecute_InvalidRequest(t *testing.T) {
	session, echo := connect(t)

	res, text := call(t, session, "execute", map[string]any{"code": "   "})
	if !res.IsError {
		t.Fatal("IsError = false for an empty source")
	}
	if !strings.Contains(text, "code") {
		t.Errorf("error text = %q, want it to name the code parameter", text)
	}
	if echo.Executed.Load() != 0 {
		t.Error("invalid request executed")
	}
}

func TestCheck(t *testing.T) {
	session, echo := connect(t)

	res, text := call(t, session, "check", map[string]any{
		"code": "#lang:echo\nprint a\n#lang:cobol\nDISPLAY 'X'",
	})
	if !res.IsError {
		t.Error("IsError = false for an unsupported language")
	}
	var report engine.CheckReport
	if err := json.Unmarshal([]byte(text), &report); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if report.Blocks != 2 || len(report.Units) != 2 {
		t.Fatalf("report = %+v", report)
	}
	if !report.Units[0].Supported || report.Units[1].Supported {
		t.Errorf("supported = %v/%v, want true/false", report.Units[0].Supported, report.Units[1].Supported)
	}
	if echo.Executed.Load() != 0 {
		t.Error("check executed a block")
	}
}

func TestCheck_ValidationFailure(t *testing.T) {
	session, _ := connect(t)

	res, _ := call(t, session, "check", map[string]any{"code": "no directives"})
	if !res.IsError {
		t.Error("IsError = false for a source without blocks")
	}
}

func TestLanguages(t *testing.T) {
	session, _ := connect(t)

	res, text := call(t, session, "languages", map[string]any{})
	if res.IsError {
		t.Fatalf("IsError = true: %s", text)
	}
	var langs []api.LanguageInfo
	if err := json.Unmarshal([]byte(text), &langs); err != nil {
		t.Fatalf("decoding languages: %v", err)
	}
	if len(langs) != 1 || langs[0].Name != "echo" {
		t.Errorf("languages = %+v, want echo only", langs)
	}
}
