// Package debug provides category-based debug logging for polyrun.
//
// Categories select WHAT is logged (POLYRUN_DEBUG, comma separated);
// the level selects HOW MUCH (POLYRUN_LOG_LEVEL). Both override the
// values passed to InitWithFormat.
//
//	debug.Log("sandbox", "container created", "id", id, "image", image)
//
// Categories: parser, consolidate, runner, sandbox, security, engine,
// storage, transport, auth, mcp, config, all.
// Levels: ERROR, WARN, INFO, DEBUG, TRACE.
package debug

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"unicode/utf8"
)

// LevelTrace sits below slog.LevelDebug. Runner artifacts and full block
// output are only logged at this level.
const LevelTrace = slog.LevelDebug - 4

var categories atomic.Pointer[map[string]bool]

func init() {
	setCategories(os.Getenv("POLYRUN_DEBUG"))
}

func setCategories(list string) {
	m := parseCategories(list)
	categories.Store(&m)
}

// InitWithFormat installs the default slog logger on stderr. format is
// "text" or "json"; empty category and level arguments fall back to
// nothing enabled and INFO.
func InitWithFormat(configCategories, configLevel, format string) {
	setCategories(envOr("POLYRUN_DEBUG", configCategories))
	level := ParseLevel(envOr("POLYRUN_LOG_LEVEL", configLevel))
	slog.SetDefault(slog.New(NewHandler(os.Stderr, format, level)))
}

// NewHandler returns a text or JSON slog handler at level. TRACE records
// render their level as "TRACE".
func NewHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if l, ok := a.Value.Any().(slog.Level); ok && l <= LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Enabled reports whether category (or "all") is switched on.
func Enabled(category string) bool {
	m := *categories.Load()
	return m["all"] || m[category]
}

// Log emits a DEBUG record tagged with category when it is enabled.
func Log(category string, msg string, args ...any) {
	if Enabled(category) {
		slog.Debug(msg, append([]any{"debug", category}, args...)...)
	}
}

// Trace is Log at LevelTrace.
func Trace(category string, msg string, args ...any) {
	if Enabled(category) {
		slog.Log(context.Background(), LevelTrace, msg, append([]any{"debug", category}, args...)...)
	}
}

// ParseLevel converts a level name to a slog.Level; unknown names are INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Truncate shortens s to at most maxLen bytes without splitting a UTF-8
// sequence, appending "..." when anything was cut.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	for _, cat := range strings.Split(s, ",") {
		if cat = strings.ToLower(strings.TrimSpace(cat)); cat != "" {
			m[cat] = true
		}
	}
	return m
}
