// Command sandbox-server runs inside a sandbox pod and executes the
// artifacts shipped by the polyrun remote backend (POST /execute) in
// local subprocesses.
//
// Configuration:
//
//	SANDBOX_PORT           - Listen port (default: 8080)
//	SANDBOX_MAX_CONCURRENT - Max concurrent executions (default: 3)
//	SANDBOX_MAX_BODY_BYTES - Max request body size (default: 10 MiB)
//	SANDBOX_WRITE_TIMEOUT  - Longest execution response (default: 10m)
//	POLYRUN_LOG_LEVEL      - Log level (default: INFO)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rhuss/polyrun/pkg/debug"
)

type settings struct {
	port          int
	maxConcurrent int
	maxBodyBytes  int64
	writeTimeout  time.Duration
}

// loadSettings reads the SANDBOX_* variables through getenv. Unset
// variables keep their defaults; malformed ones are errors.
func loadSettings(getenv func(string) string) (settings, error) {
	s := settings{port: 8080, maxConcurrent: 3, maxBodyBytes: 10 << 20, writeTimeout: 10 * time.Minute}
	var errs []error

	positive := func(name string, set func(int64)) {
		v := getenv(name)
		if v == "" {
			return
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive integer, got %q", name, v))
			return
		}
		set(n)
	}
	positive("SANDBOX_PORT", func(n int64) { s.port = int(n) })
	positive("SANDBOX_MAX_CONCURRENT", func(n int64) { s.maxConcurrent = int(n) })
	positive("SANDBOX_MAX_BODY_BYTES", func(n int64) { s.maxBodyBytes = n })

	if v := getenv("SANDBOX_WRITE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("SANDBOX_WRITE_TIMEOUT must be a positive duration, got %q", v))
		} else {
			s.writeTimeout = d
		}
	}
	return s, errors.Join(errs...)
}

func main() {
	debug.InitWithFormat("", "", "json")
	if err := run(); err != nil {
		slog.Error("sandbox server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadSettings(os.Getenv)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.port))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := newSandboxServer(cfg.maxConcurrent, cfg.maxBodyBytes, slog.Default())
	slog.Info("sandbox server starting",
		"addr", ln.Addr().String(),
		"toolchains", srv.toolchains(ctx),
		"max_concurrent", cfg.maxConcurrent,
	)
	return serve(ctx, ln, srv.routes(), cfg.writeTimeout)
}

// serve runs h on ln until ctx is done, then drains in-flight requests
// for up to ten seconds.
func serve(ctx context.Context, ln net.Listener, h http.Handler, writeTimeout time.Duration) error {
	httpSrv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
