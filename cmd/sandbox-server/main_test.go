package main

import (
	"context"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestLoadSettings(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		want    settings
		wantErr []string
	}{
		{
			name: "defaults",
			want: settings{port: 8080, maxConcurrent: 3, maxBodyBytes: 10 << 20, writeTimeout: 10 * time.Minute},
		},
		{
			name: "overrides",
			env: map[string]string{
				"SANDBOX_PORT":           "9090",
				"SANDBOX_MAX_CONCURRENT": "8",
				"SANDBOX_MAX_BODY_BYTES": "1024",
				"SANDBOX_WRITE_TIMEOUT":  "90s",
			},
			want: settings{port: 9090, maxConcurrent: 8, maxBodyBytes: 1024, writeTimeout: 90 * time.Second},
		},
		{
			name:    "malformed values are all reported",
			env:     map[string]string{"SANDBOX_PORT": "http", "SANDBOX_MAX_CONCURRENT": "0", "SANDBOX_WRITE_TIMEOUT": "soon"},
			wantErr: []string{"SANDBOX_PORT", "SANDBOX_MAX_CONCURRENT", "SANDBOX_WRITE_TIMEOUT"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := loadSettings(func(k string) string { return tt.env[k] })
			if len(tt.wantErr) > 0 {
				if err == nil {
					t.Fatal("expected an error")
				}
				for _, name := range tt.wantErr {
					if !strings.Contains(err.Error(), name) {
						t.Errorf("error %q does not mention %s", err, name)
					}
				}
				return
			}
			if err != nil {
				t.Fatalf("loadSettings() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("settings = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, ln, newSandboxServer(1, 1024, discard).routes(), time.Minute)
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
