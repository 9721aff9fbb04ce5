package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/polyrun/pkg/debug"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, POLYRUN_CONFIG env, ./polyrun.yaml, /etc/polyrun/config.yaml)
//  3. POLYRUN_* environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
		debug.Log("config", "config file loaded", "path", filePath)
	}

	applyEnvOverrides(&cfg)

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. POLYRUN_CONFIG environment variable
// 3. ./polyrun.yaml in the current directory
// 4. /etc/polyrun/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("POLYRUN_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"polyrun.yaml",
		"/etc/polyrun/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// envBinding applies one POLYRUN_* variable to the config.
type envBinding struct {
	name  string
	apply func(cfg *Config, v string) error
}

func str(set func(*Config, string)) func(*Config, string) error {
	return func(cfg *Config, v string) error { set(cfg, v); return nil }
}

func integer(set func(*Config, int)) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err == nil {
			set(cfg, n)
		}
		return err
	}
}

func boolean(set func(*Config, bool)) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err == nil {
			set(cfg, b)
		}
		return err
	}
}

var envBindings = []envBinding{
	{"POLYRUN_PORT", integer(func(c *Config, n int) { c.Server.Port = n })},

	{"POLYRUN_LANGUAGES", str(func(c *Config, v string) { c.Engine.Languages = splitList(v) })},
	{"POLYRUN_TIMEOUT", func(c *Config, v string) error {
		d, err := parseDuration(v)
		if err == nil {
			c.Engine.Timeout = d
		}
		return err
	}},
	{"POLYRUN_CONTINUE_ON_FAILURE", boolean(func(c *Config, b bool) { c.Engine.ContinueOnFailure = b })},
	{"POLYRUN_CONSOLIDATE", boolean(func(c *Config, b bool) { c.Engine.Consolidate = b })},
	{"POLYRUN_SECURITY", boolean(func(c *Config, b bool) { c.Engine.Security.Enabled = b })},
	{"POLYRUN_PLUGINS_DIR", str(func(c *Config, v string) { c.Engine.PluginsDir = v })},

	{"POLYRUN_ISOLATION", str(func(c *Config, v string) { c.Sandbox.Isolation = v })},
	{"POLYRUN_IMAGE_PREFIX", str(func(c *Config, v string) { c.Sandbox.ImagePrefix = v })},
	{"POLYRUN_DOCKER_HOST", str(func(c *Config, v string) { c.Sandbox.DockerHost = v })},
	{"POLYRUN_SANDBOX_URL", str(func(c *Config, v string) { c.Sandbox.Remote.URL = v })},

	{"POLYRUN_STORAGE", str(func(c *Config, v string) { c.Storage.Type = v })},
	{"POLYRUN_STORAGE_SIZE", integer(func(c *Config, n int) { c.Storage.MaxSize = n })},
	{"POLYRUN_POSTGRES_DSN", str(func(c *Config, v string) { c.Storage.Postgres.DSN = v })},

	{"POLYRUN_AUTH_TYPE", str(func(c *Config, v string) { c.Auth.Type = v })},
	// JSON array of api_keys entries.
	{"POLYRUN_API_KEYS", func(c *Config, v string) error {
		var keys []APIKeyConfig
		if err := json.Unmarshal([]byte(v), &keys); err != nil {
			return err
		}
		if len(keys) > 0 {
			c.Auth.APIKeys = keys
		}
		return nil
	}},
	{"POLYRUN_JWT_SECRET", str(func(c *Config, v string) { c.Auth.JWT.Secret = v })},

	{"POLYRUN_LOG_FORMAT", str(func(c *Config, v string) { c.Logging.Format = v })},
}

// applyEnvOverrides applies the set POLYRUN_* variables. Malformed values
// are logged and ignored.
func applyEnvOverrides(cfg *Config) {
	for _, b := range envBindings {
		v := os.Getenv(b.name)
		if v == "" {
			continue
		}
		if err := b.apply(cfg, v); err != nil {
			slog.Warn("ignoring malformed environment override", "name", b.name, "error", err)
		}
	}
}

// parseDuration accepts Go durations ("45s") and bare seconds ("45").
func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// resolveFileReferences fills each secret from its _file companion when
// the secret itself is unset. File contents are whitespace-trimmed.
func resolveFileReferences(cfg *Config) error {
	type ref struct {
		name        string
		file, value *string
	}
	refs := []ref{
		{"storage.postgres.dsn_file", &cfg.Storage.Postgres.DSNFile, &cfg.Storage.Postgres.DSN},
		{"auth.jwt.secret_file", &cfg.Auth.JWT.SecretFile, &cfg.Auth.JWT.Secret},
	}
	for i := range cfg.Auth.APIKeys {
		k := &cfg.Auth.APIKeys[i]
		refs = append(refs, ref{fmt.Sprintf("auth.api_keys[%d].key_file", i), &k.KeyFile, &k.Key})
	}

	for _, r := range refs {
		if *r.file == "" || *r.value != "" {
			continue
		}
		val, err := readSecretFile(*r.file)
		if err != nil {
			return fmt.Errorf("%s: %w", r.name, err)
		}
		*r.value = val
	}
	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
