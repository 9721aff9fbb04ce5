// Package config provides unified configuration for polyrun.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (POLYRUN_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Isolation backends.
const (
	IsolationNone   = "none"
	IsolationDocker = "docker"
	IsolationRemote = "remote"
)

// Config holds all configuration for polyrun.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Engine        EngineConfig        `yaml:"engine"`
	Sandbox       SandboxConfig       `yaml:"sandbox"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 300s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
	MaxBodySize     int64         `yaml:"max_body_size"`    // default: 2 MiB
	AllowedOrigins  []string      `yaml:"allowed_origins"`  // WebSocket origins
}

// EngineConfig holds the per-run defaults.
type EngineConfig struct {
	// Languages restricts execution to these languages. Empty allows all.
	Languages         []string       `yaml:"languages"`
	Timeout           time.Duration  `yaml:"timeout"` // per block, default: 30s
	ContinueOnFailure bool           `yaml:"continue_on_failure"`
	Consolidate       bool           `yaml:"consolidate"` // default: true
	Security          SecurityConfig `yaml:"security"`

	// PluginsDir holds YAML runner manifests loaded at startup.
	PluginsDir string `yaml:"plugins_dir"`
}

// SecurityConfig controls the static source check.
type SecurityConfig struct {
	Enabled bool `yaml:"enabled"` // default: true

	// Patterns adds forbidden regular expressions per language.
	Patterns map[string][]string `yaml:"patterns"`
}

// SandboxConfig selects and tunes the isolated execution backend.
type SandboxConfig struct {
	Isolation   string       `yaml:"isolation"`    // "none", "docker" or "remote", default: "none"
	ImagePrefix string       `yaml:"image_prefix"` // default: "polyrun"
	Memory      string       `yaml:"memory"`       // docker notation, default: "512m"
	CPUs        float64      `yaml:"cpus"`         // default: 0.5
	PidsLimit   int64        `yaml:"pids_limit"`   // default: 50
	TmpfsSize   string       `yaml:"tmpfs_size"`   // default: "100m"
	User        string       `yaml:"user"`         // default: "65534:65534"
	DockerHost  string       `yaml:"docker_host"`  // empty uses DOCKER_HOST
	Remote      RemoteConfig `yaml:"remote"`
}

// RemoteConfig points at a sandbox server, either at a fixed URL or by
// claiming one from Kubernetes per block.
type RemoteConfig struct {
	URL        string           `yaml:"url"`
	Timeout    time.Duration    `yaml:"timeout"` // HTTP client timeout, default: 5m
	Kubernetes KubernetesConfig `yaml:"kubernetes"`
}

// KubernetesConfig holds SandboxClaim settings.
type KubernetesConfig struct {
	Template     string        `yaml:"template"`
	Namespace    string        `yaml:"namespace"`     // default: "default"
	ClaimTimeout time.Duration `yaml:"claim_timeout"` // default: 2m
	Port         int           `yaml:"port"`          // default: 8080
}

// StorageConfig holds project storage settings.
type StorageConfig struct {
	Type     string         `yaml:"type"`     // "memory" or "postgres", default: "memory"
	MaxSize  int            `yaml:"max_size"` // for memory store, default: 10000
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type      string          `yaml:"type"`     // "none", "apikey" or "jwt", default: "none"
	APIKeys   []APIKeyConfig  `yaml:"api_keys"` // API key entries for type=apikey
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key" json:"key"`
	KeyFile     string `yaml:"key_file" json:"key_file"` // _file variant for key
	Subject     string `yaml:"subject" json:"subject"`
	Owner       string `yaml:"owner" json:"owner"` // default: subject
	ServiceTier string `yaml:"service_tier" json:"service_tier"`
}

// JWTConfig holds JWT validation settings for type=jwt.
type JWTConfig struct {
	Issuer     string `yaml:"issuer"`
	Audience   string `yaml:"audience"`
	JWKSURL    string `yaml:"jwks_url"`
	Secret     string `yaml:"secret"`      // HMAC secret, alternative to jwks_url
	SecretFile string `yaml:"secret_file"` // _file variant for secret
	UserClaim  string `yaml:"user_claim"`
	OwnerClaim string `yaml:"owner_claim"`
	TierClaim  string `yaml:"tier_claim"`
}

// RateLimitConfig limits requests per minute per subject. Zero disables
// limiting.
type RateLimitConfig struct {
	RequestsPerMinute int            `yaml:"requests_per_minute"`
	Tiers             map[string]int `yaml:"tiers"` // tier name -> requests per minute
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// LoggingConfig holds log output settings. POLYRUN_LOG_LEVEL and
// POLYRUN_DEBUG take precedence at startup.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // ERROR, WARN, INFO, DEBUG, TRACE; default: INFO
	Format string `yaml:"format"` // "text" or "json", default: "text"
	Debug  string `yaml:"debug"`  // comma-separated debug categories
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    300 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodySize:     2 << 20,
		},
		Engine: EngineConfig{
			Timeout:     30 * time.Second,
			Consolidate: true,
			Security: SecurityConfig{
				Enabled: true,
			},
		},
		Sandbox: SandboxConfig{
			Isolation:   IsolationNone,
			ImagePrefix: "polyrun",
			Memory:      "512m",
			CPUs:        0.5,
			PidsLimit:   50,
			TmpfsSize:   "100m",
			User:        "65534:65534",
			Remote: RemoteConfig{
				Timeout: 5 * time.Minute,
				Kubernetes: KubernetesConfig{
					Namespace:    "default",
					ClaimTimeout: 2 * time.Minute,
					Port:         8080,
				},
			},
		},
		Storage: StorageConfig{
			Type:    "memory",
			MaxSize: 10000,
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Auth: AuthConfig{
			Type: "none",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}
