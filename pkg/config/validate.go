package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/docker/go-units"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}
	if c.Server.MaxBodySize <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_size must be > 0, got %d", c.Server.MaxBodySize))
	}

	if c.Engine.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("engine.timeout must be > 0, got %s", c.Engine.Timeout))
	}

	switch c.Sandbox.Isolation {
	case IsolationNone, IsolationDocker:
		// valid
	case IsolationRemote:
		if c.Sandbox.Remote.URL == "" && c.Sandbox.Remote.Kubernetes.Template == "" {
			errs = append(errs, fmt.Errorf("sandbox.remote.url or sandbox.remote.kubernetes.template is required when sandbox.isolation is \"remote\""))
		}
	default:
		errs = append(errs, fmt.Errorf("sandbox.isolation must be \"none\", \"docker\", or \"remote\", got %q", c.Sandbox.Isolation))
	}
	if c.Sandbox.Memory != "" {
		if _, err := units.RAMInBytes(c.Sandbox.Memory); err != nil {
			errs = append(errs, fmt.Errorf("sandbox.memory: %w", err))
		}
	}
	if c.Sandbox.TmpfsSize != "" {
		if _, err := units.RAMInBytes(c.Sandbox.TmpfsSize); err != nil {
			errs = append(errs, fmt.Errorf("sandbox.tmpfs_size: %w", err))
		}
	}
	if c.Sandbox.CPUs < 0 {
		errs = append(errs, fmt.Errorf("sandbox.cpus must not be negative, got %g", c.Sandbox.CPUs))
	}

	switch c.Storage.Type {
	case "memory", "postgres":
		// valid
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\" or \"postgres\", got %q", c.Storage.Type))
	}

	// If storage.type is "postgres", DSN or DSNFile must be set.
	if c.Storage.Type == "postgres" {
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	}

	switch c.Auth.Type {
	case "none":
		// valid
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, fmt.Errorf("auth.api_keys must not be empty when auth.type is \"apikey\""))
		}
		for i, k := range c.Auth.APIKeys {
			if k.Key == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d].key is required", i))
			}
			if k.Subject == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d].subject is required", i))
			}
		}
	case "jwt":
		if c.Auth.JWT.JWKSURL == "" && c.Auth.JWT.Secret == "" {
			errs = append(errs, fmt.Errorf("auth.jwt.jwks_url or auth.jwt.secret is required when auth.type is \"jwt\""))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
		// valid
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
