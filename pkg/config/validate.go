package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}
	if c.Server.MaxBodySize <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_size must be > 0, got %d", c.Server.MaxBodySize))
	}
	if c.Server.InvocationsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("server.invocations_per_minute must be >= 0, got %d", c.Server.InvocationsPerMinute))
	}

	switch c.Storage.Type {
	case "file":
		if c.Storage.HandlersPath == "" {
			errs = append(errs, fmt.Errorf("storage.handlers_path is required when storage.type is \"file\""))
		}
		if c.Storage.APIKeysPath == "" {
			errs = append(errs, fmt.Errorf("storage.api_keys_path is required when storage.type is \"file\""))
		}
	case "postgres":
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
		pg := c.Storage.Postgres
		if pg.MaxConns < 0 || pg.MinConns < 0 {
			errs = append(errs, fmt.Errorf("storage.postgres.max_conns and min_conns must be >= 0"))
		}
		if pg.MaxConns > 0 && pg.MinConns > pg.MaxConns {
			errs = append(errs, fmt.Errorf("storage.postgres.min_conns (%d) exceeds max_conns (%d)", pg.MinConns, pg.MaxConns))
		}
		if pg.MaxConnLifetime < 0 {
			errs = append(errs, fmt.Errorf("storage.postgres.max_conn_lifetime must be >= 0, got %s", pg.MaxConnLifetime))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"file\" or \"postgres\", got %q", c.Storage.Type))
	}

	switch c.Engine.Language {
	case "starlark", "hcl":
	default:
		errs = append(errs, fmt.Errorf("engine.language must be \"starlark\" or \"hcl\", got %q", c.Engine.Language))
	}
	if c.Engine.MaxSteps < 0 {
		errs = append(errs, fmt.Errorf("engine.max_steps must be >= 0, got %d", c.Engine.MaxSteps))
	}
	if c.Engine.MaxValueSize < 0 {
		errs = append(errs, fmt.Errorf("engine.max_value_size must be >= 0, got %d", c.Engine.MaxValueSize))
	}

	if c.GitHub.AppAuth() {
		if c.GitHub.InstallationID == 0 {
			errs = append(errs, fmt.Errorf("github.installation_id is required when github.app_id is set"))
		}
		if c.GitHub.PrivateKeyFile == "" {
			errs = append(errs, fmt.Errorf("github.private_key_file is required when github.app_id is set"))
		}
	}

	if c.MCP.Enabled && !strings.HasPrefix(c.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path must start with \"/\", got %q", c.MCP.Path))
	}
	if c.Observability.Metrics.Enabled && !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("observability.metrics.path must start with \"/\", got %q", c.Observability.Metrics.Path))
	}
	if c.MCP.Enabled && c.Observability.Metrics.Enabled && c.MCP.Path == c.Observability.Metrics.Path {
		errs = append(errs, fmt.Errorf("mcp.path and observability.metrics.path must differ, both are %q", c.MCP.Path))
	}
	for _, p := range []string{c.MCP.Path, c.Observability.Metrics.Path} {
		if reservedPath(p) {
			errs = append(errs, fmt.Errorf("path %q collides with a built-in route", p))
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json", "":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

var builtinRoutes = []string{
	"/upsert_handler", "/find_handler", "/list_handlers",
	"/verify_key", "/slack_redirector", "/healthz",
}

func reservedPath(p string) bool {
	return p == "/" || strings.HasPrefix(p, "/h/") || slices.Contains(builtinRoutes, p)
}
