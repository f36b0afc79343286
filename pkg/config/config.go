// Package config provides unified configuration for the majordomo server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (MAJORDOMO_ prefix)
//  4. Backward-compatible env var mapping for legacy variable names
//  5. File reference resolution (_file suffix fields)
//  6. Validation
package config

import "time"

// Config holds all configuration for the majordomo server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Engine        EngineConfig        `yaml:"engine"`
	Slack         SlackConfig         `yaml:"slack"`
	GitHub        GitHubConfig        `yaml:"github"`
	MCP           MCPConfig           `yaml:"mcp"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 17760
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 10s (header read)
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 60s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
	MaxBodySize     int64         `yaml:"max_body_size"`    // default: 1 MB

	// InvocationsPerMinute limits POST /h/{address} per address. 0 disables.
	InvocationsPerMinute int `yaml:"invocations_per_minute"`
}

// StorageConfig holds snapshot persistence settings.
type StorageConfig struct {
	Type         string         `yaml:"type"`          // "file" or "postgres", default: "file"
	HandlersPath string         `yaml:"handlers_path"` // default: "handlers.json"
	APIKeysPath  string         `yaml:"api_keys_path"` // default: "api_keys.json"
	Postgres     PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	DSNFile         string        `yaml:"dsn_file"`          // _file variant for dsn
	MaxConns        int32         `yaml:"max_conns"`         // default: 25
	MinConns        int32         `yaml:"min_conns"`         // 0 uses the store default (2)
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"` // 0 uses the store default (30m)
	MigrateOnStart  bool          `yaml:"migrate_on_start"`  // default: true
}

// EngineConfig selects the script language.
type EngineConfig struct {
	Language     string `yaml:"language"`       // "starlark" or "hcl", default: "starlark"
	MaxSteps     int    `yaml:"max_steps"`      // 0 uses the engine default
	MaxValueSize int    `yaml:"max_value_size"` // 0 uses the engine default (1 MiB)
}

// SlackConfig holds chat credentials. A token of "no-slack" disables the
// chat capability and event routing.
type SlackConfig struct {
	Token             string `yaml:"token"`
	TokenFile         string `yaml:"token_file"`
	SigningSecret     string `yaml:"signing_secret"`
	SigningSecretFile string `yaml:"signing_secret_file"`
	BaseURL           string `yaml:"base_url"`
}

// GitHubConfig holds issue-tracker credentials. Either a token or a
// GitHub App (app_id, installation_id, private_key_file) may be set. A
// token of "no-github" disables the ticket capability.
type GitHubConfig struct {
	Token          string `yaml:"token"`
	TokenFile      string `yaml:"token_file"`
	AppID          int64  `yaml:"app_id"`
	InstallationID int64  `yaml:"installation_id"`
	PrivateKeyFile string `yaml:"private_key_file"`
	BaseURL        string `yaml:"base_url"`
}

// AppAuth reports whether GitHub App authentication is configured.
func (g GitHubConfig) AppAuth() bool {
	return g.AppID != 0
}

// MCPConfig holds settings for the MCP endpoint.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"` // default: false
	Path    string `yaml:"path"`    // default: "/mcp"

	// RequireAuth guards the endpoint with a bearer API key.
	RequireAuth bool `yaml:"require_auth"` // default: true
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

// LoggingConfig controls process logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // ERROR, WARN, INFO, DEBUG, TRACE; default: INFO
	Format string `yaml:"format"` // "text" or "json", default: "text"
	Debug  string `yaml:"debug"`  // comma-separated debug categories
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            17760,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodySize:     1 << 20,
		},
		Storage: StorageConfig{
			Type:         "file",
			HandlersPath: "handlers.json",
			APIKeysPath:  "api_keys.json",
			Postgres: PostgresConfig{
				MaxConns:       25,
				MigrateOnStart: true,
			},
		},
		Engine: EngineConfig{
			Language: "starlark",
		},
		MCP: MCPConfig{
			Path:        "/mcp",
			RequireAuth: true,
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
