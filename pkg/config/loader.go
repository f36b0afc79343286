package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfig names the config file when no explicit path is given.
const EnvConfig = "MAJORDOMO_CONFIG"

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, MAJORDOMO_CONFIG env, ./config.yaml, /etc/majordomo/config.yaml)
//  3. Legacy environment variables (PORT, HANDLER_PATH, ...)
//  4. MAJORDOMO_* environment variables
//  5. File reference resolution (_file suffix)
//  6. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	applyLegacyEnv(&cfg)
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

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
// 2. MAJORDOMO_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/majordomo/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv(EnvConfig); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/majordomo/config.yaml",
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

// applyLegacyEnv honors the variable names of existing deployments.
// Unparsable values are ignored, as they always were.
func applyLegacyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("HANDLER_PATH"); v != "" {
		cfg.Storage.HandlersPath = v
	}
	if v := os.Getenv("API_KEYS_PATH"); v != "" {
		cfg.Storage.APIKeysPath = v
	}
	if v := os.Getenv("SLACK_TOKEN"); v != "" {
		cfg.Slack.Token = v
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		cfg.GitHub.Token = v
	}
}

// applyEnvOverrides maps MAJORDOMO_* variables onto config fields. They
// take precedence over the legacy names.
func applyEnvOverrides(cfg *Config) error {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	var errs []string
	parse := func(name string, set func(string) error) {
		if v := os.Getenv(name); v != "" {
			if err := set(v); err != nil {
				errs = append(errs, fmt.Sprintf("%s=%q: %v", name, v, err))
			}
		}
	}

	parse("MAJORDOMO_PORT", func(v string) error {
		n, err := strconv.Atoi(v)
		cfg.Server.Port = n
		return err
	})
	parse("MAJORDOMO_WRITE_TIMEOUT", func(v string) error {
		d, err := time.ParseDuration(v)
		cfg.Server.WriteTimeout = d
		return err
	})
	parse("MAJORDOMO_MAX_BODY_SIZE", func(v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		cfg.Server.MaxBodySize = n
		return err
	})
	parse("MAJORDOMO_INVOCATIONS_PER_MINUTE", func(v string) error {
		n, err := strconv.Atoi(v)
		cfg.Server.InvocationsPerMinute = n
		return err
	})

	str("MAJORDOMO_STORAGE", &cfg.Storage.Type)
	str("MAJORDOMO_HANDLERS_PATH", &cfg.Storage.HandlersPath)
	str("MAJORDOMO_API_KEYS_PATH", &cfg.Storage.APIKeysPath)
	str("MAJORDOMO_POSTGRES_DSN", &cfg.Storage.Postgres.DSN)

	str("MAJORDOMO_ENGINE", &cfg.Engine.Language)
	parse("MAJORDOMO_MAX_STEPS", func(v string) error {
		n, err := strconv.Atoi(v)
		cfg.Engine.MaxSteps = n
		return err
	})

	str("MAJORDOMO_SLACK_TOKEN", &cfg.Slack.Token)
	str("MAJORDOMO_SLACK_SIGNING_SECRET", &cfg.Slack.SigningSecret)
	str("MAJORDOMO_GITHUB_TOKEN", &cfg.GitHub.Token)

	parse("MAJORDOMO_MCP_ENABLED", func(v string) error {
		b, err := strconv.ParseBool(v)
		cfg.MCP.Enabled = b
		return err
	})
	parse("MAJORDOMO_METRICS_ENABLED", func(v string) error {
		b, err := strconv.ParseBool(v)
		cfg.Observability.Metrics.Enabled = b
		return err
	})

	str("MAJORDOMO_LOG_FORMAT", &cfg.Logging.Format)

	if len(errs) > 0 {
		return fmt.Errorf("invalid values: %s", strings.Join(errs, "; "))
	}
	return nil
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	refs := []struct {
		name  string
		file  string
		value *string
	}{
		{"storage.postgres.dsn_file", cfg.Storage.Postgres.DSNFile, &cfg.Storage.Postgres.DSN},
		{"slack.token_file", cfg.Slack.TokenFile, &cfg.Slack.Token},
		{"slack.signing_secret_file", cfg.Slack.SigningSecretFile, &cfg.Slack.SigningSecret},
		{"github.token_file", cfg.GitHub.TokenFile, &cfg.GitHub.Token},
	}

	for _, ref := range refs {
		if ref.file == "" || *ref.value != "" {
			continue
		}
		val, err := readSecretFile(ref.file)
		if err != nil {
			return fmt.Errorf("%s: %w", ref.name, err)
		}
		*ref.value = val
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
