package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvLookup resolves an environment variable, mirroring os.LookupEnv.
type EnvLookup func(key string) (string, bool)

// DefaultEnvLookup reads from the process environment.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

type loadOptions struct {
	configPath string
	envLookup  EnvLookup
	readFile   func(string) ([]byte, error)
}

// Option customizes Load, mainly so tests can inject file and env sources.
type Option func(*loadOptions)

// WithConfigPath points Load at an explicit config file.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) { o.configPath = path }
}

// WithEnvLookup overrides the environment source.
func WithEnvLookup(lookup EnvLookup) Option {
	return func(o *loadOptions) { o.envLookup = lookup }
}

// WithReadFile overrides the file reader.
func WithReadFile(read func(string) ([]byte, error)) Option {
	return func(o *loadOptions) { o.readFile = read }
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load resolves the full configuration: defaults, then the YAML file (with
// ${VAR} interpolation), then AGENTEX_* environment overrides.
func Load(opts ...Option) (Config, error) {
	options := loadOptions{
		envLookup: DefaultEnvLookup,
		readFile:  os.ReadFile,
	}
	for _, opt := range opts {
		opt(&options)
	}

	cfg := Default()

	path := strings.TrimSpace(options.configPath)
	if path == "" {
		if fromEnv, ok := options.envLookup("AGENTEX_CONFIG"); ok {
			path = strings.TrimSpace(fromEnv)
		}
	}
	if path != "" {
		data, err := options.readFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Missing file falls through to defaults + env.
		case err != nil:
			return Config{}, fmt.Errorf("read config file: %w", err)
		case len(bytes.TrimSpace(data)) > 0:
			interpolated := interpolateEnv(string(data), options.envLookup)
			if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg, options.envLookup)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// interpolateEnv replaces ${VAR} references with environment values.
// Unset references are kept verbatim so misconfiguration is visible.
func interpolateEnv(raw string, lookup EnvLookup) string {
	return envRefPattern.ReplaceAllStringFunc(raw, func(match string) string {
		key := envRefPattern.FindStringSubmatch(match)[1]
		if value, ok := lookup(key); ok {
			return value
		}
		return match
	})
}

func applyEnvOverrides(cfg *Config, lookup EnvLookup) {
	setString(lookup, "AGENTEX_DATABASE_URL", &cfg.Database.URL)
	setString(lookup, "AGENTEX_AUTHN_PROVIDER", &cfg.Authn.Provider)
	setString(lookup, "AGENTEX_AUTHN_ENDPOINT", &cfg.Authn.Endpoint)
	setString(lookup, "AGENTEX_AUTHZ_ENDPOINT", &cfg.Authz.Endpoint)
	setString(lookup, "AGENTEX_AUTHZ_SERVICE_TOKEN", &cfg.Authz.ServiceToken)
	setString(lookup, "AGENTEX_WORKFLOW_ENDPOINT", &cfg.Workflow.Endpoint)
	setString(lookup, "AGENTEX_ENVIRONMENT", &cfg.Server.Environment)
	setString(lookup, "AGENTEX_LOG_LEVEL", &cfg.Observability.LogLevel)
	setInt(lookup, "AGENTEX_PORT", &cfg.Server.Port)
	setInt(lookup, "AGENTEX_METRICS_PORT", &cfg.Observability.Metrics.Port)
}

func setString(lookup EnvLookup, key string, target *string) {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func setInt(lookup EnvLookup, key string, target *int) {
	if value, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			*target = parsed
		}
	}
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("database url is required")
	}
	switch c.Authn.Provider {
	case "default", "apikey":
	default:
		return fmt.Errorf("unknown authn provider %q", c.Authn.Provider)
	}
	if c.Authn.Timeout <= 0 || c.Authz.Timeout <= 0 || c.Workflow.Timeout <= 0 {
		return fmt.Errorf("outbound call timeouts must be positive")
	}
	if c.Authn.Timeout > time.Minute || c.Authz.Timeout > time.Minute {
		return fmt.Errorf("authn/authz timeouts must stay in the seconds range")
	}
	return nil
}
