package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/leapstack-labs/songlake/internal/ingest"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// nesting levels: SONGLAKE_OUTPUT__ROOT sets output.root.
const EnvPrefix = "SONGLAKE_"

// configKey and loggerKey store values in a command context.
type (
	configKey struct{}
	loggerKey struct{}
)

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"input":            "input.root",
	"output":           "output.root",
	"compression":      "output.compression",
	"state":            "state_path",
	"database":         "runtime.database",
	"threads":          "runtime.threads",
	"memory-limit":     "runtime.memory_limit",
	"scratch-dir":      "runtime.scratch_dir",
	"workers":          "ingest.workers",
	"metrics-textfile": "metrics.textfile",
	"log-level":        "log.level",
	"log-format":       "log.format",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// defaults returns the lowest-precedence layer.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"input.root":         DefaultInputRoot,
		"input.catalog_glob": ingest.DefaultCatalogGlob,
		"input.events_glob":  ingest.DefaultEventsGlob,
		"output.root":        DefaultOutputRoot,
		"output.compression": DefaultCompression,
		"state_path":         DefaultStateFile,
		"metrics.job":        DefaultJob,
		"log.level":          DefaultLogLevel,
		"log.format":         DefaultLogFormat,
	}
}

// findConfigFile finds the config file to use.
// Priority: explicit path > songlake.yaml > songlake.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{"songlake.yaml", "songlake.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// envKey transforms SONGLAKE_OUTPUT__ROOT into output.root.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Load loads configuration from defaults, file, environment and flags, then
// validates it.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	used := findConfigFile(cfgFile)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	// 3. Environment
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags that were explicitly set
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.File = used

	expandCredentials(&cfg.Credentials)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// expandCredentials expands environment references in credential fields.
func expandCredentials(c *CredentialsConfig) {
	c.AccessKeyID = expandEnvVars(c.AccessKeyID)
	c.SecretAccessKey = expandEnvVars(c.SecretAccessKey)
	c.SessionToken = expandEnvVars(c.SessionToken)
	c.GCSCredentialsFile = expandEnvVars(c.GCSCredentialsFile)
}

// WithConfig stores cfg in ctx.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext retrieves the config stored by WithConfig.
func FromContext(ctx context.Context) (*Config, bool) {
	cfg, ok := ctx.Value(configKey{}).(*Config)
	return cfg, ok && cfg != nil
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	// Return discard logger as safe fallback
	return slog.New(slog.DiscardHandler)
}
