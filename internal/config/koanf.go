package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces every environment override
const EnvPrefix = "CLASSPULSE_"

// ConfigPathEnvVar names the optional YAML config file
const ConfigPathEnvVar = "CLASSPULSE_CONFIG_FILE"

// Load builds the configuration with precedence env > file > defaults.
// An empty path skips the file layer; a path that does not exist is an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	// CORS origins arrive from the environment as a comma separated string
	if raw, ok := k.Get("http.cors_origins").(string); ok {
		if err := k.Set("http.cors_origins", splitList(raw)); err != nil {
			return nil, fmt.Errorf("failed to parse cors origins: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// envKey maps CLASSPULSE_WEBSOCKET_PING_INTERVAL to websocket.ping_interval.
// Section names are single words, so only the first underscore is a separator.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if key == "config_file" {
		return ""
	}
	return strings.Replace(key, "_", ".", 1)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
