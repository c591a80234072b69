// Package config provides the process-wide configuration, loaded once from
// the environment at startup.
package config

import (
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const paramEnvPrefix = "OSIRIS_PARAM_"

// Config provides the system configuration.
type Config struct {
	Home            string `envconfig:"OSIRIS_HOME" default:"."`
	SessionsDir     string `envconfig:"OSIRIS_SESSIONS_DIR" default:".osiris/sessions"`
	LogLevel        string `envconfig:"OSIRIS_LOG_LEVEL" default:"info"`
	LogFile         string `envconfig:"OSIRIS_LOG_FILE"`
	ConnectionsFile string `envconfig:"OSIRIS_CONNECTIONS_FILE" default:"osiris_connections.yaml"`

	// Param holds OSIRIS_PARAM_<NAME> overrides, keyed by the lower-cased
	// <NAME>. envconfig has no wildcard-prefix support, so this is
	// populated separately in Load by scanning os.Environ.
	Param map[string]string
}

// Load loads the configuration from the environment.
func Load() (Config, error) {
	cfg := Config{}
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	cfg.Param = scanParamOverrides(os.Environ())
	return cfg, nil
}

func scanParamOverrides(environ []string) map[string]string {
	out := make(map[string]string)
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, paramEnvPrefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, paramEnvPrefix))
		if key == "" {
			continue
		}
		out[key] = value
	}
	return out
}
