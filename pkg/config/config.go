/*
Package config holds the hub configuration: a YAML file overlaid with the
recognized environment variables, validated before use. Defaults make a
bare `bridgehub server` start with an on-disk store and the API paused.
*/
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/qsbridge/bridgehub/pkg/storage/dbconfig"
)

const userAgentFormat = "/BridgeHub:%s/"

// Version is the version of the hub, set at build time.
var Version string

// Config is the top level struct representing the config for the hub.
type Config struct {
	ApplicationConfiguration ApplicationConfiguration `yaml:"ApplicationConfiguration"`
}

// GenerateUserAgent creates user agent string based on build time environment.
func (c Config) GenerateUserAgent() string {
	return fmt.Sprintf(userAgentFormat, Version)
}

// Default returns the configuration every load starts from.
func Default() Config {
	return Config{
		ApplicationConfiguration: ApplicationConfiguration{
			DBConfiguration: dbconfig.DBConfiguration{
				Type: dbconfig.BoltDB,
				BoltDBOptions: dbconfig.BoltDBOptions{
					FilePath: "./bridgehub.db",
				},
			},
			LogLevel: "info",
			RelayerAPI: RelayerAPI{
				Port: 8080,
				// Relaying is not this process's job, report the
				// bridge paused unless an operator flips it.
				Paused: true,
			},
		},
	}
}

// Load reads the YAML config from path (skipped when empty), overlays the
// recognized environment variables and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("unable to read config: %w", err)
		}
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to unmarshal config YAML: %w", err)
		}
	}
	if err := cfg.ApplicationConfiguration.ApplyEnvironment(); err != nil {
		return Config{}, err
	}
	if err := cfg.ApplicationConfiguration.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
