package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	configName = "repoferry"
	envPrefix  = "REPOFERRY"
)

// Load reads configuration from path (or from repoferry.yaml in the current
// directory and ~/.config/repoferry when path is empty), layered under
// REPOFERRY_* environment overrides. Nested keys map to underscores:
// source.token becomes REPOFERRY_SOURCE_TOKEN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/repoferry")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := New()
	v.SetDefault("options.clone_transport", defaults.Options.CloneTransport)
	v.SetDefault("options.preserve_branches", defaults.Options.PreserveBranches)
	v.SetDefault("options.preserve_tags", defaults.Options.PreserveTags)
	v.SetDefault("options.verify_tls", defaults.Options.VerifyTLS)
	v.SetDefault("options.concurrency", defaults.Options.Concurrency)
	v.SetDefault("options.mapping_delay", defaults.Options.MappingDelay)
	v.SetDefault("options.git_timeout", defaults.Options.GitTimeout)
	v.SetDefault("options.request_timeout", defaults.Options.RequestTimeout)
	v.SetDefault("options.log_level", defaults.Options.LogLevel)
	v.SetDefault("options.log_format", defaults.Options.LogFormat)

	if path != "" {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// A missing default config file is fine (everything may come from
		// the environment); an explicitly named one is not.
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read configuration: %w", err)
		}
	}

	cfg := New()
	// Viper's default decode hooks already parse "2s"/"30m" strings into
	// time.Duration fields.
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}
	return cfg, nil
}
