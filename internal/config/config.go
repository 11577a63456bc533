// Package config loads the ambient, non-topology settings (log level, debug
// annotations, an input-file override) through viper. It never touches the
// fixed ten-site, twenty-variable layout — that stays spec-fixed in
// internal/txn.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Options holds everything a config file or environment may override.
type Options struct {
	LogLevel  string `mapstructure:"log_level"`
	Debug     bool   `mapstructure:"debug"`
	InputFile string `mapstructure:"input_file"`
}

// Load reads an optional config file (YAML/TOML/JSON, sniffed by viper from
// its extension) layered over defaults and RCE_-prefixed environment
// variables. An empty path skips the file read entirely.
func Load(path string) (*Options, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &opts, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("debug", false)
	v.SetDefault("input_file", "")
}
