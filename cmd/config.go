package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const envPrefix = "HMFEMU_"

// Defaults for the serve configuration.
const (
	DefaultAddr    = "127.0.0.1:8080"
	DefaultWorkers = 0
)

// ServeConfig configures the HTTP server.
type ServeConfig struct {
	Addr    string `koanf:"addr"`
	Design  string `koanf:"design"`
	Store   string `koanf:"store"`
	Workers int    `koanf:"workers"`
}

// LoadServeConfig layers defaults, the optional YAML file, HMFEMU_ environment
// variables and explicitly set flags, in increasing priority. Relative paths
// from the file resolve against the file's directory.
func LoadServeConfig(cfgFile string, flags *pflag.FlagSet) (*ServeConfig, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(map[string]interface{}{
		"addr":    DefaultAddr,
		"design":  "",
		"store":   "",
		"workers": DefaultWorkers,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
		base := filepath.Dir(cfgFile)
		for _, key := range []string{"design", "store"} {
			if p := k.String(key); p != "" && !filepath.IsAbs(p) && p != ":memory:" {
				if err := k.Set(key, filepath.Join(base, p)); err != nil {
					return nil, err
				}
			}
		}
	}

	// HMFEMU_STORE -> store
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed || f.Name == "config" || f.Name == "log" {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg ServeConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if cfg.Design == "" {
		return nil, fmt.Errorf("design is required (flag --design, key design or %sDESIGN)", envPrefix)
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("workers must not be negative, got %d", cfg.Workers)
	}
	return &cfg, nil
}
