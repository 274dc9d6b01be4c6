package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config is the decoded engine configuration.
type Config struct {
	Server    string `json:"server"`
	CacheDir  string `json:"cache_dir"`
	ConfigDir string `json:"config_dir"`
	Debug     bool   `json:"debug"`
	Trace     bool   `json:"trace"`

	Credentials struct {
		Backend string `json:"backend"`
	} `json:"credentials"`

	Media struct {
		Workers int `json:"workers"`
	} `json:"media"`
}

func LoadConfig(cfgfile string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("server", "https://matrix.org")
	v.SetDefault("credentials.backend", "keyring")
	v.SetDefault("media.workers", 20)

	v.SetEnvPrefix("fractal")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	// use environment variables
	v.AutomaticEnv()

	if cfgfile != "" {
		v.SetConfigFile(cfgfile)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s", err)
		}

		// reload config on file changes
		if runtime.GOOS != "illumos" {
			v.WatchConfig()
		}
	}

	return v, nil
}

// Decode materializes the viper settings into a Config, filling the
// cache and config directories from the XDG locations when unset.
func Decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata: nil,
		Result:   cfg,
		TagName:  "json",
	})
	if err != nil {
		return nil, err
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, err
	}

	if cfg.CacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, err
		}

		cfg.CacheDir = filepath.Join(base, "fractal")
	}

	if cfg.ConfigDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, err
		}

		cfg.ConfigDir = filepath.Join(base, "fractal")
	}

	if cfg.Media.Workers <= 0 {
		cfg.Media.Workers = 20
	}

	return cfg, nil
}
