// Package config loads settings from an optional YAML file and ANTIKA_
// environment variables.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/manash/antika/pkg/models"
)

const (
	EnvPrefix = "ANTIKA"
	fileName  = ".antika"
)

// Keys understood in the config file. Environment variables use the
// upper-cased key with "." replaced by "_", e.g. ANTIKA_HISTORY_BACKEND.
const (
	KeyModel          = "model"
	KeyBaseURL        = "base_url"
	KeyLanguage       = "language"
	KeyMaxImageBytes  = "max_image_bytes"
	KeyTimeout        = "timeout"
	KeyRetries        = "retries"
	KeyHistoryBackend = "history.backend"
	KeyHistoryPath    = "history.path"
	KeyLogLevel       = "log_level"
	KeyVerbose        = "verbose"
)

type Config struct {
	Model          string
	BaseURL        string
	Language       string
	MaxImageBytes  int64
	TimeoutSec     int
	Retries        int
	HistoryBackend string
	HistoryPath    string
	LogLevel       string
	Verbose        bool

	// File is the config file that was read, if any.
	File string
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyModel, models.DefaultModel)
	v.SetDefault(KeyBaseURL, "")
	v.SetDefault(KeyLanguage, "Turkish")
	v.SetDefault(KeyMaxImageBytes, models.DefaultMaxImageSize)
	v.SetDefault(KeyTimeout, 120)
	v.SetDefault(KeyRetries, 2)
	v.SetDefault(KeyHistoryBackend, "sqlite")
	v.SetDefault(KeyHistoryPath, "")
	v.SetDefault(KeyLogLevel, "warn")
	v.SetDefault(KeyVerbose, false)
}

// Load reads cfgFile, or $HOME/.antika.yaml when cfgFile is empty, into v.
// A missing default file is not an error; a missing explicit file is.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	if cfgFile != "" {
		path, err := homedir.Expand(cfgFile)
		if err != nil {
			return nil, models.ConfigurationError("cannot resolve config path "+cfgFile, err)
		}
		v.SetConfigFile(path)
	} else {
		home, err := homedir.Dir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigName(fileName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, models.ConfigurationError("cannot read config file", err)
		}
	}

	cfg := &Config{
		Model:          v.GetString(KeyModel),
		BaseURL:        v.GetString(KeyBaseURL),
		Language:       v.GetString(KeyLanguage),
		MaxImageBytes:  v.GetInt64(KeyMaxImageBytes),
		TimeoutSec:     v.GetInt(KeyTimeout),
		Retries:        v.GetInt(KeyRetries),
		HistoryBackend: strings.ToLower(v.GetString(KeyHistoryBackend)),
		HistoryPath:    v.GetString(KeyHistoryPath),
		LogLevel:       v.GetString(KeyLogLevel),
		Verbose:        v.GetBool(KeyVerbose),
		File:           v.ConfigFileUsed(),
	}

	if cfg.HistoryPath != "" {
		p, err := homedir.Expand(cfg.HistoryPath)
		if err != nil {
			return nil, models.ConfigurationError("cannot resolve history path "+cfg.HistoryPath, err)
		}
		cfg.HistoryPath = filepath.Clean(p)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.HistoryBackend {
	case "sqlite", "bolt", "memory":
	default:
		return models.ConfigurationError(
			fmt.Sprintf("unknown history backend %q: use sqlite, bolt or memory", c.HistoryBackend), nil)
	}
	if c.MaxImageBytes <= 0 {
		return models.ConfigurationError("max_image_bytes must be positive", nil)
	}
	if c.TimeoutSec <= 0 {
		return models.ConfigurationError("timeout must be positive", nil)
	}
	if c.Retries < 0 {
		return models.ConfigurationError("retries cannot be negative", nil)
	}
	if strings.TrimSpace(c.Model) == "" {
		return models.ConfigurationError("model cannot be empty", nil)
	}
	return nil
}
