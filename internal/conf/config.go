// Package conf loads pcmio settings from a YAML file, environment variables
// and command-line flags using viper.
package conf

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/pcmio/internal/errors"
	"github.com/tphakala/pcmio/internal/logger"
)

// Backend names accepted by AudioSettings.Backend
const (
	BackendMalgo    = "malgo"
	BackendLoopback = "loopback"
)

// Settings is the root of the configuration tree
type Settings struct {
	Debug     bool                 `yaml:"debug" mapstructure:"debug"`
	Capture   AudioSettings        `yaml:"capture" mapstructure:"capture"`
	Render    AudioSettings        `yaml:"render" mapstructure:"render"`
	Logging   logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Telemetry TelemetrySettings    `yaml:"telemetry" mapstructure:"telemetry"`
}

// AudioSettings configures one engine direction
type AudioSettings struct {
	Backend     string `yaml:"backend" mapstructure:"backend"`           // malgo or loopback
	Device      string `yaml:"device" mapstructure:"device"`             // "default", an index, or a device name
	SampleRate  int    `yaml:"sample_rate" mapstructure:"sample_rate"`   // samples per second
	BitDepth    int    `yaml:"bit_depth" mapstructure:"bit_depth"`       // 8 or 16
	Channels    int    `yaml:"channels" mapstructure:"channels"`         // 1 or 2
	BufferSize  int    `yaml:"buffer_size" mapstructure:"buffer_size"`   // bytes per descriptor, 0 = one second of audio
	BufferDepth int    `yaml:"buffer_depth" mapstructure:"buffer_depth"` // descriptors in flight, at least 2
}

// BytesPerFrame returns channels * bytes per sample
func (a *AudioSettings) BytesPerFrame() int {
	return a.Channels * a.BitDepth / 8
}

// TelemetrySettings groups metrics and error reporting
type TelemetrySettings struct {
	Metrics MetricsSettings `yaml:"metrics" mapstructure:"metrics"`
	Sentry  SentrySettings  `yaml:"sentry" mapstructure:"sentry"`
}

// MetricsSettings configures the Prometheus endpoint
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
}

// SentrySettings configures Sentry error reporting
type SentrySettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
}

// ConfigName is the base name of the configuration file
const ConfigName = "pcmio"

// Load reads settings into a fresh Settings value. When configFile is empty
// the default search paths are used and a missing file is not an error.
// v is normally viper.GetViper() so that flags bound by the CLI apply.
func Load(v *viper.Viper, configFile string) (*Settings, error) {
	if err := initViper(v, configFile); err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if settings.Debug {
		settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = string(logger.LogLevelDebug)
		}
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// initViper sets defaults, binds environment variables and reads the config file.
func initViper(v *viper.Viper, configFile string) error {
	setDefaultConfig(v)

	if err := bindEnvVars(v); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); err != nil {
			return errors.New(fmt.Errorf("config file %s: %w", configFile, err)).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Build()
		}
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		for _, path := range DefaultConfigPaths() {
			v.AddConfigPath(path)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.New(fmt.Errorf("error reading config file: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("config_file", configFile).
			Build()
	}

	return nil
}

// DefaultConfigPaths returns the directories searched for pcmio.yaml, in order
func DefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "pcmio"))
	}
	return append(paths, "/etc/pcmio")
}

// YAML renders the settings as a YAML document
func (s *Settings) YAML() ([]byte, error) {
	out, err := yaml.Marshal(s)
	if err != nil {
		return nil, errors.New(fmt.Errorf("error encoding settings: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return out, nil
}
