package conf

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding holds metadata for an environment variable binding
type envBinding struct {
	ConfigKey string             // viper config key
	EnvVar    string             // environment variable name
	Validate  func(string) error // optional validation
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "PCMIO_DEBUG", validateEnvBool},

		{"capture.backend", "PCMIO_CAPTURE_BACKEND", validateEnvBackend},
		{"capture.device", "PCMIO_CAPTURE_DEVICE", nil},
		{"capture.sample_rate", "PCMIO_SAMPLE_RATE", validateEnvSampleRate},
		{"capture.buffer_depth", "PCMIO_BUFFER_DEPTH", validateEnvBufferDepth},

		{"render.backend", "PCMIO_RENDER_BACKEND", validateEnvBackend},
		{"render.device", "PCMIO_RENDER_DEVICE", nil},
		{"render.sample_rate", "PCMIO_SAMPLE_RATE", validateEnvSampleRate},
		{"render.buffer_depth", "PCMIO_BUFFER_DEPTH", validateEnvBufferDepth},

		{"logging.default_level", "PCMIO_LOG_LEVEL", validateEnvLogLevel},
		{"telemetry.metrics.listen", "PCMIO_METRICS_LISTEN", validateEnvListen},
		{"telemetry.sentry.dsn", "PCMIO_SENTRY_DSN", nil},
	}
}

// bindEnvVars binds every environment variable and validates the ones that are set
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", binding.EnvVar, envValue, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true/false, 1/0, t/f")
	}
	return nil
}

func validateEnvBackend(value string) error {
	switch value {
	case BackendMalgo, BackendLoopback:
		return nil
	default:
		return fmt.Errorf("must be %q or %q", BackendMalgo, BackendLoopback)
	}
}

func validateEnvSampleRate(value string) error {
	rate, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid sample rate: %w", err)
	}
	return validateSampleRate(rate)
}

func validateEnvBufferDepth(value string) error {
	depth, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid buffer depth: %w", err)
	}
	if depth < MinBufferDepth {
		return fmt.Errorf("buffer depth must be at least %d, got %d", MinBufferDepth, depth)
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	switch strings.ToLower(value) {
	case "trace", "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("must be one of trace, debug, info, warn, error")
	}
}

func validateEnvListen(value string) error {
	if _, _, err := net.SplitHostPort(value); err != nil {
		return fmt.Errorf("must be host:port: %w", err)
	}
	return nil
}
