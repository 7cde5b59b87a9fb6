package conf

import (
	"fmt"
	"net"
	"strings"

	"github.com/tphakala/pcmio/internal/audioio"
)

// Limits enforced on audio settings
const (
	MinSampleRate  = 1000
	MaxSampleRate  = 384000
	MinBufferDepth = audioio.MinBufferDepth
)

// ValidationError collects every problem found in a Settings value
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return "validation errors: " + strings.Join(ve.Errors, "; ")
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateAudioSettings("capture", &settings.Capture); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateAudioSettings("render", &settings.Render); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateTelemetrySettings(&settings.Telemetry); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateAudioSettings(name string, a *AudioSettings) error {
	var problems []string

	if err := validateEnvBackend(a.Backend); err != nil {
		problems = append(problems, "backend "+err.Error())
	}
	if err := validateSampleRate(a.SampleRate); err != nil {
		problems = append(problems, err.Error())
	}
	if a.BitDepth != 8 && a.BitDepth != 16 {
		problems = append(problems, fmt.Sprintf("bit depth must be 8 or 16, got %d", a.BitDepth))
	}
	if a.Channels != 1 && a.Channels != 2 {
		problems = append(problems, fmt.Sprintf("channels must be 1 or 2, got %d", a.Channels))
	}
	if a.BufferDepth < MinBufferDepth {
		problems = append(problems, fmt.Sprintf("buffer depth must be at least %d, got %d", MinBufferDepth, a.BufferDepth))
	}
	if a.BufferSize < 0 {
		problems = append(problems, fmt.Sprintf("buffer size must not be negative, got %d", a.BufferSize))
	} else if frame := a.BytesPerFrame(); frame > 0 && a.BufferSize%frame != 0 {
		problems = append(problems, fmt.Sprintf("buffer size %d is not a multiple of the %d-byte frame", a.BufferSize, frame))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s: %s", name, strings.Join(problems, ", "))
	}
	return nil
}

func validateSampleRate(rate int) error {
	if rate < MinSampleRate || rate > MaxSampleRate {
		return fmt.Errorf("sample rate must be between %d and %d, got %d", MinSampleRate, MaxSampleRate, rate)
	}
	return nil
}

func validateTelemetrySettings(t *TelemetrySettings) error {
	if t.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(t.Metrics.Listen); err != nil {
			return fmt.Errorf("telemetry: metrics listen address %q: %w", t.Metrics.Listen, err)
		}
	}
	if t.Sentry.Enabled && t.Sentry.DSN == "" {
		return fmt.Errorf("telemetry: sentry is enabled but no DSN is set")
	}
	return nil
}
