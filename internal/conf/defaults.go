package conf

import (
	"github.com/spf13/viper"

	"github.com/tphakala/pcmio/internal/audioio"
)

// Default audio parameters: CD-rate 16-bit stereo, double buffered,
// 100 ms descriptors.
const (
	DefaultSampleRate  = 44100
	DefaultBitDepth    = 16
	DefaultChannels    = 2
	DefaultBufferDepth = audioio.DefaultBufferDepth
	DefaultBufferSize  = DefaultSampleRate * DefaultChannels * DefaultBitDepth / 8 / 10
)

// DefaultMetricsListen is the address of the /metrics endpoint
const DefaultMetricsListen = "127.0.0.1:9464"

func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	for _, dir := range []string{"capture", "render"} {
		v.SetDefault(dir+".backend", BackendMalgo)
		v.SetDefault(dir+".device", "default")
		v.SetDefault(dir+".sample_rate", DefaultSampleRate)
		v.SetDefault(dir+".bit_depth", DefaultBitDepth)
		v.SetDefault(dir+".channels", DefaultChannels)
		v.SetDefault(dir+".buffer_size", DefaultBufferSize)
		v.SetDefault(dir+".buffer_depth", DefaultBufferDepth)
	}

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/pcmio.log")
	v.SetDefault("logging.file_output.level", "info")

	v.SetDefault("telemetry.metrics.enabled", false)
	v.SetDefault("telemetry.metrics.listen", DefaultMetricsListen)
	v.SetDefault("telemetry.sentry.enabled", false)
	v.SetDefault("telemetry.sentry.dsn", "")
}
