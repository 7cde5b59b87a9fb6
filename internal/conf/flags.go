package conf

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Audio flag names shared by the commands that open an engine
const (
	FlagBackend     = "backend"
	FlagDevice      = "device"
	FlagSampleRate  = "rate"
	FlagBitDepth    = "bits"
	FlagChannels    = "channels"
	FlagBufferSize  = "buffer-size"
	FlagBufferDepth = "buffer-depth"
)

// keyAnnotation marks a flag with the config key it overrides
const keyAnnotation = "pcmio_config_key"

type audioFlag struct {
	name  string
	key   string
	usage string
	add   func(fs *pflag.FlagSet, name, usage string)
}

func audioFlags() []audioFlag {
	str := func(def string) func(*pflag.FlagSet, string, string) {
		return func(fs *pflag.FlagSet, name, usage string) { fs.String(name, def, usage) }
	}
	num := func(def int) func(*pflag.FlagSet, string, string) {
		return func(fs *pflag.FlagSet, name, usage string) { fs.Int(name, def, usage) }
	}
	return []audioFlag{
		{FlagBackend, "backend", "Audio backend (malgo or loopback)", str(BackendMalgo)},
		{FlagDevice, "device", `Device selector: "default", an index, or a name`, str("default")},
		{FlagSampleRate, "sample_rate", "Sample rate in Hz", num(DefaultSampleRate)},
		{FlagBitDepth, "bit_depth", "Bits per sample (8 or 16)", num(DefaultBitDepth)},
		{FlagChannels, "channels", "Channel count (1 or 2)", num(DefaultChannels)},
		{FlagBufferSize, "buffer_size", "Bytes per buffer, 0 for one second of audio", num(DefaultBufferSize)},
		{FlagBufferDepth, "buffer_depth", "Buffers kept in flight", num(DefaultBufferDepth)},
	}
}

// AddAudioFlags defines the named audio flags on fs, each overriding
// section.<key>. With no names every audio flag is added.
func AddAudioFlags(fs *pflag.FlagSet, section string, names ...string) error {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	for _, f := range audioFlags() {
		if len(want) > 0 && !want[f.name] {
			continue
		}
		f.add(fs, f.name, f.usage)
		if err := MapFlag(fs, f.name, section+"."+f.key); err != nil {
			return err
		}
	}
	return nil
}

// MapFlag records that flag name overrides config key
func MapFlag(fs *pflag.FlagSet, name, key string) error {
	if err := fs.SetAnnotation(name, keyAnnotation, []string{key}); err != nil {
		return fmt.Errorf("error annotating flag %s: %w", name, err)
	}
	return nil
}

// BindFlags binds every mapped flag in fs to its config key. Commands
// share flag names, so only the flags of the command being run are bound.
// A flag overrides the config file only when it is set on the command line.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[keyAnnotation]
		if bindErr != nil || len(keys) == 0 {
			return
		}
		if err := v.BindPFlag(keys[0], f); err != nil {
			bindErr = fmt.Errorf("error binding flag %s: %w", f.Name, err)
		}
	})
	return bindErr
}
