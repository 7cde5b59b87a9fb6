// Package malgo implements audioio devices on top of miniaudio through
// github.com/gen2brain/malgo.
//
// miniaudio drives devices with a pull callback. Each open device keeps an
// audioio.StreamQueue: Submit queues descriptors, and the data callback
// fills (capture) or drains (render) them, notifying the engine as each one
// completes.
package malgo

import (
	"encoding/hex"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/patrickmn/go-cache"

	"github.com/tphakala/pcmio/internal/audioio"
	"github.com/tphakala/pcmio/internal/errors"
	"github.com/tphakala/pcmio/internal/logger"
)

// Backend defaults
const (
	DefaultPeriod       = 10 * time.Millisecond
	deviceCacheDuration = 30 * time.Second
)

// Backend opens and enumerates miniaudio devices
type Backend struct {
	backend malgo.Backend
	period  time.Duration
	log     logger.Logger
	devices *cache.Cache
}

// Option configures a Backend
type Option func(*Backend)

// WithPeriod sets the miniaudio period, the interval between data callbacks
func WithPeriod(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.period = d
		}
	}
}

// WithLogger overrides the module logger
func WithLogger(l logger.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.log = l
		}
	}
}

// New returns a Backend for the current platform
func New(opts ...Option) (*Backend, error) {
	backend, err := backendForOS(runtime.GOOS)
	if err != nil {
		return nil, err
	}
	b := &Backend{
		backend: backend,
		period:  DefaultPeriod,
		log:     logger.Global().Module("audioio.malgo"),
		// no janitor goroutine; expired lists are replaced on the next lookup
		devices: cache.New(deviceCacheDuration, 0),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// backendForOS returns the miniaudio backend used on goos
func backendForOS(goos string) (malgo.Backend, error) {
	switch goos {
	case "linux":
		return malgo.BackendAlsa, nil
	case "windows":
		return malgo.BackendWasapi, nil
	case "darwin":
		return malgo.BackendCoreaudio, nil
	default:
		return malgo.BackendNull, errors.Newf("unsupported operating system %s", goos).
			Component("audioio.malgo").
			Category(errors.CategoryDeviceOpen).
			Context("os", goos).
			Build()
	}
}

// Opener returns an audioio.Opener backed by miniaudio
func (b *Backend) Opener() audioio.Opener {
	return b.open
}

// CaptureDevices implements audioio.Enumerator
func (b *Backend) CaptureDevices() ([]audioio.DeviceInfo, error) {
	return b.cachedDevices(audioio.Capture)
}

// RenderDevices implements audioio.Enumerator
func (b *Backend) RenderDevices() ([]audioio.DeviceInfo, error) {
	return b.cachedDevices(audioio.Render)
}

// Refresh drops cached device lists
func (b *Backend) Refresh() {
	b.devices.Flush()
}

func (b *Backend) cachedDevices(dir audioio.Direction) ([]audioio.DeviceInfo, error) {
	key := dir.String()
	if cached, ok := b.devices.Get(key); ok {
		if list, ok := cached.([]audioio.DeviceInfo); ok {
			return list, nil
		}
	}

	ctx, err := b.initContext()
	if err != nil {
		return nil, enumerateError(dir, err)
	}
	defer freeContext(ctx)

	infos, err := ctx.Devices(deviceType(dir))
	if err != nil {
		return nil, enumerateError(dir, err)
	}
	list := convertDevices(infos)
	b.devices.Set(key, list, cache.DefaultExpiration)

	b.log.Debug("enumerated devices",
		logger.String("direction", key),
		logger.Int("count", len(list)))
	return list, nil
}

func (b *Backend) initContext() (*malgo.AllocatedContext, error) {
	return malgo.InitContext([]malgo.Backend{b.backend}, malgo.ContextConfig{}, func(message string) {
		b.log.Trace(strings.TrimSpace(message))
	})
}

func freeContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}

func enumerateError(dir audioio.Direction, err error) error {
	return errors.New(fmt.Errorf("list %s devices: %w", dir, err)).
		Component("audioio.malgo").
		Category(errors.CategoryDeviceEnumerate).
		Build()
}

// convertDevices maps miniaudio device infos, skipping the null device.
// Index is the position in infos so it can be used to pick the device back.
func convertDevices(infos []malgo.DeviceInfo) []audioio.DeviceInfo {
	devices := make([]audioio.DeviceInfo, 0, len(infos))
	for i := range infos {
		name := infos[i].Name()
		if isDiscardDevice(name) {
			continue
		}
		devices = append(devices, audioio.DeviceInfo{
			Index:     i,
			Name:      name,
			ID:        decodeDeviceID(infos[i].ID.String()),
			IsDefault: infos[i].IsDefault == 1,
		})
	}
	return devices
}

// isDiscardDevice reports whether name is miniaudio's null sink
func isDiscardDevice(name string) bool {
	return strings.Contains(name, "Discard all samples")
}

// decodeDeviceID turns the hex form of a device id into its readable
// platform id, such as ":1,0" for ALSA. Ids that are not text stay hex.
func decodeDeviceID(hexID string) string {
	raw, err := hex.DecodeString(hexID)
	if err != nil {
		return hexID
	}
	id := strings.TrimRight(string(raw), "\x00")
	for _, r := range id {
		if r < 0x20 || r > 0x7e {
			return hexID
		}
	}
	return id
}

func deviceType(dir audioio.Direction) malgo.DeviceType {
	if dir == audioio.Render {
		return malgo.Playback
	}
	return malgo.Capture
}

// formatType maps a bit depth to the miniaudio sample format. miniaudio's
// u8 and s16 match the audioio byte contract, so no conversion is needed.
func formatType(bits uint16) (malgo.FormatType, error) {
	switch bits {
	case 8:
		return malgo.FormatU8, nil
	case 16:
		return malgo.FormatS16, nil
	default:
		return malgo.FormatUnknown, fmt.Errorf("unsupported bit depth %d", bits)
	}
}

// periodMillis converts the period for DeviceConfig, at least 1ms
func periodMillis(d time.Duration) uint32 {
	return uint32(max(d.Milliseconds(), 1))
}

// platformError wraps a miniaudio error for audioio
func platformError(op string, err error) error {
	return &audioio.PlatformError{Op: op, Code: -1, Text: err.Error(), Err: err}
}
