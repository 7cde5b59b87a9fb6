// Package loopback provides an in-memory audio cable: whatever a render
// engine plays on one end is recorded by a capture engine on the other.
//
// The cable carries only real data. A render end that runs out of queued
// descriptors writes nothing, and a capture end leaves bytes on the wire
// until a descriptor is queued to receive them, so a round trip through the
// cable reproduces the played byte sequence exactly.
package loopback

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/pcmio/internal/audioio"
	"github.com/tphakala/pcmio/internal/errors"
	"github.com/tphakala/pcmio/internal/logger"
)

// Cable defaults
const (
	DefaultPeriod   = 10 * time.Millisecond
	DefaultCapacity = 1 << 16
	unpacedPeriod   = 200 * time.Microsecond
	unpacedChunk    = 16 << 10
)

// Cable connects one render end to one capture end
type Cable struct {
	id     string
	format audioio.SampleFormat
	log    logger.Logger

	period time.Duration
	chunk  int

	// wireMu keeps Free/Length checks and the following transfer atomic
	wireMu sync.Mutex
	wire   *ringbuffer.RingBuffer

	mu      sync.Mutex
	capture *endpoint
	render  *endpoint
}

// Option configures a Cable
type Option func(*Cable)

// WithPeriod sets the transfer period. Each tick moves one period of audio,
// so the cable runs at the real sample rate.
func WithPeriod(d time.Duration) Option {
	return func(c *Cable) {
		if d > 0 {
			c.period = d
			c.chunk = 0
		}
	}
}

// Unpaced moves data as fast as both ends allow. Used by tests.
func Unpaced() Option {
	return func(c *Cable) {
		c.period = unpacedPeriod
		c.chunk = unpacedChunk
	}
}

// WithCapacity sets the wire buffer size in bytes
func WithCapacity(n int) Option {
	return func(c *Cable) {
		if n > 0 {
			c.wire = ringbuffer.New(n)
		}
	}
}

// WithLogger overrides the module logger
func WithLogger(l logger.Logger) Option {
	return func(c *Cable) {
		if l != nil {
			c.log = l
		}
	}
}

// NewCable returns an idle cable for format
func NewCable(format audioio.SampleFormat, opts ...Option) (*Cable, error) {
	if err := format.Validate(); err != nil {
		return nil, errors.New(err).
			Component("audioio.loopback").
			Category(errors.CategoryValidation).
			Build()
	}

	c := &Cable{
		id:     uuid.NewString(),
		format: format,
		log:    logger.Global().Module("audioio.loopback"),
		period: DefaultPeriod,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.wire == nil {
		c.wire = ringbuffer.New(DefaultCapacity)
	}
	if c.chunk == 0 {
		c.chunk = int(int64(format.BytesPerSec()) * int64(c.period) / int64(time.Second))
	}
	c.chunk = max(format.AlignedSize(c.chunk), format.BytesPerFrame())
	c.log = c.log.With(logger.String("cable", c.id))
	return c, nil
}

// ID returns the cable id, also reported as the device id
func (c *Cable) ID() string { return c.id }

// Format returns the cable sample format
func (c *Cable) Format() audioio.SampleFormat { return c.format }

// Buffered returns the bytes written by the render end and not yet read
// by the capture end
func (c *Cable) Buffered() int {
	c.wireMu.Lock()
	defer c.wireMu.Unlock()
	return c.wire.Length()
}

// Opener returns an audioio.Opener for either end of the cable. Each end
// can be open once at a time, and only at the cable format.
func (c *Cable) Opener() audioio.Opener {
	return c.open
}

func (c *Cable) open(p audioio.OpenParams) (audioio.Device, error) {
	if p.Format != c.format {
		return nil, &audioio.PlatformError{
			Op:   "open",
			Code: codeFormat,
			Text: fmt.Sprintf("cable runs at %s, requested %s", c.format, p.Format),
		}
	}
	if !p.Selector.IsDefault() {
		if _, err := audioio.SelectDevice(c.devices(), p.Selector); err != nil {
			return nil, &audioio.PlatformError{Op: "open", Code: codeNoDevice, Text: err.Error()}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	slot := &c.render
	if p.Direction == audioio.Capture {
		slot = &c.capture
	}
	if *slot != nil {
		return nil, &audioio.PlatformError{
			Op:   "open",
			Code: codeBusy,
			Text: fmt.Sprintf("%s end of cable %s is already open", p.Direction, c.id),
		}
	}

	ep := &endpoint{
		cable: c,
		dir:   p.Direction,
		queue: audioio.NewStreamQueue(c.format, p.Notify),
		log:   c.log.With(logger.String("end", p.Direction.String())),
	}
	*slot = ep
	ep.log.Debug("cable end opened")
	return ep, nil
}

func (c *Cable) detach(ep *endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ep {
	case c.capture:
		c.capture = nil
	case c.render:
		c.render = nil
	}
}

// Platform codes reported in audioio.PlatformError
const (
	codeFormat   = 1
	codeNoDevice = 2
	codeBusy     = 3
	codeClosed   = 4
)

func (c *Cable) devices() []audioio.DeviceInfo {
	return []audioio.DeviceInfo{{
		Index:     0,
		Name:      "Loopback " + c.id[:8],
		ID:        c.id,
		IsDefault: true,
	}}
}

// CaptureDevices implements audioio.Enumerator
func (c *Cable) CaptureDevices() ([]audioio.DeviceInfo, error) { return c.devices(), nil }

// RenderDevices implements audioio.Enumerator
func (c *Cable) RenderDevices() ([]audioio.DeviceInfo, error) { return c.devices(), nil }

// transferRender moves queued playback bytes onto the wire
func (c *Cable) transferRender(q *audioio.StreamQueue, buf []byte) int {
	c.wireMu.Lock()
	defer c.wireMu.Unlock()

	free := c.format.AlignedSize(c.wire.Free())
	n := q.ReadRender(buf[:min(len(buf), free)])
	if n == 0 {
		return 0
	}
	written, err := c.wire.Write(buf[:n])
	if err != nil || written != n {
		// Free() was checked under wireMu, so this loses audio
		c.log.Error("wire write lost data",
			logger.Error(err),
			logger.Int("want", n),
			logger.Int("written", written))
	}
	return written
}

// transferCapture moves wire bytes into queued capture descriptors
func (c *Cable) transferCapture(q *audioio.StreamQueue, buf []byte) int {
	c.wireMu.Lock()
	defer c.wireMu.Unlock()

	n := c.format.AlignedSize(min(len(buf), c.wire.Length(), q.Room()))
	if n == 0 {
		return 0
	}
	read, err := c.wire.Read(buf[:n])
	if err != nil {
		if !errors.Is(err, ringbuffer.ErrIsEmpty) {
			c.log.Warn("wire read failed", logger.Error(err))
		}
		return 0
	}
	return q.FillCapture(buf[:read])
}
