package malgo

import (
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/pcmio/internal/audioio"
	"github.com/tphakala/pcmio/internal/logger"
)

// device is an open miniaudio endpoint
type device struct {
	dir    audioio.Direction
	format audioio.SampleFormat
	queue  *audioio.StreamQueue
	log    logger.Logger

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	dev     *malgo.Device
	infos   []malgo.DeviceInfo // keeps the selected DeviceID alive
	running bool
	closed  bool

	// set from the miniaudio stop callback
	stoppedByDriver atomic.Bool
}

var _ audioio.Device = (*device)(nil)

func (b *Backend) open(p audioio.OpenParams) (audioio.Device, error) {
	format, err := formatType(p.Format.BitsPerSample)
	if err != nil {
		return nil, &audioio.PlatformError{Op: "open", Code: -1, Text: err.Error()}
	}

	ctx, err := b.initContext()
	if err != nil {
		return nil, platformError("init context", err)
	}

	kind := deviceType(p.Direction)
	infos, err := ctx.Devices(kind)
	if err != nil {
		freeContext(ctx)
		return nil, platformError("enumerate", err)
	}
	selected, err := audioio.SelectDevice(convertDevices(infos), p.Selector)
	if err != nil {
		freeContext(ctx)
		return nil, &audioio.PlatformError{Op: "select device", Code: -1, Text: err.Error()}
	}

	cfg := malgo.DefaultDeviceConfig(kind)
	sub := &cfg.Capture
	if kind == malgo.Playback {
		sub = &cfg.Playback
	}
	sub.Format = format
	sub.Channels = uint32(p.Format.Channels)
	sub.DeviceID = infos[selected.Index].ID.Pointer()
	cfg.SampleRate = p.Format.SamplesPerSec
	cfg.PeriodSizeInMilliseconds = periodMillis(b.period)
	cfg.Alsa.NoMMap = 1

	d := &device{
		dir:    p.Direction,
		format: p.Format,
		queue:  audioio.NewStreamQueue(p.Format, p.Notify),
		log: b.log.With(
			logger.String("device", selected.Name),
			logger.String("direction", p.Direction.String())),
		ctx:   ctx,
		infos: infos,
	}

	dev, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: d.onData,
		Stop: d.onStop,
	})
	if err != nil {
		freeContext(ctx)
		return nil, platformError("init device", err)
	}
	d.dev = dev

	d.log.Info("audio device initialized",
		logger.String("id", selected.ID),
		logger.String("format", p.Format.String()),
		logger.Duration("period", b.period))
	return d, nil
}

// onData runs on the miniaudio thread. It only moves bytes and notifies.
func (d *device) onData(output, input []byte, _ uint32) {
	if d.dir == audioio.Capture {
		d.queue.FillCapture(input)
		return
	}
	d.queue.DrainRender(output)
}

func (d *device) onStop() {
	d.stoppedByDriver.Store(true)
}

func (d *device) Format() audioio.SampleFormat { return d.format }

// Descriptor memory is held by the engine arena for as long as it is
// queued, so there is nothing to pin.
func (d *device) Prepare(*audioio.Descriptor) error   { return d.checkOpen("prepare") }
func (d *device) Unprepare(*audioio.Descriptor) error { return nil }

func (d *device) Submit(desc *audioio.Descriptor) error {
	if err := d.checkOpen("submit"); err != nil {
		return err
	}
	d.queue.Enqueue(desc)
	return nil
}

func (d *device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return closedError("start")
	}
	if d.running {
		return nil
	}
	d.stoppedByDriver.Store(false)
	if err := d.dev.Start(); err != nil {
		return platformError("start", err)
	}
	d.running = true
	return nil
}

func (d *device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopLocked()
}

func (d *device) stopLocked() error {
	if !d.running {
		return nil
	}
	d.running = false
	if err := d.dev.Stop(); err != nil {
		return platformError("stop", err)
	}
	return nil
}

// Reset stops the device, which waits for the data callback to return, and
// hands every queued descriptor back with nothing transferred.
func (d *device) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return closedError("reset")
	}
	err := d.stopLocked()
	d.queue.Flush()
	return err
}

func (d *device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	stopErr := d.stopLocked()
	d.dev.Uninit()
	freeContext(d.ctx)
	d.closed = true

	if d.stoppedByDriver.Load() {
		d.log.Debug("device had been stopped by the driver")
	}
	if dropped := d.queue.DroppedBytes(); dropped > 0 {
		d.log.Info("capture bytes dropped while no buffer was queued", logger.Uint64("bytes", dropped))
	}
	if silence := d.queue.SilenceBytes(); silence > 0 {
		d.log.Info("render padded with silence", logger.Uint64("bytes", silence))
	}
	return stopErr
}

func (d *device) checkOpen(op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return closedError(op)
	}
	return nil
}

func closedError(op string) error {
	return &audioio.PlatformError{Op: op, Code: -1, Text: "device is closed"}
}
