package audioio

import (
	"github.com/tphakala/pcmio/internal/logger"
	"github.com/tphakala/pcmio/internal/observability/metrics"
)

// ReceiveFunc receives recorded bytes on the engine worker goroutine.
// data is only valid until the function returns: the descriptor is
// resubmitted right after. Calls never overlap and arrive in submission order.
type ReceiveFunc func(data []byte) error

// CaptureEngine records from a capture device through a ring of recycled
// descriptors.
type CaptureEngine struct {
	*engine
	onReceived ReceiveFunc
	bufferSize int
}

// OpenCapture opens a capture device and starts the engine worker. The
// engine is Idle until Start.
func OpenCapture(open Opener, format SampleFormat, selector DeviceSelector, opts ...Option) (*CaptureEngine, error) {
	e, err := openEngine(Capture, open, format, selector, opts)
	if err != nil {
		return nil, err
	}
	c := &CaptureEngine{engine: e}
	e.run(c.handleCompletion)
	return c, nil
}

// Start allocates bufferDepth descriptors of bufferByteSize bytes, submits
// them all and starts the device. A zero bufferByteSize means one second of
// audio. A zero bufferDepth means DefaultBufferDepth; otherwise it must be
// at least MinBufferDepth.
func (c *CaptureEngine) Start(onReceived ReceiveFunc, bufferByteSize, bufferDepth int) error {
	if onReceived == nil {
		return newArgumentError("receive callback is nil")
	}
	if bufferDepth == 0 {
		bufferDepth = DefaultBufferDepth
	}
	if bufferDepth < MinBufferDepth {
		return newArgumentError("buffer depth %d is below %d", bufferDepth, MinBufferDepth)
	}
	if bufferByteSize == 0 {
		bufferByteSize = c.format.BytesPerSec()
	}
	if bufferByteSize < 0 || bufferByteSize%c.format.BytesPerFrame() != 0 {
		return newArgumentError("buffer size %d is not a positive multiple of the %d byte frame",
			bufferByteSize, c.format.BytesPerFrame())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usableLocked("start"); err != nil {
		return err
	}
	if c.state != StateIdle {
		return newStateError("start", c.state)
	}

	c.onReceived = onReceived
	c.bufferSize = bufferByteSize
	c.completions.Reserve(bufferDepth)
	c.transitionLocked(StateActive)

	for range bufferDepth {
		d := c.table.Acquire(bufferByteSize)
		if err := c.submitLocked(d); err != nil {
			c.retireLocked(d)
			return c.failLocked("submit", err)
		}
	}
	c.recorder.SetInFlight(c.dir.String(), c.table.InFlight())

	if err := c.dev.Start(); err != nil {
		return c.failLocked("start", err)
	}

	c.log.Info("capture started",
		logger.Int("buffer_size", bufferByteSize),
		logger.Int("buffer_depth", bufferDepth),
		logger.Duration("buffer_duration", c.format.Duration(bufferByteSize)))
	return nil
}

// Stop requests a drain: descriptors already in flight are delivered once
// more as they complete and then released. Stop does not block; use
// WaitIdle to wait for the drain.
func (c *CaptureEngine) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return newStateError("stop", c.state)
	}
	if c.state == StateActive {
		c.transitionLocked(StateDraining)
		c.log.Info("capture stopping", logger.Int("in_flight", c.table.InFlight()))
	}
	return nil
}

// Reset stops the engine and makes the device return every in-flight
// descriptor immediately with no data. The engine reaches Idle once the
// worker has released them.
func (c *CaptureEngine) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return newStateError("reset", c.state)
	}
	if c.state == StateIdle {
		return nil
	}
	c.transitionLocked(StateDraining)
	if err := c.dev.Reset(); err != nil {
		return c.failLocked("reset", err)
	}
	c.log.Info("capture reset", logger.Int("in_flight", c.table.InFlight()))
	return nil
}

func (c *CaptureEngine) handleCompletion(tag Tag) {
	d, ok := c.lookupCompletion(tag)
	if !ok {
		return
	}

	c.mu.Lock()
	closed := c.state == StateClosed
	onReceived := c.onReceived
	c.mu.Unlock()
	if closed {
		return
	}

	if n := d.BytesTransferred(); n > 0 {
		c.stats.bytes.Add(uint64(n))
		if err := c.invoke(func() error { return onReceived(d.data[:n]) }); err != nil {
			c.report(err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return
	case StateActive:
		d.transferred = 0
		if err := c.dev.Submit(d); err != nil {
			c.stats.degraded.Add(1)
			c.recorder.RecordResubmit(c.dir.String(), metrics.StatusError)
			c.recorder.RecordDegraded(c.dir.String())
			c.report(newDeviceError(c.dir, "resubmit", err))
			c.retireLocked(d)
		} else {
			c.stats.resubmits.Add(1)
			c.recorder.RecordResubmit(c.dir.String(), metrics.StatusSuccess)
		}
	default:
		c.retireLocked(d)
	}
	c.settleLocked()
}
