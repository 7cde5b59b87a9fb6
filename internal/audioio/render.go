package audioio

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/pcmio/internal/logger"
	"github.com/tphakala/pcmio/internal/observability/metrics"
)

// SupplyFunc returns the next block of bytes to play. Returning no data
// submits nothing; once every in-flight descriptor has played the device
// starves and the engine goes Idle. The returned slice is copied.
type SupplyFunc func() ([]byte, error)

// RenderEngine plays through a render device. Data is submitted either by
// Write or by a supplier installed with WriteStart; both paths share one
// submit primitive.
type RenderEngine struct {
	*engine

	// guarded by mu
	supply    SupplyFunc
	supplyGen uint64
	prefill   bool
	pending   int // completions seen during prefill, owed one resupply each
	started   bool

	underrunLog *rate.Limiter
}

// OpenRender opens a render device and starts the engine worker
func OpenRender(open Opener, format SampleFormat, selector DeviceSelector, opts ...Option) (*RenderEngine, error) {
	e, err := openEngine(Render, open, format, selector, opts)
	if err != nil {
		return nil, err
	}
	r := &RenderEngine{
		engine:      e,
		underrunLog: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
	e.run(r.handleCompletion)
	return r, nil
}

// Write copies data into a descriptor and submits it, starting the device
// if it is not running. data must be a whole number of frames.
// Safe to call concurrently with an installed supplier.
func (r *RenderEngine) Write(data []byte) error {
	if err := r.checkPayload(data); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeLocked(data, true)
}

// WriteStart installs supply, calls it bufferDepth times and submits each
// result before starting the device. Every completion after that, including
// completions of blocks queued by Write, triggers exactly one more supply
// call. A zero bufferDepth means DefaultBufferDepth.
func (r *RenderEngine) WriteStart(supply SupplyFunc, bufferDepth int) error {
	if supply == nil {
		return newArgumentError("supply callback is nil")
	}
	if bufferDepth == 0 {
		bufferDepth = DefaultBufferDepth
	}
	if bufferDepth < MinBufferDepth {
		return newArgumentError("buffer depth %d is below %d", bufferDepth, MinBufferDepth)
	}

	r.mu.Lock()
	if err := r.usableLocked("write start"); err != nil {
		r.mu.Unlock()
		return err
	}
	if r.supply != nil || r.prefill {
		r.mu.Unlock()
		return newStateError("write start with a supplier installed", r.state)
	}
	// installed before prefill so completions of an already running device
	// are counted; the worker defers them to catchUp
	r.supply = supply
	r.supplyGen++
	gen := r.supplyGen
	r.prefill = true
	r.pending = 0
	r.completions.Reserve(r.table.InFlight() + bufferDepth)
	r.mu.Unlock()

	installed := false
	defer func() {
		if installed {
			return
		}
		r.mu.Lock()
		r.prefill = false
		r.pending = 0
		if r.supplyGen == gen {
			r.supply = nil
			r.supplyGen++
		}
		r.mu.Unlock()
	}()

	submitted := 0
	for range bufferDepth {
		var data []byte
		err := r.invoke(func() error {
			var serr error
			data, serr = supply()
			return serr
		})
		if err != nil {
			return err
		}
		if len(data) == 0 {
			break
		}
		if err := r.checkPayload(data); err != nil {
			return err
		}
		r.mu.Lock()
		err = r.writeLocked(data, false)
		r.mu.Unlock()
		if err != nil {
			return err
		}
		submitted++
	}

	r.mu.Lock()
	if err := r.usableLocked("write start"); err != nil {
		r.mu.Unlock()
		return err
	}
	if submitted == 0 {
		r.noteUnderrun()
	} else if err := r.startLocked(); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()
	installed = true

	if submitted > 0 {
		r.log.Info("render started", logger.Int("buffer_depth", bufferDepth), logger.Int("prefilled", submitted))
	}
	r.catchUp(supply, gen)
	return nil
}

// catchUp runs the resupplies owed for completions that arrived during
// prefill, then hands resupply back to the worker. The supplier is never
// called from two goroutines at once.
func (r *RenderEngine) catchUp(supply SupplyFunc, gen uint64) {
	for {
		r.mu.Lock()
		if r.pending == 0 || r.supplyGen != gen || r.state != StateActive {
			r.pending = 0
			r.prefill = false
			r.mu.Unlock()
			return
		}
		r.pending--
		r.mu.Unlock()
		r.resupply(supply, gen)
	}
}

// WriteStop clears the supplier. Submitted descriptors still play out.
func (r *RenderEngine) WriteStop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateClosed {
		return newStateError("write stop", r.state)
	}
	if r.supply != nil {
		r.supply = nil
		r.supplyGen++
		r.log.Info("render supplier cleared", logger.Int("in_flight", r.table.InFlight()))
	}
	return nil
}

// Reset clears the supplier and makes the device return every in-flight
// descriptor unplayed.
func (r *RenderEngine) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateClosed {
		return newStateError("reset", r.state)
	}
	r.supply = nil
	r.supplyGen++
	if r.state == StateIdle {
		return nil
	}
	r.transitionLocked(StateDraining)
	if err := r.dev.Reset(); err != nil {
		return r.failLocked("reset", err)
	}
	r.started = false
	r.log.Info("render reset", logger.Int("in_flight", r.table.InFlight()))
	return nil
}

func (r *RenderEngine) checkPayload(data []byte) error {
	if len(data) == 0 {
		return newArgumentError("empty write")
	}
	if frame := r.format.BytesPerFrame(); len(data)%frame != 0 {
		return newArgumentError("write of %d bytes is not a multiple of the %d byte frame", len(data), frame)
	}
	return nil
}

// writeLocked is the submit primitive. A descriptor is copied into a free
// arena slot so no two in-flight descriptors share memory.
func (r *RenderEngine) writeLocked(data []byte, start bool) error {
	if err := r.usableLocked("write"); err != nil {
		return err
	}
	if r.state == StateDraining {
		return newStateError("write", r.state)
	}
	if err := r.enqueueLocked(data); err != nil {
		return r.failLocked("submit", err)
	}
	if start {
		return r.startLocked()
	}
	return nil
}

// enqueueLocked copies data into a slot and submits it. On failure the slot
// is released and the device error returned unwrapped.
func (r *RenderEngine) enqueueLocked(data []byte) error {
	r.completions.Reserve(r.table.InFlight() + 1)
	d := r.table.Acquire(len(data))
	copy(d.data, data)
	if err := r.submitLocked(d); err != nil {
		r.retireLocked(d)
		return err
	}
	r.transitionLocked(StateActive)
	r.stats.bytes.Add(uint64(len(data)))
	r.recorder.SetInFlight(r.dir.String(), r.table.InFlight())
	return nil
}

func (r *RenderEngine) startLocked() error {
	if r.started {
		return nil
	}
	if err := r.dev.Start(); err != nil {
		return r.failLocked("start", err)
	}
	r.started = true
	return nil
}

func (r *RenderEngine) noteUnderrun() {
	r.stats.underruns.Add(1)
	r.recorder.RecordUnderrun()
	if r.underrunLog.Allow() {
		r.log.Warn("supplier returned no data, playback will starve",
			logger.Uint64("underruns", r.stats.underruns.Load()))
	}
}

func (r *RenderEngine) handleCompletion(tag Tag) {
	d, ok := r.lookupCompletion(tag)
	if !ok {
		return
	}

	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		return
	}
	r.retireLocked(d)
	supply, gen := r.supply, r.supplyGen
	if r.state != StateActive {
		supply = nil
	}
	if supply != nil && r.prefill {
		r.pending++
		supply = nil
	}
	r.mu.Unlock()

	if supply != nil {
		r.resupply(supply, gen)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateIdle || r.state == StateClosed || r.table.InFlight() > 0 {
		return
	}
	r.settleLocked()
	r.started = false
}

// resupply pulls one block from the supplier and submits it. A failed
// submit costs one buffer slot and is reported, not retried.
func (r *RenderEngine) resupply(supply SupplyFunc, gen uint64) {
	var data []byte
	err := r.invoke(func() error {
		var serr error
		data, serr = supply()
		return serr
	})
	switch {
	case err != nil:
		r.report(err)
		return
	case len(data) == 0:
		r.noteUnderrun()
		return
	}
	if err := r.checkPayload(data); err != nil {
		r.stats.callbackErrors.Add(1)
		r.report(newCallbackError(r.dir, err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.supplyGen != gen || r.state != StateActive {
		return
	}
	if err := r.enqueueLocked(data); err != nil {
		r.stats.degraded.Add(1)
		r.recorder.RecordResubmit(r.dir.String(), metrics.StatusError)
		r.recorder.RecordDegraded(r.dir.String())
		r.report(newDeviceError(r.dir, "resubmit", err))
		return
	}
	r.stats.resubmits.Add(1)
	r.recorder.RecordResubmit(r.dir.String(), metrics.StatusSuccess)
}
