package audioio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/pcmio/internal/errors"
	"github.com/tphakala/pcmio/internal/logger"
	"github.com/tphakala/pcmio/internal/observability/metrics"
)

// Stats is a snapshot of engine counters
type Stats struct {
	State          EngineState
	InFlight       int
	Completions    uint64
	BytesDelivered uint64 // capture: bytes passed to ReceiveFunc; render: bytes submitted
	Resubmits      uint64
	Releases       uint64
	DegradedSlots  uint64 // slots lost to a failed recycle
	CallbackErrors uint64
	Underruns      uint64
	DroppedErrors  uint64 // errors discarded because Errors() was full
}

type counters struct {
	completions    atomic.Uint64
	bytes          atomic.Uint64
	resubmits      atomic.Uint64
	releases       atomic.Uint64
	degraded       atomic.Uint64
	callbackErrors atomic.Uint64
	underruns      atomic.Uint64
	droppedErrors  atomic.Uint64
}

// engine is the state shared by CaptureEngine and RenderEngine: the device,
// the descriptor arena, the completion channel and the worker goroutine.
type engine struct {
	id     string
	dir    Direction
	dev    Device
	format SampleFormat

	table       *Arena
	completions *CompletionChannel

	log      logger.Logger
	recorder metrics.Recorder

	errMu      sync.Mutex
	errs       chan error
	errsClosed bool

	// mu guards state, fault, idleCh and every device control call
	mu     sync.Mutex
	state  EngineState
	fault  error
	idleCh chan struct{}

	cancel context.CancelFunc
	done   chan struct{}

	stats counters
}

func openEngine(dir Direction, open Opener, format SampleFormat, selector DeviceSelector, opts []Option) (*engine, error) {
	if open == nil {
		return nil, newOpenError(dir, format, selector, fmt.Errorf("no backend"))
	}
	if err := format.Validate(); err != nil {
		return nil, newOpenError(dir, format, selector, err)
	}

	o := buildOptions(opts)
	e := &engine{
		id:          uuid.NewString(),
		dir:         dir,
		format:      format,
		table:       NewArena(),
		completions: NewCompletionChannel(o.completionCapacity),
		recorder:    o.recorder,
		errs:        make(chan error, o.errorBuffer),
		state:       StateIdle,
		idleCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
	close(e.idleCh)
	e.log = o.log.With(logger.String("engine", e.id), logger.String("direction", dir.String()))

	dev, err := open(OpenParams{
		Direction: dir,
		Format:    format,
		Selector:  selector,
		Notify:    e.completions.Push,
	})
	if err != nil {
		e.log.Error("failed to open device",
			logger.Error(err),
			logger.String("selector", selector.String()),
			logger.String("format", format.String()))
		return nil, newOpenError(dir, format, selector, err)
	}
	e.dev = dev
	e.recorder.SetState(dir.String(), StateIdle.String())

	e.log.Info("device opened",
		logger.String("selector", selector.String()),
		logger.String("format", format.String()))
	return e, nil
}

// run starts the worker goroutine
func (e *engine) run(handle func(Tag)) {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go func() {
		defer close(e.done)
		for {
			tag, err := e.completions.WaitAndPop(ctx)
			if err != nil {
				return
			}
			handle(tag)
		}
	}()
}

// ID returns the engine instance id used in logs
func (e *engine) ID() string { return e.id }

// Format returns the sample format fixed at open
func (e *engine) Format() SampleFormat { return e.format }

// Device returns the underlying device
func (e *engine) Device() Device { return e.dev }

// State returns the current engine state
func (e *engine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Errors delivers errors raised on the worker goroutine: callback failures
// and failed recycles. The channel is closed by Close.
func (e *engine) Errors() <-chan error { return e.errs }

// Stats returns a snapshot of the engine counters
func (e *engine) Stats() Stats {
	return Stats{
		State:          e.State(),
		InFlight:       e.table.InFlight(),
		Completions:    e.stats.completions.Load(),
		BytesDelivered: e.stats.bytes.Load(),
		Resubmits:      e.stats.resubmits.Load(),
		Releases:       e.stats.releases.Load(),
		DegradedSlots:  e.stats.degraded.Load(),
		CallbackErrors: e.stats.callbackErrors.Load(),
		Underruns:      e.stats.underruns.Load(),
		DroppedErrors:  e.stats.droppedErrors.Load(),
	}
}

// WaitIdle blocks until every in-flight descriptor has been retired
func (e *engine) WaitIdle(ctx context.Context) error {
	for {
		e.mu.Lock()
		state, ch := e.state, e.idleCh
		e.mu.Unlock()

		switch state {
		case StateIdle:
			return nil
		case StateClosed:
			return newStateError("wait idle", state)
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return errors.New(fmt.Errorf("wait for %s engine to drain: %w", e.dir, ctx.Err())).
				Component("audioio").
				Category(errors.CategoryTimeout).
				Context("in_flight", e.table.InFlight()).
				Build()
		}
	}
}

// Close releases the device. It fails with ErrBusy while descriptors are
// in flight unless the engine has faulted. Close must not be called from a
// receive or supply callback.
func (e *engine) Close() error {
	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return newStateError("close", StateClosed)
	}
	if e.fault == nil && e.state != StateIdle {
		inFlight := e.table.InFlight()
		e.mu.Unlock()
		return errors.New(fmt.Errorf("%w: close %s engine with %d descriptors in flight", ErrBusy, e.dir, inFlight)).
			Component("audioio").
			Category(errors.CategoryState).
			Context("state", e.State().String()).
			Build()
	}
	e.transitionLocked(StateClosed)
	e.mu.Unlock()

	devErr := e.dev.Close()

	e.completions.Close()
	e.cancel()
	<-e.done
	e.table.drop()

	e.errMu.Lock()
	e.errsClosed = true
	close(e.errs)
	e.errMu.Unlock()

	e.log.Info("engine closed", logger.Uint64("completions", e.stats.completions.Load()))

	if devErr != nil {
		return newDeviceError(e.dir, "close", devErr)
	}
	return nil
}

// transitionLocked moves the state machine and maintains idleCh
func (e *engine) transitionLocked(to EngineState) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	e.recorder.SetState(e.dir.String(), to.String())

	if from == StateIdle {
		e.idleCh = make(chan struct{})
	}
	if to == StateIdle || to == StateClosed {
		select {
		case <-e.idleCh:
		default:
			close(e.idleCh)
		}
	}
	e.log.Debug("state changed", logger.String("from", from.String()), logger.String("to", to.String()))
}

// usableLocked rejects operations on a closed or faulted engine
func (e *engine) usableLocked(op string) error {
	if e.state == StateClosed {
		return newStateError(op, StateClosed)
	}
	if e.fault != nil {
		return e.fault
	}
	return nil
}

// submitLocked prepares d on first use and hands it to the device
func (e *engine) submitLocked(d *Descriptor) error {
	if !d.prepared {
		if err := e.dev.Prepare(d); err != nil {
			return err
		}
		d.prepared = true
	}
	return e.dev.Submit(d)
}

// retireLocked unprepares d and returns its slot to the arena
func (e *engine) retireLocked(d *Descriptor) {
	if d.prepared {
		if err := e.dev.Unprepare(d); err != nil {
			e.log.Warn("failed to unprepare descriptor", logger.Error(err), logger.Uint64("tag", uint64(d.tag)))
		}
		d.prepared = false
	}
	e.table.Release(d)
	e.stats.releases.Add(1)
	e.recorder.RecordRelease(e.dir.String())
	e.recorder.SetInFlight(e.dir.String(), e.table.InFlight())
}

// failLocked records a sticky device fault and asks the device to return
// whatever it still holds. Only Close remains usable afterwards.
func (e *engine) failLocked(op string, cause error) error {
	err := newDeviceError(e.dir, op, cause)
	e.fault = err
	e.log.Error("device operation failed", logger.Error(err), logger.String("operation", op))

	if e.state == StateActive {
		e.transitionLocked(StateDraining)
	}
	if e.table.InFlight() > 0 {
		if rerr := e.dev.Reset(); rerr != nil {
			e.log.Warn("device reset after failure also failed", logger.Error(rerr))
		}
	}
	e.settleLocked()
	return err
}

// settleLocked returns the engine to Idle once nothing is in flight.
// Active engines settle too; a render engine that runs out of data is idle.
func (e *engine) settleLocked() {
	if e.state == StateIdle || e.state == StateClosed || e.table.InFlight() > 0 {
		return
	}
	e.transitionLocked(StateIdle)
	if err := e.dev.Stop(); err != nil && e.fault == nil {
		e.fault = newDeviceError(e.dir, "stop", err)
		e.report(e.fault)
	}
}

// invoke runs a user callback, converting errors and panics into
// callback errors so the worker keeps going.
func (e *engine) invoke(fn func() error) (err error) {
	start := time.Now()
	status := metrics.StatusSuccess
	defer func() {
		if r := recover(); r != nil {
			status = metrics.StatusPanic
			err = newCallbackError(e.dir, fmt.Errorf("panic: %v", r))
		}
		if err != nil {
			e.stats.callbackErrors.Add(1)
		}
		e.recorder.RecordCallback(e.dir.String(), status, time.Since(start).Seconds())
	}()

	if cbErr := fn(); cbErr != nil {
		status = metrics.StatusError
		return newCallbackError(e.dir, cbErr)
	}
	return nil
}

// report logs err and offers it on the Errors channel without blocking
func (e *engine) report(err error) {
	e.log.Warn("engine error", logger.Error(err))

	e.errMu.Lock()
	defer e.errMu.Unlock()
	if e.errsClosed {
		return
	}
	select {
	case e.errs <- err:
	default:
		e.stats.droppedErrors.Add(1)
	}
}

// lookupCompletion resolves a tag and counts the completion
func (e *engine) lookupCompletion(tag Tag) (*Descriptor, bool) {
	d, ok := e.table.Lookup(tag)
	if !ok {
		e.log.Warn("completion for unknown descriptor", logger.Uint64("tag", uint64(tag)))
		return nil, false
	}
	e.stats.completions.Add(1)
	e.recorder.RecordCompletion(e.dir.String(), d.BytesTransferred())
	return d, true
}
