package audioio

import (
	"fmt"

	"github.com/tphakala/pcmio/internal/errors"
)

// Sentinel errors. Every error returned by this package wraps exactly one
// of them, so callers test with errors.Is.
var (
	// ErrOpen: unsupported format or no matching device. Not retried.
	ErrOpen = errors.NewStd("audioio: open failed")
	// ErrDevice: the device rejected a submit, start, stop or reset call.
	ErrDevice = errors.NewStd("audioio: device error")
	// ErrUseAfterClose: the engine was used after Close.
	ErrUseAfterClose = errors.NewStd("audioio: engine is closed")
	// ErrCallback: a receive or supply callback returned an error or panicked.
	ErrCallback = errors.NewStd("audioio: callback failed")
	// ErrInvalidState: the operation is not valid in the current engine state.
	ErrInvalidState = errors.NewStd("audioio: invalid engine state")
	// ErrBusy: Close was called while descriptors are still in flight.
	ErrBusy = errors.NewStd("audioio: descriptors still in flight")
	// ErrInvalidArgument: buffer size, depth or payload is unusable.
	ErrInvalidArgument = errors.NewStd("audioio: invalid argument")
	// ErrChannelClosed is returned by CompletionChannel.WaitAndPop after Close.
	ErrChannelClosed = errors.NewStd("audioio: completion channel closed")
)

// PlatformError carries a backend error code and its human-readable text.
// Backends return it so open and device errors can quote the platform message.
type PlatformError struct {
	Op   string
	Code int
	Text string
	Err  error
}

func (e *PlatformError) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("%s: %s (code %d)", e.Op, e.Text, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: code %d", e.Op, e.Code)
}

func (e *PlatformError) Unwrap() error {
	return e.Err
}

// platformText returns the platform message carried by err, if any
func platformText(err error) string {
	var pe *PlatformError
	if errors.As(err, &pe) && pe.Text != "" {
		return pe.Text
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

func newOpenError(dir Direction, format SampleFormat, selector DeviceSelector, cause error) error {
	return errors.New(fmt.Errorf("%w: %s %s device %s: %s", ErrOpen, dir, format, selector, platformText(cause))).
		Component("audioio").
		Category(errors.CategoryDeviceOpen).
		Context("direction", dir.String()).
		Context("format", format.String()).
		Context("selector", selector.String()).
		Build()
}

func newDeviceError(dir Direction, op string, cause error) error {
	return errors.New(fmt.Errorf("%w: %s %s: %s", ErrDevice, dir, op, platformText(cause))).
		Component("audioio").
		Category(errors.CategoryDevice).
		Context("direction", dir.String()).
		Context("operation", op).
		Build()
}

func newCallbackError(dir Direction, cause error) error {
	return errors.New(fmt.Errorf("%w: %s: %w", ErrCallback, dir, cause)).
		Component("audioio").
		Category(errors.CategoryCallback).
		Context("direction", dir.String()).
		Build()
}

func newStateError(op string, state EngineState) error {
	if state == StateClosed {
		return errors.New(fmt.Errorf("%w: %s", ErrUseAfterClose, op)).
			Component("audioio").
			Category(errors.CategoryUseAfterClose).
			Build()
	}
	return errors.New(fmt.Errorf("%w: %s while %s", ErrInvalidState, op, state)).
		Component("audioio").
		Category(errors.CategoryState).
		Context("state", state.String()).
		Build()
}

func newArgumentError(format string, args ...any) error {
	return errors.New(fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))).
		Component("audioio").
		Category(errors.CategoryValidation).
		Build()
}
