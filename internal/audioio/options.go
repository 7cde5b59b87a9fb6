package audioio

import (
	"github.com/tphakala/pcmio/internal/logger"
	"github.com/tphakala/pcmio/internal/observability/metrics"
)

// Buffer defaults
const (
	MinBufferDepth     = 2
	DefaultBufferDepth = 2
	defaultErrorBuffer = 16
)

type options struct {
	log                logger.Logger
	recorder           metrics.Recorder
	errorBuffer        int
	completionCapacity int
}

// Option configures an engine at open time
type Option func(*options)

// WithLogger overrides the module logger
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMetrics sets the metrics recorder. The default discards measurements.
func WithMetrics(r metrics.Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithErrorBuffer sets the capacity of the Errors channel. Errors reported
// while the channel is full are counted and dropped.
func WithErrorBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.errorBuffer = n
		}
	}
}

// WithCompletionCapacity presizes the completion ring
func WithCompletionCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.completionCapacity = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		log:                logger.Global().Module("audioio"),
		recorder:           metrics.NopRecorder{},
		errorBuffer:        defaultErrorBuffer,
		completionCapacity: 8,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
