// Package app wires configuration into running pcmio components: logging,
// error reporting, metrics, and the audio backend each command opens
// engines on.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/pcmio/internal/audioio"
	"github.com/tphakala/pcmio/internal/audioio/backend/loopback"
	malgobackend "github.com/tphakala/pcmio/internal/audioio/backend/malgo"
	"github.com/tphakala/pcmio/internal/buildinfo"
	"github.com/tphakala/pcmio/internal/conf"
	"github.com/tphakala/pcmio/internal/errors"
	"github.com/tphakala/pcmio/internal/logger"
	"github.com/tphakala/pcmio/internal/observability"
)

// Runtime owns the process-wide services a command needs
type Runtime struct {
	Settings *conf.Settings
	Build    *buildinfo.Context

	// Metrics is nil unless telemetry.metrics.enabled is set
	Metrics *observability.Metrics

	log         logger.Logger
	central     *logger.CentralLogger
	flushSentry func()

	mu      sync.Mutex
	malgo   *malgobackend.Backend
	cable   *loopback.Cable
	engines map[string]statser
}

type statser interface {
	Stats() audioio.Stats
}

// Setup installs the global logger and, when enabled, Sentry reporting and
// the Prometheus registry.
func Setup(settings *conf.Settings, build *buildinfo.Context) (*Runtime, error) {
	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to initialize logging: %w", err)).
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}
	logger.SetGlobal(central)

	r := &Runtime{
		Settings:    settings,
		Build:       build,
		log:         central.Module("app"),
		central:     central,
		flushSentry: func() {},
		engines:     make(map[string]statser),
	}

	if settings.Telemetry.Sentry.Enabled {
		flush, err := errors.InitSentry(settings.Telemetry.Sentry.DSN, build.Release())
		if err != nil {
			// reporting is optional; keep running without it
			r.log.Warn("sentry disabled", logger.Error(err))
		} else {
			r.flushSentry = flush
		}
	}

	if settings.Telemetry.Metrics.Enabled {
		m, err := observability.NewMetrics()
		if err != nil {
			_ = r.Close()
			return nil, errors.New(err).
				Component("app").
				Category(errors.CategorySystem).
				Build()
		}
		r.Metrics = m
	}

	r.log.Debug("runtime ready",
		logger.String("version", build.Version()),
		logger.String("instance", build.InstanceID()),
		logger.Bool("metrics", r.Metrics != nil),
		logger.Bool("sentry", settings.Telemetry.Sentry.Enabled))

	return r, nil
}

// Log returns the app module logger
func (r *Runtime) Log() logger.Logger { return r.log }

// Close flushes pending Sentry events and log output
func (r *Runtime) Close() error {
	r.flushSentry()
	return r.central.Close()
}

// Format converts audio settings to a sample format
func Format(a conf.AudioSettings) audioio.SampleFormat {
	return audioio.SampleFormat{
		SamplesPerSec: uint32(a.SampleRate),
		BitsPerSample: uint16(a.BitDepth),
		Channels:      uint16(a.Channels),
	}
}

// Backend returns the opener and enumerator for one direction's settings.
// Every loopback user in the process shares one cable, so a render engine
// and a capture engine opened here are connected to each other.
func (r *Runtime) Backend(a conf.AudioSettings) (audioio.Opener, audioio.Enumerator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch a.Backend {
	case conf.BackendLoopback:
		format := Format(a)
		if r.cable == nil {
			cable, err := loopback.NewCable(format)
			if err != nil {
				return nil, nil, err
			}
			r.cable = cable
		} else if r.cable.Format() != format {
			return nil, nil, errors.Newf("loopback cable carries %s, cannot open %s", r.cable.Format(), format).
				Component("app").
				Category(errors.CategoryConfiguration).
				Context("cable", r.cable.ID()).
				Build()
		}
		return r.cable.Opener(), r.cable, nil

	case conf.BackendMalgo, "":
		if r.malgo == nil {
			b, err := malgobackend.New()
			if err != nil {
				return nil, nil, err
			}
			r.malgo = b
		}
		return r.malgo.Opener(), r.malgo, nil

	default:
		return nil, nil, errors.Newf("unknown audio backend %q", a.Backend).
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// EngineOptions returns the options every engine is opened with
func (r *Runtime) EngineOptions() []audioio.Option {
	opts := []audioio.Option{audioio.WithLogger(logger.Global().Module("audioio"))}
	if r.Metrics != nil {
		opts = append(opts, audioio.WithMetrics(r.Metrics.Engine))
	}
	return opts
}

// Run executes task. With metrics enabled the endpoint is served alongside
// it and stopped once task returns.
func (r *Runtime) Run(ctx context.Context, health observability.HealthFunc, task func(context.Context) error) error {
	if r.Metrics == nil {
		return task(ctx)
	}

	endpoint := observability.NewEndpoint(r.Settings.Telemetry.Metrics.Listen, r.Metrics, r.withBuild(health))

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServing := context.WithCancel(gctx)
	defer stopServing()

	g.Go(func() error {
		defer stopServing()
		return task(gctx)
	})
	g.Go(func() error {
		if err := endpoint.Run(serveCtx); err != nil {
			return errors.New(fmt.Errorf("metrics endpoint: %w", err)).
				Component("app").
				Category(errors.CategoryNetwork).
				Context("listen", r.Settings.Telemetry.Metrics.Listen).
				Build()
		}
		return nil
	})

	return g.Wait()
}

// track lists an engine under name in /healthz until the returned func is called
func (r *Runtime) track(name string, eng statser) func() {
	r.mu.Lock()
	r.engines[name] = eng
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.engines, name)
		r.mu.Unlock()
	}
}

func (r *Runtime) engineHealth() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.engines))
	for name, eng := range r.engines {
		st := eng.Stats()
		out[name] = map[string]any{
			"state":           st.State.String(),
			"in_flight":       st.InFlight,
			"bytes":           st.BytesDelivered,
			"degraded_slots":  st.DegradedSlots,
			"callback_errors": st.CallbackErrors,
		}
	}
	return out
}

func (r *Runtime) withBuild(health observability.HealthFunc) observability.HealthFunc {
	return func() map[string]any {
		body := map[string]any{
			"version":  r.Build.Version(),
			"instance": r.Build.InstanceID(),
			"engines":  r.engineHealth(),
		}
		if health != nil {
			for k, v := range health() {
				body[k] = v
			}
		}
		return body
	}
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
