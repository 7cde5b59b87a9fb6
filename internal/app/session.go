package app

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"hash"
	"io"
	"math"
	"sync"
	"time"

	"github.com/tphakala/pcmio/internal/audioio"
	"github.com/tphakala/pcmio/internal/conf"
	"github.com/tphakala/pcmio/internal/errors"
	"github.com/tphakala/pcmio/internal/logger"
	"github.com/tphakala/pcmio/internal/wavfile"
)

// drainGrace is added to the buffered audio duration when waiting for a
// stopping engine to return its descriptors
const drainGrace = time.Second

// DeviceList holds the endpoints of one backend
type DeviceList struct {
	Backend string               `json:"backend"`
	Capture []audioio.DeviceInfo `json:"capture"`
	Render  []audioio.DeviceInfo `json:"render"`
}

// ListDevices enumerates capture and render endpoints for a backend
func (r *Runtime) ListDevices(a conf.AudioSettings) (DeviceList, error) {
	_, enum, err := r.Backend(a)
	if err != nil {
		return DeviceList{}, err
	}
	list := DeviceList{Backend: a.Backend}
	if list.Capture, err = enum.CaptureDevices(); err != nil {
		return DeviceList{}, err
	}
	if list.Render, err = enum.RenderDevices(); err != nil {
		return DeviceList{}, err
	}
	return list, nil
}

// SessionReport summarises a finished session
type SessionReport struct {
	Format  audioio.SampleFormat
	Bytes   int64
	Elapsed time.Duration
	Capture *audioio.Stats
	Render  *audioio.Stats
	// Match is set by Loopback when the captured bytes equal the rendered bytes
	Match bool
}

// Duration returns the audio length the report covers
func (s SessionReport) Duration() time.Duration {
	return s.Format.Duration(int(s.Bytes))
}

// Record captures into a WAV file until ctx is done or limit elapses.
// A zero limit records until ctx is done.
func (r *Runtime) Record(ctx context.Context, path string, limit time.Duration) (SessionReport, error) {
	settings := r.Settings.Capture
	open, _, err := r.Backend(settings)
	if err != nil {
		return SessionReport{}, err
	}
	format := Format(settings)

	w, err := wavfile.Create(path, format)
	if err != nil {
		return SessionReport{}, err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil {
			r.log.Error("failed to finalize recording", logger.Error(cerr), logger.String("path", path))
		}
	}()

	eng, err := audioio.OpenCapture(open, format, audioio.DeviceSelector(settings.Device), r.EngineOptions()...)
	if err != nil {
		return SessionReport{}, err
	}
	reported := r.watchErrors(eng.Errors(), "capture")
	untrack := r.track("capture", eng)
	defer func() {
		untrack()
		closeEngine(r.log, eng, eng.Close)
		reported.Wait()
	}()

	started := time.Now()
	if err := eng.Start(w.Receive, settings.BufferSize, settings.BufferDepth); err != nil {
		return SessionReport{}, err
	}
	r.log.Info("recording",
		logger.String("path", path),
		logger.String("format", format.String()),
		logger.String("device", settings.Device))

	waitFor(ctx, limit)

	if err := eng.Stop(); err != nil {
		return SessionReport{}, err
	}
	if err := drain(eng, eng.Reset, bufferedDuration(settings, format)); err != nil {
		return SessionReport{}, err
	}

	stats := eng.Stats()
	return SessionReport{
		Format:  format,
		Bytes:   w.BytesWritten(),
		Elapsed: time.Since(started),
		Capture: &stats,
	}, nil
}

// Play renders a WAV file. The render settings choose backend, device and
// block size; the sample format comes from the file.
func (r *Runtime) Play(ctx context.Context, path string) (SessionReport, error) {
	settings := r.Settings.Render
	rd, err := wavfile.Open(path)
	if err != nil {
		return SessionReport{}, err
	}
	defer func() { _ = rd.Close() }()

	format := rd.Format()
	settings.SampleRate = int(format.SamplesPerSec)
	settings.BitDepth = int(format.BitsPerSample)
	settings.Channels = int(format.Channels)

	open, _, err := r.Backend(settings)
	if err != nil {
		return SessionReport{}, err
	}

	eng, err := audioio.OpenRender(open, format, audioio.DeviceSelector(settings.Device), r.EngineOptions()...)
	if err != nil {
		return SessionReport{}, err
	}
	reported := r.watchErrors(eng.Errors(), "render")
	untrack := r.track("render", eng)
	defer func() {
		untrack()
		closeEngine(r.log, eng, eng.Close)
		reported.Wait()
	}()

	blockSize := blockBytes(settings, format)
	supply := func() ([]byte, error) {
		block, err := rd.ReadBlock(blockSize)
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return block, err
	}

	started := time.Now()
	if err := eng.WriteStart(supply, settings.BufferDepth); err != nil {
		return SessionReport{}, err
	}
	r.log.Info("playing",
		logger.String("path", path),
		logger.String("format", format.String()),
		logger.String("device", settings.Device))

	if err := eng.WaitIdle(ctx); err != nil {
		// interrupted; discard what is still queued
		if werr := eng.WriteStop(); werr != nil {
			return SessionReport{}, werr
		}
		if err := drain(eng, eng.Reset, 0); err != nil {
			return SessionReport{}, err
		}
	}

	stats := eng.Stats()
	return SessionReport{
		Format:  format,
		Bytes:   int64(stats.BytesDelivered),
		Elapsed: time.Since(started),
		Render:  &stats,
	}, nil
}

// Loopback plays a generated tone of the given length through a loopback
// cable and captures it on the other end. The report's Match field tells
// whether every byte arrived unchanged and in order.
func (r *Runtime) Loopback(ctx context.Context, length time.Duration) (SessionReport, error) {
	settings := r.Settings.Render
	settings.Backend = conf.BackendLoopback
	format := Format(settings)

	open, _, err := r.Backend(settings)
	if err != nil {
		return SessionReport{}, err
	}

	blockSize := blockBytes(settings, format)
	blocks := max(1, int(int64(format.BytesPerSec())*int64(length)/int64(time.Second))/blockSize)
	total := int64(blocks * blockSize)

	capture, err := audioio.OpenCapture(open, format, audioio.DefaultDevice, r.EngineOptions()...)
	if err != nil {
		return SessionReport{}, err
	}
	render, err := audioio.OpenRender(open, format, audioio.DefaultDevice, r.EngineOptions()...)
	if err != nil {
		closeEngine(r.log, capture, capture.Close)
		return SessionReport{}, err
	}
	capReported := r.watchErrors(capture.Errors(), "capture")
	renReported := r.watchErrors(render.Errors(), "render")
	untrackCapture := r.track("capture", capture)
	untrackRender := r.track("render", render)
	defer func() {
		untrackRender()
		untrackCapture()
		closeEngine(r.log, render, render.Close)
		closeEngine(r.log, capture, capture.Close)
		capReported.Wait()
		renReported.Wait()
	}()

	sent, received := sha256.New(), sha256.New()
	sink := &countingSink{hash: received, want: total, done: make(chan struct{})}
	tone := newToneGenerator(format, 440)

	produced := int64(0)
	supply := func() ([]byte, error) {
		if produced >= total {
			return nil, nil
		}
		block := tone.next(blockSize)
		sent.Write(block)
		produced += int64(len(block))
		return block, nil
	}

	started := time.Now()
	if err := capture.Start(sink.receive, blockSize, settings.BufferDepth); err != nil {
		return SessionReport{}, err
	}
	if err := render.WriteStart(supply, settings.BufferDepth); err != nil {
		return SessionReport{}, err
	}

	select {
	case <-sink.done:
	case <-ctx.Done():
		r.log.Warn("loopback interrupted", logger.Int64("received", sink.count()), logger.Int64("expected", total))
	}

	if err := render.WriteStop(); err != nil {
		return SessionReport{}, err
	}
	if err := drain(render, render.Reset, bufferedDuration(settings, format)); err != nil {
		return SessionReport{}, err
	}
	// nothing more will arrive; return the capture buffers unfilled
	if err := capture.Reset(); err != nil {
		return SessionReport{}, err
	}
	if err := drain(capture, capture.Reset, 0); err != nil {
		return SessionReport{}, err
	}

	capStats, renStats := capture.Stats(), render.Stats()
	report := SessionReport{
		Format:  format,
		Bytes:   sink.count(),
		Elapsed: time.Since(started),
		Capture: &capStats,
		Render:  &renStats,
	}
	report.Match = report.Bytes == total && bytes.Equal(sent.Sum(nil), sink.sum())
	return report, nil
}

type idleWaiter interface {
	WaitIdle(ctx context.Context) error
}

// drain waits for an engine to go Idle, resetting it if the device does
// not return its descriptors within the buffered duration plus drainGrace
func drain(eng idleWaiter, reset func() error, buffered time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), buffered+drainGrace)
	err := eng.WaitIdle(ctx)
	cancel()
	if err == nil {
		return nil
	}
	if err := reset(); err != nil {
		return err
	}
	ctx, cancel = context.WithTimeout(context.Background(), drainGrace)
	defer cancel()
	return eng.WaitIdle(ctx)
}

func closeEngine(log logger.Logger, eng interface{ ID() string }, closeFn func() error) {
	if err := closeFn(); err != nil && !errors.Is(err, audioio.ErrUseAfterClose) {
		log.Error("failed to close engine", logger.Error(err), logger.String("engine", eng.ID()))
	}
}

// watchErrors logs asynchronous engine errors until the channel is closed
func (r *Runtime) watchErrors(errs <-chan error, direction string) *sync.WaitGroup {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range errs {
			r.log.Warn("engine error", logger.Error(err), logger.String("direction", direction))
		}
	}()
	return &wg
}

// waitFor blocks until ctx is done or limit elapses
func waitFor(ctx context.Context, limit time.Duration) {
	if limit <= 0 {
		<-ctx.Done()
		return
	}
	timer := time.NewTimer(limit)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// blockBytes returns the configured block size aligned to format, or one
// tenth of a second when unset
func blockBytes(a conf.AudioSettings, format audioio.SampleFormat) int {
	size := a.BufferSize
	if size <= 0 {
		size = format.BytesPerSec() / 10
	}
	return max(format.AlignedSize(size), format.BytesPerFrame())
}

// bufferedDuration is the audio held by a full pipeline of descriptors
func bufferedDuration(a conf.AudioSettings, format audioio.SampleFormat) time.Duration {
	size := a.BufferSize
	if size <= 0 {
		size = format.BytesPerSec()
	}
	return format.Duration(size * max(a.BufferDepth, audioio.MinBufferDepth))
}

// countingSink hashes captured bytes and signals once want bytes arrived
type countingSink struct {
	mu    sync.Mutex
	hash  hash.Hash
	n     int64
	want  int64
	done  chan struct{}
	fired bool
}

func (s *countingSink) receive(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hash.Write(data)
	s.n += int64(len(data))
	if s.n >= s.want && !s.fired {
		s.fired = true
		close(s.done)
	}
	return nil
}

func (s *countingSink) count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

func (s *countingSink) sum() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hash.Sum(nil)
}

// toneGenerator produces a continuous sine wave in format, the same value
// on every channel
type toneGenerator struct {
	format audioio.SampleFormat
	step   float64
	phase  float64
	buf    []byte
}

func newToneGenerator(format audioio.SampleFormat, hz float64) *toneGenerator {
	return &toneGenerator{
		format: format,
		step:   2 * math.Pi * hz / float64(format.SamplesPerSec),
	}
}

func (g *toneGenerator) next(size int) []byte {
	if cap(g.buf) < size {
		g.buf = make([]byte, size)
	}
	out := g.buf[:size]
	frame := g.format.BytesPerFrame()
	sampleBytes := g.format.BytesPerSample()

	for off := 0; off+frame <= size; off += frame {
		// half scale keeps the tone well clear of clipping
		v := 0.5 * math.Sin(g.phase)
		g.phase = math.Mod(g.phase+g.step, 2*math.Pi)
		for ch := 0; ch < int(g.format.Channels); ch++ {
			pos := off + ch*sampleBytes
			if sampleBytes == 1 {
				out[pos] = byte(128 + int(v*127))
			} else {
				binary.LittleEndian.PutUint16(out[pos:], uint16(int16(v*32767)))
			}
		}
	}
	return out
}
