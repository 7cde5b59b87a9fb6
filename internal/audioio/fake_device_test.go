package audioio

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tphakala/pcmio/internal/logger"
)

var (
	testFormat16 = SampleFormat{SamplesPerSec: 8000, BitsPerSample: 16, Channels: 2}
	testFormat8  = SampleFormat{SamplesPerSec: 8000, BitsPerSample: 8, Channels: 1}
)

// fakeDevice completes descriptors only when the test tells it to
type fakeDevice struct {
	mu     sync.Mutex
	format SampleFormat
	notify Notifier

	queue    []*Descriptor
	inFlight map[*byte]Tag // region start -> tag, to catch shared memory

	submits, starts, stops, resets, prepares, unprepares int
	overlaps                                             int
	started, closed                                      bool

	submitErr func(n int) error // n is the 1-based submit count
	startErr  error
	resetErr  error
	onStart   func()
}

func newFakeDevice(format SampleFormat) *fakeDevice {
	return &fakeDevice{format: format, inFlight: make(map[*byte]Tag)}
}

func (f *fakeDevice) opener() Opener {
	return func(p OpenParams) (Device, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.notify = p.Notify
		return f, nil
	}
}

func (f *fakeDevice) Format() SampleFormat { return f.format }

func (f *fakeDevice) Prepare(*Descriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepares++
	return nil
}

func (f *fakeDevice) Unprepare(*Descriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unprepares++
	return nil
}

func (f *fakeDevice) Submit(d *Descriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.submitErr != nil {
		if err := f.submitErr(f.submits); err != nil {
			return err
		}
	}
	key := &d.data[0]
	if _, dup := f.inFlight[key]; dup {
		f.overlaps++
	}
	f.inFlight[key] = d.Tag()
	f.queue = append(f.queue, d)
	return nil
}

func (f *fakeDevice) Start() error {
	f.mu.Lock()
	hook := f.onStart
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeDevice) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.started = false
	return nil
}

func (f *fakeDevice) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	if f.resetErr != nil {
		return f.resetErr
	}
	f.started = false
	for len(f.queue) > 0 {
		f.popLocked(0)
	}
	return nil
}

func (f *fakeDevice) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeDevice) popLocked(transferred int) *Descriptor {
	d := f.queue[0]
	f.queue = f.queue[1:]
	delete(f.inFlight, &d.data[0])
	d.SetBytesTransferred(transferred)
	f.notify(d.Tag())
	return d
}

// complete finishes the oldest descriptor. fill, when set, writes the
// recorded bytes first.
func (f *fakeDevice) complete(t *testing.T, fill func(buf []byte)) []byte {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.queue, "no descriptor queued")
	d := f.queue[0]
	if fill != nil {
		fill(d.Buffer())
	}
	played := append([]byte(nil), d.Buffer()...)
	f.popLocked(d.Len())
	return played
}

func (f *fakeDevice) queued() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

func (f *fakeDevice) counts() (submits, starts, stops, resets int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits, f.starts, f.stops, f.resets
}

// testLogger keeps test output quiet
func testLogger() logger.Logger {
	return logger.NewWriterLogger(discard{}, logger.LogLevelError)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func waitState(t *testing.T, state func() EngineState, want EngineState) {
	t.Helper()
	require.Eventually(t, func() bool { return state() == want },
		2*time.Second, time.Millisecond, "engine never reached %s", want)
}

// recorder collects callback payloads
type recorder struct {
	mu     sync.Mutex
	blocks [][]byte
}

func (r *recorder) receive(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks = append(r.blocks, append([]byte(nil), data...))
	return nil
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blocks)
}

func (r *recorder) snapshot() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.blocks...)
}

func fillWith(v byte) func([]byte) {
	return func(buf []byte) {
		for i := range buf {
			buf[i] = v
		}
	}
}

var errFake = fmt.Errorf("fake device failure")
