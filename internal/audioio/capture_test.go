package audioio

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCapture(t *testing.T, dev *fakeDevice, opts ...Option) *CaptureEngine {
	t.Helper()
	opts = append([]Option{WithLogger(testLogger())}, opts...)
	c, err := OpenCapture(dev.opener(), dev.format, DefaultDevice, opts...)
	require.NoError(t, err)
	return c
}

func closeIdle(t *testing.T, e interface {
	WaitIdle(context.Context) error
	Close() error
}) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.WaitIdle(ctx))
	require.NoError(t, e.Close())
}

func TestCaptureDeliversEveryBufferInOrder(t *testing.T) {
	t.Parallel()

	for _, depth := range []int{2, 3, 5} {
		t.Run(fmt.Sprintf("depth=%d", depth), func(t *testing.T) {
			t.Parallel()

			dev := newFakeDevice(testFormat16)
			c := openTestCapture(t, dev)
			rec := &recorder{}

			const size = 64
			const completions = 20
			require.NoError(t, c.Start(rec.receive, size, depth))
			assert.Equal(t, StateActive, c.State())
			assert.Equal(t, depth, dev.queued())

			for i := range completions {
				dev.complete(t, fillWith(byte(i)))
				// the worker resubmits, so the device never runs dry
				require.Eventually(t, func() bool { return rec.len() == i+1 }, 2*time.Second, time.Millisecond)
			}

			blocks := rec.snapshot()
			total := 0
			for i, b := range blocks {
				require.Len(t, b, size)
				assert.Equal(t, byte(i), b[0], "block %d out of order", i)
				assert.Equal(t, byte(i), b[size-1])
				total += len(b)
			}
			assert.Equal(t, completions*size, total)

			require.Eventually(t, func() bool { return c.Stats().Resubmits == completions }, 2*time.Second, time.Millisecond)
			stats := c.Stats()
			assert.Equal(t, uint64(completions), stats.Completions)
			assert.Equal(t, uint64(completions*size), stats.BytesDelivered)
			assert.Equal(t, depth, stats.InFlight)

			require.NoError(t, c.Stop())
			for range depth {
				dev.complete(t, nil)
			}
			closeIdle(t, c)
		})
	}
}

func TestCaptureDefaultBufferSizeIsOneSecond(t *testing.T) {
	t.Parallel()

	dev := newFakeDevice(testFormat8)
	c := openTestCapture(t, dev)
	require.NoError(t, c.Start((&recorder{}).receive, 0, 2))

	dev.mu.Lock()
	got := dev.queue[0].Len()
	dev.mu.Unlock()
	assert.Equal(t, testFormat8.BytesPerSec(), got)

	require.NoError(t, c.Reset())
	closeIdle(t, c)
}

func TestCaptureZeroDepthUsesDefault(t *testing.T) {
	t.Parallel()

	dev := newFakeDevice(testFormat16)
	c := openTestCapture(t, dev)
	require.NoError(t, c.Start((&recorder{}).receive, 16, 0))
	assert.Equal(t, DefaultBufferDepth, dev.queued())

	require.NoError(t, c.Reset())
	closeIdle(t, c)
}

func TestCaptureStopDrainsWithoutResubmitting(t *testing.T) {
	t.Parallel()

	const depth = 3
	dev := newFakeDevice(testFormat16)
	c := openTestCapture(t, dev)
	rec := &recorder{}
	require.NoError(t, c.Start(rec.receive, 16, depth))

	require.NoError(t, c.Stop())
	assert.Equal(t, StateDraining, c.State())
	submitsAtStop, _, _, _ := dev.counts()

	for i := range depth {
		dev.complete(t, fillWith(0x11))
		if i < depth-1 {
			require.Eventually(t, func() bool { return rec.len() == i+1 }, 2*time.Second, time.Millisecond)
			assert.Equal(t, StateDraining, c.State())
		}
	}
	waitState(t, c.State, StateIdle)

	submits, _, stops, _ := dev.counts()
	assert.Equal(t, submitsAtStop, submits, "descriptor resubmitted after Stop")
	assert.Equal(t, 1, stops)
	assert.Equal(t, depth, rec.len(), "in-flight buffers deliver once more while draining")
	assert.Equal(t, 0, c.Stats().InFlight)

	require.NoError(t, c.Close())
	assert.True(t, dev.closed)
}

func TestCaptureResetDeliversNothing(t *testing.T) {
	t.Parallel()

	dev := newFakeDevice(testFormat16)
	c := openTestCapture(t, dev)
	rec := &recorder{}
	require.NoError(t, c.Start(rec.receive, 16, 2))

	require.NoError(t, c.Reset())
	waitState(t, c.State, StateIdle)

	assert.Equal(t, 0, rec.len())
	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Completions)
	assert.Equal(t, uint64(2), stats.Releases)
	assert.Zero(t, stats.BytesDelivered)

	dev.mu.Lock()
	assert.Equal(t, 2, dev.unprepares)
	dev.mu.Unlock()

	// the engine can be started again after a reset
	require.NoError(t, c.Start(rec.receive, 16, 2))
	dev.complete(t, fillWith(1))
	require.Eventually(t, func() bool { return rec.len() == 1 }, 2*time.Second, time.Millisecond)
	require.NoError(t, c.Reset())
	closeIdle(t, c)
}

func TestCaptureCallbackFailuresAreIsolated(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fail    func() error
		wantMsg string
	}{
		{"error", func() error { return fmt.Errorf("sink full") }, "sink full"},
		{"panic", func() error { panic("boom") }, "panic: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dev := newFakeDevice(testFormat16)
			c := openTestCapture(t, dev)

			var calls atomic.Int32
			receive := func([]byte) error {
				if calls.Add(1) == 1 {
					return tt.fail()
				}
				return nil
			}
			require.NoError(t, c.Start(receive, 16, 2))

			dev.complete(t, fillWith(1))
			select {
			case err := <-c.Errors():
				require.ErrorIs(t, err, ErrCallback)
				assert.Contains(t, err.Error(), tt.wantMsg)
			case <-time.After(2 * time.Second):
				t.Fatal("callback error not reported")
			}

			// the slot was still recycled and the next buffer arrives
			dev.complete(t, fillWith(2))
			require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, time.Millisecond)
			assert.Equal(t, uint64(1), c.Stats().CallbackErrors)
			assert.Equal(t, StateActive, c.State())

			require.NoError(t, c.Reset())
			closeIdle(t, c)
		})
	}
}

func TestCaptureFailedRecycleDegradesDepth(t *testing.T) {
	t.Parallel()

	dev := newFakeDevice(testFormat16)
	dev.submitErr = func(n int) error {
		if n == 3 { // first resubmit
			return errFake
		}
		return nil
	}
	c := openTestCapture(t, dev)
	rec := &recorder{}
	require.NoError(t, c.Start(rec.receive, 16, 2))

	dev.complete(t, fillWith(1))
	select {
	case err := <-c.Errors():
		require.ErrorIs(t, err, ErrDevice)
	case <-time.After(2 * time.Second):
		t.Fatal("degraded slot not reported")
	}

	require.Eventually(t, func() bool {
		s := c.Stats()
		return s.DegradedSlots == 1 && s.InFlight == 1
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, StateActive, c.State())

	// the remaining slot keeps streaming
	dev.complete(t, fillWith(2))
	require.Eventually(t, func() bool { return rec.len() == 2 && dev.queued() == 1 }, 2*time.Second, time.Millisecond)

	require.NoError(t, c.Stop())
	dev.complete(t, nil)
	closeIdle(t, c)
}

func TestCaptureLastSlotLostGoesIdle(t *testing.T) {
	t.Parallel()

	dev := newFakeDevice(testFormat16)
	dev.submitErr = func(n int) error {
		if n > 2 {
			return errFake
		}
		return nil
	}
	c := openTestCapture(t, dev)
	require.NoError(t, c.Start((&recorder{}).receive, 16, 2))

	dev.complete(t, nil)
	dev.complete(t, nil)
	waitState(t, c.State, StateIdle)
	assert.Equal(t, uint64(2), c.Stats().DegradedSlots)
	require.NoError(t, c.Close())
}

func TestCaptureDeviceFaultIsSticky(t *testing.T) {
	t.Parallel()

	dev := newFakeDevice(testFormat16)
	dev.startErr = &PlatformError{Op: "start", Code: -9, Text: "device unplugged"}
	c := openTestCapture(t, dev)

	err := c.Start((&recorder{}).receive, 16, 2)
	require.ErrorIs(t, err, ErrDevice)
	assert.Contains(t, err.Error(), "device unplugged")

	// in-flight descriptors were returned by the reset
	waitState(t, c.State, StateIdle)
	_, _, _, resets := dev.counts()
	assert.Equal(t, 1, resets)

	err = c.Start((&recorder{}).receive, 16, 2)
	require.ErrorIs(t, err, ErrDevice)

	require.NoError(t, c.Close())
}

func TestCaptureFaultedEngineClosesWithDescriptorsStuck(t *testing.T) {
	t.Parallel()

	dev := newFakeDevice(testFormat16)
	dev.startErr = errFake
	dev.resetErr = errFake
	c := openTestCapture(t, dev)

	require.ErrorIs(t, c.Start((&recorder{}).receive, 16, 2), ErrDevice)
	assert.Equal(t, StateDraining, c.State())
	require.NoError(t, c.Close())
}

func TestCaptureArgumentValidation(t *testing.T) {
	t.Parallel()

	dev := newFakeDevice(testFormat16)
	c := openTestCapture(t, dev)
	t.Cleanup(func() { _ = c.Close() })

	tests := []struct {
		name    string
		receive ReceiveFunc
		size    int
		depth   int
	}{
		{"nil callback", nil, 16, 2},
		{"depth one", (&recorder{}).receive, 16, 1},
		{"partial frame", (&recorder{}).receive, 18, 2},
		{"negative size", (&recorder{}).receive, -4, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Start(tt.receive, tt.size, tt.depth)
			require.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
	assert.Equal(t, StateIdle, c.State())
}

func TestCaptureStateErrors(t *testing.T) {
	t.Parallel()

	dev := newFakeDevice(testFormat16)
	c := openTestCapture(t, dev)
	require.NoError(t, c.Start((&recorder{}).receive, 16, 2))

	require.ErrorIs(t, c.Start((&recorder{}).receive, 16, 2), ErrInvalidState)
	require.ErrorIs(t, c.Close(), ErrBusy)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.WaitIdle(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, c.Reset())
	closeIdle(t, c)

	require.ErrorIs(t, c.Close(), ErrUseAfterClose)
	require.ErrorIs(t, c.Start((&recorder{}).receive, 16, 2), ErrUseAfterClose)
	require.ErrorIs(t, c.Stop(), ErrUseAfterClose)
	require.ErrorIs(t, c.Reset(), ErrUseAfterClose)
	require.ErrorIs(t, c.WaitIdle(context.Background()), ErrUseAfterClose)
	assert.Equal(t, StateClosed, c.State())

	_, open := <-c.Errors()
	assert.False(t, open, "errors channel should be closed")
}

func TestOpenCaptureErrors(t *testing.T) {
	t.Parallel()

	t.Run("unsupported format", func(t *testing.T) {
		t.Parallel()
		dev := newFakeDevice(SampleFormat{SamplesPerSec: 44100, BitsPerSample: 24, Channels: 2})
		_, err := OpenCapture(dev.opener(), dev.format, DefaultDevice, WithLogger(testLogger()))
		require.ErrorIs(t, err, ErrOpen)
		assert.Contains(t, err.Error(), "bits per sample")
	})

	t.Run("backend failure carries platform text", func(t *testing.T) {
		t.Parallel()
		open := func(OpenParams) (Device, error) {
			return nil, &PlatformError{Op: "open", Code: 2, Text: "bad device id"}
		}
		_, err := OpenCapture(open, testFormat16, DeviceSelector("7"), WithLogger(testLogger()))
		require.ErrorIs(t, err, ErrOpen)
		assert.Contains(t, err.Error(), "bad device id")
		assert.Contains(t, err.Error(), "device 7")
	})

	t.Run("nil opener", func(t *testing.T) {
		t.Parallel()
		_, err := OpenCapture(nil, testFormat16, DefaultDevice, WithLogger(testLogger()))
		require.ErrorIs(t, err, ErrOpen)
	})
}
