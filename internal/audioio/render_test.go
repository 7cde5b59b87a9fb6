package audioio

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRender(t *testing.T, dev *fakeDevice) *RenderEngine {
	t.Helper()
	r, err := OpenRender(dev.opener(), dev.format, DefaultDevice, WithLogger(testLogger()))
	require.NoError(t, err)
	return r
}

// counterSupply returns blocks whose bytes all equal the call number
type counterSupply struct {
	calls atomic.Int32
	size  int
	limit int32 // 0 means unlimited
}

func (s *counterSupply) next() ([]byte, error) {
	n := s.calls.Add(1)
	if s.limit > 0 && n > s.limit {
		return nil, nil
	}
	return bytes.Repeat([]byte{byte(n)}, s.size), nil
}

func TestRenderWriteStartPrefillsBeforeDeviceStarts(t *testing.T) {
	t.Parallel()

	dev := newFakeDevice(testFormat16)
	supply := &counterSupply{size: 16}
	var callsAtStart atomic.Int32
	dev.onStart = func() { callsAtStart.Store(supply.calls.Load()) }

	r := openTestRender(t, dev)
	require.NoError(t, r.WriteStart(supply.next, 3))

	assert.Equal(t, int32(3), callsAtStart.Load(), "supplier must fill the pipeline before the device starts")
	assert.Equal(t, 3, dev.queued())
	assert.Equal(t, StateActive, r.State())

	// steady state: exactly one supply call per completion
	for i := range 10 {
		played := dev.complete(t, nil)
		assert.Equal(t, byte(i+1), played[0], "playback out of order")
		require.Eventually(t, func() bool { return supply.calls.Load() == int32(4+i) && dev.queued() == 3 },
			2*time.Second, time.Millisecond)
	}

	require.Eventually(t, func() bool { return r.Stats().Resubmits == 10 }, 2*time.Second, time.Millisecond)
	stats := r.Stats()
	assert.Equal(t, uint64(10), stats.Completions)
	assert.Equal(t, uint64(13*16), stats.BytesDelivered)

	require.NoError(t, r.WriteStop())
	for range 3 {
		dev.complete(t, nil)
	}
	closeIdle(t, r)
	assert.Equal(t, int32(13), supply.calls.Load(), "supplier called after WriteStop")

	_, starts, stops, _ := dev.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
}

func TestRenderWriteStartOnRunningDeviceResuppliesEveryCompletion(t *testing.T) {
	t.Parallel()

	dev := newFakeDevice(testFormat16)
	r := openTestRender(t, dev)
	require.NoError(t, r.Write(make([]byte, 16)))

	var calls atomic.Int32
	supply := func() ([]byte, error) {
		n := calls.Add(1)
		if n == 2 {
			// the running device finishes the written block and the first
			// prefilled block while prefill is still in progress
			dev.complete(t, nil)
			dev.complete(t, nil)
		}
		return bytes.Repeat([]byte{byte(n)}, 16), nil
	}
	require.NoError(t, r.WriteStart(supply, 2))

	// two prefill calls plus one per completion
	require.Eventually(t, func() bool { return calls.Load() == 4 && dev.queued() == 3 },
		2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return r.Stats().Resubmits == 2 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, uint64(2), r.Stats().Completions)

	require.NoError(t, r.WriteStop())
	for _, want := range []byte{2, 3, 4} {
		played := dev.complete(t, nil)
		assert.Equal(t, want, played[0], "playback out of order")
	}
	closeIdle(t, r)
	assert.Equal(t, int32(4), calls.Load(), "supplier called after WriteStop")
}

func TestRenderWriteStartZeroDepthUsesDefault(t *testing.T) {
	t.Parallel()

	dev := newFakeDevice(testFormat16)
	supply := &counterSupply{size: 16}
	r := openTestRender(t, dev)
	require.NoError(t, r.WriteStart(supply.next, 0))

	assert.Equal(t, int32(DefaultBufferDepth), supply.calls.Load())
	assert.Equal(t, DefaultBufferDepth, dev.queued())

	require.NoError(t, r.Reset())
	closeIdle(t, r)
}

func TestRenderUnderrunStarvesToIdle(t *testing.T) {
	t.Parallel()

	dev := newFakeDevice(testFormat16)
	supply := &counterSupply{size: 8, limit: 2}
	r := openTestRender(t, dev)
	require.NoError(t, r.WriteStart(supply.next, 2))

	dev.complete(t, nil)
	dev.complete(t, nil)
	waitState(t, r.State, StateIdle)

	stats := r.Stats()
	assert.Equal(t, uint64(2), stats.Underruns)
	assert.Zero(t, stats.Resubmits)

	// a manual write restarts the device
	require.NoError(t, r.Write(make([]byte, 8)))
	assert.Equal(t, StateActive, r.State())
	_, starts, _, _ := dev.counts()
	assert.Equal(t, 2, starts)

	require.NoError(t, r.Reset())
	closeIdle(t, r)
}

func TestRenderWriteStartWithNoData(t *testing.T) {
	t.Parallel()

	dev := newFakeDevice(testFormat16)
	r := openTestRender(t, dev)

	require.NoError(t, r.WriteStart(func() ([]byte, error) { return nil, nil }, 2))
	assert.Equal(t, StateIdle, r.State())
	assert.Equal(t, uint64(1), r.Stats().Underruns)

	_, starts, _, _ := dev.counts()
	assert.Zero(t, starts)

	require.ErrorIs(t, r.WriteStart((&counterSupply{size: 4}).next, 2), ErrInvalidState)
	require.NoError(t, r.WriteStop())
	require.NoError(t, r.Close())
}

func TestRenderConcurrentWritesNeverShareMemory(t *testing.T) {
	t.Parallel()

	dev := newFakeDevice(testFormat16)
	r := openTestRender(t, dev)
	supply := &counterSupply{size: 32}
	require.NoError(t, r.WriteStart(supply.next, 2))

	const writers = 4
	const perWriter = 25
	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				size := 4 * (1 + (w+i)%8)
				assert.NoError(t, r.Write(bytes.Repeat([]byte{0xAA}, size)))
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	// keep the device draining while writers and the supplier race
	for completed := 0; ; {
		select {
		case <-done:
			require.NoError(t, r.WriteStop())
			for dev.queued() > 0 {
				dev.complete(t, nil)
			}
			closeIdle(t, r)

			dev.mu.Lock()
			assert.Zero(t, dev.overlaps, "two in-flight descriptors shared a region")
			dev.mu.Unlock()
			t.Logf("completed %d descriptors", completed)
			return
		default:
		}
		if dev.queued() > 0 {
			dev.complete(t, nil)
			completed++
		} else {
			time.Sleep(100 * time.Microsecond)
		}
	}
}

func TestRenderSupplierFailureIsReported(t *testing.T) {
	t.Parallel()

	dev := newFakeDevice(testFormat16)
	r := openTestRender(t, dev)

	var calls atomic.Int32
	supply := func() ([]byte, error) {
		switch calls.Add(1) {
		case 3:
			return nil, fmt.Errorf("decoder failed")
		case 4:
			return make([]byte, 6), nil // not a whole frame
		default:
			return make([]byte, 8), nil
		}
	}
	require.NoError(t, r.WriteStart(supply, 2))

	dev.complete(t, nil)
	dev.complete(t, nil)

	for _, want := range []error{ErrCallback, ErrCallback} {
		select {
		case err := <-r.Errors():
			require.ErrorIs(t, err, want)
		case <-time.After(2 * time.Second):
			t.Fatal("supplier failure not reported")
		}
	}
	waitState(t, r.State, StateIdle)
	assert.Equal(t, uint64(2), r.Stats().CallbackErrors)
	require.NoError(t, r.WriteStop())
	require.NoError(t, r.Close())
}

func TestRenderResetDiscardsQueuedAudio(t *testing.T) {
	t.Parallel()

	dev := newFakeDevice(testFormat8)
	r := openTestRender(t, dev)
	supply := &counterSupply{size: 4}
	require.NoError(t, r.WriteStart(supply.next, 4))

	require.NoError(t, r.Reset())
	waitState(t, r.State, StateIdle)
	assert.Equal(t, int32(4), supply.calls.Load(), "supplier must not run after Reset")
	assert.Equal(t, uint64(4), r.Stats().Releases)

	// the supplier was cleared, so a new one can be installed
	require.NoError(t, r.WriteStart(supply.next, 2))
	require.NoError(t, r.Reset())
	closeIdle(t, r)
}

func TestRenderDeviceFaults(t *testing.T) {
	t.Parallel()

	t.Run("write submit failure is sticky", func(t *testing.T) {
		t.Parallel()
		dev := newFakeDevice(testFormat16)
		dev.submitErr = func(int) error { return errFake }
		r := openTestRender(t, dev)

		require.ErrorIs(t, r.Write(make([]byte, 4)), ErrDevice)
		require.ErrorIs(t, r.Write(make([]byte, 4)), ErrDevice)
		assert.Equal(t, StateIdle, r.State())
		require.NoError(t, r.Close())
	})

	t.Run("worker resubmit failure degrades", func(t *testing.T) {
		t.Parallel()
		dev := newFakeDevice(testFormat16)
		dev.submitErr = func(n int) error {
			if n == 3 {
				return errFake
			}
			return nil
		}
		r := openTestRender(t, dev)
		require.NoError(t, r.WriteStart((&counterSupply{size: 4}).next, 2))

		dev.complete(t, nil)
		select {
		case err := <-r.Errors():
			require.ErrorIs(t, err, ErrDevice)
		case <-time.After(2 * time.Second):
			t.Fatal("degraded slot not reported")
		}
		require.Eventually(t, func() bool { return r.Stats().DegradedSlots == 1 }, 2*time.Second, time.Millisecond)

		// the engine is still usable
		require.NoError(t, r.Write(make([]byte, 4)))
		require.NoError(t, r.Reset())
		closeIdle(t, r)
	})
}

func TestRenderWriteValidation(t *testing.T) {
	t.Parallel()

	dev := newFakeDevice(testFormat16)
	r := openTestRender(t, dev)

	require.ErrorIs(t, r.Write(nil), ErrInvalidArgument)
	require.ErrorIs(t, r.Write(make([]byte, 6)), ErrInvalidArgument)
	require.ErrorIs(t, r.WriteStart(nil, 2), ErrInvalidArgument)
	require.ErrorIs(t, r.WriteStart((&counterSupply{size: 4}).next, 1), ErrInvalidArgument)

	require.NoError(t, r.Close())
	require.ErrorIs(t, r.Write(make([]byte, 4)), ErrUseAfterClose)
	require.ErrorIs(t, r.WriteStop(), ErrUseAfterClose)
}
