package audioio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// queueHarness wires a StreamQueue to a descriptor table and records
// notifications
type queueHarness struct {
	table    *Arena
	queue    *StreamQueue
	notified []Tag
}

func newQueueHarness(format SampleFormat) *queueHarness {
	h := &queueHarness{table: NewArena()}
	h.queue = NewStreamQueue(format, func(tag Tag) { h.notified = append(h.notified, tag) })
	return h
}

func (h *queueHarness) submit(size int) *Descriptor {
	d := h.table.Acquire(size)
	h.queue.Enqueue(d)
	return d
}

func TestStreamQueueFillCapture(t *testing.T) {
	t.Parallel()

	h := newQueueHarness(testFormat16)
	d1 := h.submit(8)
	d2 := h.submit(8)

	assert.Equal(t, 16, h.queue.Room())

	// callback periods do not line up with descriptor sizes
	assert.Equal(t, 5, h.queue.FillCapture([]byte{1, 2, 3, 4, 5}))
	assert.Empty(t, h.notified)
	assert.Equal(t, 11, h.queue.Room())
	assert.Equal(t, 6, h.queue.FillCapture([]byte{6, 7, 8, 9, 10, 11}))
	require.Equal(t, []Tag{d1.Tag()}, h.notified)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, d1.Buffer())
	assert.Equal(t, 8, d1.BytesTransferred())

	// five more bytes than fit: d2 completes, the rest is dropped
	assert.Equal(t, 5, h.queue.FillCapture(bytes.Repeat([]byte{0xFF}, 10)))
	assert.Equal(t, []Tag{d1.Tag(), d2.Tag()}, h.notified)
	assert.Equal(t, []byte{9, 10, 11, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, d2.Buffer())
	assert.Equal(t, uint64(5), h.queue.DroppedBytes())
	assert.Zero(t, h.queue.Len())
}

func TestStreamQueueReadRender(t *testing.T) {
	t.Parallel()

	h := newQueueHarness(testFormat16)
	d1 := h.submit(4)
	copy(d1.Buffer(), []byte{1, 2, 3, 4})
	d2 := h.submit(4)
	copy(d2.Buffer(), []byte{5, 6, 7, 8})

	out := make([]byte, 3)
	assert.Equal(t, 3, h.queue.ReadRender(out))
	assert.Equal(t, []byte{1, 2, 3}, out)
	assert.Empty(t, h.notified)

	out = make([]byte, 10)
	assert.Equal(t, 5, h.queue.ReadRender(out))
	assert.Equal(t, []byte{4, 5, 6, 7, 8}, out[:5])
	assert.Equal(t, []Tag{d1.Tag(), d2.Tag()}, h.notified)
	assert.Equal(t, 4, d2.BytesTransferred())
	assert.Zero(t, h.queue.SilenceBytes())
}

func TestStreamQueueDrainRenderPadsSilence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		format  SampleFormat
		silence byte
	}{
		{"unsigned 8-bit", testFormat8, 0x80},
		{"signed 16-bit", testFormat16, 0x00},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newQueueHarness(tt.format)
			d := h.submit(4)
			copy(d.Buffer(), []byte{9, 9, 9, 9})

			out := bytes.Repeat([]byte{0x55}, 8)
			h.queue.DrainRender(out)
			assert.Equal(t, []byte{9, 9, 9, 9}, out[:4])
			assert.Equal(t, bytes.Repeat([]byte{tt.silence}, 4), out[4:])
			assert.Equal(t, uint64(4), h.queue.SilenceBytes())
		})
	}
}

func TestStreamQueueFlushCompletesWithZero(t *testing.T) {
	t.Parallel()

	h := newQueueHarness(testFormat16)
	d1 := h.submit(8)
	d2 := h.submit(8)
	h.queue.FillCapture([]byte{1, 2, 3, 4}) // partially filled d1

	h.queue.Flush()
	assert.Equal(t, []Tag{d1.Tag(), d2.Tag()}, h.notified)
	assert.Zero(t, d1.BytesTransferred())
	assert.Zero(t, d2.BytesTransferred())
	assert.Zero(t, h.queue.Len())

	// the offset was reset with the flush
	d3 := h.submit(4)
	h.queue.FillCapture([]byte{7, 7, 7, 7})
	assert.Equal(t, []byte{7, 7, 7, 7}, d3.Buffer())
}

func TestStreamQueueCompactsWithoutLosingOrder(t *testing.T) {
	t.Parallel()

	h := newQueueHarness(testFormat8)
	var want []Tag
	for round := range 50 {
		for range 1 + round%5 {
			want = append(want, h.submit(2).Tag())
		}
		h.queue.FillCapture(make([]byte, 2*(round%4)))
	}
	h.queue.Flush()
	assert.Equal(t, want, h.notified)
}

func TestDescriptorTableRecyclesSlots(t *testing.T) {
	t.Parallel()

	table := NewArena()
	a := table.Acquire(16)
	b := table.Acquire(16)
	assert.NotEqual(t, a.Tag(), b.Tag())
	assert.Equal(t, 2, table.InFlight())

	regionA := &a.data[0]
	table.Release(a)
	table.Release(a) // second release is a no-op
	assert.Equal(t, 1, table.InFlight())

	// smaller request reuses the released slot with a fresh tag
	c := table.Acquire(8)
	assert.Same(t, regionA, &c.data[0])
	assert.NotEqual(t, a.Tag(), c.Tag())
	assert.Equal(t, 8, c.Len())
	assert.Equal(t, 16, c.Cap())

	_, ok := table.Lookup(a.Tag())
	assert.False(t, ok, "stale tag must not resolve")

	// larger request cannot use a small slot
	table.Release(c)
	d := table.Acquire(32)
	assert.NotSame(t, regionA, &d.data[0])
}

func TestDescriptorSetBytesTransferredClamps(t *testing.T) {
	t.Parallel()

	d := NewArena().Acquire(8)
	d.SetBytesTransferred(100)
	assert.Equal(t, 8, d.BytesTransferred())
	d.SetBytesTransferred(-1)
	assert.Zero(t, d.BytesTransferred())
}
