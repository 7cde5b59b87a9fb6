package audioio

import (
	"sync"
	"sync/atomic"
)

// StreamQueue adapts a pull-model audio callback, one that hands the
// backend a block of frames to fill or consume, to the descriptor protocol.
// Backends call Enqueue from Device.Submit and FillCapture, ReadRender or
// DrainRender from their audio callback. Completed descriptors are reported
// through the Notifier in submission order.
type StreamQueue struct {
	mu      sync.Mutex
	pending []*Descriptor
	head    int
	offset  int
	notify  Notifier
	silence byte

	dropped      atomic.Uint64
	silenceBytes atomic.Uint64
}

// NewStreamQueue returns an empty queue for format
func NewStreamQueue(format SampleFormat, notify Notifier) *StreamQueue {
	return &StreamQueue{
		pending: make([]*Descriptor, 0, 8),
		notify:  notify,
		silence: format.SilenceByte(),
	}
}

// Enqueue appends a submitted descriptor
func (q *StreamQueue) Enqueue(d *Descriptor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head > 0 && len(q.pending) == cap(q.pending) {
		n := copy(q.pending, q.pending[q.head:])
		clear(q.pending[n:])
		q.pending = q.pending[:n]
		q.head = 0
	}
	q.pending = append(q.pending, d)
}

// front returns the descriptor being filled or played. Caller holds mu.
func (q *StreamQueue) front() *Descriptor {
	if q.head == len(q.pending) {
		return nil
	}
	return q.pending[q.head]
}

// completeFront pops the front descriptor and notifies. Caller holds mu.
func (q *StreamQueue) completeFront(transferred int) {
	d := q.pending[q.head]
	q.pending[q.head] = nil
	q.head++
	if q.head == len(q.pending) {
		q.pending = q.pending[:0]
		q.head = 0
	}
	q.offset = 0
	d.SetBytesTransferred(transferred)
	q.notify(d.tag)
}

// FillCapture copies recorded bytes into pending descriptors, completing
// each one as it fills. Bytes arriving with nothing pending are dropped.
// It returns the number of bytes stored.
func (q *StreamQueue) FillCapture(in []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored := 0
	for len(in) > 0 {
		d := q.front()
		if d == nil {
			q.dropped.Add(uint64(len(in)))
			break
		}
		n := copy(d.data[q.offset:d.length], in)
		q.offset += n
		stored += n
		in = in[n:]
		if q.offset == d.length {
			q.completeFront(d.length)
		}
	}
	return stored
}

// ReadRender copies queued playback bytes into out and returns the count.
// It never pads.
func (q *StreamQueue) ReadRender(out []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	read := 0
	for read < len(out) {
		d := q.front()
		if d == nil {
			break
		}
		n := copy(out[read:], d.data[q.offset:d.length])
		q.offset += n
		read += n
		if q.offset == d.length {
			q.completeFront(d.length)
		}
	}
	return read
}

// DrainRender fills out completely, padding with silence once the queue
// runs dry.
func (q *StreamQueue) DrainRender(out []byte) {
	n := q.ReadRender(out)
	if n == len(out) {
		return
	}
	pad := out[n:]
	for i := range pad {
		pad[i] = q.silence
	}
	q.silenceBytes.Add(uint64(len(pad)))
}

// Flush completes every pending descriptor with zero bytes transferred
func (q *StreamQueue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.front() != nil {
		q.completeFront(0)
	}
}

// Len returns the number of pending descriptors
func (q *StreamQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) - q.head
}

// Room returns how many capture bytes the pending descriptors can still take
func (q *StreamQueue) Room() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	room := -q.offset
	for _, d := range q.pending[q.head:] {
		room += d.length
	}
	return max(room, 0)
}

// DroppedBytes returns capture bytes discarded because nothing was pending
func (q *StreamQueue) DroppedBytes() uint64 { return q.dropped.Load() }

// SilenceBytes returns render bytes padded with silence
func (q *StreamQueue) SilenceBytes() uint64 { return q.silenceBytes.Load() }
