package audioio

import "sync"

// Tag correlates a submitted descriptor with its completion. Tags are never
// reused, so a late completion for a released slot is detected instead of
// being applied to the wrong buffer.
type Tag uint64

// Descriptor is a fixed-capacity byte region submitted to and returned by
// a device. Exactly one side owns it at any instant: the device between
// Submit and the completion notification, the engine worker otherwise.
type Descriptor struct {
	tag         Tag
	data        []byte
	length      int
	transferred int
	prepared    bool
}

// Tag returns the correlation id passed to the completion notifier
func (d *Descriptor) Tag() Tag { return d.tag }

// Cap returns the capacity of the underlying region
func (d *Descriptor) Cap() int { return len(d.data) }

// Len returns the number of bytes the device should fill or play
func (d *Descriptor) Len() int { return d.length }

// Buffer returns the active region. Capture devices write into it,
// render devices read from it.
func (d *Descriptor) Buffer() []byte { return d.data[:d.length] }

// BytesTransferred returns how many bytes the device filled or consumed.
func (d *Descriptor) BytesTransferred() int { return d.transferred }

// SetBytesTransferred is called by the device before notifying completion.
// A reset completes descriptors with zero.
func (d *Descriptor) SetBytesTransferred(n int) {
	d.transferred = min(max(n, 0), d.length)
}

// Arena holds the descriptor slots owned by one engine.
// Live descriptors are looked up by tag; released slots go to a free list
// and are handed out again by Acquire, so steady-state streaming does not
// allocate. A slot is on the free list or in the live map, never both, which
// keeps two in-flight descriptors from sharing a region.
type Arena struct {
	mu   sync.Mutex
	next Tag
	live map[Tag]*Descriptor
	free []*Descriptor
}

// NewArena returns an empty arena. Engines own one each; backend tests use
// it to build descriptors.
func NewArena() *Arena {
	return &Arena{live: make(map[Tag]*Descriptor)}
}

// Acquire returns a live descriptor with at least size bytes of capacity
func (t *Arena) Acquire(size int) *Descriptor {
	t.mu.Lock()
	defer t.mu.Unlock()

	var d *Descriptor
	for i, f := range t.free {
		if len(f.data) >= size {
			d = f
			last := len(t.free) - 1
			t.free[i] = t.free[last]
			t.free[last] = nil
			t.free = t.free[:last]
			break
		}
	}
	if d == nil {
		d = &Descriptor{data: make([]byte, size)}
	}

	t.next++
	d.tag = t.next
	d.length = size
	d.transferred = 0
	t.live[d.tag] = d
	return d
}

// Lookup resolves a live tag
func (t *Arena) Lookup(tag Tag) (*Descriptor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.live[tag]
	return d, ok
}

// Release returns the slot to the free list. The caller must have undone
// any device preparation first.
func (t *Arena) Release(d *Descriptor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.live[d.tag]; !ok {
		return
	}
	delete(t.live, d.tag)
	d.transferred = 0
	t.free = append(t.free, d)
}

// InFlight returns the number of live descriptors
func (t *Arena) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

// drop forgets every slot. Used by Close.
func (t *Arena) drop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.live)
	t.free = nil
}
