package audioio

import (
	"context"
	"sync"
)

// CompletionChannel hands completed descriptor tags from the device
// notification context to the engine worker.
//
// Push never blocks and does not allocate while the ring has room; engines
// call Reserve before submitting so it always has room. The wake channel has
// a single slot: several pushes may collapse into one wake, and WaitAndPop
// drains the ring before it waits again, so no tag is lost.
type CompletionChannel struct {
	mu     sync.Mutex
	ring   []Tag
	head   int
	count  int
	closed bool
	wake   chan struct{}
}

// NewCompletionChannel returns a channel with room for capacity tags
func NewCompletionChannel(capacity int) *CompletionChannel {
	return &CompletionChannel{
		ring: make([]Tag, max(capacity, 2)),
		wake: make(chan struct{}, 1),
	}
}

// Push enqueues tag and signals the waiter. Safe to call from a device
// callback thread. Pushes after Close are discarded.
func (c *CompletionChannel) Push(tag Tag) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.count == len(c.ring) {
		c.growLocked(len(c.ring) * 2)
	}
	c.ring[(c.head+c.count)%len(c.ring)] = tag
	c.count++
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// WaitAndPop blocks until a tag is available and returns it in FIFO order.
// It returns ErrChannelClosed once the channel is closed and empty, or the
// context error if ctx ends first.
func (c *CompletionChannel) WaitAndPop(ctx context.Context) (Tag, error) {
	for {
		c.mu.Lock()
		if c.count > 0 {
			tag := c.ring[c.head]
			c.head = (c.head + 1) % len(c.ring)
			c.count--
			c.mu.Unlock()
			return tag, nil
		}
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return 0, ErrChannelClosed
		}

		select {
		case <-c.wake:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Reserve grows the ring so that n tags fit without allocating in Push
func (c *CompletionChannel) Reserve(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > len(c.ring) {
		c.growLocked(n)
	}
}

func (c *CompletionChannel) growLocked(size int) {
	ring := make([]Tag, size)
	for i := range c.count {
		ring[i] = c.ring[(c.head+i)%len(c.ring)]
	}
	c.ring = ring
	c.head = 0
}

// Len returns the number of queued tags
func (c *CompletionChannel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Close wakes the waiter. Tags already queued are still returned.
func (c *CompletionChannel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}
