package loopback

import (
	"sync"
	"time"

	"github.com/tphakala/pcmio/internal/audioio"
	"github.com/tphakala/pcmio/internal/logger"
)

// endpoint is one end of a cable. A pump goroutine plays the part of the
// audio hardware while the end is started.
type endpoint struct {
	cable *Cable
	dir   audioio.Direction
	queue *audioio.StreamQueue
	log   logger.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

var _ audioio.Device = (*endpoint)(nil)

func (ep *endpoint) Format() audioio.SampleFormat { return ep.cable.format }

func (ep *endpoint) Prepare(*audioio.Descriptor) error { return ep.checkOpen("prepare") }

func (ep *endpoint) Unprepare(*audioio.Descriptor) error { return nil }

func (ep *endpoint) Submit(d *audioio.Descriptor) error {
	if err := ep.checkOpen("submit"); err != nil {
		return err
	}
	ep.queue.Enqueue(d)
	return nil
}

func (ep *endpoint) Start() error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.closed {
		return closedError("start")
	}
	if ep.running {
		return nil
	}
	ep.running = true
	ep.stop = make(chan struct{})
	ep.wg.Add(1)
	go ep.pump(ep.stop)
	ep.log.Debug("cable end started")
	return nil
}

func (ep *endpoint) Stop() error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.stopLocked()
	return nil
}

func (ep *endpoint) stopLocked() {
	if !ep.running {
		return
	}
	close(ep.stop)
	ep.wg.Wait()
	ep.running = false
	ep.log.Debug("cable end stopped")
}

// Reset stops the pump and returns every queued descriptor untouched
func (ep *endpoint) Reset() error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.stopLocked()
	ep.queue.Flush()
	return nil
}

func (ep *endpoint) Close() error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.closed {
		return nil
	}
	ep.stopLocked()
	ep.closed = true
	ep.cable.detach(ep)
	ep.log.Debug("cable end closed",
		logger.Uint64("dropped_bytes", ep.queue.DroppedBytes()))
	return nil
}

func (ep *endpoint) checkOpen(op string) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.closed {
		return closedError(op)
	}
	return nil
}

func (ep *endpoint) pump(stop <-chan struct{}) {
	defer ep.wg.Done()

	ticker := time.NewTicker(ep.cable.period)
	defer ticker.Stop()
	buf := make([]byte, ep.cable.chunk)

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		if ep.dir == audioio.Render {
			ep.cable.transferRender(ep.queue, buf)
		} else {
			ep.cable.transferCapture(ep.queue, buf)
		}
	}
}

func closedError(op string) error {
	return &audioio.PlatformError{Op: op, Code: codeClosed, Text: "cable end is closed"}
}
