package audioio

import (
	"fmt"
	"strconv"
	"strings"
)

// Notifier is invoked by a device from its notification context when a
// submitted descriptor completes. Implementations must only enqueue.
type Notifier func(Tag)

// Device is an open capture or render endpoint with a fixed sample format.
//
// Submitted descriptors complete in submission order. A capture device fills
// Buffer() and calls SetBytesTransferred before notifying; a render device
// plays Buffer() and sets the consumed byte count. Reset stops the device
// and completes every queued descriptor with zero bytes transferred.
// Close releases the handle; the device must not notify after Close returns.
type Device interface {
	Format() SampleFormat
	// Prepare is called once before a descriptor is first submitted.
	Prepare(d *Descriptor) error
	// Unprepare is called after the final completion of a descriptor.
	Unprepare(d *Descriptor) error
	Submit(d *Descriptor) error
	Start() error
	Stop() error
	Reset() error
	Close() error
}

// OpenParams is passed to an Opener
type OpenParams struct {
	Direction Direction
	Format    SampleFormat
	Selector  DeviceSelector
	Notify    Notifier
}

// Opener creates a device. Backends return one from their Opener functions.
type Opener func(p OpenParams) (Device, error)

// DeviceInfo describes an endpoint returned by enumeration
type DeviceInfo struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	ID        string `json:"id"`
	IsDefault bool   `json:"is_default"`
}

// Enumerator lists endpoints. Index values are stable selectors for Open.
type Enumerator interface {
	CaptureDevices() ([]DeviceInfo, error)
	RenderDevices() ([]DeviceInfo, error)
}

// DeviceSelector picks an endpoint: empty or "default" for the system
// default, a decimal index, or a device name.
type DeviceSelector string

// DefaultDevice selects the system default endpoint
const DefaultDevice DeviceSelector = ""

func (s DeviceSelector) String() string {
	if s.IsDefault() {
		return "default"
	}
	return string(s)
}

// IsDefault reports whether s selects the system default device
func (s DeviceSelector) IsDefault() bool {
	v := strings.TrimSpace(string(s))
	return v == "" || strings.EqualFold(v, "default")
}

// Index returns the numeric index if s is one
func (s DeviceSelector) Index() (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(string(s)))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// SelectDevice resolves s against an enumerated list. Name matching tries
// an exact case-insensitive match first, then the ID, then a substring.
func SelectDevice(devices []DeviceInfo, s DeviceSelector) (DeviceInfo, error) {
	if len(devices) == 0 {
		return DeviceInfo{}, fmt.Errorf("no devices available")
	}

	if s.IsDefault() {
		for _, d := range devices {
			if d.IsDefault {
				return d, nil
			}
		}
		return devices[0], nil
	}

	if idx, ok := s.Index(); ok {
		for _, d := range devices {
			if d.Index == idx {
				return d, nil
			}
		}
		return DeviceInfo{}, fmt.Errorf("no device with index %d (%d available)", idx, len(devices))
	}

	want := strings.TrimSpace(string(s))
	for _, d := range devices {
		if strings.EqualFold(d.Name, want) {
			return d, nil
		}
	}
	for _, d := range devices {
		if d.ID != "" && d.ID == want {
			return d, nil
		}
	}
	lower := strings.ToLower(want)
	for _, d := range devices {
		if strings.Contains(strings.ToLower(d.Name), lower) {
			return d, nil
		}
	}
	return DeviceInfo{}, fmt.Errorf("no device matching %q", want)
}
