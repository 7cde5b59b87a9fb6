package audioio

import (
	"fmt"
	"time"
)

// Sample format limits
const (
	MinSampleRate = 1000
	MaxSampleRate = 384000
)

// SampleFormat describes the PCM layout of a device. It is fixed when the
// device is opened.
type SampleFormat struct {
	SamplesPerSec uint32
	BitsPerSample uint16 // 8 or 16
	Channels      uint16 // 1 or 2
}

// Validate reports whether the format is one the engines accept
func (f SampleFormat) Validate() error {
	var problems []string
	if f.BitsPerSample != 8 && f.BitsPerSample != 16 {
		problems = append(problems, fmt.Sprintf("bits per sample must be 8 or 16, got %d", f.BitsPerSample))
	}
	if f.Channels != 1 && f.Channels != 2 {
		problems = append(problems, fmt.Sprintf("channels must be 1 or 2, got %d", f.Channels))
	}
	if f.SamplesPerSec < MinSampleRate || f.SamplesPerSec > MaxSampleRate {
		problems = append(problems, fmt.Sprintf("sample rate must be between %d and %d, got %d",
			MinSampleRate, MaxSampleRate, f.SamplesPerSec))
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("unsupported format %s: %v", f, problems)
}

// BytesPerSample returns the size of one sample of one channel
func (f SampleFormat) BytesPerSample() int {
	return int(f.BitsPerSample) / 8
}

// BytesPerFrame returns channels * bytes per sample
func (f SampleFormat) BytesPerFrame() int {
	return int(f.Channels) * f.BytesPerSample()
}

// BytesPerSec returns the byte rate of the stream
func (f SampleFormat) BytesPerSec() int {
	return int(f.SamplesPerSec) * f.BytesPerFrame()
}

// SilenceByte is the byte value of a zero-amplitude sample: 0x80 for
// unsigned 8-bit audio, 0x00 for signed 16-bit.
func (f SampleFormat) SilenceByte() byte {
	if f.BitsPerSample == 8 {
		return 0x80
	}
	return 0x00
}

// Duration returns the playback time of n bytes
func (f SampleFormat) Duration(n int) time.Duration {
	bps := f.BytesPerSec()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// AlignedSize rounds n down to a whole number of frames
func (f SampleFormat) AlignedSize(n int) int {
	frame := f.BytesPerFrame()
	if frame == 0 {
		return 0
	}
	return n - n%frame
}

func (f SampleFormat) String() string {
	return fmt.Sprintf("%dHz/%dbit/%dch", f.SamplesPerSec, f.BitsPerSample, f.Channels)
}
