package app

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math/rand/v2"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pcmio/internal/audioio"
	"github.com/tphakala/pcmio/internal/conf"
	"github.com/tphakala/pcmio/internal/wavfile"
)

func TestLoopbackSessionMatches(t *testing.T) {
	settings := testSettings()
	settings.Render.BufferDepth = 3
	rt := newTestRuntime(t, settings)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	report, err := rt.Loopback(ctx, 300*time.Millisecond)
	require.NoError(t, err)

	// 300 ms of 8000 Hz 16-bit mono is six 800-byte blocks
	assert.True(t, report.Match)
	assert.EqualValues(t, 4800, report.Bytes)
	assert.Equal(t, 300*time.Millisecond, report.Duration())
	require.NotNil(t, report.Capture)
	require.NotNil(t, report.Render)
	assert.EqualValues(t, 4800, report.Capture.BytesDelivered)
	assert.EqualValues(t, 4800, report.Render.BytesDelivered)
	assert.Zero(t, report.Capture.CallbackErrors)
}

func TestPlayDrainsFileThroughLoopback(t *testing.T) {
	settings := testSettings()
	settings.Render.BufferSize = 400
	rt := newTestRuntime(t, settings)

	format := audioio.SampleFormat{SamplesPerSec: 8000, BitsPerSample: 8, Channels: 1}
	payload := make([]byte, 2000)
	for i := range payload {
		payload[i] = byte(rand.IntN(256))
	}
	path := filepath.Join(t.TempDir(), "clip.wav")
	w, err := wavfile.Create(path, format)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	report, err := rt.Play(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, format, report.Format)
	assert.EqualValues(t, len(payload), report.Bytes)
	require.NotNil(t, report.Render)
	assert.EqualValues(t, 5, report.Render.Releases)

	// the whole file is now on the wire
	_, enum, err := rt.Backend(conf.AudioSettings{Backend: conf.BackendLoopback, SampleRate: 8000, BitDepth: 8, Channels: 1})
	require.NoError(t, err)
	devices, err := enum.CaptureDevices()
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

func TestRecordCapturesRenderedAudio(t *testing.T) {
	settings := testSettings()
	rt := newTestRuntime(t, settings)

	open, _, err := rt.Backend(settings.Render)
	require.NoError(t, err)
	render, err := audioio.OpenRender(open, Format(settings.Render), audioio.DefaultDevice)
	require.NoError(t, err)
	defer func() { require.NoError(t, render.Close()) }()

	// 200 ms of a ramp, four capture buffers worth
	payload := make([]byte, 3200)
	for i := 0; i < len(payload); i += 2 {
		binary.LittleEndian.PutUint16(payload[i:], uint16(i))
	}
	require.NoError(t, render.Write(payload[:1600]))
	require.NoError(t, render.Write(payload[1600:]))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, render.WaitIdle(ctx))

	path := filepath.Join(t.TempDir(), "out", "capture.wav")
	report, err := rt.Record(ctx, path, 400*time.Millisecond)
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), report.Bytes)
	require.NotNil(t, report.Capture)
	assert.EqualValues(t, len(payload), report.Capture.BytesDelivered)

	rd, err := wavfile.Open(path)
	require.NoError(t, err)
	defer func() { _ = rd.Close() }()

	var got bytes.Buffer
	for {
		block, err := rd.ReadBlock(1024)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got.Write(block)
	}
	assert.Equal(t, payload, got.Bytes())
}

func TestRecordStopsOnCancel(t *testing.T) {
	rt := newTestRuntime(t, testSettings())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	report, err := rt.Record(ctx, filepath.Join(t.TempDir(), "silence.wav"), 0)
	require.NoError(t, err)
	assert.Zero(t, report.Bytes)
}

func TestListDevicesOnLoopback(t *testing.T) {
	rt := newTestRuntime(t, testSettings())

	list, err := rt.ListDevices(rt.Settings.Capture)
	require.NoError(t, err)
	assert.Equal(t, conf.BackendLoopback, list.Backend)
	require.Len(t, list.Capture, 1)
	require.Len(t, list.Render, 1)
	assert.True(t, list.Capture[0].IsDefault)
}

func TestBlockBytes(t *testing.T) {
	format := audioio.SampleFormat{SamplesPerSec: 8000, BitsPerSample: 16, Channels: 2}

	tests := []struct {
		name string
		size int
		want int
	}{
		{"unset uses a tenth of a second", 0, 3200},
		{"aligned size kept", 400, 400},
		{"rounded down to frames", 401, 400},
		{"never below one frame", 3, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, blockBytes(conf.AudioSettings{BufferSize: tt.size}, format))
		})
	}
}

func TestToneGeneratorFormats(t *testing.T) {
	t.Run("8-bit centres on silence", func(t *testing.T) {
		g := newToneGenerator(audioio.SampleFormat{SamplesPerSec: 8000, BitsPerSample: 8, Channels: 1}, 440)
		block := g.next(100)
		require.Len(t, block, 100)
		assert.Equal(t, byte(0x80), block[0])
		for _, b := range block {
			assert.InDelta(t, 128, int(b), 64)
		}
	})

	t.Run("16-bit stereo duplicates channels", func(t *testing.T) {
		g := newToneGenerator(audioio.SampleFormat{SamplesPerSec: 8000, BitsPerSample: 16, Channels: 2}, 440)
		block := g.next(64)
		for off := 0; off < len(block); off += 4 {
			assert.Equal(t, block[off:off+2], block[off+2:off+4])
		}
	})

	t.Run("phase continues across blocks", func(t *testing.T) {
		format := audioio.SampleFormat{SamplesPerSec: 8000, BitsPerSample: 16, Channels: 1}
		whole := append([]byte(nil), newToneGenerator(format, 440).next(200)...)

		g := newToneGenerator(format, 440)
		split := append([]byte(nil), g.next(100)...)
		split = append(split, g.next(100)...)
		assert.Equal(t, whole, split)
	})
}
