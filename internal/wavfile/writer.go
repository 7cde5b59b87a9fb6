package wavfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/pcmio/internal/audioio"
	"github.com/tphakala/pcmio/internal/errors"
)

// Writer appends PCM bytes to a WAV file. It is safe for concurrent use
// and its Write method can be passed straight to CaptureEngine.Start.
type Writer struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	enc     *wav.Encoder
	format  audioio.SampleFormat
	buf     *audio.IntBuffer
	written int64
	closed  bool
}

// Create creates or truncates path and writes the WAV header for format
func Create(path string, format audioio.SampleFormat) (*Writer, error) {
	if err := checkFormat(format); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fileError("create directory for", path, err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fileError("create", path, err)
	}

	return &Writer{
		path:   path,
		file:   f,
		enc:    wav.NewEncoder(f, int(format.SamplesPerSec), int(format.BitsPerSample), int(format.Channels), 1),
		format: format,
		buf: &audio.IntBuffer{
			Format:         &audio.Format{SampleRate: int(format.SamplesPerSec), NumChannels: int(format.Channels)},
			SourceBitDepth: int(format.BitsPerSample),
		},
	}, nil
}

// Write encodes a whole number of frames
func (w *Writer) Write(pcm []byte) (int, error) {
	if frame := w.format.BytesPerFrame(); len(pcm)%frame != 0 {
		return 0, errors.New(fmt.Errorf("write of %d bytes is not a multiple of the %d byte frame", len(pcm), frame)).
			Component("wavfile").
			Category(errors.CategoryValidation).
			Build()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, fileError("write", w.path, os.ErrClosed)
	}

	w.buf.Data = pcmToInts(pcm, w.format.BitsPerSample, w.buf.Data)
	if err := w.enc.Write(w.buf); err != nil {
		return 0, fileError("encode", w.path, err)
	}
	w.written += int64(len(pcm))
	return len(pcm), nil
}

// Receive adapts Write to audioio.ReceiveFunc
func (w *Writer) Receive(pcm []byte) error {
	_, err := w.Write(pcm)
	return err
}

// BytesWritten returns the PCM payload size written so far
func (w *Writer) BytesWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Close patches the header sizes and closes the file
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	encErr := w.enc.Close()
	fileErr := w.file.Close()
	if encErr != nil {
		return fileError("finalize", w.path, encErr)
	}
	if fileErr != nil {
		return fileError("close", w.path, fileErr)
	}
	return nil
}
