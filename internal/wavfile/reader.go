package wavfile

import (
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/pcmio/internal/audioio"
	"github.com/tphakala/pcmio/internal/errors"
)

// Reader returns the PCM payload of a WAV file in frame-aligned blocks
type Reader struct {
	path   string
	file   *os.File
	dec    *wav.Decoder
	format audioio.SampleFormat
	buf    *audio.IntBuffer
	out    []byte
}

// Open validates the WAV header. Only 8 and 16-bit mono or stereo PCM is
// accepted since the engines never convert.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fileError("open", path, err)
	}

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		_ = f.Close()
		return nil, errors.New(fmt.Errorf("%s is not a valid WAV file", path)).
			Component("wavfile").
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}

	format := audioio.SampleFormat{
		SamplesPerSec: dec.SampleRate,
		BitsPerSample: dec.BitDepth,
		Channels:      dec.NumChans,
	}
	if err := checkFormat(format); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Reader{
		path:   path,
		file:   f,
		dec:    dec,
		format: format,
		buf: &audio.IntBuffer{
			Format:         &audio.Format{SampleRate: int(format.SamplesPerSec), NumChannels: int(format.Channels)},
			SourceBitDepth: int(format.BitsPerSample),
		},
	}, nil
}

// Format returns the file sample format
func (r *Reader) Format() audioio.SampleFormat { return r.format }

// ReadBlock returns up to size bytes of PCM, rounded down to whole frames.
// The slice is reused by the next call. It returns io.EOF when the payload
// is exhausted.
func (r *Reader) ReadBlock(size int) ([]byte, error) {
	size = r.format.AlignedSize(size)
	if size <= 0 {
		return nil, errors.New(fmt.Errorf("block size must hold at least one %d byte frame", r.format.BytesPerFrame())).
			Component("wavfile").
			Category(errors.CategoryValidation).
			Build()
	}

	samples := size / r.format.BytesPerSample()
	if cap(r.buf.Data) < samples {
		r.buf.Data = make([]int, samples)
	}
	r.buf.Data = r.buf.Data[:samples]

	n, err := r.dec.PCMBuffer(r.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fileError("decode", r.path, err)
	}
	if n == 0 {
		return nil, io.EOF
	}
	n -= n % int(r.format.Channels)

	r.out = intsToPCM(r.buf.Data[:n], r.format.BitsPerSample, r.out)
	return r.out, nil
}

// Close closes the file
func (r *Reader) Close() error {
	if err := r.file.Close(); err != nil {
		return fileError("close", r.path, err)
	}
	return nil
}
