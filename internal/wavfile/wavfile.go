// Package wavfile reads and writes RIFF/WAVE files holding the raw PCM
// byte stream produced and consumed by the audioio engines.
package wavfile

import (
	"encoding/binary"
	"fmt"

	"github.com/tphakala/pcmio/internal/audioio"
	"github.com/tphakala/pcmio/internal/errors"
)

// pcmToInts converts interleaved PCM bytes to go-audio samples. 8-bit
// samples keep their unsigned value, as go-audio/wav writes them verbatim.
func pcmToInts(pcm []byte, bits uint16, dst []int) []int {
	dst = dst[:0]
	switch bits {
	case 8:
		for _, b := range pcm {
			dst = append(dst, int(b))
		}
	case 16:
		for i := 0; i+1 < len(pcm); i += 2 {
			dst = append(dst, int(int16(binary.LittleEndian.Uint16(pcm[i:]))))
		}
	}
	return dst
}

// intsToPCM is the inverse of pcmToInts
func intsToPCM(samples []int, bits uint16, dst []byte) []byte {
	dst = dst[:0]
	switch bits {
	case 8:
		for _, s := range samples {
			dst = append(dst, byte(s))
		}
	case 16:
		for _, s := range samples {
			dst = binary.LittleEndian.AppendUint16(dst, uint16(int16(s)))
		}
	}
	return dst
}

func checkFormat(format audioio.SampleFormat) error {
	if err := format.Validate(); err != nil {
		return errors.New(err).
			Component("wavfile").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

func fileError(op, path string, err error) error {
	return errors.New(fmt.Errorf("%s %s: %w", op, path, err)).
		Component("wavfile").
		Category(errors.CategoryFileIO).
		Context("path", path).
		Build()
}
