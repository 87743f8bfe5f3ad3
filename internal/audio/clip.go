package audio

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
)

// Clip is a finished mono PCM16 recording.
type Clip struct {
	Samples    []int16
	SampleRate int
}

// Empty reports whether the clip holds no audio.
func (c Clip) Empty() bool { return len(c.Samples) == 0 }

// Duration of the clip at its sample rate.
func (c Clip) Duration() time.Duration { return samplesDuration(len(c.Samples), c.SampleRate) }

// PCM16LE returns the raw little-endian sample bytes.
func (c Clip) PCM16LE() []byte { return SamplesToBytes(c.Samples) }

// WAV encodes the clip as a 16-bit mono RIFF/WAVE file.
func (c Clip) WAV() ([]byte, error) {
	if c.SampleRate <= 0 {
		return nil, fmt.Errorf("wav encode: invalid sample rate %d", c.SampleRate)
	}
	format := beep.Format{SampleRate: beep.SampleRate(c.SampleRate), NumChannels: 1, Precision: 2}
	var buf seekBuffer
	if err := wav.Encode(&buf, newSampleStreamer(c.Samples), format); err != nil {
		return nil, fmt.Errorf("wav encode: %w", err)
	}
	return buf.Bytes(), nil
}

// sampleStreamer streams int16 samples as beep stereo-duplicated floats.
type sampleStreamer struct {
	samples []int16
	pos     int
}

func newSampleStreamer(samples []int16) *sampleStreamer { return &sampleStreamer{samples: samples} }

func (s *sampleStreamer) Stream(buf [][2]float64) (int, bool) {
	if s.pos >= len(s.samples) {
		return 0, false
	}
	n := 0
	for n < len(buf) && s.pos < len(s.samples) {
		v := float64(s.samples[s.pos]) / 32768.0
		buf[n][0], buf[n][1] = v, v
		n++
		s.pos++
	}
	return n, true
}

func (s *sampleStreamer) Err() error   { return nil }
func (s *sampleStreamer) Close() error { return nil }

// seekBuffer is an in-memory io.WriteSeeker; the WAV encoder seeks back to patch the header sizes.
type seekBuffer struct {
	buf []byte
	pos int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	end := b.pos + len(p)
	if end > len(b.buf) {
		grown := make([]byte, end)
		copy(grown, b.buf)
		b.buf = grown
	}
	copy(b.buf[b.pos:], p)
	b.pos = end
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(b.pos) + offset
	case io.SeekEnd:
		abs = int64(len(b.buf)) + offset
	default:
		return 0, errors.New("seek: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("seek: negative position")
	}
	b.pos = int(abs)
	return abs, nil
}

func (b *seekBuffer) Bytes() []byte { return b.buf }
