package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
)

// Format names the encoding of synthesized speech.
type Format string

const (
	FormatMP3   Format = "mp3"
	FormatWAV   Format = "wav"
	FormatPCM16 Format = "pcm16le"
)

// ErrNoSpeech is returned when decoding speech without any audio bytes.
var ErrNoSpeech = errors.New("audio: empty speech")

// Speech is audio produced by a synthesizer. SampleRate is only meaningful for raw PCM.
type Speech struct {
	Data       []byte
	Format     Format
	SampleRate int
}

// ContentType is the MIME type used when serving the speech over HTTP.
func (s Speech) ContentType() string {
	switch s.Format {
	case FormatMP3:
		return "audio/mpeg"
	case FormatWAV:
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

// Stream opens a beep streamer over the speech.
func (s Speech) Stream() (beep.StreamCloser, beep.Format, error) {
	if len(s.Data) == 0 {
		return nil, beep.Format{}, ErrNoSpeech
	}
	switch s.Format {
	case FormatMP3:
		st, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(s.Data)))
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("decode mp3: %w", err)
		}
		return st, format, nil
	case FormatWAV:
		st, format, err := wav.Decode(bytes.NewReader(s.Data))
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("decode wav: %w", err)
		}
		return st, format, nil
	case FormatPCM16:
		if s.SampleRate <= 0 {
			return nil, beep.Format{}, fmt.Errorf("decode pcm: invalid sample rate %d", s.SampleRate)
		}
		format := beep.Format{SampleRate: beep.SampleRate(s.SampleRate), NumChannels: 1, Precision: 2}
		return newSampleStreamer(BytesToSamples(s.Data)), format, nil
	default:
		return nil, beep.Format{}, fmt.Errorf("decode speech: unsupported format %q", s.Format)
	}
}

// Decode returns the speech as mono PCM16 at the requested sample rate.
func (s Speech) Decode(rate int) ([]int16, error) {
	if s.Format == FormatPCM16 && s.SampleRate == rate {
		return BytesToSamples(s.Data), nil
	}
	st, format, err := s.Stream()
	if err != nil {
		return nil, err
	}
	defer st.Close()

	var src beep.Streamer = st
	if int(format.SampleRate) != rate {
		src = beep.Resample(4, format.SampleRate, beep.SampleRate(rate), st)
	}
	var out []int16
	buf := make([][2]float64, 1024)
	for {
		n, ok := src.Stream(buf)
		for i := 0; i < n; i++ {
			out = append(out, floatToInt16((buf[i][0]+buf[i][1])/2))
		}
		if !ok {
			break
		}
	}
	if err := st.Err(); err != nil {
		return nil, fmt.Errorf("decode speech: %w", err)
	}
	return out, nil
}
