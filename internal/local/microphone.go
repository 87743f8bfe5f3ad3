// Package local runs voice mode on this machine's default microphone
// (portaudio) and speaker (beep).
package local

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/chadiek/voice-mode/internal/audio"
	"github.com/chadiek/voice-mode/internal/voice"
)

const (
	DefaultSampleRate = 16000
	// DefaultFramesPerBuffer is 20ms at DefaultSampleRate.
	DefaultFramesPerBuffer = 320
)

// inputStream is the part of *portaudio.Stream the microphone reads from.
type inputStream interface {
	Start() error
	Read() error
	Stop() error
	Close() error
}

// Microphone is the default input device. Callers own portaudio.Initialize
// and portaudio.Terminate.
type Microphone struct {
	SampleRate      int
	FramesPerBuffer int

	open func(buf []int16, rate int) (inputStream, error)
}

func NewMicrophone() *Microphone {
	return &Microphone{
		SampleRate:      DefaultSampleRate,
		FramesPerBuffer: DefaultFramesPerBuffer,
		open:            openDefault,
	}
}

func openDefault(buf []int16, rate int) (inputStream, error) {
	return portaudio.OpenDefaultStream(1, 0, float64(rate), len(buf), buf)
}

// Open starts capturing from the default input device.
func (m *Microphone) Open(ctx context.Context) (voice.Stream, error) {
	buf := make([]int16, m.FramesPerBuffer)
	st, err := m.open(buf, m.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := st.Start(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	c := &capture{
		stream: st,
		buf:    buf,
		rate:   m.SampleRate,
		frames: make(chan audio.Frame, 8),
		errs:   make(chan error, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.run()
	return c, nil
}

// capture reads the blocking portaudio stream on its own goroutine so that
// Read can honour ctx and Close.
type capture struct {
	stream inputStream
	buf    []int16
	rate   int
	frames chan audio.Frame
	errs   chan error

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func (c *capture) run() {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			return
		default:
		}
		if err := c.stream.Read(); err != nil {
			c.errs <- fmt.Errorf("read input stream: %w", err)
			return
		}
		f := audio.Frame{Samples: append([]int16(nil), c.buf...), SampleRate: c.rate, At: time.Now()}
		select {
		case c.frames <- f:
		case <-c.stop:
			return
		default:
		}
	}
}

var errCaptureClosed = errors.New("local: capture closed")

func (c *capture) Read(ctx context.Context) (audio.Frame, error) {
	select {
	case <-c.stop:
		return audio.Frame{}, errCaptureClosed
	default:
	}
	select {
	case f := <-c.frames:
		return f, nil
	case err := <-c.errs:
		return audio.Frame{}, err
	case <-c.stop:
		return audio.Frame{}, errCaptureClosed
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	}
}

// Close stops the stream once the reader has finished its current buffer.
func (c *capture) Close() error {
	var err error
	c.once.Do(func() {
		close(c.stop)
		<-c.done
		err = errors.Join(c.stream.Stop(), c.stream.Close())
	})
	return err
}
