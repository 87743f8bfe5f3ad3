package voice

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/chadiek/voice-mode/internal/audio"
)

// Exclusive guards a microphone so it is owned by one session and open at most once.
type Exclusive struct {
	dev     Device
	claimed atomic.Bool
	open    atomic.Bool
}

func NewExclusive(dev Device) *Exclusive { return &Exclusive{dev: dev} }

func (e *Exclusive) claim() bool { return e.claimed.CompareAndSwap(false, true) }
func (e *Exclusive) release()    { e.claimed.Store(false) }

// Open opens the underlying device, failing with ErrDeviceBusy while a stream is already open.
func (e *Exclusive) Open(ctx context.Context) (Stream, error) {
	if !e.open.CompareAndSwap(false, true) {
		return nil, ErrDeviceBusy
	}
	s, err := e.dev.Open(ctx)
	if err != nil {
		e.open.Store(false)
		return nil, err
	}
	return &exclusiveStream{Stream: s, release: func() { e.open.Store(false) }}, nil
}

type exclusiveStream struct {
	Stream
	once    sync.Once
	release func()
}

func (s *exclusiveStream) Close() error {
	err := s.Stream.Close()
	s.once.Do(s.release)
	return err
}

// ErrDeviceEnded is returned once a PushDevice has been ended by its transport.
var ErrDeviceEnded = errors.New("voice: device ended")

// PushDevice is a microphone fed by a transport (a WebRTC track, a telephony media stream).
// Frames delivered while no stream is open, or while the reader lags, are dropped.
type PushDevice struct {
	mu      sync.Mutex
	current *pushStream
	ended   bool
	buffer  int
}

func NewPushDevice(buffer int) *PushDevice {
	if buffer <= 0 {
		buffer = 64
	}
	return &PushDevice{buffer: buffer}
}

// Deliver hands one frame to the open stream, if any.
func (d *PushDevice) Deliver(f audio.Frame) {
	d.mu.Lock()
	s := d.current
	d.mu.Unlock()
	if s == nil {
		return
	}
	select {
	case s.frames <- f:
	case <-s.done:
	default:
	}
}

// End marks the source as gone; the open stream reads io.EOF and later opens fail.
func (d *PushDevice) End() {
	d.mu.Lock()
	d.ended = true
	s := d.current
	d.current = nil
	d.mu.Unlock()
	if s != nil {
		s.stop()
	}
}

func (d *PushDevice) Open(ctx context.Context) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ended {
		return nil, ErrDeviceEnded
	}
	if d.current != nil {
		return nil, ErrDeviceBusy
	}
	s := &pushStream{dev: d, frames: make(chan audio.Frame, d.buffer), done: make(chan struct{})}
	d.current = s
	return s, nil
}

type pushStream struct {
	dev    *PushDevice
	frames chan audio.Frame
	done   chan struct{}
	once   sync.Once
}

func (s *pushStream) stop() { s.once.Do(func() { close(s.done) }) }

func (s *pushStream) Read(ctx context.Context) (audio.Frame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.done:
		return audio.Frame{}, io.EOF
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	}
}

func (s *pushStream) Close() error {
	s.dev.mu.Lock()
	if s.dev.current == s {
		s.dev.current = nil
	}
	s.dev.mu.Unlock()
	s.stop()
	return nil
}
