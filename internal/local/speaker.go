package local

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"

	"github.com/chadiek/voice-mode/internal/audio"
	"github.com/chadiek/voice-mode/internal/voice"
)

// DefaultSpeakerRate is the mixer rate; speech at other rates is resampled.
const DefaultSpeakerRate = 44100

// mixer is the global beep speaker.
type mixer interface {
	Play(s beep.Streamer)
	Lock()
	Unlock()
}

type beepMixer struct{}

func (beepMixer) Play(s beep.Streamer) { speaker.Play(s) }
func (beepMixer) Lock()                { speaker.Lock() }
func (beepMixer) Unlock()              { speaker.Unlock() }

// Speaker plays synthesized speech on the default output device.
type Speaker struct {
	rate  beep.SampleRate
	mixer mixer

	mu      sync.Mutex
	current *speakerPlayback
}

// NewSpeaker initializes the beep speaker at rate with a 100ms buffer.
func NewSpeaker(rate int) (*Speaker, error) {
	sr := beep.SampleRate(rate)
	if err := speaker.Init(sr, sr.N(time.Second/10)); err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	return &Speaker{rate: sr, mixer: beepMixer{}}, nil
}

// Play stops any playback still running and starts sp.
func (s *Speaker) Play(_ context.Context, sp audio.Speech) (voice.Playback, error) {
	st, format, err := sp.Stream()
	if err != nil {
		return nil, err
	}
	var src beep.Streamer = st
	if format.SampleRate != s.rate {
		src = beep.Resample(4, format.SampleRate, s.rate, st)
	}

	s.mu.Lock()
	prev := s.current
	s.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}

	pb := &speakerPlayback{speaker: s, source: st, done: make(chan struct{})}
	pb.ctrl = &beep.Ctrl{Streamer: beep.Seq(src, beep.Callback(pb.finish))}
	s.mu.Lock()
	s.current = pb
	s.mu.Unlock()
	s.mixer.Play(pb.ctrl)
	return pb, nil
}

type speakerPlayback struct {
	speaker *Speaker
	ctrl    *beep.Ctrl
	source  beep.StreamCloser
	once    sync.Once
	done    chan struct{}
}

func (p *speakerPlayback) Done() <-chan struct{} { return p.done }

// finish may run on the speaker goroutine, which holds the speaker lock.
func (p *speakerPlayback) finish() {
	p.once.Do(func() {
		_ = p.source.Close()
		p.speaker.mu.Lock()
		if p.speaker.current == p {
			p.speaker.current = nil
		}
		p.speaker.mu.Unlock()
		close(p.done)
	})
}

// Stop detaches the streamer from the mixer.
func (p *speakerPlayback) Stop() {
	select {
	case <-p.done:
		return
	default:
	}
	p.speaker.mixer.Lock()
	p.ctrl.Streamer = nil
	p.speaker.mixer.Unlock()
	p.finish()
}
