package rtc

import (
	"context"
	"sync"
	"time"

	"github.com/chadiek/voice-mode/internal/audio"
	"github.com/chadiek/voice-mode/internal/voice"
)

// pcmSink is where decoded agent audio goes; OpusPacedWriter in production.
type pcmSink interface {
	Write(samples []int16)
	FlushTail()
	Pending() int
	Reset()
}

// TrackPlayer plays synthesized speech on the outgoing WebRTC track.
type TrackPlayer struct {
	out pcmSink

	mu      sync.Mutex
	current *trackPlayback
}

func NewTrackPlayer(out pcmSink) *TrackPlayer { return &TrackPlayer{out: out} }

// Play decodes speech to 48kHz and feeds it to the track frame by frame,
// stopping whatever was playing before. The playback is done once the queued
// frames have been sent.
func (p *TrackPlayer) Play(ctx context.Context, sp audio.Speech) (voice.Playback, error) {
	samples, err := sp.Decode(outputRate)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.current.Stop()
	}
	pb := &trackPlayback{stop: make(chan struct{}), done: make(chan struct{})}
	p.current = pb
	go p.run(pb, samples)
	return pb, nil
}

func (p *TrackPlayer) run(pb *trackPlayback, samples []int16) {
	defer close(pb.done)
	for i := 0; i < len(samples); i += frameSamples {
		select {
		case <-pb.stop:
			p.out.Reset()
			return
		default:
		}
		p.out.Write(samples[i:min(i+frameSamples, len(samples))])
	}
	p.out.FlushTail()

	ticker := time.NewTicker(frameSpacing)
	defer ticker.Stop()
	for p.out.Pending() > 0 {
		select {
		case <-pb.stop:
			p.out.Reset()
			return
		case <-ticker.C:
		}
	}
}

type trackPlayback struct {
	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func (t *trackPlayback) Done() <-chan struct{} { return t.done }

// Stop silences the track and returns once the feeder has exited.
func (t *trackPlayback) Stop() {
	t.once.Do(func() { close(t.stop) })
	<-t.done
}
