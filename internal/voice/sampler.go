package voice

import (
	"context"
	"time"

	"github.com/chadiek/voice-mode/internal/audio"
)

// DefaultAnalysisWindow is the number of newest samples loudness is measured over.
const DefaultAnalysisWindow = 256

// sampler measures loudness over the newest analysis window of the live capture.
// A window that has not been refreshed by a frame reads as silence once it is
// older than the audio it holds plus a grace period.
type sampler struct {
	size   int
	window *pcmRing

	rate     int
	frameLen int
	fresh    bool
	heard    time.Time
}

func newSampler(size int) *sampler {
	if size <= 0 {
		size = DefaultAnalysisWindow
	}
	return &sampler{size: size, window: newPCMRing(size)}
}

func (s *sampler) push(samples []int16, rate int) {
	s.window.write(samples)
	s.rate = rate
	s.frameLen = len(samples)
	s.fresh = true
}

// tick records at as the sampling instant and drops the window when no frame
// arrived within the span of the window or the last frame, whichever is
// longer, plus grace.
func (s *sampler) tick(at time.Time, grace time.Duration) {
	if s.fresh {
		s.fresh = false
		s.heard = at
		return
	}
	if s.window.len() > 0 && at.Sub(s.heard) > s.span()+grace {
		s.window.reset()
	}
}

func (s *sampler) span() time.Duration {
	if s.rate <= 0 {
		return 0
	}
	n := max(s.size, s.frameLen)
	return time.Duration(n) * time.Second / time.Duration(s.rate)
}

func (s *sampler) level() float64 { return audio.Loudness(s.window.last(s.size)) }

func (s *sampler) reset() {
	s.window.reset()
	s.fresh = false
}

// capture is the live microphone stream shared by the sampler and the recorder.
type capture struct {
	gen    uint64
	stream Stream
	cancel context.CancelFunc
}

// read forwards frames to the session loop until the stream fails or the capture is closed.
func (c *capture) read(ctx context.Context, post func(context.Context, event) bool) {
	for {
		f, err := c.stream.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				post(ctx, captureLostEvent{gen: c.gen, err: err})
			}
			return
		}
		if !post(ctx, frameEvent{gen: c.gen, frame: f}) {
			return
		}
	}
}

func (c *capture) close() error {
	c.cancel()
	return c.stream.Close()
}
