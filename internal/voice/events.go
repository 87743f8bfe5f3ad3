package voice

import (
	"time"

	"github.com/chadiek/voice-mode/internal/audio"
)

// event is anything delivered to the session loop.
type event interface{ name() string }

type tickEvent struct{ at time.Time }

type frameEvent struct {
	gen   uint64
	frame audio.Frame
}

type captureOpenedEvent struct {
	gen    uint64
	stream Stream
}

type captureFailedEvent struct {
	gen uint64
	err error
}

type captureLostEvent struct {
	gen uint64
	err error
}

type micEvent struct{ on bool }

type transcribedEvent struct {
	turn uint64
	text string
	err  error
}

type repliedEvent struct {
	turn  uint64
	reply string
	err   error
}

type synthesizedEvent struct {
	turn   uint64
	speech audio.Speech
	err    error
}

type playbackEndedEvent struct{ id uint64 }

func (tickEvent) name() string          { return "tick" }
func (frameEvent) name() string         { return "frame" }
func (captureOpenedEvent) name() string { return "capture_opened" }
func (captureFailedEvent) name() string { return "capture_failed" }
func (captureLostEvent) name() string   { return "capture_lost" }
func (micEvent) name() string           { return "mic" }
func (transcribedEvent) name() string   { return "transcribed" }
func (repliedEvent) name() string       { return "replied" }
func (synthesizedEvent) name() string   { return "synthesized" }
func (playbackEndedEvent) name() string { return "playback_ended" }
