// Package vad turns a stream of loudness samples into speaking / not-speaking
// transitions using threshold hysteresis with onset and silence timers.
//
// The detector never reads the wall clock: every sample carries its own
// timestamp and pending timers are evaluated as deadlines against it. A timer
// started at t with duration d fires at t+d unless a cancelling sample arrives
// strictly before that instant; the emitted transition carries t+d.
package vad

import "time"

// Config tunes the detector.
type Config struct {
	// Threshold is the loudness a sample must exceed to count as voice.
	Threshold float64
	// MinSpeaking is how long loudness must stay above Threshold before speech is confirmed.
	MinSpeaking time.Duration
	// Silence is how long loudness must stay at or below Threshold before speech is considered over.
	Silence time.Duration
}

// DefaultConfig mirrors the browser voice mode tuning.
func DefaultConfig() Config {
	return Config{
		Threshold:   0.02,
		MinSpeaking: 250 * time.Millisecond,
		Silence:     900 * time.Millisecond,
	}
}

// Sample is one loudness reading in [0, 1].
type Sample struct {
	Level float64
	At    time.Time
}

// Transition is a change of the speaking state.
type Transition struct {
	Speaking bool
	At       time.Time
}

type timer struct {
	armed bool
	start time.Time
}

// Detector is not safe for concurrent use; the owning session loop drives it.
type Detector struct {
	cfg      Config
	speaking bool
	onset    timer
	silence  timer
}

// New returns a detector that starts not speaking.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Config returns the detector tuning.
func (d *Detector) Config() Config { return d.cfg }

// Speaking reports the current speaking state.
func (d *Detector) Speaking() bool { return d.speaking }

// Observe feeds one sample and returns the transitions it caused, oldest first.
// Samples must be supplied in non-decreasing time order.
func (d *Detector) Observe(s Sample) []Transition {
	// Timers due at or before this instant fire first: the sample can only
	// cancel a timer whose deadline it precedes.
	out := d.fire(s.At, nil)

	if s.Level > d.cfg.Threshold {
		if !d.speaking && !d.onset.armed {
			d.onset = timer{armed: true, start: s.At}
		}
		d.silence.armed = false
	} else {
		d.onset.armed = false
		if d.speaking && !d.silence.armed {
			d.silence = timer{armed: true, start: s.At}
		}
	}

	// Zero-length timers fire on the sample that armed them.
	return d.fire(s.At, out)
}

// Reset cancels pending timers and forces the not-speaking state without emitting a transition.
func (d *Detector) Reset() {
	d.onset.armed = false
	d.silence.armed = false
	d.speaking = false
}

func (d *Detector) fire(now time.Time, out []Transition) []Transition {
	if d.onset.armed {
		due := d.onset.start.Add(d.cfg.MinSpeaking)
		if !now.Before(due) {
			d.onset.armed = false
			if !d.speaking {
				d.speaking = true
				out = append(out, Transition{Speaking: true, At: due})
			}
		}
	}
	if d.silence.armed {
		due := d.silence.start.Add(d.cfg.Silence)
		if !now.Before(due) {
			d.silence.armed = false
			if d.speaking {
				d.speaking = false
				out = append(out, Transition{Speaking: false, At: due})
			}
		}
	}
	return out
}
