package voice

import (
	"time"

	"github.com/google/uuid"

	"github.com/chadiek/voice-mode/internal/audio"
)

// Utterance is one finished user recording. It is immutable once returned by the recorder.
type Utterance struct {
	ID        string
	Clip      audio.Clip
	StartedAt time.Time
	EndedAt   time.Time
}

// recorder assembles utterances from the shared capture. It always tracks the
// last preRoll of audio so a recording can begin slightly before the moment
// speech was confirmed.
type recorder struct {
	preRoll time.Duration
	ring    *pcmRing
	rate    int

	active    bool
	id        string
	startedAt time.Time
	samples   []int16
}

func newRecorder(preRoll time.Duration) *recorder {
	return &recorder{preRoll: preRoll}
}

// observe taps one captured frame. A sample rate change invalidates the
// pre-roll and cancels an active recording with ErrSampleRateChanged.
func (r *recorder) observe(f audio.Frame) error {
	var err error
	if f.SampleRate != r.rate || r.ring == nil {
		if r.active {
			r.active = false
			r.samples = nil
			err = ErrSampleRateChanged
		}
		r.rate = f.SampleRate
		r.ring = newPCMRing(int(r.preRoll * time.Duration(f.SampleRate) / time.Second))
	}
	if r.preRoll > 0 {
		r.ring.write(f.Samples)
	}
	if r.active {
		r.samples = append(r.samples, f.Samples...)
	}
	return err
}

func (r *recorder) start(live bool, at time.Time) error {
	if r.active {
		return ErrRecorderActive
	}
	if !live {
		return &DeviceError{Op: "record", Err: ErrCaptureNotLive}
	}
	r.active = true
	r.id = uuid.NewString()
	r.startedAt = at
	r.samples = nil
	if r.ring != nil && r.preRoll > 0 {
		r.samples = r.ring.last(int(r.preRoll * time.Duration(r.rate) / time.Second))
	}
	return nil
}

// stop finalizes the active recording; ok is false when nothing was recording.
func (r *recorder) stop(at time.Time) (u Utterance, ok bool) {
	if !r.active {
		return Utterance{}, false
	}
	u = Utterance{
		ID:        r.id,
		Clip:      audio.Clip{Samples: r.samples, SampleRate: r.rate},
		StartedAt: r.startedAt,
		EndedAt:   at,
	}
	r.active = false
	r.samples = nil
	return u, true
}

// cancel discards any active recording and the pre-roll.
func (r *recorder) cancel() {
	r.active = false
	r.samples = nil
	if r.ring != nil {
		r.ring.reset()
	}
}

func (r *recorder) recording() bool { return r.active }
