package voice

import (
	"errors"
	"fmt"

	"github.com/chadiek/voice-mode/internal/apierr"
	"github.com/chadiek/voice-mode/internal/chat"
)

var (
	ErrDeviceBusy        = errors.New("voice: microphone already in use")
	ErrRecorderActive    = errors.New("voice: recorder already active")
	ErrCaptureNotLive    = errors.New("voice: capture not live")
	ErrSampleRateChanged = errors.New("voice: capture sample rate changed")
	ErrEmptyTranscript   = errors.New("voice: empty transcript")
	ErrEmptyReply        = errors.New("voice: empty reply")
	ErrUtteranceTooShort = errors.New("voice: utterance too short")
	ErrClosed            = errors.New("voice: session closed")
)

// ParseError is returned when a chat reply has no recoverable text.
type ParseError = chat.ParseError

// Step names a stage of the reply pipeline.
type Step string

const (
	StepTranscribe Step = "transcribe"
	StepChat       Step = "chat"
	StepSynthesize Step = "synthesize"
)

// DeviceError reports a microphone or speaker failure.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string { return fmt.Sprintf("voice: device %s: %v", e.Op, e.Err) }
func (e *DeviceError) Unwrap() error { return e.Err }

// NetworkError reports a failed collaborator call. Status is the upstream HTTP status when known.
type NetworkError struct {
	Step   Step
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("voice: %s failed (status %d): %v", e.Step, e.Status, e.Err)
	}
	return fmt.Sprintf("voice: %s failed: %v", e.Step, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// classify wraps a collaborator error for the status surface. Parse errors pass through.
func classify(step Step, err error) error {
	var pe *ParseError
	if errors.As(err, &pe) {
		return err
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return err
	}
	return &NetworkError{Step: step, Status: apierr.Status(err), Err: err}
}
