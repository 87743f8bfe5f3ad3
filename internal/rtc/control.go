package rtc

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/chadiek/voice-mode/internal/voice"
)

// Commands accepted on the "control" data channel.
const (
	cmdMicOn  = "mic-on"
	cmdMicOff = "mic-off"
	cmdExit   = "exit"
)

// controller is the part of a voice session the control channel drives.
type controller interface {
	SetMicEnabled(on bool) error
	Exit()
}

func handleCommand(c controller, raw string) error {
	switch cmd := strings.TrimSpace(strings.ToLower(raw)); cmd {
	case cmdMicOn:
		return c.SetMicEnabled(true)
	case cmdMicOff:
		return c.SetMicEnabled(false)
	case cmdExit, "bye":
		c.Exit()
		return nil
	default:
		return fmt.Errorf("unknown control command %q", cmd)
	}
}

// statusMessage is the JSON pushed to the browser on every status change.
type statusMessage struct {
	Type           string  `json:"type"`
	Phase          string  `json:"phase"`
	Volume         float64 `json:"volume"`
	MicEnabled     bool    `json:"micEnabled"`
	Listening      bool    `json:"listening"`
	Error          string  `json:"error,omitempty"`
	LastTranscript string  `json:"lastTranscript,omitempty"`
}

func encodeStatus(st voice.Status) ([]byte, error) {
	msg := statusMessage{
		Type:           "status",
		Phase:          st.Phase.String(),
		Volume:         st.Volume,
		MicEnabled:     st.MicEnabled,
		Listening:      st.Listening,
		LastTranscript: st.LastTranscript,
	}
	msg.Error = errText(st.Err)
	return json.Marshal(msg)
}

// statusInterval bounds how often volume-only updates reach the client.
const statusInterval = 100 * time.Millisecond

// pushStatus forwards updates from sub until it is closed. Updates that only
// move the volume meter are rate limited; anything else is sent at once.
func pushStatus(sub <-chan voice.Status, send func([]byte) error, limiter *rate.Limiter) error {
	var last *voice.Status
	for st := range sub {
		if last != nil && sameState(*last, st) && !limiter.Allow() {
			continue
		}
		b, err := encodeStatus(st)
		if err != nil {
			return err
		}
		if err := send(b); err != nil {
			return err
		}
		st := st
		last = &st
	}
	return nil
}

func sameState(a, b voice.Status) bool {
	return a.Phase == b.Phase &&
		a.MicEnabled == b.MicEnabled &&
		a.Listening == b.Listening &&
		errText(a.Err) == errText(b.Err) &&
		a.LastTranscript == b.LastTranscript
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
