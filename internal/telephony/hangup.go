package telephony

import (
	"context"
	"fmt"
	"sync/atomic"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// CallUpdater is the slice of the Twilio REST API used to end calls.
// *twilioApi.ApiService satisfies it.
type CallUpdater interface {
	UpdateCall(sid string, params *twilioApi.UpdateCallParams) (*twilioApi.ApiV2010Call, error)
}

// callHangup is the session transport of a phone call: leaving completes the
// call unless the caller already hung up.
type callHangup struct {
	calls   CallUpdater
	callSid string
	stopped *atomic.Bool
}

func (h callHangup) Leave(context.Context) error {
	if h.calls == nil || h.callSid == "" || h.stopped.Load() {
		return nil
	}
	params := &twilioApi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := h.calls.UpdateCall(h.callSid, params); err != nil {
		return fmt.Errorf("hang up call %s: %w", h.callSid, err)
	}
	return nil
}
