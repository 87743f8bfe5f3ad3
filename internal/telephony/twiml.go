package telephony

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/twilio/twilio-go/twiml"
	"go.uber.org/zap"
)

// MediaPath is where Twilio opens the bidirectional media stream.
const MediaPath = "/twilio/media"

// streamTwiML answers an incoming call by connecting it to a media stream.
func streamTwiML(streamURL string) (string, error) {
	stream := &twiml.VoiceStream{Url: streamURL}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}
	return twiml.Voice([]twiml.Element{connect})
}

// mediaURL turns the public HTTP base into the WebSocket URL of the media route.
func mediaURL(r *http.Request, baseURL string) string {
	u := publicURL(r, baseURL, MediaPath)
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// Voice is the incoming-call webhook. It must run behind SignatureAuth.
func (h *Handler) Voice(c echo.Context) error {
	params, ok := c.Get(ParamsKey).(map[string]string)
	if !ok {
		return c.String(http.StatusInternalServerError, "Failed to get Twilio parameters")
	}
	h.logger.Info("incoming call",
		zap.String("call_sid", params["CallSid"]),
		zap.String("from", params["From"]),
	)
	response, err := streamTwiML(mediaURL(c.Request(), h.baseURL))
	if err != nil {
		return c.String(http.StatusInternalServerError, "failed to build TwiML")
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/xml")
	return c.String(http.StatusOK, response)
}
