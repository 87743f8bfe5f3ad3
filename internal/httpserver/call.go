package httpserver

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/chadiek/voice-mode/internal/rtc"
)

// rtcAuthOK accepts the shared password as ?password=, a bearer token or X-Auth-Token.
// An empty expected password disables the check.
func rtcAuthOK(r *http.Request, expected string) bool {
	if expected == "" {
		return true
	}
	if r == nil {
		return false
	}
	candidates := []string{r.URL.Query().Get("password"), r.Header.Get("X-Auth-Token")}
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		candidates = append(candidates, strings.TrimSpace(auth[7:]))
	}
	for _, c := range candidates {
		if c != "" && subtle.ConstantTimeCompare([]byte(c), []byte(expected)) == 1 {
			return true
		}
	}
	return false
}

// call answers an SDP offer; the peer then runs a voice session.
func (s *Server) call(c echo.Context) error {
	if !rtcAuthOK(c.Request(), s.cfg.AuthPassword) {
		return c.NoContent(http.StatusUnauthorized)
	}
	var offer rtc.SessionDescription
	if err := json.NewDecoder(c.Request().Body).Decode(&offer); err != nil {
		s.logger.Debug("invalid offer", zap.Error(err))
		return c.NoContent(http.StatusBadRequest)
	}
	if s.rtc == nil {
		return c.NoContent(http.StatusServiceUnavailable)
	}
	answer, err := s.rtc.HandleOffer(c.Request().Context(), offer)
	if err != nil {
		s.logger.Warn("webrtc handle offer failed", zap.Error(err))
		return c.NoContent(http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, answer)
}

// callWS runs WebSocket signaling. Requests already carrying the password skip the in-band auth message.
func (s *Server) callWS(c echo.Context) error {
	if s.rtc == nil {
		return c.NoContent(http.StatusServiceUnavailable)
	}
	password := s.cfg.AuthPassword
	if rtcAuthOK(c.Request(), password) {
		password = ""
	}
	s.rtc.ServeWebSocket(c.Response(), c.Request(), password)
	return nil
}

func (s *Server) twilioVoice(c echo.Context) error {
	if s.telephony == nil {
		return c.String(http.StatusServiceUnavailable, "voice not configured")
	}
	return s.telephony.Voice(c)
}

func (s *Server) twilioMedia(c echo.Context) error {
	if s.telephony == nil {
		return c.NoContent(http.StatusServiceUnavailable)
	}
	s.telephony.ServeMedia(c.Response(), c.Request())
	return nil
}
