package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/chadiek/voice-mode/internal/apierr"
	"github.com/chadiek/voice-mode/internal/audio"
	"github.com/chadiek/voice-mode/internal/chat"
	"github.com/chadiek/voice-mode/internal/livekit"
)

const defaultLanguage = "en"

func upstreamStatus(err error) int {
	if status := apierr.Status(err); status >= 400 {
		return status
	}
	return http.StatusBadGateway
}

// transcribe accepts a multipart "audio" file and an optional "language".
func (s *Server) transcribe(c echo.Context) error {
	if s.providers == nil {
		return errorJSON(c, http.StatusServiceUnavailable, "transcription not configured")
	}
	fh, err := c.FormFile("audio")
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "No audio file provided")
	}
	f, err := fh.Open()
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "Failed to read audio file")
	}
	defer f.Close()

	language := c.FormValue("language")
	if language == "" {
		language = defaultLanguage
	}
	text, err := s.providers.Whisper.TranscribeFile(c.Request().Context(), f, fh.Filename, language)
	if err != nil {
		s.logger.Warn("transcription failed", zap.Error(err))
		return errorJSON(c, upstreamStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"text": text})
}

type ttsRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// synthesize returns the reply audio. Raw PCM from streaming synthesizers is wrapped as WAV.
func (s *Server) synthesize(c echo.Context) error {
	if s.providers == nil {
		return errorJSON(c, http.StatusServiceUnavailable, "speech synthesis not configured")
	}
	var req ttsRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		return errorJSON(c, http.StatusBadRequest, "Text is required")
	}
	if req.Language == "" {
		req.Language = defaultLanguage
	}
	sp, err := s.providers.Synthesizer.Synthesize(c.Request().Context(), req.Text, req.Language)
	if err != nil {
		s.logger.Warn("speech synthesis failed", zap.Error(err))
		return errorJSON(c, upstreamStatus(err), err.Error())
	}
	if sp.Format == audio.FormatPCM16 {
		wav, err := audio.Clip{Samples: audio.BytesToSamples(sp.Data), SampleRate: sp.SampleRate}.WAV()
		if err != nil {
			return errorJSON(c, http.StatusInternalServerError, err.Error())
		}
		sp = audio.Speech{Data: wav, Format: audio.FormatWAV}
	}
	return c.Blob(http.StatusOK, sp.ContentType(), sp.Data)
}

type chatRequest struct {
	Messages []chat.Message `json:"messages"`
}

// chat streams the assistant reply as a text data stream.
func (s *Server) chat(c echo.Context) error {
	if s.providers == nil {
		return errorJSON(c, http.StatusServiceUnavailable, "chat not configured")
	}
	var req chatRequest
	if err := c.Bind(&req); err != nil || len(req.Messages) == 0 {
		return errorJSON(c, http.StatusBadRequest, "Messages are required")
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/plain; charset=utf-8")
	res.Header().Set("X-Vercel-AI-Data-Stream", "v1")
	res.WriteHeader(http.StatusOK)

	out := chat.NewStreamWriter(res)
	if err := out.Start("msg-" + uuid.NewString()); err != nil {
		return nil
	}
	err := s.providers.Streamer.Stream(c.Request().Context(), req.Messages, out.Text)
	if err != nil {
		s.logger.Warn("chat stream failed", zap.Error(err))
		_ = out.Error(err.Error())
		_ = out.Finish("error")
		return nil
	}
	_ = out.Finish("stop")
	return nil
}

type tokenRequest struct {
	Identity string `json:"identity"`
	Room     string `json:"room"`
}

func (s *Server) livekitToken(c echo.Context) error {
	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	cred, err := s.issuer.Issue(strings.TrimSpace(req.Identity), req.Room)
	switch {
	case errors.Is(err, livekit.ErrMissingIdentity):
		return errorJSON(c, http.StatusBadRequest, "Identity is required")
	case errors.Is(err, livekit.ErrNotConfigured):
		return errorJSON(c, http.StatusServiceUnavailable, "LiveKit is not configured")
	case err != nil:
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, cred)
}
