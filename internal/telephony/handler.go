// Package telephony runs voice sessions over Twilio phone calls: the incoming
// call webhook answers with a media stream and the stream's WebSocket carries
// the caller's audio in and the agent's speech out.
package telephony

import (
	"github.com/twilio/twilio-go"
	"go.uber.org/zap"

	"github.com/chadiek/voice-mode/internal/metrics"
	"github.com/chadiek/voice-mode/internal/voice"
)

// Handler serves the Twilio webhook and media stream routes.
type Handler struct {
	services voice.Collaborators
	calls    CallUpdater
	baseURL  string
	voiceCfg voice.Config
	logger   *zap.Logger
	metrics  *metrics.Voice
}

type Option func(*Handler)

// WithCalls sets the REST client used to hang up when a session exits.
func WithCalls(c CallUpdater) Option { return func(h *Handler) { h.calls = c } }

// WithPublicBaseURL sets the externally visible base URL, e.g. https://voice.example.com.
func WithPublicBaseURL(u string) Option { return func(h *Handler) { h.baseURL = u } }

func WithVoiceConfig(cfg voice.Config) Option { return func(h *Handler) { h.voiceCfg = cfg } }

func WithLogger(l *zap.Logger) Option { return func(h *Handler) { h.logger = l } }

func WithMetrics(m *metrics.Voice) Option { return func(h *Handler) { h.metrics = m } }

// NewHandler builds a handler; the Player of services is replaced per call.
func NewHandler(services voice.Collaborators, opts ...Option) *Handler {
	h := &Handler{
		services: services,
		voiceCfg: voice.DefaultConfig(),
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// NewCalls returns the Twilio REST call API for the given account.
func NewCalls(accountSID, authToken string) CallUpdater {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return client.Api
}
