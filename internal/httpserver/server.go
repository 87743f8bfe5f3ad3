// Package httpserver exposes voice mode over HTTP: speech and chat proxies,
// media relay tokens, WebRTC signaling and the Twilio routes.
package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chadiek/voice-mode/internal/config"
	"github.com/chadiek/voice-mode/internal/livekit"
	"github.com/chadiek/voice-mode/internal/metrics"
	"github.com/chadiek/voice-mode/internal/providers"
	"github.com/chadiek/voice-mode/internal/rtc"
	"github.com/chadiek/voice-mode/internal/telephony"
	"github.com/chadiek/voice-mode/internal/voice"
)

// Server bundles the HTTP router and its dependencies.
type Server struct {
	Router *echo.Echo

	cfg       config.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	providers *providers.Set
	calls     telephony.CallUpdater

	rtc       *rtc.Handler
	telephony *telephony.Handler
	issuer    *livekit.Issuer
}

type Option func(*Server)

// WithProviders enables the routes that need speech and chat backends.
func WithProviders(p providers.Set) Option { return func(s *Server) { s.providers = &p } }

func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.logger = l } }

// WithRegistry sets the registry served on /metrics.
func WithRegistry(r *prometheus.Registry) Option { return func(s *Server) { s.registry = r } }

// WithCalls overrides the Twilio REST client used to hang up calls.
func WithCalls(c telephony.CallUpdater) Option { return func(s *Server) { s.calls = c } }

// New constructs the HTTP server with routes.
func New(cfg config.Config, opts ...Option) *Server {
	s := &Server{cfg: cfg, logger: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	voiceMetrics := metrics.NewVoice(s.registry)
	s.issuer = livekit.NewIssuer(cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, cfg.LiveKitServerURL, cfg.LiveKitTokenTTL)

	if s.providers != nil {
		voiceCfg := cfg.Voice()
		s.rtc = rtc.NewHandler(rtc.Services{
			Transcriber: s.providers.Transcriber,
			Chat:        s.providers.Chat,
			Synthesizer: s.providers.Synthesizer,
		},
			rtc.WithICEServers(rtc.ParseICEServers(cfg.ICEServersJSON)),
			rtc.WithVoiceConfig(voiceCfg),
			rtc.WithLogger(s.logger.With(zap.String("component", "rtc"))),
			rtc.WithMetrics(voiceMetrics),
		)

		calls := s.calls
		if calls == nil && cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
			calls = telephony.NewCalls(cfg.TwilioAccountSID, cfg.TwilioAuthToken)
		}
		s.telephony = telephony.NewHandler(voice.Collaborators{
			Transcriber: s.providers.Transcriber,
			Chat:        s.providers.Chat,
			Synthesizer: s.providers.Synthesizer,
		},
			telephony.WithCalls(calls),
			telephony.WithPublicBaseURL(cfg.PublicBaseURL),
			telephony.WithVoiceConfig(voiceCfg),
			telephony.WithLogger(s.logger.With(zap.String("component", "telephony"))),
			telephony.WithMetrics(voiceMetrics),
		)
	}

	e := newRouter(s.logger, metrics.NewHTTP(s.registry))
	s.routes(e)
	s.Router = e
	return s
}

func (s *Server) routes(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	e.POST("/api/whisper-stt", s.transcribe)
	e.POST("/api/tts", s.synthesize)
	e.POST("/api/chat", s.chat)
	e.POST("/api/livekit-token", s.livekitToken)

	e.POST("/call", s.call)
	e.GET("/call/ws", s.callWS)

	e.POST("/twilio/voice", s.twilioVoice, telephony.SignatureAuth(s.cfg.TwilioAuthToken, s.cfg.PublicBaseURL))
	e.GET(telephony.MediaPath, s.twilioMedia)
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}
