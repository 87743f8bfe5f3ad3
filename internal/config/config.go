package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/chadiek/voice-mode/internal/voice"
)

const (
	DefaultChatEndpoint   = "https://api.openai.com/v1/chat/completions"
	DefaultChatModel      = "gpt-4.1-nano"
	DefaultICEServersJSON = `[{"urls":["stun:stun.l.google.com:19302"]}]`
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string
	LogLevel    string
	LogDev      bool

	OpenAIKey        string
	OpenAISTTModel   string
	OpenAITTSModel   string
	OpenAITTSVoice   string
	OpenAIChatModel  string
	ChatEndpoint     string
	ChatAPIKey       string
	ChatSystemPrompt string

	STTProvider       string
	AssemblyAIKey     string
	TTSProvider       string
	DeepgramKey       string
	DeepgramModel     string
	ElevenLabsKey     string
	ElevenLabsVoiceID string

	Language       string
	VADThreshold   float64
	VADMinSpeaking time.Duration
	VADSilence     time.Duration
	PreRoll        time.Duration
	FrameInterval  time.Duration
	MinUtterance   time.Duration
	STTTimeout     time.Duration
	ChatTimeout    time.Duration
	TTSTimeout     time.Duration

	LiveKitAPIKey    string
	LiveKitAPISecret string
	LiveKitServerURL string
	LiveKitTokenTTL  time.Duration

	ICEServersJSON   string
	AuthPassword     string
	TwilioAccountSID string
	TwilioAuthToken  string
	PublicBaseURL    string

	// Warnings lists missing or unparsable settings; the caller logs them.
	Warnings []string
}

type loader struct{ warnings []string }

func (l *loader) warn(format string, args ...any) {
	l.warnings = append(l.warnings, fmt.Sprintf(format, args...))
}

func (l *loader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (l *loader) float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		l.warn("%s=%q is not a number, using %v", key, v, def)
		return def
	}
	return f
}

// millis reads a whole number of milliseconds.
func (l *loader) millis(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		l.warn("%s=%q is not a millisecond count, using %v", key, v, def)
		return def
	}
	return time.Duration(n) * time.Millisecond
}

// duration reads a Go duration such as "30s".
func (l *loader) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		l.warn("%s=%q is not a duration, using %v", key, v, def)
		return def
	}
	return d
}

func (l *loader) require(key, value, consequence string) {
	if value == "" {
		l.warn("%s not set - %s", key, consequence)
	}
}

// Load reads .env and the environment and returns Config with sane defaults.
func Load() Config {
	l := &loader{}
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		l.warn("loading .env: %v", err)
	}

	voiceDefaults := voice.DefaultConfig()
	cfg := Config{
		HTTPAddress: l.str("HTTP_ADDRESS", ":8080"),
		LogLevel:    l.str("LOG_LEVEL", "info"),
		LogDev:      l.str("LOG_DEV", "") == "true",

		OpenAIKey:        l.str("OPENAI_API_KEY", ""),
		OpenAISTTModel:   l.str("OPENAI_STT_MODEL", "whisper-1"),
		OpenAITTSModel:   l.str("OPENAI_TTS_MODEL", "tts-1"),
		OpenAITTSVoice:   l.str("OPENAI_TTS_VOICE", "alloy"),
		OpenAIChatModel:  l.str("OPENAI_CHAT_MODEL", DefaultChatModel),
		ChatEndpoint:     l.str("CHAT_ENDPOINT", DefaultChatEndpoint),
		ChatSystemPrompt: l.str("CHAT_SYSTEM_PROMPT", "You are a helpful assistant."),

		STTProvider:       strings.ToLower(l.str("STT_PROVIDER", "openai")),
		AssemblyAIKey:     l.str("ASSEMBLYAI_API_KEY", ""),
		TTSProvider:       strings.ToLower(l.str("TTS_PROVIDER", "openai")),
		DeepgramKey:       l.str("DEEPGRAM_API_KEY", ""),
		DeepgramModel:     l.str("DEEPGRAM_MODEL", "aura-2-thalia-en"),
		ElevenLabsKey:     l.str("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID: l.str("ELEVENLABS_VOICE_ID", ""),

		Language:       l.str("VOICE_LANGUAGE", voiceDefaults.Language),
		VADThreshold:   l.float("VAD_THRESHOLD", voiceDefaults.VAD.Threshold),
		VADMinSpeaking: l.millis("VAD_MIN_SPEAKING_MS", voiceDefaults.VAD.MinSpeaking),
		VADSilence:     l.millis("VAD_SILENCE_MS", voiceDefaults.VAD.Silence),
		PreRoll:        l.millis("VAD_PREROLL_MS", voiceDefaults.PreRoll),
		FrameInterval:  l.millis("VOICE_FRAME_INTERVAL_MS", voiceDefaults.FrameInterval),
		MinUtterance:   l.millis("VOICE_MIN_UTTERANCE_MS", voiceDefaults.MinUtterance),
		STTTimeout:     l.duration("STT_TIMEOUT", voiceDefaults.TranscribeTimeout),
		ChatTimeout:    l.duration("CHAT_TIMEOUT", voiceDefaults.ChatTimeout),
		TTSTimeout:     l.duration("TTS_TIMEOUT", voiceDefaults.SynthesizeTimeout),

		LiveKitAPIKey:    l.str("LIVEKIT_API_KEY", ""),
		LiveKitAPISecret: l.str("LIVEKIT_API_SECRET", ""),
		LiveKitServerURL: l.str("LIVEKIT_SERVER_URL", ""),
		LiveKitTokenTTL:  l.duration("LIVEKIT_TOKEN_TTL", 6*time.Hour),

		ICEServersJSON:   l.str("ICE_SERVERS_JSON", DefaultICEServersJSON),
		AuthPassword:     l.str("RTC_AUTH_PASSWORD", ""),
		TwilioAccountSID: l.str("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  l.str("TWILIO_AUTH_TOKEN", ""),
		PublicBaseURL:    strings.TrimRight(l.str("PUBLIC_BASE_URL", ""), "/"),
	}
	cfg.ChatAPIKey = l.str("CHAT_API_KEY", cfg.OpenAIKey)

	switch cfg.STTProvider {
	case "openai":
		l.require("OPENAI_API_KEY", cfg.OpenAIKey, "transcription will not work")
	case "assemblyai":
		l.require("ASSEMBLYAI_API_KEY", cfg.AssemblyAIKey, "transcription will not work")
	default:
		l.warn("STT_PROVIDER=%q is unknown, using openai", cfg.STTProvider)
		cfg.STTProvider = "openai"
	}
	switch cfg.TTSProvider {
	case "openai":
		l.require("OPENAI_API_KEY", cfg.OpenAIKey, "speech synthesis will not work")
	case "deepgram":
		l.require("DEEPGRAM_API_KEY", cfg.DeepgramKey, "speech synthesis will not work")
	case "elevenlabs":
		l.require("ELEVENLABS_API_KEY", cfg.ElevenLabsKey, "speech synthesis will not work")
		l.require("ELEVENLABS_VOICE_ID", cfg.ElevenLabsVoiceID, "set a voice ID from your ElevenLabs dashboard")
	default:
		l.warn("TTS_PROVIDER=%q is unknown, using openai", cfg.TTSProvider)
		cfg.TTSProvider = "openai"
	}
	l.require("CHAT_API_KEY", cfg.ChatAPIKey, "chat completions will likely be rejected")
	if cfg.LiveKitAPIKey == "" || cfg.LiveKitAPISecret == "" {
		l.warn("LIVEKIT_API_KEY/LIVEKIT_API_SECRET not set - /api/livekit-token is disabled")
	}
	if cfg.TwilioAuthToken == "" {
		l.warn("TWILIO_AUTH_TOKEN not set - Twilio webhooks will be rejected")
	}

	cfg.Warnings = l.warnings
	return cfg
}

// Voice is the session tuning described by the configuration. Unset values
// keep the voice defaults.
func (c Config) Voice() voice.Config {
	v := voice.DefaultConfig()
	if c.VADThreshold > 0 {
		v.VAD.Threshold = c.VADThreshold
	}
	if c.VADMinSpeaking > 0 {
		v.VAD.MinSpeaking = c.VADMinSpeaking
	}
	if c.VADSilence > 0 {
		v.VAD.Silence = c.VADSilence
	}
	if c.PreRoll > 0 {
		v.PreRoll = c.PreRoll
	}
	if c.FrameInterval > 0 {
		v.FrameInterval = c.FrameInterval
	}
	if c.MinUtterance > 0 {
		v.MinUtterance = c.MinUtterance
	}
	if c.Language != "" {
		v.Language = c.Language
	}
	if c.STTTimeout > 0 {
		v.TranscribeTimeout = c.STTTimeout
	}
	if c.ChatTimeout > 0 {
		v.ChatTimeout = c.ChatTimeout
	}
	if c.TTSTimeout > 0 {
		v.SynthesizeTimeout = c.TTSTimeout
	}
	return v
}
