// Package providers selects the speech and chat backends named in the configuration.
package providers

import (
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/chadiek/voice-mode/internal/chat"
	"github.com/chadiek/voice-mode/internal/config"
	"github.com/chadiek/voice-mode/internal/stt"
	"github.com/chadiek/voice-mode/internal/tts"
	"github.com/chadiek/voice-mode/internal/voice"
)

// Set is the collaborators shared by every session plus the clients behind
// the HTTP proxy routes.
type Set struct {
	Transcriber voice.Transcriber
	Chat        voice.ChatCompleter
	Synthesizer voice.Synthesizer

	// Whisper serves /api/whisper-stt, which accepts arbitrary uploaded audio.
	Whisper *stt.Whisper
	// Streamer serves /api/chat.
	Streamer *chat.OpenAIStreamer
}

// Build wires the providers chosen by STT_PROVIDER and TTS_PROVIDER. Missing
// keys are reported by config.Load; calls then fail upstream.
func Build(cfg config.Config, logger *zap.Logger) Set {
	return build(cfg, openai.NewClient(cfg.OpenAIKey), logger)
}

func build(cfg config.Config, client *openai.Client, logger *zap.Logger) Set {
	s := Set{
		Whisper:  stt.NewWhisper(client, cfg.OpenAISTTModel),
		Streamer: chat.NewOpenAIStreamer(client, cfg.OpenAIChatModel, cfg.ChatSystemPrompt),
	}

	switch cfg.STTProvider {
	case "assemblyai":
		s.Transcriber = stt.NewAssemblyAI(cfg.AssemblyAIKey,
			stt.WithAssemblyAILogger(logger.With(zap.String("component", "assemblyai"))))
	default:
		s.Transcriber = s.Whisper
	}

	chatClient := chat.NewClient(cfg.ChatEndpoint, cfg.ChatAPIKey, cfg.OpenAIChatModel)
	if cfg.ChatSystemPrompt != "" {
		chatClient.SystemPrompt = cfg.ChatSystemPrompt
	}
	s.Chat = chatClient

	switch cfg.TTSProvider {
	case "deepgram":
		s.Synthesizer = tts.NewDeepgram(cfg.DeepgramKey, cfg.DeepgramModel,
			logger.With(zap.String("component", "deepgram")))
	case "elevenlabs":
		s.Synthesizer = tts.NewElevenLabs(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID)
	default:
		s.Synthesizer = tts.NewOpenAISpeech(client, cfg.OpenAITTSModel, cfg.OpenAITTSVoice)
	}

	logger.Info("providers",
		zap.String("stt", cfg.STTProvider),
		zap.String("tts", cfg.TTSProvider),
		zap.String("chat_endpoint", cfg.ChatEndpoint),
	)
	return s
}
