// Package tts implements the speech synthesizers used by voice sessions.
package tts

import (
	"context"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chadiek/voice-mode/internal/apierr"
	"github.com/chadiek/voice-mode/internal/audio"
)

const (
	DefaultOpenAIModel = string(openai.TTSModel1)
	DefaultOpenAIVoice = string(openai.VoiceAlloy)
)

// OpenAISpeech synthesizes MP3 with the OpenAI speech endpoint.
type OpenAISpeech struct {
	client *openai.Client
	model  string
	voice  string
}

func NewOpenAISpeech(client *openai.Client, model, voice string) *OpenAISpeech {
	if model == "" {
		model = DefaultOpenAIModel
	}
	if voice == "" {
		voice = DefaultOpenAIVoice
	}
	return &OpenAISpeech{client: client, model: model, voice: voice}
}

// Synthesize ignores language: the voices are multilingual and follow the text.
func (o *OpenAISpeech) Synthesize(ctx context.Context, text, language string) (audio.Speech, error) {
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.model),
		Input:          text,
		Voice:          openai.SpeechVoice(o.voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return audio.Speech{}, apierr.FromOpenAI("openai tts", err)
	}
	defer resp.Close()
	data, err := io.ReadAll(resp)
	if err != nil {
		return audio.Speech{}, fmt.Errorf("read speech: %w", err)
	}
	if len(data) == 0 {
		return audio.Speech{}, audio.ErrNoSpeech
	}
	return audio.Speech{Data: data, Format: audio.FormatMP3}, nil
}
