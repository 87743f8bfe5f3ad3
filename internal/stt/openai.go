// Package stt implements the speech-to-text collaborators used by voice sessions.
package stt

import (
	"bytes"
	"context"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chadiek/voice-mode/internal/apierr"
	"github.com/chadiek/voice-mode/internal/audio"
)

const DefaultWhisperModel = openai.Whisper1

// Whisper transcribes with the OpenAI audio transcription endpoint.
type Whisper struct {
	client *openai.Client
	model  string
}

func NewWhisper(client *openai.Client, model string) *Whisper {
	if model == "" {
		model = DefaultWhisperModel
	}
	return &Whisper{client: client, model: model}
}

// Transcribe uploads clip as a WAV file.
func (w *Whisper) Transcribe(ctx context.Context, clip audio.Clip, language string) (string, error) {
	if clip.Empty() {
		return "", nil
	}
	wav, err := clip.WAV()
	if err != nil {
		return "", fmt.Errorf("encode utterance: %w", err)
	}
	return w.TranscribeFile(ctx, bytes.NewReader(wav), "utterance.wav", language)
}

// TranscribeFile transcribes an already encoded recording. The filename
// extension tells the service which container to expect.
func (w *Whisper) TranscribeFile(ctx context.Context, r io.Reader, filename, language string) (string, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		Reader:   r,
		FilePath: filename,
		Language: language,
	})
	if err != nil {
		return "", apierr.FromOpenAI("whisper", err)
	}
	return resp.Text, nil
}
