package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/chadiek/voice-mode/internal/apierr"
	"github.com/chadiek/voice-mode/internal/audio"
)

const (
	DefaultElevenLabsBaseURL = "https://api.elevenlabs.io"
	DefaultElevenLabsModel   = "eleven_flash_v2_5"
	elevenLabsSampleRate     = 48000
)

// ElevenLabs synthesizes PCM over the ElevenLabs HTTP streaming endpoint.
type ElevenLabs struct {
	APIKey     string
	VoiceID    string
	ModelID    string
	BaseURL    string
	HTTPClient *http.Client
}

func NewElevenLabs(apiKey, voiceID string) *ElevenLabs {
	return &ElevenLabs{
		APIKey:     apiKey,
		VoiceID:    voiceID,
		ModelID:    DefaultElevenLabsModel,
		BaseURL:    DefaultElevenLabsBaseURL,
		HTTPClient: &http.Client{},
	}
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

type elevenLabsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	LanguageCode  string        `json:"language_code,omitempty"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

func (e *ElevenLabs) Synthesize(ctx context.Context, text, language string) (audio.Speech, error) {
	if e.APIKey == "" || e.VoiceID == "" {
		return audio.Speech{}, errors.New("elevenlabs: api key or voice id missing")
	}
	u, err := url.Parse(e.BaseURL)
	if err != nil {
		return audio.Speech{}, fmt.Errorf("elevenlabs: base url: %w", err)
	}
	u = u.JoinPath("v1", "text-to-speech", e.VoiceID, "stream")
	q := u.Query()
	q.Set("output_format", "pcm_48000")
	// 0..4, lower trades quality for latency
	q.Set("optimize_streaming_latency", "2")
	u.RawQuery = q.Encode()

	body, err := json.Marshal(elevenLabsRequest{
		Text:         text,
		ModelID:      e.ModelID,
		LanguageCode: language,
		VoiceSettings: voiceSettings{
			Stability:       0.4,
			SimilarityBoost: 0.7,
			UseSpeakerBoost: true,
		},
	})
	if err != nil {
		return audio.Speech{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return audio.Speech{}, err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	client := e.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return audio.Speech{}, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return audio.Speech{}, apierr.FromResponse("elevenlabs", resp)
	}
	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Speech{}, fmt.Errorf("elevenlabs read: %w", err)
	}
	if len(pcm) == 0 {
		return audio.Speech{}, audio.ErrNoSpeech
	}
	return audio.Speech{Data: pcm, Format: audio.FormatPCM16, SampleRate: elevenLabsSampleRate}, nil
}
