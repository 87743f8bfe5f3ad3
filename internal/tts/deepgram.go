package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
	"go.uber.org/zap"

	"github.com/chadiek/voice-mode/internal/audio"
)

const (
	DefaultDeepgramModel = "aura-2-thalia-en"
	deepgramSampleRate   = 48000
)

// Deepgram synthesizes linear16 PCM over the Deepgram speak WebSocket.
// The socket has no end-of-audio marker, so synthesis is complete once audio
// has stopped arriving for IdleWindow.
type Deepgram struct {
	apiKey     string
	model      string
	IdleWindow time.Duration
	MaxWait    time.Duration
	logger     *zap.Logger
}

func NewDeepgram(apiKey, model string, logger *zap.Logger) *Deepgram {
	if model == "" {
		model = DefaultDeepgramModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deepgram{
		apiKey:     apiKey,
		model:      model,
		IdleWindow: 400 * time.Millisecond,
		MaxWait:    12 * time.Second,
		logger:     logger,
	}
}

func (d *Deepgram) Synthesize(ctx context.Context, text, language string) (audio.Speech, error) {
	if d.apiKey == "" {
		return audio.Speech{}, errors.New("deepgram: API key missing")
	}
	if text == "" {
		return audio.Speech{}, audio.ErrNoSpeech
	}

	options := &clientinterfaces.WSSpeakOptions{
		Model:      d.model,
		Encoding:   "linear16",
		SampleRate: deepgramSampleRate,
	}
	cb := &speakCallback{}
	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return audio.Speech{}, fmt.Errorf("deepgram: create ws client: %w", err)
	}
	defer dg.Stop()

	if ok := dg.Connect(); !ok {
		return audio.Speech{}, errors.New("deepgram: connect failed")
	}
	if err := dg.SpeakWithText(text); err != nil {
		return audio.Speech{}, fmt.Errorf("deepgram: speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		d.logger.Warn("deepgram flush failed", zap.Error(err))
	}

	pcm, err := cb.wait(ctx, d.IdleWindow, d.MaxWait)
	if err != nil {
		return audio.Speech{}, err
	}
	return audio.Speech{Data: pcm, Format: audio.FormatPCM16, SampleRate: deepgramSampleRate}, nil
}

// speakCallback buffers the binary audio frames of one synthesis.
type speakCallback struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	last time.Time
	err  error
}

// wait returns the collected audio once it has gone idle, or what arrived by maxWait.
func (s *speakCallback) wait(ctx context.Context, idle, maxWait time.Duration) ([]byte, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(maxWait)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case now := <-ticker.C:
			s.mu.Lock()
			err, n, last := s.err, s.buf.Len(), s.last
			s.mu.Unlock()
			if err != nil {
				return nil, err
			}
			if (n > 0 && now.Sub(last) > idle) || now.After(deadline) {
				return s.audio()
			}
		}
	}
}

func (s *speakCallback) audio() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf.Len() == 0 {
		return nil, fmt.Errorf("deepgram: %w", audio.ErrNoSpeech)
	}
	return bytes.Clone(s.buf.Bytes()), nil
}

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }

func (s *speakCallback) Error(e *msginterfaces.ErrorResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = fmt.Errorf("deepgram: %+v", e)
	}
	return nil
}

func (s *speakCallback) Binary(msg []byte) error {
	if len(msg) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Write(msg)
	s.last = time.Now()
	return nil
}
