package voice

import (
	"context"

	"github.com/chadiek/voice-mode/internal/audio"
	"github.com/chadiek/voice-mode/internal/chat"
)

// Transcriber turns a finished utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, clip audio.Clip, language string) (string, error)
}

// ChatCompleter returns the assistant reply for the whole conversation so far.
type ChatCompleter interface {
	Complete(ctx context.Context, messages []chat.Message) (string, error)
}

// Synthesizer renders reply text as audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) (audio.Speech, error)
}

// Player starts playback of synthesized speech. Play returns once playback has started.
type Player interface {
	Play(ctx context.Context, speech audio.Speech) (Playback, error)
}

// Playback is one running playback. Done is closed when it finishes or is stopped.
type Playback interface {
	Done() <-chan struct{}
	Stop()
}

// Device is a microphone.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open capture. Close must unblock a pending Read.
type Stream interface {
	Read(ctx context.Context) (audio.Frame, error)
	Close() error
}

// Transport is the media relay the session leaves on exit.
type Transport interface {
	Leave(ctx context.Context) error
}

// Collaborators are the external services a session drives.
type Collaborators struct {
	Transcriber Transcriber
	Chat        ChatCompleter
	Synthesizer Synthesizer
	Player      Player
}
