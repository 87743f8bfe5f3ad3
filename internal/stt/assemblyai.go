package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chadiek/voice-mode/internal/apierr"
	"github.com/chadiek/voice-mode/internal/audio"
)

const DefaultAssemblyAIURL = "wss://streaming.assemblyai.com/v3/ws"

// chunkDuration is how much audio goes into one binary message. The service
// rejects chunks shorter than 50ms or longer than one second.
const chunkDuration = 100 * time.Millisecond

// AssemblyAI message types
type turnMessage struct {
	Type       string `json:"type"`
	TurnOrder  int    `json:"turn_order"`
	Transcript string `json:"transcript"`
	EndOfTurn  bool   `json:"end_of_turn"`
}

type terminationMessage struct {
	Type                 string  `json:"type"`
	AudioDurationSeconds float64 `json:"audio_duration_seconds"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// AssemblyAI transcribes finished utterances over the AssemblyAI streaming
// API: the clip is streamed in one go, the session is terminated and the
// turns received until termination are joined.
type AssemblyAI struct {
	apiKey string
	url    string
	dialer *websocket.Dialer
	logger *zap.Logger
}

type AssemblyAIOption func(*AssemblyAI)

// WithAssemblyAIURL points the client at another streaming endpoint.
func WithAssemblyAIURL(u string) AssemblyAIOption { return func(a *AssemblyAI) { a.url = u } }

func WithAssemblyAILogger(l *zap.Logger) AssemblyAIOption {
	return func(a *AssemblyAI) { a.logger = l }
}

func NewAssemblyAI(apiKey string, opts ...AssemblyAIOption) *AssemblyAI {
	a := &AssemblyAI{
		apiKey: apiKey,
		url:    DefaultAssemblyAIURL,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Transcribe streams clip and returns the joined transcript. language is not
// used: the streaming model detects English only.
func (a *AssemblyAI) Transcribe(ctx context.Context, clip audio.Clip, language string) (string, error) {
	if a.apiKey == "" {
		return "", errors.New("assemblyai: API key is empty")
	}
	if clip.Empty() {
		return "", nil
	}

	params := url.Values{}
	params.Set("sample_rate", strconv.Itoa(clip.SampleRate))
	params.Set("encoding", "pcm_s16le")
	params.Set("format_turns", "true")
	header := http.Header{"Authorization": {a.apiKey}}

	conn, resp, err := a.dialer.DialContext(ctx, a.url+"?"+params.Encode(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return "", apierr.FromResponse("assemblyai", resp)
		}
		return "", fmt.Errorf("connect assemblyai: %w", err)
	}
	defer conn.Close()

	// Unblock reads and writes when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	result := make(chan readResult, 1)
	go func() { result <- a.readTurns(conn) }()

	if err := sendClip(conn, clip); err != nil {
		return "", a.ctxErr(ctx, fmt.Errorf("send audio: %w", err))
	}
	if err := conn.WriteJSON(map[string]string{"type": "Terminate"}); err != nil {
		return "", a.ctxErr(ctx, fmt.Errorf("terminate session: %w", err))
	}

	r := <-result
	if r.err != nil {
		return "", a.ctxErr(ctx, r.err)
	}
	return r.text, nil
}

func (a *AssemblyAI) ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func sendClip(conn *websocket.Conn, clip audio.Clip) error {
	step := int(chunkDuration * time.Duration(clip.SampleRate) / time.Second)
	if step <= 0 {
		step = len(clip.Samples)
	}
	for i := 0; i < len(clip.Samples); i += step {
		end := min(i+step, len(clip.Samples))
		if err := conn.WriteMessage(websocket.BinaryMessage, audio.SamplesToBytes(clip.Samples[i:end])); err != nil {
			return err
		}
	}
	return nil
}

type readResult struct {
	text string
	err  error
}

// readTurns collects the latest transcript of every turn until the session terminates.
func (a *AssemblyAI) readTurns(conn *websocket.Conn) readResult {
	turns := map[int]string{}
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return readResult{err: fmt.Errorf("read assemblyai message: %w", err)}
		}
		var base struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(message, &base); err != nil {
			a.logger.Debug("unparsable assemblyai message", zap.Error(err))
			continue
		}
		switch base.Type {
		case "Begin":
			a.logger.Debug("assemblyai session began")
		case "Turn":
			var msg turnMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				return readResult{err: fmt.Errorf("decode turn: %w", err)}
			}
			turns[msg.TurnOrder] = msg.Transcript
		case "Termination":
			var msg terminationMessage
			_ = json.Unmarshal(message, &msg)
			a.logger.Debug("assemblyai session terminated", zap.Float64("audio_seconds", msg.AudioDurationSeconds))
			return readResult{text: joinTurns(turns)}
		case "Error":
			var msg errorMessage
			_ = json.Unmarshal(message, &msg)
			return readResult{err: fmt.Errorf("assemblyai error: %s", msg.Error)}
		default:
			a.logger.Debug("unknown assemblyai message", zap.String("type", base.Type))
		}
	}
}

func joinTurns(turns map[int]string) string {
	order := make([]int, 0, len(turns))
	for k := range turns {
		order = append(order, k)
	}
	sort.Ints(order)
	parts := make([]string, 0, len(order))
	for _, k := range order {
		if t := strings.TrimSpace(turns[k]); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
