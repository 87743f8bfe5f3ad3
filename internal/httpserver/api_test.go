package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/voice-mode/internal/audio"
	"github.com/chadiek/voice-mode/internal/chat"
	"github.com/chadiek/voice-mode/internal/config"
	"github.com/chadiek/voice-mode/internal/livekit"
	"github.com/chadiek/voice-mode/internal/providers"
	"github.com/chadiek/voice-mode/internal/stt"
)

type fakeSynth struct {
	speech audio.Speech
	err    error
	got    string
}

func (f *fakeSynth) Synthesize(_ context.Context, text, _ string) (audio.Speech, error) {
	f.got = text
	return f.speech, f.err
}

type fakeChat struct{}

func (fakeChat) Complete(context.Context, []chat.Message) (string, error) { return "ok", nil }

// openAIServer fakes the transcription and streaming chat endpoints.
func openAIServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("language") == "xx" {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "hallo welt"})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range []string{"Hi", " there"} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", d)
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testServer(t *testing.T, cfg config.Config, synth *fakeSynth) *Server {
	t.Helper()
	oc := openai.DefaultConfig("sk-test")
	oc.BaseURL = openAIServer(t).URL + "/v1"
	client := openai.NewClientWithConfig(oc)
	return New(cfg, WithProviders(providers.Set{
		Transcriber: stt.NewWhisper(client, ""),
		Chat:        fakeChat{},
		Synthesizer: synth,
		Whisper:     stt.NewWhisper(client, ""),
		Streamer:    chat.NewOpenAIStreamer(client, "", ""),
	}))
}

func serve(s *Server, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, r)
	return w
}

func jsonRequest(path, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func audioUpload(t *testing.T, language string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("audio", "clip.webm")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("fake-audio"))
	if language != "" {
		require.NoError(t, mw.WriteField("language", language))
	}
	require.NoError(t, mw.Close())
	r := httptest.NewRequest(http.MethodPost, "/api/whisper-stt", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func TestWhisperSTT(t *testing.T) {
	s := testServer(t, config.Config{}, &fakeSynth{})

	w := serve(s, audioUpload(t, "de"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"text":"hallo welt"}`, w.Body.String())

	w = serve(s, audioUpload(t, "xx"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "error")

	r := httptest.NewRequest(http.MethodPost, "/api/whisper-stt", strings.NewReader(""))
	r.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	assert.Equal(t, http.StatusBadRequest, serve(s, r).Code)
}

func TestTTS(t *testing.T) {
	synth := &fakeSynth{speech: audio.Speech{Data: []byte("ID3mp3"), Format: audio.FormatMP3}}
	s := testServer(t, config.Config{}, synth)

	w := serve(s, jsonRequest("/api/tts", `{"text":"Hello"}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/mpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "ID3mp3", w.Body.String())
	assert.Equal(t, "Hello", synth.got)

	assert.Equal(t, http.StatusBadRequest, serve(s, jsonRequest("/api/tts", `{"text":"  "}`)).Code)
}

func TestTTS_PCMServedAsWAV(t *testing.T) {
	synth := &fakeSynth{speech: audio.Speech{Data: make([]byte, 960), Format: audio.FormatPCM16, SampleRate: 48000}}
	w := serve(testServer(t, config.Config{}, synth), jsonRequest("/api/tts", `{"text":"Hello"}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/wav", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("RIFF")))
}

func TestTTS_UpstreamFailure(t *testing.T) {
	synth := &fakeSynth{err: audio.ErrNoSpeech}
	w := serve(testServer(t, config.Config{}, synth), jsonRequest("/api/tts", `{"text":"Hello"}`))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestChatDataStream(t *testing.T) {
	s := testServer(t, config.Config{}, &fakeSynth{})
	w := serve(s, jsonRequest("/api/chat", `{"messages":[{"role":"user","content":"Hello"}]}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "v1", w.Header().Get("X-Vercel-AI-Data-Stream"))

	body := w.Body.String()
	assert.True(t, strings.HasPrefix(body, `f:{"messageId":"msg-`))
	assert.Contains(t, body, "0:\"Hi\"\n0:\" there\"\n")
	assert.Contains(t, body, `d:{"finishReason":"stop"}`)

	reply, err := chat.DecodeReply(w.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "Hi there", reply)

	assert.Equal(t, http.StatusBadRequest, serve(s, jsonRequest("/api/chat", `{"messages":[]}`)).Code)
}

func TestLiveKitToken(t *testing.T) {
	cfg := config.Config{LiveKitAPIKey: "APIkey", LiveKitAPISecret: "secret", LiveKitServerURL: "wss://lk.example.com"}
	s := New(cfg)

	w := serve(s, jsonRequest("/api/livekit-token", `{"identity":"alice"}`))
	require.Equal(t, http.StatusOK, w.Code)
	var cred livekit.Credential
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cred))
	assert.Equal(t, "wss://lk.example.com", cred.ServerURL)
	claims, err := livekit.NewIssuer("APIkey", "secret", "", 0).Verify(cred.Token)
	require.NoError(t, err)
	assert.Equal(t, livekit.DefaultRoom, claims.Video.Room)

	assert.Equal(t, http.StatusBadRequest, serve(s, jsonRequest("/api/livekit-token", `{"identity":""}`)).Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(New(config.Config{}), jsonRequest("/api/livekit-token", `{"identity":"alice"}`)).Code)
}

func TestTwilioVoice_RequiresSignature(t *testing.T) {
	s := testServer(t, config.Config{TwilioAuthToken: "tok", PublicBaseURL: "https://voice.example.com"}, &fakeSynth{})
	r := httptest.NewRequest(http.MethodPost, "/twilio/voice", strings.NewReader("CallSid=CA1"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("X-Twilio-Signature", "bogus")
	assert.Equal(t, http.StatusUnauthorized, serve(s, r).Code)
}
