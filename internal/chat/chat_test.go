package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/voice-mode/internal/apierr"
)

func TestDecodeReply(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"data_stream", "0:\"Hi\"\n0:\" there\"\n", "Hi there"},
		{"data_stream_with_frames", "f:{\"messageId\":\"m1\"}\n0:\"Hel\"\n0:\"lo\\n\\\"you\\\"\"\ne:{\"finishReason\":\"stop\"}\nd:{\"finishReason\":\"stop\"}\n", "Hello\n\"you\""},
		{"crlf", "0:\"a\"\r\n0:\"b\"\r\n", "ab"},
		{"openai_json", `{"choices":[{"index":0,"message":{"role":"assistant","content":"Hello!"}}]}`, "Hello!"},
		{"text_field", `{"text":"plain"}`, "plain"},
		{"content_field", `{"content":"other"}`, "other"},
		{"empty_content", `{"choices":[{"message":{"role":"assistant","content":""}}]}`, ""},
		{"sse_chunks", "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\ndata: {\"choices\":[{\"delta\":{\"content\":\" you\"}}]}\n\ndata: [DONE]\n", "Hi you"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeReply([]byte(tc.body))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeReply_ParseErrors(t *testing.T) {
	for _, body := range []string{
		"",
		"   \n",
		"<html>bad gateway</html>",
		`{}`,
		`{"choices":[{}]}`,
		`"just a string"`,
		"f:{\"messageId\":\"m1\"}\nd:{\"finishReason\":\"stop\"}\n",
		"0:not-json\n",
	} {
		_, err := DecodeReply([]byte(body))
		var pe *ParseError
		assert.ErrorAs(t, err, &pe, "body %q", body)
	}
}

func TestDecodeReply_ErrorParts(t *testing.T) {
	_, err := DecodeReply([]byte("0:\"partial\"\n3:\"rate limited\"\n"))
	var se *StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "rate limited", se.Message)

	_, err = DecodeReply([]byte(`{"error":{"message":"model overloaded"}}`))
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "model overloaded", se.Message)
}

func TestStreamWriterOutputDecodes(t *testing.T) {
	var buf bytes.Buffer
	sw := NewStreamWriter(&buf)
	require.NoError(t, sw.Start("msg-1"))
	require.NoError(t, sw.Text("Hi"))
	require.NoError(t, sw.Text(""))
	require.NoError(t, sw.Text(" there"))
	require.NoError(t, sw.Finish("stop"))

	assert.Equal(t, "f:{\"messageId\":\"msg-1\"}\n0:\"Hi\"\n0:\" there\"\nd:{\"finishReason\":\"stop\"}\n", buf.String())
	got, err := DecodeReply(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "Hi there", got)
}

func TestClient_SendsConversation(t *testing.T) {
	var got completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte("0:\"Sure\"\n0:\", done.\"\n"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "gpt-4.1-nano")
	reply, err := c.Complete(context.Background(), []Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
		{Role: "user", Content: "do it"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Sure, done.", reply)
	assert.Equal(t, "gpt-4.1-nano", got.Model)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, Message{Role: "system", Content: DefaultSystemPrompt}, got.Messages[0])
	assert.Equal(t, "do it", got.Messages[3].Content)
}

func TestClient_HTTPFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{"status_non_2xx", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500); _, _ = w.Write([]byte("oops")) },
			func(t *testing.T, err error) { assert.Equal(t, 500, apierr.Status(err)) }},
		{"bad_body", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("not-json")) },
			func(t *testing.T, err error) {
				var pe *ParseError
				assert.ErrorAs(t, err, &pe)
			}},
		{"empty_choices", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"choices":[]}`)) },
			func(t *testing.T, err error) {
				var pe *ParseError
				assert.ErrorAs(t, err, &pe)
			}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			c := NewClient("https://chat.invalid/api/chat", "", "")
			c.HTTPClient = &http.Client{Timeout: time.Second, Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
				req.URL.Scheme = "http"
				req.URL.Host = srv.Listener.Addr().String()
				return http.DefaultTransport.RoundTrip(req)
			})}
			_, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestClient_NoEndpoint(t *testing.T) {
	_, err := NewClient("", "", "").Complete(context.Background(), nil)
	assert.Error(t, err)
}

func TestOpenAIStreamer(t *testing.T) {
	var req openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", d)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("key")
	cfg.BaseURL = srv.URL + "/v1"
	s := NewOpenAIStreamer(openai.NewClientWithConfig(cfg), "", DefaultSystemPrompt)

	var deltas []string
	err := s.Stream(context.Background(), []Message{{Role: "user", Content: "hey"}}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Equal(t, "gpt-4.1-nano", req.Model)
	assert.True(t, req.Stream)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)

	reply, err := s.Complete(context.Background(), []Message{{Role: "user", Content: "hey"}})
	require.NoError(t, err)
	assert.Equal(t, "Hello", reply)
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
