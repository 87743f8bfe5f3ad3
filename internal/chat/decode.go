// Package chat talks to the language-model backend: it sends the conversation,
// decodes the reply body and writes replies as a text data stream.
package chat

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Message is one conversation entry in the chat completions wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ParseError reports a reply body from which no text could be recovered.
type ParseError struct {
	Reason string
	Body   string
}

func (e *ParseError) Error() string {
	if e.Body == "" {
		return "chat: unparsable reply: " + e.Reason
	}
	return fmt.Sprintf("chat: unparsable reply: %s (body=%q)", e.Reason, e.Body)
}

// StreamError is an error part delivered inside a data stream.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return "chat: stream error: " + e.Message }

const bodyPreview = 200

func parseError(reason string, body []byte) *ParseError {
	if len(body) > bodyPreview {
		body = body[:bodyPreview]
	}
	return &ParseError{Reason: reason, Body: string(body)}
}

// DecodeReply extracts the assistant text from a chat response body.
//
// A JSON body is preferred: choices[0].message.content, then a top-level
// "text" or "content" field. Anything else is read as a line-oriented stream:
// either text data-stream parts (`0:"..."`, with `3:` carrying an error) or
// server-sent completion chunks (`data: {...}`). Stream fragments are
// concatenated in order. A body with no recoverable text yields *ParseError;
// an upstream error part yields *StreamError. A well-formed reply whose text
// is empty decodes to "" with no error.
func DecodeReply(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", parseError("empty body", nil)
	}
	if json.Valid(trimmed) {
		return decodePayload(trimmed)
	}
	return decodeStream(trimmed)
}

type completionPayload struct {
	Choices []struct {
		Message *Message `json:"message"`
		Delta   *Message `json:"delta"`
	} `json:"choices"`
	Text    *string         `json:"text"`
	Content *string         `json:"content"`
	Error   json.RawMessage `json:"error"`
}

func decodePayload(body []byte) (string, error) {
	var p completionPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return "", parseError("unexpected JSON shape", body)
	}
	if len(p.Error) > 0 && string(p.Error) != "null" {
		return "", &StreamError{Message: errorText(p.Error)}
	}
	if len(p.Choices) > 0 {
		c := p.Choices[0]
		switch {
		case c.Message != nil:
			return c.Message.Content, nil
		case c.Delta != nil:
			return c.Delta.Content, nil
		}
		return "", parseError("choice without message", body)
	}
	if p.Text != nil {
		return *p.Text, nil
	}
	if p.Content != nil {
		return *p.Content, nil
	}
	return "", parseError("no reply text in payload", body)
}

func errorText(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

func decodeStream(body []byte) (string, error) {
	var (
		b     strings.Builder
		found bool
	)
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			text, ok, err := sseChunk(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			if err != nil {
				return "", err
			}
			if ok {
				b.WriteString(text)
				found = true
			}
			continue
		}
		code, payload, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch code {
		case "0":
			var text string
			if err := json.Unmarshal([]byte(payload), &text); err != nil {
				return "", parseError("malformed text part", []byte(line))
			}
			b.WriteString(text)
			found = true
		case "3":
			var msg string
			if err := json.Unmarshal([]byte(payload), &msg); err != nil {
				msg = payload
			}
			return "", &StreamError{Message: msg}
		}
	}
	if err := sc.Err(); err != nil {
		return "", parseError(err.Error(), nil)
	}
	if !found {
		return "", parseError("no text parts in stream", body)
	}
	return b.String(), nil
}

func sseChunk(data string) (string, bool, error) {
	if data == "[DONE]" || data == "" {
		return "", false, nil
	}
	var p completionPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return "", false, parseError("malformed event chunk", []byte(data))
	}
	if len(p.Error) > 0 && string(p.Error) != "null" {
		return "", false, &StreamError{Message: errorText(p.Error)}
	}
	if len(p.Choices) == 0 {
		return "", false, nil
	}
	c := p.Choices[0]
	if c.Delta != nil {
		return c.Delta.Content, true, nil
	}
	if c.Message != nil {
		return c.Message.Content, true, nil
	}
	return "", false, nil
}
