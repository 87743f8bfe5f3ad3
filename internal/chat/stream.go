package chat

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// StreamWriter emits a text data stream: one prefixed JSON part per line.
// `f:` opens a message, `0:` carries text, `3:` an error and `d:` finishes.
type StreamWriter struct {
	w io.Writer
}

func NewStreamWriter(w io.Writer) *StreamWriter { return &StreamWriter{w: w} }

func (s *StreamWriter) Start(messageID string) error {
	return s.part("f", map[string]string{"messageId": messageID})
}

func (s *StreamWriter) Text(delta string) error {
	if delta == "" {
		return nil
	}
	return s.part("0", delta)
}

func (s *StreamWriter) Error(msg string) error { return s.part("3", msg) }

func (s *StreamWriter) Finish(reason string) error {
	return s.part("d", map[string]string{"finishReason": reason})
}

func (s *StreamWriter) part(code string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "%s:%s\n", code, b); err != nil {
		return err
	}
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
