package apierr

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
)

func TestFromResponse(t *testing.T) {
	resp := &http.Response{StatusCode: 429, Body: io.NopCloser(strings.NewReader("slow down"))}
	err := FromResponse("tts", resp)
	assert.Equal(t, 429, err.Status)
	assert.Equal(t, "tts error: status=429 body=slow down", err.Error())
	assert.Equal(t, 429, Status(fmt.Errorf("wrapped: %w", err)))
}

func TestFromOpenAI(t *testing.T) {
	assert.NoError(t, FromOpenAI("stt", nil))

	err := FromOpenAI("stt", &openai.APIError{HTTPStatusCode: 401, Message: "bad key"})
	assert.Equal(t, 401, Status(err))

	err = FromOpenAI("stt", &openai.RequestError{HTTPStatusCode: 503, Err: errors.New("unavailable")})
	assert.Equal(t, 503, Status(err))

	plain := errors.New("dial tcp: refused")
	err = FromOpenAI("stt", plain)
	assert.ErrorIs(t, err, plain)
	assert.Equal(t, 0, Status(err))
}
