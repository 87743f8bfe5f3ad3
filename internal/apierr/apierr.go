// Package apierr carries upstream HTTP failures from the speech and chat
// clients so callers can surface the upstream status.
package apierr

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

const maxBody = 4 << 10

// StatusError is a non-2xx response from an upstream service.
type StatusError struct {
	Service string
	Status  int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error: status=%d body=%s", e.Service, e.Status, e.Body)
}

// FromResponse builds a StatusError, reading at most a few KiB of the body.
func FromResponse(service string, resp *http.Response) *StatusError {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	return &StatusError{Service: service, Status: resp.StatusCode, Body: string(b)}
}

// FromOpenAI maps go-openai errors onto StatusError so the status survives.
func FromOpenAI(service string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &StatusError{Service: service, Status: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		body := ""
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &StatusError{Service: service, Status: reqErr.HTTPStatusCode, Body: body}
	}
	return fmt.Errorf("%s: %w", service, err)
}

// Status returns the upstream HTTP status carried by err, or 0.
func Status(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}
