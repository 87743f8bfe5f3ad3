package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chadiek/voice-mode/internal/apierr"
)

// DefaultSystemPrompt is prepended to every conversation unless overridden.
const DefaultSystemPrompt = "You are a helpful assistant."

const maxReplyBytes = 1 << 20

// Client posts the conversation to a chat completions style endpoint and decodes the reply
// with DecodeReply, so it works against both JSON completions and text data streams.
type Client struct {
	HTTPClient   *http.Client
	Endpoint     string
	APIKey       string
	Model        string
	SystemPrompt string
}

type completionRequest struct {
	Model    string    `json:"model,omitempty"`
	Messages []Message `json:"messages"`
}

func NewClient(endpoint, apiKey, model string) *Client {
	return &Client{
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		Endpoint:     endpoint,
		APIKey:       apiKey,
		Model:        model,
		SystemPrompt: DefaultSystemPrompt,
	}
}

// Complete sends the full conversation and returns the assistant reply.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	if c.Endpoint == "" {
		return "", fmt.Errorf("chat endpoint missing")
	}
	msgs := make([]Message, 0, len(messages)+1)
	if c.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: "system", Content: c.SystemPrompt})
	}
	msgs = append(msgs, messages...)

	reqBody, err := json.Marshal(completionRequest{Model: c.Model, Messages: msgs})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apierr.FromResponse("chat", resp)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return "", fmt.Errorf("chat: read reply: %w", err)
	}
	return DecodeReply(body)
}
