package chat

import (
	"context"
	"errors"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chadiek/voice-mode/internal/apierr"
)

// OpenAIStreamer streams chat completions from the OpenAI API.
type OpenAIStreamer struct {
	client       *openai.Client
	model        string
	systemPrompt string
}

func NewOpenAIStreamer(client *openai.Client, model, systemPrompt string) *OpenAIStreamer {
	if model == "" {
		model = "gpt-4.1-nano"
	}
	return &OpenAIStreamer{client: client, model: model, systemPrompt: systemPrompt}
}

// Stream calls onDelta with each text fragment of the reply, in order.
func (o *OpenAIStreamer) Stream(ctx context.Context, messages []Message, onDelta func(string) error) error {
	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: o.toOpenAI(messages),
		Stream:   true,
	}
	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return apierr.FromOpenAI("chat", err)
	}
	defer stream.Close()
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return apierr.FromOpenAI("chat", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if d := resp.Choices[0].Delta.Content; d != "" {
			if err := onDelta(d); err != nil {
				return err
			}
		}
	}
}

// Complete collects the streamed reply.
func (o *OpenAIStreamer) Complete(ctx context.Context, messages []Message) (string, error) {
	var b strings.Builder
	err := o.Stream(ctx, messages, func(d string) error {
		b.WriteString(d)
		return nil
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

func (o *OpenAIStreamer) toOpenAI(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if o.systemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: o.systemPrompt})
	}
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case "assistant":
			role = openai.ChatMessageRoleAssistant
		case "system":
			role = openai.ChatMessageRoleSystem
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}
