package openai

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/manash/antika/internal/provider"
	"github.com/manash/antika/pkg/models"
)

const chatMaxTokens = 1024

// chatSession keeps the full turn history and replays it on every request.
type chatSession struct {
	client    *goopenai.Client
	model     string
	reasoning bool
	log       *logrus.Entry

	mu       sync.Mutex
	messages []goopenai.ChatCompletionMessage
}

// OpenChat starts a conversation whose first message is systemInstruction.
func (p *Provider) OpenChat(systemInstruction string) (provider.ChatSession, error) {
	if p.apiKey == "" {
		return nil, models.ConfigurationError(provider.MissingKeyMessage, provider.ErrAPIKeyRequired)
	}

	return &chatSession{
		client:    p.chatClient,
		model:     p.model,
		reasoning: p.reasoning(),
		log:       p.log.WithField("chat", true),
		messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: systemInstruction},
		},
	}, nil
}

// Send appends message as a user turn and returns the assistant reply. A
// failed request leaves the history untouched.
func (s *chatSession) Send(ctx context.Context, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(slices.Clone(s.messages), goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: message,
	})

	req := goopenai.ChatCompletionRequest{
		Model:    s.model,
		Messages: turns,
	}
	if s.reasoning {
		req.MaxCompletionTokens = chatMaxTokens
	} else {
		req.MaxTokens = chatMaxTokens
	}

	s.log.WithField("turns", len(turns)).Debug("sending chat request")

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *goopenai.APIError
		if errors.As(err, &apiErr) {
			s.log.WithField("status", apiErr.HTTPStatusCode).Error(apiErr.Message)
		} else {
			s.log.WithError(err).Error("chat request failed")
		}
		return "", fmt.Errorf("%w: %w", provider.ErrChatFailed, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no response choices", provider.ErrChatFailed)
	}

	reply := resp.Choices[0].Message.Content
	s.messages = append(turns, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleAssistant,
		Content: reply,
	})
	return reply, nil
}
