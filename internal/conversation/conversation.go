// Package conversation runs follow-up chats about an appraised item.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/manash/antika/internal/logging"
	"github.com/manash/antika/internal/provider"
	"github.com/manash/antika/pkg/models"
)

// ErrBusy is returned by Send while an earlier reply is still outstanding.
var ErrBusy = errors.New("waiting for the previous reply")

const (
	suggestionsStart = "|||SUGGESTIONS_START|||"
	suggestionsEnd   = "|||SUGGESTIONS_END|||"
)

var suggestionBlock = regexp.MustCompile(`(?s)` + regexp.QuoteMeta(suggestionsStart) + `(.*?)` + regexp.QuoteMeta(suggestionsEnd))

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one line of the local transcript.
type Turn struct {
	Role Role
	Text string
}

// Reply is an assistant answer split into display text and follow-up
// suggestions.
type Reply struct {
	DisplayText string
	Suggestions []string
}

// ParseReply extracts the suggestion block from raw. It never fails: a
// missing or malformed block yields the whole text and no suggestions.
func ParseReply(raw string) Reply {
	m := suggestionBlock.FindStringSubmatchIndex(raw)
	if m == nil {
		return Reply{DisplayText: raw}
	}

	var suggestions []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw[m[2]:m[3]])), &suggestions); err != nil {
		logging.Component("conversation").WithError(err).Debug("malformed suggestion block")
		return Reply{DisplayText: raw}
	}

	display := strings.TrimSpace(raw[:m[0]] + raw[m[1]:])
	return Reply{DisplayText: display, Suggestions: suggestions}
}

// Client opens chat sessions through a backend.
type Client struct {
	opener   provider.ChatOpener
	language string
	log      *logrus.Entry
}

// NewClient returns a client that answers in language. A nil opener means
// no credential is configured; Open then fails with a configuration error.
func NewClient(opener provider.ChatOpener, language string) *Client {
	return &Client{
		opener:   opener,
		language: language,
		log:      logging.Component("conversation"),
	}
}

// Open starts a session about record. The transcript begins with a local
// greeting and the default suggestions.
func (c *Client) Open(record *models.AnalysisRecord) (*Session, error) {
	if c.opener == nil {
		return nil, models.ConfigurationError(provider.MissingKeyMessage, provider.ErrAPIKeyRequired)
	}
	if record == nil {
		return nil, models.ValidationError("no analysis to talk about")
	}

	backend, err := c.opener.OpenChat(SystemInstruction(record, c.language))
	if err != nil {
		return nil, err
	}

	p := phrasesFor(c.language)
	return &Session{
		backend:     backend,
		phrases:     p,
		log:         c.log.WithField("title", record.Title),
		transcript:  []Turn{{Role: RoleAssistant, Text: fmt.Sprintf(p.greeting, record.Title)}},
		suggestions: append([]string(nil), p.suggestions...),
	}, nil
}

// Session is a single conversation. Turns are strictly sequential.
type Session struct {
	backend provider.ChatSession
	phrases phrases
	log     *logrus.Entry

	mu          sync.Mutex
	waiting     bool
	transcript  []Turn
	suggestions []string
}

// Send forwards text and returns the parsed reply. Backend failures are
// turned into a fixed apology so the session never gets stuck; the only
// errors returned are ErrBusy and validation of empty input.
func (s *Session) Send(ctx context.Context, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, models.ValidationError("message is empty")
	}

	s.mu.Lock()
	if s.waiting {
		s.mu.Unlock()
		return Reply{}, ErrBusy
	}
	s.waiting = true
	s.suggestions = nil
	s.transcript = append(s.transcript, Turn{Role: RoleUser, Text: text})
	s.mu.Unlock()

	raw, err := s.backend.Send(ctx, text)

	var reply Reply
	if err != nil {
		s.log.WithError(err).Error("chat turn failed")
		reply = Reply{DisplayText: s.phrases.apology}
	} else {
		reply = ParseReply(raw)
	}

	s.mu.Lock()
	s.waiting = false
	s.transcript = append(s.transcript, Turn{Role: RoleAssistant, Text: reply.DisplayText})
	s.suggestions = reply.Suggestions
	s.mu.Unlock()

	return reply, nil
}

// Waiting reports whether a reply is outstanding.
func (s *Session) Waiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiting
}

func (s *Session) Transcript() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.transcript...)
}

// Suggestions returns the follow-ups offered by the latest reply.
func (s *Session) Suggestions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.suggestions...)
}
