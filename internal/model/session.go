package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultTitle marks a session whose title has not been derived from a prompt yet.
const DefaultTitle = "New Chat"

const (
	titleMaxLen  = 50
	titleWideLen = 100
	titleMinLen  = 10
)

type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionSummary is the list view of a session.
type SessionSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
}

func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		ID:           s.ID,
		Title:        s.Title,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		MessageCount: len(s.Messages),
	}
}

func (s *Session) Clone() *Session {
	out := *s
	if s.Messages != nil {
		out.Messages = make([]Message, len(s.Messages))
		for i, m := range s.Messages {
			out.Messages[i] = m.Clone()
		}
	}
	return &out
}

// FindMessage returns the index of the message with id, or -1.
func (s *Session) FindMessage(id string) int {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// FirstUserText returns the text of the first user message, or "".
func (s *Session) FirstUserText() (string, bool) {
	for _, m := range s.Messages {
		if m.Role != RoleUser {
			continue
		}
		var b strings.Builder
		for _, p := range m.Parts {
			if p.Type == PartText {
				b.WriteString(p.Text)
			}
		}
		return b.String(), true
	}
	return "", false
}

// HasPlaceholderTitle reports whether the title still needs to be derived.
func (s *Session) HasPlaceholderTitle() bool {
	return s.Title == "" || s.Title == DefaultTitle
}

// DeriveTitle builds a session title from the first prompt: up to 50
// characters with an ellipsis when cut, widened to 100 when the cut result
// would be shorter than 10 characters.
func DeriveTitle(prompt string) string {
	p := strings.TrimSpace(prompt)
	if p == "" {
		return DefaultTitle
	}
	title := truncate(p, titleMaxLen)
	if utf8.RuneCountInString(strings.TrimSpace(strings.TrimSuffix(title, "..."))) < titleMinLen {
		title = truncate(p, titleWideLen)
	}
	return title
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
