package history

import (
	"fmt"
	"strings"
	"time"
)

// TurnKind distinguishes questions from answers in a transcript
type TurnKind string

const (
	Question TurnKind = "question"
	Answer   TurnKind = "answer"
)

// idLayout matches JavaScript's Date.toISOString output
const idLayout = "2006-01-02T15:04:05.000"

// nameLength is how many characters of the first turn name a session
const nameLength = 20

// DefaultSessionName is used when a transcript has no turns
const DefaultSessionName = "GPT Conversation"

// Turn represents a single question or answer in a conversation
type Turn struct {
	Kind   TurnKind `json:"type"`
	Text   string   `json:"text"`
	Images []string `json:"image,omitempty"` // base64 payloads, answers only
}

// Clone returns a copy of the turn that shares no memory with t. An empty
// image list becomes nil, which is how it reads back from the document.
func (t Turn) Clone() Turn {
	c := t
	c.Images = nil
	if len(t.Images) > 0 {
		c.Images = make([]string, len(t.Images))
		copy(c.Images, t.Images)
	}
	return c
}

// Transcript is the ordered list of turns of one conversation
type Transcript []Turn

// Clone deep-copies the transcript
func (tr Transcript) Clone() Transcript {
	out := make(Transcript, len(tr))
	for i, turn := range tr {
		out[i] = turn.Clone()
	}
	return out
}

// Session represents a saved, immutable conversation
type Session struct {
	ID           string     `json:"id"`
	Timestamp    string     `json:"timestamp"`
	Name         string     `json:"name"`
	Conversation Transcript `json:"conversation"`
}

// NewSession builds a session saved at the given instant
func NewSession(at time.Time, conversation Transcript) Session {
	id := FormatID(at)
	return Session{
		ID:           id,
		Timestamp:    id,
		Name:         SessionName(conversation),
		Conversation: conversation.Clone(),
	}
}

// Clone deep-copies the session
func (s Session) Clone() Session {
	c := s
	c.Conversation = s.Conversation.Clone()
	return c
}

// SavedAt parses the session timestamp
func (s Session) SavedAt() (time.Time, error) {
	return ParseID(s.Timestamp)
}

// Validate checks the fields a stored session must carry
func (s Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session has no id")
	}
	// The id is a path segment of the remote key and of exported image names
	if strings.ContainsAny(s.ID, `/\`) || s.ID == "." || s.ID == ".." {
		return fmt.Errorf("session id %q is not a valid path segment", s.ID)
	}
	for i, turn := range s.Conversation {
		if turn.Kind != Question && turn.Kind != Answer {
			return fmt.Errorf("session %s: turn %d has unknown type %q", s.ID, i, turn.Kind)
		}
	}
	return nil
}

// SessionName derives the display name of a transcript: the first 20
// characters of its first turn followed by "..."
func SessionName(conversation Transcript) string {
	if len(conversation) == 0 {
		return DefaultSessionName
	}
	runes := []rune(conversation[0].Text)
	if len(runes) > nameLength {
		runes = runes[:nameLength]
	}
	return string(runes) + "..."
}

// FormatID renders t as a session id (UTC, millisecond precision)
func FormatID(t time.Time) string {
	return t.UTC().Format(idLayout) + "Z"
}

// ParseID is the inverse of FormatID
func ParseID(id string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, id)
}
