// Package session holds the per-room conversation state: the rolling
// summary, the recent message history and, for immersive rooms, the persona
// prompt. Sessions live in a Store (process memory or Redis) and are
// mirrored into the chat room's summary column after every turn.
package session

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"

	"github.com/tbourn/go-movie-chat/internal/llm"
)

// ErrLocked is returned by Lock when the room stays busy until ctx ends.
var ErrLocked = errors.New("session: room is busy")

// Session is the conversation state of one room.
type Session struct {
	RoomID   string        `json:"-"`
	Summary  string        `json:"summary"`
	Messages []llm.Message `json:"messages"`
	Persona  string        `json:"persona,omitempty"`
}

// New returns an empty session for roomID.
func New(roomID string) *Session { return &Session{RoomID: roomID} }

// Decode restores a session from its serialized form. Empty input yields an
// empty session.
func Decode(roomID string, b []byte) (*Session, error) {
	s := New(roomID)
	if len(b) == 0 || string(b) == "null" {
		return s, nil
	}
	if err := json.Unmarshal(b, s); err != nil {
		return nil, err
	}
	s.RoomID = roomID
	return s, nil
}

// Encode serializes the session as {summary, messages, persona}.
func (s *Session) Encode() ([]byte, error) { return json.Marshal(s) }

// Append records one completed turn.
func (s *Session) Append(user, ai string) {
	s.Messages = append(s.Messages, llm.User(user), llm.Assistant(ai))
}

// HistoryRunes is the rune length of the message history.
func (s *Session) HistoryRunes() int {
	n := 0
	for _, m := range s.Messages {
		n += utf8.RuneCountInString(m.Content)
	}
	return n
}

// TakeOldest removes and returns the oldest messages, keeping the most recent
// turn (two messages) so the model still sees the last exchange.
func (s *Session) TakeOldest(budget int) []llm.Message {
	if s.HistoryRunes() <= budget || len(s.Messages) <= 2 {
		return nil
	}
	cut := len(s.Messages) - 2
	out := append([]llm.Message(nil), s.Messages[:cut]...)
	s.Messages = append([]llm.Message(nil), s.Messages[cut:]...)
	return out
}

// Transcript renders the history as "role: content" lines.
func Transcript(msgs []llm.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// Store persists sessions and serializes turns on the same room.
type Store interface {
	// Load returns the stored session or ok=false.
	Load(ctx context.Context, roomID string) (s *Session, ok bool, err error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, roomID string) error
	// Lock blocks until the caller owns roomID or ctx ends.
	Lock(ctx context.Context, roomID string) (unlock func(), err error)
}
