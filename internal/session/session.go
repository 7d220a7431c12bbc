package session

import (
	"strings"
	"time"
)

const (
	// DefaultTitle is the placeholder title of a session before its first
	// user message arrives.
	DefaultTitle = "New Chat"

	// FallbackAnswer is appended as a bot message when a query fails for
	// any reason. Failures are not distinguished to the user.
	FallbackAnswer = "Sorry, something went wrong."

	// DefaultTitleLimit is the rune cap applied when deriving a session
	// title from the first user message.
	DefaultTitleLimit = 30
)

// Message roles as stored in session history.
const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// Query-history roles expected by the query service.
const (
	turnRoleUser  = "user"
	turnRoleModel = "model"
)

// Source is a citation returned alongside a generated answer. The client
// treats it as opaque beyond display.
type Source struct {
	Document string `json:"source"`
	ChunkID  *int   `json:"chunk_id,omitempty"`
	Excerpt  string `json:"text"`
}

// Message is a single transcript entry. Messages are append-only and never
// mutated after creation; Sources is empty for user messages.
type Message struct {
	Text      string   `json:"text"`
	Role      string   `json:"type"`
	Sources   []Source `json:"sources"`
	Timestamp int64    `json:"timestamp"`
}

// Session is one conversation thread. The ID is a client-generated
// millisecond timestamp token; Timestamp is maintained by the history store.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	Timestamp int64     `json:"timestamp,omitempty"`
}

// Summary is the list form of a session as returned by the history store.
type Summary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Turn is one entry of the contextual history sent with a query.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Answer is the query service result.
type Answer struct {
	Text    string
	Sources []Source
}

// Status is the backend health probe result.
type Status struct {
	Status     string `json:"status"`
	ChunkCount int    `json:"chunk_count"`
}

// Running reports whether the backend describes itself as running.
func (s Status) Running() bool { return s.Status == "running" }

// Clone returns a deep copy so callers can render without holding manager
// state.
func (s *Session) Clone() Session {
	out := *s
	out.Messages = append([]Message(nil), s.Messages...)
	return out
}

// Turns maps prior messages to the query-history wire form, preserving
// order. Bot messages are relabeled "model" for the query service.
func Turns(msgs []Message) []Turn {
	turns := make([]Turn, 0, len(msgs))
	for _, msg := range msgs {
		role := turnRoleUser
		if msg.Role == RoleBot {
			role = turnRoleModel
		}
		turns = append(turns, Turn{Role: role, Content: msg.Text})
	}
	return turns
}

// DeriveTitle truncates the first user message to at most limit runes,
// appending an ellipsis when cut.
func DeriveTitle(text string, limit int) string {
	if limit <= 0 {
		limit = DefaultTitleLimit
	}
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit]) + "..."
}

func nowMillis(now func() time.Time) int64 {
	return now().UnixMilli()
}
