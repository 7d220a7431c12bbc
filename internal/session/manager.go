package session

import (
	"context"
	"errors"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"docchat/internal/storage"
)

var (
	// ErrEmptyQuery is returned when a send is rejected because the query
	// text is empty after trimming.
	ErrEmptyQuery = errors.New("empty query")

	// ErrQueryInFlight is returned when a send is rejected because another
	// query is still outstanding. At most one query may be in flight.
	ErrQueryInFlight = errors.New("query already in flight")

	// ErrSessionNotFound is returned when the history store has no session
	// with the requested id.
	ErrSessionNotFound = errors.New("session not found")
)

// Manager exclusively owns the in-memory session list for the lifetime of
// the process. The remote history store is the durable owner of record: on
// refresh, remote state supersedes local state entirely.
//
// All methods are safe for concurrent use, but the manager performs no
// queuing: a second SendMessage while one is outstanding fails with
// ErrQueryInFlight.
type Manager struct {
	mu       sync.Mutex
	sessions []*Session
	current  string
	fileList []string
	inFlight bool

	history HistoryStore
	queries QueryService
	files   FileStore

	recorder   storage.Recorder
	titleLimit int
	now        func() time.Time
}

func NewManager(history HistoryStore, queries QueryService, files FileStore) *Manager {
	return &Manager{
		history:    history,
		queries:    queries,
		files:      files,
		titleLimit: DefaultTitleLimit,
		now:        time.Now,
	}
}

// SetRecorder wires an optional interaction recorder. Append failures are
// logged and swallowed.
func (m *Manager) SetRecorder(r storage.Recorder) { m.recorder = r }

// SetTitleLimit overrides the rune cap used when deriving session titles.
func (m *Manager) SetTitleLimit(n int) {
	if n > 0 {
		m.titleLimit = n
	}
}

// Refresh replaces the local session list with the remote one. The current
// session keeps its loaded messages; a current session the store does not
// know yet (a fresh empty chat) stays at the head of the list. On failure
// the previous local list is kept.
func (m *Manager) Refresh(ctx context.Context) error {
	summaries, err := m.history.ListSessions(ctx)
	if err != nil {
		log.Printf("⚠️ failed to load history: %v", err)
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	known := make(map[string]*Session, len(m.sessions))
	for _, s := range m.sessions {
		known[s.ID] = s
	}

	next := make([]*Session, 0, len(summaries)+1)
	seen := make(map[string]bool, len(summaries))
	for _, sum := range summaries {
		if prev, ok := known[sum.ID]; ok && prev.ID == m.current {
			prev.Title = sum.Title
			prev.Timestamp = sum.Timestamp
			next = append(next, prev)
		} else {
			next = append(next, &Session{ID: sum.ID, Title: sum.Title, Timestamp: sum.Timestamp})
		}
		seen[sum.ID] = true
	}
	if cur, ok := known[m.current]; ok && !seen[m.current] {
		next = append([]*Session{cur}, next...)
	}
	m.sessions = next
	return nil
}

// RefreshFiles replaces the cached document list with the remote one.
func (m *Manager) RefreshFiles(ctx context.Context) error {
	names, err := m.files.ListFiles(ctx)
	if err != nil {
		log.Printf("⚠️ failed to load files: %v", err)
		return err
	}
	m.mu.Lock()
	m.fileList = names
	m.mu.Unlock()
	return nil
}

// StartNewChat flushes the current session to the history store when it has
// messages, then installs a fresh empty session as current. A flush failure
// is logged and swallowed; local state still advances.
func (m *Manager) StartNewChat(ctx context.Context) Session {
	m.mu.Lock()
	cur := m.findLocked(m.current)
	var flush *Session
	if cur != nil && len(cur.Messages) > 0 {
		c := cur.Clone()
		flush = &c
	}
	m.mu.Unlock()

	if flush != nil {
		if err := m.history.SaveSession(ctx, flush); err != nil {
			log.Printf("⚠️ failed to flush session %s: %v", flush.ID, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s := &Session{
		ID:        m.newIDLocked(),
		Title:     DefaultTitle,
		Messages:  []Message{},
		Timestamp: nowMillis(m.now),
	}
	m.sessions = append([]*Session{s}, m.sessions...)
	m.current = s.ID
	return s.Clone()
}

// LoadSession fetches the full session from the history store and makes it
// current. Loading the already-current session is a no-op. On fetch failure
// or an unknown id the current session is left unchanged.
func (m *Manager) LoadSession(ctx context.Context, id string) error {
	m.mu.Lock()
	if m.current == id {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	s, err := m.history.GetSession(ctx, id)
	if err != nil {
		log.Printf("⚠️ failed to load session %s: %v", id, err)
		return err
	}
	if s == nil {
		log.Printf("⚠️ session %s not found on server", id)
		return ErrSessionNotFound
	}
	if s.Messages == nil {
		s.Messages = []Message{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Most-recently-activated first.
	rest := make([]*Session, 0, len(m.sessions))
	for _, existing := range m.sessions {
		if existing.ID != id {
			rest = append(rest, existing)
		}
	}
	m.sessions = append([]*Session{s}, rest...)
	m.current = id
	return nil
}

// DeleteSession removes a session from the history store. When the deleted
// session was current, a fresh empty session becomes current. On failure
// local state is unchanged.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	if err := m.history.DeleteSession(ctx, id); err != nil {
		log.Printf("⚠️ failed to delete session %s: %v", id, err)
		return err
	}

	m.mu.Lock()
	wasCurrent := m.current == id
	rest := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.ID != id {
			rest = append(rest, s)
		}
	}
	m.sessions = rest
	if wasCurrent {
		m.current = ""
	}
	m.mu.Unlock()

	// Reload the remote list; local removal above already guarantees the
	// deleted session does not resurface when the reload fails.
	_ = m.Refresh(ctx)
	if wasCurrent {
		m.StartNewChat(ctx)
	}
	return nil
}

// PendingQuery carries a prepared query between BeginSend and CompleteSend.
type PendingQuery struct {
	SessionID string
	Query     string
	History   []Turn
}

// BeginSend validates and stages an outgoing query: it installs a session if
// none is current, derives the title from the first user message, appends
// the user message, persists the session, and marks the query in flight.
// The contextual history excludes the just-added user message.
func (m *Manager) BeginSend(ctx context.Context, text string) (*PendingQuery, error) {
	query := strings.TrimSpace(text)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	m.mu.Lock()
	if m.inFlight {
		m.mu.Unlock()
		return nil, ErrQueryInFlight
	}
	cur := m.findLocked(m.current)
	if cur == nil {
		cur = &Session{
			ID:        m.newIDLocked(),
			Title:     DefaultTitle,
			Messages:  []Message{},
			Timestamp: nowMillis(m.now),
		}
		m.sessions = append([]*Session{cur}, m.sessions...)
		m.current = cur.ID
	}
	if cur.Title == DefaultTitle {
		cur.Title = DeriveTitle(query, m.titleLimit)
	}
	turns := Turns(cur.Messages)
	cur.Messages = append(cur.Messages, Message{
		Text:      query,
		Role:      RoleUser,
		Sources:   []Source{},
		Timestamp: nowMillis(m.now),
	})
	m.inFlight = true
	snapshot := cur.Clone()
	m.mu.Unlock()

	m.persist(ctx, &snapshot)

	return &PendingQuery{SessionID: snapshot.ID, Query: query, History: turns}, nil
}

// CompleteSend issues the staged query and appends the bot answer. Any
// failure (transport, server status, malformed body) collapses into the
// fixed fallback message; the cause is logged, not surfaced.
func (m *Manager) CompleteSend(ctx context.Context, pending *PendingQuery) Message {
	answer, err := m.queries.Query(ctx, pending.Query, pending.History)
	bot := Message{Role: RoleBot, Sources: []Source{}, Timestamp: nowMillis(m.now)}
	if err != nil {
		log.Printf("❌ query failed: %v", err)
		bot.Text = FallbackAnswer
	} else {
		bot.Text = answer.Text
		if answer.Sources != nil {
			bot.Sources = answer.Sources
		}
	}

	m.mu.Lock()
	var snapshot *Session
	if cur := m.findLocked(pending.SessionID); cur != nil {
		cur.Messages = append(cur.Messages, bot)
		c := cur.Clone()
		snapshot = &c
	}
	m.inFlight = false
	m.mu.Unlock()

	if snapshot != nil {
		m.persist(ctx, snapshot)
	}
	if m.recorder != nil {
		ev := storage.Event{
			Timestamp: m.now().UTC(),
			SessionID: pending.SessionID,
			Query:     pending.Query,
			Answer:    bot.Text,
			Failed:    err != nil,
		}
		if rerr := m.recorder.AppendInteraction(ev); rerr != nil {
			log.Printf("⚠️ failed to record interaction: %v", rerr)
		}
	}
	return bot
}

// SendMessage runs the full send pipeline synchronously. Interactive
// surfaces use BeginSend/CompleteSend instead so they can render the user
// message and a transient placeholder while the query is outstanding.
func (m *Manager) SendMessage(ctx context.Context, text string) (Message, error) {
	pending, err := m.BeginSend(ctx, text)
	if err != nil {
		return Message{}, err
	}
	return m.CompleteSend(ctx, pending), nil
}

// UploadFile sends a document to the file store. On success the cached file
// list is refreshed and a synthetic user message is appended to the current
// session, persisted like any other message.
func (m *Manager) UploadFile(ctx context.Context, name string, r io.Reader) (string, error) {
	serverMsg, err := m.files.UploadFile(ctx, name, r)
	if err != nil {
		log.Printf("❌ upload of %s failed: %v", name, err)
		return "", err
	}

	// A stale file list after a refresh failure is tolerated; the next
	// refresh catches up.
	_ = m.RefreshFiles(ctx)

	m.mu.Lock()
	var snapshot *Session
	if cur := m.findLocked(m.current); cur != nil {
		cur.Messages = append(cur.Messages, Message{
			Text:      "Uploaded file: " + name,
			Role:      RoleUser,
			Sources:   []Source{},
			Timestamp: nowMillis(m.now),
		})
		c := cur.Clone()
		snapshot = &c
	}
	m.mu.Unlock()

	if snapshot != nil {
		m.persist(ctx, snapshot)
	}
	return serverMsg, nil
}

// DeleteFile removes a document from the file store and refreshes the cached
// list. Interactive confirmation is the caller's responsibility; the server
// performs none.
func (m *Manager) DeleteFile(ctx context.Context, name string) error {
	if err := m.files.DeleteFile(ctx, name); err != nil {
		log.Printf("❌ failed to delete file %s: %v", name, err)
		return err
	}
	_ = m.RefreshFiles(ctx)
	return nil
}

// Sessions returns the session list, most recently created or activated
// first.
func (m *Manager) Sessions() []Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Summary, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, Summary{ID: s.ID, Title: s.Title, Timestamp: s.Timestamp})
	}
	return out
}

// Current returns a copy of the current session, if any.
func (m *Manager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.findLocked(m.current)
	if cur == nil {
		return Session{}, false
	}
	return cur.Clone(), true
}

// CurrentID returns the id of the current session, or "" when none is
// installed yet.
func (m *Manager) CurrentID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Files returns the cached document list.
func (m *Manager) Files() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.fileList...)
}

// InFlight reports whether a query is outstanding.
func (m *Manager) InFlight() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

func (m *Manager) persist(ctx context.Context, s *Session) {
	if err := m.history.SaveSession(ctx, s); err != nil {
		log.Printf("⚠️ failed to save session %s: %v", s.ID, err)
	}
}

func (m *Manager) findLocked(id string) *Session {
	if id == "" {
		return nil
	}
	for _, s := range m.sessions {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// newIDLocked generates a millisecond timestamp token, bumped past any
// collision with an existing session created in the same millisecond.
func (m *Manager) newIDLocked() string {
	ts := nowMillis(m.now)
	for {
		id := strconv.FormatInt(ts, 10)
		if m.findLocked(id) == nil {
			return id
		}
		ts++
	}
}
