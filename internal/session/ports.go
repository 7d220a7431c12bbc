package session

import (
	"context"
	"io"
)

// HistoryStore is the remote owner of record for sessions. On load, remote
// state supersedes local state entirely; there is no merge.
type HistoryStore interface {
	// ListSessions returns all sessions, most recent first.
	ListSessions(ctx context.Context) ([]Summary, error)
	// GetSession returns the full session, or (nil, nil) when the store
	// has no session with that id.
	GetSession(ctx context.Context, id string) (*Session, error)
	// SaveSession upserts a session.
	SaveSession(ctx context.Context, s *Session) error
	// DeleteSession removes a session.
	DeleteSession(ctx context.Context, id string) error
}

// QueryService answers a single-turn question with contextual history.
type QueryService interface {
	Query(ctx context.Context, query string, history []Turn) (Answer, error)
}

// FileStore manages the uploaded document set.
type FileStore interface {
	ListFiles(ctx context.Context) ([]string, error)
	// UploadFile ingests a new document and returns the server's message.
	UploadFile(ctx context.Context, name string, r io.Reader) (string, error)
	// DeleteFile removes a document and its derived index data.
	DeleteFile(ctx context.Context, name string) error
}

// StatusService probes backend health.
type StatusService interface {
	Status(ctx context.Context) (Status, error)
}
