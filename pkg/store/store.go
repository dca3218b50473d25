// Package store defines the persistence records and interfaces of the
// orchestration core: raw session messages and long-term memory entries.
// Implementations must provide identical semantics across backends.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Message is one raw conversation message of a session. Messages are
// appended in order and only ever removed as a whole session by compression.
type Message struct {
	ID         string
	SessionID  string
	Role       string
	Content    string
	CreatedAt  time.Time
	ModelUsed  string
	TokensUsed int
	// Metadata is optional; a "mood" key tags the message in compression transcripts.
	Metadata map[string]any
}

// MemoryEntry is an immutable long-term memory.
type MemoryEntry struct {
	ID         string
	Content    string
	Embedding  []float32
	CreatedAt  time.Time
	Mood       string
	SourceFile string
	Tags       []string
	Metadata   map[string]any
}

// HasTag reports whether tag is one of the entry's tags.
func (e MemoryEntry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// SessionStats summarizes the raw messages of one session.
type SessionStats struct {
	SessionID string
	Count     int
	First     time.Time
	Last      time.Time
}

// MessageStore persists raw session messages.
type MessageStore interface {
	// AppendMessage stores m. Empty ID and zero CreatedAt are filled in.
	AppendMessage(ctx context.Context, m Message) (Message, error)
	// ListMessages returns a session's messages in ascending time order.
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)
	// DeleteMessages removes every message of a session and returns how many were removed.
	DeleteMessages(ctx context.Context, sessionID string) (int, error)
	// StaleSessions lists sessions whose newest message is before cutoff and
	// that hold more than minCount messages.
	StaleSessions(ctx context.Context, cutoff time.Time, minCount int) ([]SessionStats, error)
}

// MemoryStore persists memory entries.
type MemoryStore interface {
	InsertMemory(ctx context.Context, e MemoryEntry) error
	// GetMemories returns the entries with the given ids; unknown ids are skipped.
	GetMemories(ctx context.Context, ids []string) (map[string]MemoryEntry, error)
	// SearchMemories returns entries whose content contains query
	// (case-insensitive), newest first, at most limit.
	SearchMemories(ctx context.Context, query string, limit int) ([]MemoryEntry, error)
	// RecentMemories returns entries created after since, newest first, at most limit.
	RecentMemories(ctx context.Context, since time.Time, limit int) ([]MemoryEntry, error)
	// LatestTagged returns the newest entry carrying every tag, or ErrNotFound.
	LatestTagged(ctx context.Context, tags ...string) (MemoryEntry, error)
	// EachEmbedded calls fn for every entry that has an embedding.
	EachEmbedded(ctx context.Context, fn func(MemoryEntry) error) error
}

// Store aggregates message and memory stores.
type Store interface {
	MessageStore
	MemoryStore
	Close() error
}
