// Package memory is the long-term memory subsystem: it writes memory
// entries, answers hybrid lexical and vector queries and compacts long
// sessions into summary entries.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wilhg/claw/pkg/adapters/embedding"
	"github.com/wilhg/claw/pkg/adapters/llm"
	"github.com/wilhg/claw/pkg/adapters/vectorstore"
	"github.com/wilhg/claw/pkg/model"
	"github.com/wilhg/claw/pkg/prompt"
	"github.com/wilhg/claw/pkg/store"
)

// Defaults for compression and search.
const (
	DefaultThreshold   = 100
	DefaultCharBudget  = 4000
	DefaultMinMessages = 20
	DefaultSearchLimit = 10
	DefaultRecentDays  = 7
	RecentLimit        = 50
	// VectorNamespace groups memory vectors in the vector store.
	VectorNamespace = "memories"
)

// Tags of compaction records.
const (
	TagSummary        = "summary"
	TagAutoCompressed = "auto-compressed"
)

// Completer is the part of model.Router the manager needs.
type Completer interface {
	RouteRequest(ctx context.Context, messages []llm.Message, req model.Request) (string, error)
}

// Manager owns the memory store, the vector index and session compression.
type Manager struct {
	store      store.Store
	models     Completer
	vectors    vectorstore.VectorStore
	embedder   embedding.Embedder
	prompts    *prompt.Store
	logger     *slog.Logger
	now        func() time.Time
	threshold  int
	charBudget int
	dims       int

	inflight sync.Map // session id -> struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithVectors enables vector search through vs.
func WithVectors(vs vectorstore.VectorStore) Option { return func(m *Manager) { m.vectors = vs } }

// WithEmbedder sets the embedder used for writes and queries.
func WithEmbedder(e embedding.Embedder) Option { return func(m *Manager) { m.embedder = e } }

// WithDimensions sets the fixed embedding width; other widths are dropped.
func WithDimensions(n int) Option { return func(m *Manager) { m.dims = n } }

// WithThreshold sets the message count at which unforced compression starts.
func WithThreshold(n int) Option { return func(m *Manager) { m.threshold = n } }

// WithCharBudget caps the transcript length sent to the summarizer.
func WithCharBudget(n int) Option { return func(m *Manager) { m.charBudget = n } }

// WithPrompts replaces the built-in prompt store.
func WithPrompts(s *prompt.Store) Option { return func(m *Manager) { m.prompts = s } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// New returns a Manager. models may be nil when compression is not used.
func New(st store.Store, models Completer, opts ...Option) *Manager {
	m := &Manager{
		store:      st,
		models:     models,
		logger:     slog.Default(),
		now:        time.Now,
		threshold:  DefaultThreshold,
		charBudget: DefaultCharBudget,
		dims:       embedding.DefaultDimensions,
	}
	for _, o := range opts {
		o(m)
	}
	if m.prompts == nil {
		m.prompts = prompt.Defaults()
	}
	return m
}

// AppendMessage records a raw session message.
func (m *Manager) AppendMessage(ctx context.Context, msg store.Message) (store.Message, error) {
	return m.store.AppendMessage(ctx, msg)
}

// Messages returns a session's raw messages in ascending order.
func (m *Manager) Messages(ctx context.Context, sessionID string) ([]store.Message, error) {
	return m.store.ListMessages(ctx, sessionID)
}

// Hydrate loads every stored embedding into the vector store. It is needed
// for process-local vector stores after a restart.
func (m *Manager) Hydrate(ctx context.Context) (int, error) {
	if m.vectors == nil {
		return 0, nil
	}
	var batch []vectorstore.Item
	n := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := m.vectors.Upsert(ctx, batch)
		n += len(batch)
		batch = batch[:0]
		return err
	}
	err := m.store.EachEmbedded(ctx, func(e store.MemoryEntry) error {
		if len(e.Embedding) != m.dims {
			return nil
		}
		batch = append(batch, vectorItem(e))
		if len(batch) == 256 {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return n, fmt.Errorf("hydrate vectors: %w", err)
	}
	m.logger.Info("memory vectors hydrated", "count", n)
	return n, nil
}

func vectorItem(e store.MemoryEntry) vectorstore.Item {
	return vectorstore.Item{
		ID:        e.ID,
		Namespace: VectorNamespace,
		Vector:    vectorstore.Vector(e.Embedding),
		Metadata:  map[string]any{"mood": e.Mood},
	}
}

// WriteOptions are the optional fields of Write.
type WriteOptions struct {
	// Mood defaults to MoodAt(now).
	Mood string
	// Tags default to [mood].
	Tags       []string
	SourceFile string
	Metadata   map[string]any
}

// Write stores a new memory entry. Embedding failures are logged and the
// entry is stored without a vector.
func (m *Manager) Write(ctx context.Context, content string, opts WriteOptions) (store.MemoryEntry, error) {
	now := m.now()
	e := store.MemoryEntry{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Content:    content,
		CreatedAt:  now,
		Mood:       opts.Mood,
		SourceFile: opts.SourceFile,
		Tags:       opts.Tags,
		Metadata:   opts.Metadata,
	}
	if e.Mood == "" {
		e.Mood = MoodAt(now)
	}
	if len(e.Tags) == 0 {
		e.Tags = []string{e.Mood}
	}
	e.Embedding = m.embed(ctx, content)
	return e, m.insert(ctx, e)
}

func (m *Manager) insert(ctx context.Context, e store.MemoryEntry) error {
	if err := m.store.InsertMemory(ctx, e); err != nil {
		return err
	}
	if m.vectors != nil && len(e.Embedding) > 0 {
		if err := m.vectors.Upsert(ctx, []vectorstore.Item{vectorItem(e)}); err != nil {
			// The row is durable; a restart re-indexes it through Hydrate.
			m.logger.Warn("vector upsert failed", "memory_id", e.ID, "error", err)
		}
	}
	return nil
}

// embed returns nil when no embedder is configured, embedding fails, or the
// width does not match the configured dimensions.
func (m *Manager) embed(ctx context.Context, text string) []float32 {
	if m.embedder == nil {
		return nil
	}
	v, err := embedding.EmbedOne(ctx, m.embedder, text)
	if err != nil {
		m.logger.Warn("embedding failed, continuing lexical only", "embedder", m.embedder.Name(), "error", err)
		return nil
	}
	if len(v) != m.dims {
		m.logger.Warn("embedding dimension mismatch", "embedder", m.embedder.Name(), "got", len(v), "want", m.dims)
		return nil
	}
	return []float32(v)
}

// Recent returns the entries of the last days days, newest first, at most
// RecentLimit. days <= 0 means DefaultRecentDays.
func (m *Manager) Recent(ctx context.Context, days int) ([]store.MemoryEntry, error) {
	if days <= 0 {
		days = DefaultRecentDays
	}
	return m.store.RecentMemories(ctx, m.now().AddDate(0, 0, -days), RecentLimit)
}

// Search embeds query when an embedder is configured and runs HybridSearch.
func (m *Manager) Search(ctx context.Context, query string, limit int) ([]store.MemoryEntry, error) {
	var vec []float32
	if m.vectors != nil {
		vec = m.embed(ctx, query)
	}
	return m.HybridSearch(ctx, query, vec, limit)
}

// HybridSearch returns lexical matches (newest first) followed by vector
// matches (closest first), without duplicates, at most limit entries. A nil
// queryVec or a manager without vector store searches lexically only.
func (m *Manager) HybridSearch(ctx context.Context, query string, queryVec []float32, limit int) ([]store.MemoryEntry, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	ctx, span := otel.Tracer("memory").Start(ctx, "Manager.Search")
	defer span.End()

	lexical, err := m.store.SearchMemories(ctx, query, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lexical search failed")
		return nil, err
	}
	out := make([]store.MemoryEntry, 0, limit)
	seen := make(map[string]bool, limit)
	add := func(e store.MemoryEntry) {
		if !seen[e.ID] {
			seen[e.ID] = true
			out = append(out, e)
		}
	}
	for _, e := range lexical {
		add(e)
	}

	var vectorHits int
	if m.vectors != nil && len(queryVec) > 0 {
		matches, err := m.vectors.Query(ctx, vectorstore.Vector(queryVec), limit, vectorstore.Filter{Namespace: VectorNamespace})
		if err != nil {
			m.logger.Warn("vector search failed, returning lexical results", "error", err)
		} else {
			ids := make([]string, 0, len(matches))
			for _, mt := range matches {
				if !seen[mt.Item.ID] {
					ids = append(ids, mt.Item.ID)
				}
			}
			byID, err := m.store.GetMemories(ctx, ids)
			if err != nil {
				return nil, err
			}
			// matches are ordered by score desc, i.e. distance asc.
			for _, mt := range matches {
				if e, ok := byID[mt.Item.ID]; ok {
					vectorHits++
					add(e)
				}
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	span.SetAttributes(
		attribute.Int("lexical", len(lexical)),
		attribute.Int("vector", vectorHits),
		attribute.Int("results", len(out)),
	)
	return out, nil
}

// Compaction describes one compressed session.
type Compaction struct {
	SessionID string
	Summary   string
	Entry     store.MemoryEntry
	Messages  int
}

// CompressSession replaces a session's raw messages with one summary entry.
// It does nothing (nil, nil) when the session is empty, when it holds fewer
// than the threshold messages and force is false, or when the session is
// already being compressed. The summary is written before the messages are
// deleted; a summarizer failure returns the error and deletes nothing.
func (m *Manager) CompressSession(ctx context.Context, sessionID string, force bool) (*Compaction, error) {
	if _, busy := m.inflight.LoadOrStore(sessionID, struct{}{}); busy {
		m.logger.Info("compression already running", "session_id", sessionID)
		return nil, nil
	}
	defer m.inflight.Delete(sessionID)

	ctx, span := otel.Tracer("memory").Start(ctx, "Manager.CompressSession")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID), attribute.Bool("force", force))

	msgs, err := m.store.ListMessages(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("messages", len(msgs)))
	if len(msgs) == 0 || (!force && len(msgs) < m.threshold) {
		return nil, nil
	}
	if m.models == nil {
		return nil, errors.New("memory: compression needs a model router")
	}

	text, err := m.prompts.Render(prompt.Compress, prompt.CompressData{Transcript: truncate(transcript(msgs), m.charBudget)})
	if err != nil {
		return nil, err
	}
	summary, err := m.models.RouteRequest(ctx, []llm.Message{llm.User(text)}, model.Request{
		Complexity:  model.Medium,
		Budget:      model.Free,
		Personality: "clinical",
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "summarize failed")
		m.logger.Error("failed to compress session", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("compress session %s: %w", sessionID, err)
	}

	now := m.now()
	entry := store.MemoryEntry{
		ID:        fmt.Sprintf("summary-%s-%d", sessionID, now.UnixMilli()),
		Content:   fmt.Sprintf("## Session Summary (%d messages)\n\n%s", len(msgs), summary),
		CreatedAt: now,
		Mood:      MoodCompressed,
		Tags:      []string{TagSummary, sessionID, TagAutoCompressed},
		Metadata: map[string]any{
			"originalMessageCount": len(msgs),
			"compressedAt":         now.UTC().Format(time.RFC3339Nano),
			"dateRange": map[string]any{
				"from": msgs[0].CreatedAt.UTC().Format(time.RFC3339Nano),
				"to":   msgs[len(msgs)-1].CreatedAt.UTC().Format(time.RFC3339Nano),
			},
		},
	}
	entry.Embedding = m.embed(ctx, entry.Content)
	if err := m.insert(ctx, entry); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("compress session %s: store summary: %w", sessionID, err)
	}
	if _, err := m.store.DeleteMessages(ctx, sessionID); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("compress session %s: delete messages: %w", sessionID, err)
	}
	m.logger.Info("compressed session", "session_id", sessionID, "messages", len(msgs), "summary_id", entry.ID)
	return &Compaction{SessionID: sessionID, Summary: summary, Entry: entry, Messages: len(msgs)}, nil
}

// PeriodicCompression force-compresses every session whose newest message is
// older than olderThanDays days and that holds more than the minimum message
// count. One failing session does not stop the others. It returns the number
// of sessions compressed.
func (m *Manager) PeriodicCompression(ctx context.Context, olderThanDays, minMessages int) (int, error) {
	if minMessages <= 0 {
		minMessages = DefaultMinMessages
	}
	cutoff := m.now().AddDate(0, 0, -olderThanDays)
	sessions, err := m.store.StaleSessions(ctx, cutoff, minMessages)
	if err != nil {
		return 0, err
	}
	compressed := 0
	for _, s := range sessions {
		if ctx.Err() != nil {
			break
		}
		c, err := m.CompressSession(ctx, s.SessionID, true)
		if err != nil {
			m.logger.Warn("periodic compression skipped session", "session_id", s.SessionID, "error", err)
			continue
		}
		if c != nil {
			compressed++
		}
	}
	m.logger.Info("periodic compression finished", "candidates", len(sessions), "compressed", compressed)
	return compressed, nil
}

// SessionSummary returns the content of the newest summary of a session, or
// store.ErrNotFound.
func (m *Manager) SessionSummary(ctx context.Context, sessionID string) (string, error) {
	e, err := m.store.LatestTagged(ctx, TagSummary, sessionID)
	if err != nil {
		return "", err
	}
	return e.Content, nil
}

// transcript renders one "role [mood]: content" line per message. Messages
// without metadata carry no mood tag; metadata without a mood reads neutral.
func transcript(msgs []store.Message) string {
	var sb strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(msg.Role)
		if msg.Metadata != nil {
			mood, _ := msg.Metadata["mood"].(string)
			if mood == "" {
				mood = MoodNeutral
			}
			sb.WriteString(" [" + mood + "]")
		}
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
	}
	return sb.String()
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
