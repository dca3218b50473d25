package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/wilhg/claw/pkg/store"
)

var memoryColumns = []string{"id", "content", "embedding", "created_at", "mood", "source_file", "tags", "metadata"}

// InsertMemory stores e. Entries are immutable; inserting an existing id fails.
func (s *Store) InsertMemory(ctx context.Context, e store.MemoryEntry) error {
	if e.ID == "" {
		return fmt.Errorf("insert memory: empty id")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := encodeTags(tags)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	meta, err := encodeJSON(e.Metadata)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	var emb any
	if len(e.Embedding) > 0 {
		emb = encodeVector(e.Embedding)
	}
	q, args := s.builder().Insert(tableMemories).
		Columns(memoryColumns...).
		Values(e.ID, e.Content, emb, e.CreatedAt.UnixNano(), e.Mood, e.SourceFile, tagsJSON, meta).
		Query()
	if err := s.exec(ctx, q, args); err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// GetMemories returns the entries with the given ids.
func (s *Store) GetMemories(ctx context.Context, ids []string) (map[string]store.MemoryEntry, error) {
	out := make(map[string]store.MemoryEntry, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	sel := s.builder().Select(memoryColumns...).
		From(entsql.Table(tableMemories)).
		Where(entsql.In("id", args...))
	err := s.query(ctx, sel, func(rows *entsql.Rows) error {
		e, err := scanMemory(rows)
		if err != nil {
			return err
		}
		out[e.ID] = e
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get memories: %w", err)
	}
	return out, nil
}

// SearchMemories is the lexical half of hybrid search: a case-insensitive
// substring match on content, newest first.
func (s *Store) SearchMemories(ctx context.Context, query string, limit int) ([]store.MemoryEntry, error) {
	sel := s.builder().Select(memoryColumns...).
		From(entsql.Table(tableMemories)).
		Where(entsql.ContainsFold("content", query)).
		OrderBy(entsql.Desc("created_at"), entsql.Desc("id"))
	if limit > 0 {
		sel.Limit(limit)
	}
	return s.collect(ctx, sel, "search memories")
}

// RecentMemories returns entries created after since, newest first.
func (s *Store) RecentMemories(ctx context.Context, since time.Time, limit int) ([]store.MemoryEntry, error) {
	sel := s.builder().Select(memoryColumns...).
		From(entsql.Table(tableMemories)).
		Where(entsql.GT("created_at", since.UnixNano())).
		OrderBy(entsql.Desc("created_at"), entsql.Desc("id"))
	if limit > 0 {
		sel.Limit(limit)
	}
	return s.collect(ctx, sel, "recent memories")
}

// LatestTagged returns the newest entry carrying every tag.
func (s *Store) LatestTagged(ctx context.Context, tags ...string) (store.MemoryEntry, error) {
	preds := make([]*entsql.Predicate, 0, len(tags))
	for _, t := range tags {
		enc, err := encodeTags(t)
		if err != nil {
			return store.MemoryEntry{}, fmt.Errorf("latest tagged: %w", err)
		}
		// Escaped characters leave backslashes that LIKE cannot match
		// portably; such tags are only checked on the decoded rows.
		if !strings.Contains(enc, `\`) {
			preds = append(preds, entsql.Contains("tags", enc))
		}
	}
	sel := s.builder().Select(memoryColumns...).
		From(entsql.Table(tableMemories)).
		OrderBy(entsql.Desc("created_at"), entsql.Desc("id"))
	if len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	// LIKE on the JSON text can over-match; confirm on the decoded tags.
	entries, err := s.collect(ctx, sel, "latest tagged")
	if err != nil {
		return store.MemoryEntry{}, err
	}
	for _, e := range entries {
		if hasAll(e, tags) {
			return e, nil
		}
	}
	return store.MemoryEntry{}, store.ErrNotFound
}

// EachEmbedded calls fn for every entry with an embedding, oldest first.
func (s *Store) EachEmbedded(ctx context.Context, fn func(store.MemoryEntry) error) error {
	sel := s.builder().Select(memoryColumns...).
		From(entsql.Table(tableMemories)).
		Where(entsql.NotNull("embedding")).
		OrderBy("created_at", "id")
	err := s.query(ctx, sel, func(rows *entsql.Rows) error {
		e, err := scanMemory(rows)
		if err != nil {
			return err
		}
		return fn(e)
	})
	if err != nil {
		return fmt.Errorf("each embedded: %w", err)
	}
	return nil
}

func (s *Store) collect(ctx context.Context, sel *entsql.Selector, op string) ([]store.MemoryEntry, error) {
	var out []store.MemoryEntry
	err := s.query(ctx, sel, func(rows *entsql.Rows) error {
		e, err := scanMemory(rows)
		if err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func scanMemory(rows *entsql.Rows) (store.MemoryEntry, error) {
	var (
		e          store.MemoryEntry
		emb        []byte
		createdAt  int64
		sourceFile sql.NullString
		tags       string
		meta       sql.NullString
	)
	if err := rows.Scan(&e.ID, &e.Content, &emb, &createdAt, &e.Mood, &sourceFile, &tags, &meta); err != nil {
		return e, err
	}
	e.CreatedAt = time.Unix(0, createdAt)
	e.SourceFile = sourceFile.String
	vec, err := decodeVector(emb)
	if err != nil {
		return e, fmt.Errorf("memory %s embedding: %w", e.ID, err)
	}
	e.Embedding = vec
	if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
		return e, fmt.Errorf("memory %s tags: %w", e.ID, err)
	}
	if e.Metadata, err = decodeJSON(meta); err != nil {
		return e, fmt.Errorf("memory %s metadata: %w", e.ID, err)
	}
	return e, nil
}

func hasAll(e store.MemoryEntry, tags []string) bool {
	for _, t := range tags {
		if !e.HasTag(t) {
			return false
		}
	}
	return true
}
