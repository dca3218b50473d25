package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/wilhg/claw/pkg/store"
)

var messageColumns = []string{"id", "session_id", "role", "content", "created_at", "model_used", "tokens_used", "metadata"}

// AppendMessage stores m. Generated ids are UUIDv7 so that (created_at, id)
// keeps the append order of a session even within one clock tick.
func (s *Store) AppendMessage(ctx context.Context, m store.Message) (store.Message, error) {
	if m.SessionID == "" {
		return store.Message{}, fmt.Errorf("append message: empty session id")
	}
	if m.ID == "" {
		m.ID = uuid.Must(uuid.NewV7()).String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	meta, err := encodeJSON(m.Metadata)
	if err != nil {
		return store.Message{}, fmt.Errorf("append message: %w", err)
	}
	q, args := s.builder().Insert(tableMessages).
		Columns(messageColumns...).
		Values(m.ID, m.SessionID, m.Role, m.Content, m.CreatedAt.UnixNano(), m.ModelUsed, m.TokensUsed, meta).
		Query()
	if err := s.exec(ctx, q, args); err != nil {
		return store.Message{}, fmt.Errorf("append message: %w", err)
	}
	return m, nil
}

// ListMessages returns a session's messages in ascending time order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]store.Message, error) {
	sel := s.builder().Select(messageColumns...).
		From(entsql.Table(tableMessages)).
		Where(entsql.EQ("session_id", sessionID)).
		OrderBy("created_at", "id")
	var out []store.Message
	err := s.query(ctx, sel, func(rows *entsql.Rows) error {
		var (
			m         store.Message
			createdAt int64
			model     sql.NullString
			tokens    sql.NullInt64
			meta      sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &createdAt, &model, &tokens, &meta); err != nil {
			return err
		}
		m.CreatedAt = time.Unix(0, createdAt)
		m.ModelUsed = model.String
		m.TokensUsed = int(tokens.Int64)
		md, err := decodeJSON(meta)
		if err != nil {
			return fmt.Errorf("message %s metadata: %w", m.ID, err)
		}
		m.Metadata = md
		out = append(out, m)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

// DeleteMessages removes every message of a session.
func (s *Store) DeleteMessages(ctx context.Context, sessionID string) (int, error) {
	q, args := s.builder().Delete(tableMessages).Where(entsql.EQ("session_id", sessionID)).Query()
	n, err := s.execCount(ctx, q, args)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return n, nil
}

// StaleSessions lists sessions whose newest message is before cutoff and that
// hold more than minCount messages, oldest activity first.
func (s *Store) StaleSessions(ctx context.Context, cutoff time.Time, minCount int) ([]store.SessionStats, error) {
	sel := s.builder().Select("session_id", entsql.Count("*"), entsql.Min("created_at"), entsql.Max("created_at")).
		From(entsql.Table(tableMessages)).
		GroupBy("session_id").
		Having(entsql.And(
			entsql.GT(entsql.Count("*"), minCount),
			entsql.LT(entsql.Max("created_at"), cutoff.UnixNano()),
		)).
		OrderBy(entsql.Max("created_at"))
	var out []store.SessionStats
	err := s.query(ctx, sel, func(rows *entsql.Rows) error {
		var (
			st          store.SessionStats
			first, last int64
		)
		if err := rows.Scan(&st.SessionID, &st.Count, &first, &last); err != nil {
			return err
		}
		st.First, st.Last = time.Unix(0, first), time.Unix(0, last)
		out = append(out, st)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stale sessions: %w", err)
	}
	return out, nil
}
