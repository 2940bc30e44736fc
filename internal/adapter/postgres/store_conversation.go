package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/parleydev/parley/internal/domain"
	"github.com/parleydev/parley/internal/domain/conversation"
)

const conversationColumns = `c.id, c.user_label, c.title, c.status, c.start_ts, c.end_ts, c.summary, c.created_at, c.updated_at,
	(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id) AS message_count`

func scanConversation(row scannable) (conversation.Conversation, error) {
	var c conversation.Conversation
	err := row.Scan(&c.ID, &c.UserLabel, &c.Title, &c.Status, &c.StartTS, &c.EndTS,
		&c.Summary, &c.CreatedAt, &c.UpdatedAt, &c.MessageCount)
	return c, err
}

func (s *Store) CreateConversation(ctx context.Context, c *conversation.Conversation) (*conversation.Conversation, error) {
	var created conversation.Conversation
	err := s.pool.QueryRow(ctx,
		`INSERT INTO conversations (user_label, title) VALUES ($1, $2)
		 RETURNING id, user_label, title, status, start_ts, end_ts, summary, created_at, updated_at`,
		c.UserLabel, c.Title,
	).Scan(&created.ID, &created.UserLabel, &created.Title, &created.Status, &created.StartTS,
		&created.EndTS, &created.Summary, &created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &created, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations c WHERE c.id = $1`, id)

	c, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get conversation %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return &c, nil
}

func (s *Store) ListConversations(ctx context.Context, filter conversation.ListFilter) ([]conversation.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations c`
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, "c.status = $"+strconv.Itoa(len(args)))
	}
	if filter.DateFrom != nil {
		args = append(args, *filter.DateFrom)
		where = append(where, "c.start_ts >= $"+strconv.Itoa(len(args)))
	}
	if filter.DateTo != nil {
		args = append(args, *filter.DateTo)
		where = append(where, "c.start_ts <= $"+strconv.Itoa(len(args)))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY c.start_ts DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var result []conversation.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete conversation %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// EndConversation marks an active conversation as ended and stores its summary.
// Ending an already ended conversation returns domain.ErrConflict.
func (s *Store) EndConversation(ctx context.Context, id string, summary string) (*conversation.Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE conversations c SET status = 'ENDED', end_ts = NOW(), summary = $2, updated_at = NOW()
		 WHERE c.id = $1 AND c.status = 'ACTIVE'
		 RETURNING `+conversationColumns, id, summary)

	c, err := scanConversation(row)
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("end conversation %s: %w", id, err)
	}

	// No active row matched: distinguish missing from already ended.
	if _, getErr := s.GetConversation(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("end conversation %s: already ended: %w", id, domain.ErrConflict)
}

func (s *Store) SetConversationTitle(ctx context.Context, id, title string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET title = $2, updated_at = NOW() WHERE id = $1`, id, title)
	if err != nil {
		return fmt.Errorf("set conversation title %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set conversation title %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) CreateMessage(ctx context.Context, m *conversation.Message) (*conversation.Message, error) {
	var created conversation.Message
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, sender, content)
		 VALUES ($1, $2, $3)
		 RETURNING id, conversation_id, sender, content, ts, created_at`,
		m.ConversationID, m.Sender, m.Content,
	).Scan(&created.ID, &created.ConversationID, &created.Sender, &created.Content,
		&created.TS, &created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	// Touch the parent so list ordering and cache keys move forward.
	_, _ = s.pool.Exec(ctx, `UPDATE conversations SET updated_at = NOW() WHERE id = $1`, m.ConversationID)
	return &created, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, sender, content, ts, created_at
		 FROM messages WHERE conversation_id = $1 ORDER BY ts ASC, id ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var result []conversation.Message
	for rows.Next() {
		var m conversation.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Content, &m.TS, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}
