package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendMessage stores one conversation turn at the end of its thread. A turn
// whose id is already stored is ignored.
func (s *Store) AppendMessage(ctx context.Context, m Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, thread_id, role, content, stage, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM conversations WHERE user_id = ? AND thread_id = ?))
		ON CONFLICT(id) DO NOTHING`,
		m.ID, m.UserID, m.ThreadID, m.Role, m.Content, m.Stage, formatTime(m.CreatedAt),
		m.UserID, m.ThreadID,
	)
	if err != nil {
		return fmt.Errorf("appending message for %s: %w", m.UserID, err)
	}
	return nil
}

// RecentMessages returns up to limit of the latest turns of a thread, oldest first.
func (s *Store) RecentMessages(ctx context.Context, userID, threadID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, thread_id, role, content, stage, created_at
		FROM conversations
		WHERE user_id = ? AND thread_id = ?
		ORDER BY seq DESC
		LIMIT ?`, userID, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("reading messages for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.UserID, &m.ThreadID, &m.Role, &m.Content, &m.Stage, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt, _ = parseTime(createdAt)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// GetMessage loads one turn by id. Returns ErrNotFound when absent.
func (s *Store) GetMessage(ctx context.Context, id string) (Message, error) {
	var m Message
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, thread_id, role, content, stage, created_at
		FROM conversations WHERE id = ?`, id,
	).Scan(&m.ID, &m.UserID, &m.ThreadID, &m.Role, &m.Content, &m.Stage, &createdAt)
	if err == sql.ErrNoRows {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("reading message %s: %w", id, err)
	}
	m.CreatedAt, _ = parseTime(createdAt)
	return m, nil
}
