package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Pagination bounds for the conversation log. Limits outside [1,100] are
// clamped; a zero limit falls back to the default.
const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// nextMessageTime returns a strictly increasing timestamp. Successive
// appends can land on the same wall-clock nanosecond; nudging forward keeps
// persistence order matching arrival order.
func (s *Store) nextMessageTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if !now.After(s.lastMessageAt) {
		now = s.lastMessageAt.Add(time.Nanosecond)
	}
	s.lastMessageAt = now
	return now
}

// AppendMessage persists one conversational turn and returns it. Messages
// are immutable once written; ordering is total by (created_at, id).
func (s *Store) AppendMessage(documentID, userID string, isUserMessage bool, text string) (Message, error) {
	m := Message{
		ID:            uuid.New().String(),
		DocumentID:    documentID,
		UserID:        userID,
		IsUserMessage: isUserMessage,
		Text:          text,
		CreatedAt:     s.nextMessageTime(),
	}

	_, err := s.db.Exec(`
		INSERT INTO messages (id, document_id, user_id, is_user_message, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.DocumentID, m.UserID, boolToInt(m.IsUserMessage), m.Text, formatTime(m.CreatedAt),
	)
	if err != nil {
		return Message{}, fmt.Errorf("inserting message: %w", err)
	}
	return m, nil
}

// MessagePage returns up to limit messages for the document in descending
// creation order. The cursor is inclusive: the cursor message is the first
// row of its page, so chaining pages through the returned cursor (the id of
// the first message excluded by the limit, empty when no more remain)
// reconstructs the full sequence without gaps. An unknown cursor yields
// ErrNotFound.
func (s *Store) MessagePage(documentID, userID, cursor string, limit int) ([]Message, string, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	var rows *sql.Rows
	var err error
	if cursor == "" {
		rows, err = s.db.Query(`
			SELECT id, document_id, user_id, is_user_message, text, created_at
			FROM messages
			WHERE document_id = ? AND user_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?`, documentID, userID, limit+1)
	} else {
		var cursorCreatedAt string
		err = s.db.QueryRow(`
			SELECT created_at FROM messages
			WHERE id = ? AND document_id = ? AND user_id = ?`,
			cursor, documentID, userID,
		).Scan(&cursorCreatedAt)
		if err == sql.ErrNoRows {
			return nil, "", ErrNotFound
		}
		if err != nil {
			return nil, "", err
		}

		// created_at strings are fixed width, so the string comparison is
		// chronological. Ties fall back to id.
		rows, err = s.db.Query(`
			SELECT id, document_id, user_id, is_user_message, text, created_at
			FROM messages
			WHERE document_id = ? AND user_id = ?
			  AND (created_at < ? OR (created_at = ? AND id <= ?))
			ORDER BY created_at DESC, id DESC
			LIMIT ?`, documentID, userID, cursorCreatedAt, cursorCreatedAt, cursor, limit+1)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(msgs) > limit {
		nextCursor = msgs[limit].ID
		msgs = msgs[:limit]
	}
	return msgs, nextCursor, nil
}

// RecentMessages returns the n most recent messages of the conversation in
// chronological (oldest-first) order, ready for prompt inclusion.
func (s *Store) RecentMessages(documentID, userID string, n int) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, document_id, user_id, is_user_message, text, created_at
		FROM messages
		WHERE document_id = ? AND user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, documentID, userID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		var isUser int
		var createdAt string
		if err := rows.Scan(&m.ID, &m.DocumentID, &m.UserID, &isUser, &m.Text, &createdAt); err != nil {
			return nil, err
		}
		m.IsUserMessage = isUser != 0
		t, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for message %s: %w", m.ID, err)
		}
		m.CreatedAt = t
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
