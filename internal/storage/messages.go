package storage

import (
	"context"
	"database/sql"

	"github.com/haasonsaas/outie/pkg/models"
)

// AppendMessage inserts a message into the conversation window.
func (s *Store) AppendMessage(ctx context.Context, msg *models.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, role, content, timestamp, "trigger", source) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, string(msg.Role), msg.Content, msg.Timestamp, string(msg.Trigger), nullString(string(msg.Source)))
	return wrap(err, "append message")
}

// RecentMessages returns the newest limit messages in ascending timestamp
// order. A non-positive limit returns the whole window.
func (s *Store) RecentMessages(ctx context.Context, limit int) ([]*models.Message, error) {
	query := `SELECT id, role, content, timestamp, "trigger", source FROM (
		SELECT id, role, content, timestamp, "trigger", source FROM messages
		ORDER BY timestamp DESC, id DESC LIMIT ?
	) ORDER BY timestamp ASC, id ASC`
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, wrap(err, "list messages")
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var msg models.Message
		var role, trigger string
		var source sql.NullString
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &msg.Timestamp, &trigger, &source); err != nil {
			return nil, wrap(err, "scan message")
		}
		msg.Role = models.Role(role)
		msg.Trigger = models.TriggerType(trigger)
		msg.Source = models.Source(source.String)
		messages = append(messages, &msg)
	}
	return messages, wrap(rows.Err(), "list messages")
}

// DeleteAllMessages clears the conversation window (the /clear command).
func (s *Store) DeleteAllMessages(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages`)
	return wrap(err, "delete messages")
}

// ConversationStats reports the window size. Token count approximates one
// token per four characters of content; NeedsCompaction is set above the
// threshold.
func (s *Store) ConversationStats(ctx context.Context, compactThreshold int) (*models.ConversationStats, error) {
	var count int
	var chars sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(content)), 0) FROM messages`).Scan(&count, &chars)
	if err != nil {
		return nil, wrap(err, "conversation stats")
	}
	approxTokens := int((chars.Int64 + 3) / 4)
	return &models.ConversationStats{
		Count:           count,
		ApproxTokens:    approxTokens,
		NeedsCompaction: approxTokens > compactThreshold,
	}, nil
}
