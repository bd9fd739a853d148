package storage

import (
	"context"

	"github.com/haasonsaas/outie/pkg/models"
)

// WriteJournal appends a journal entry. The embedding may be nil when the
// embedder was unavailable; the entry is still stored, just unsearchable.
func (s *Store) WriteJournal(ctx context.Context, entry *models.JournalEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal (id, timestamp, topic, content, embedding) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.Timestamp, entry.Topic, entry.Content, encodeEmbedding(entry.Embedding))
	return wrap(err, "write journal")
}

// RecentJournal returns the newest limit entries, oldest first.
func (s *Store) RecentJournal(ctx context.Context, limit int) ([]*models.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, timestamp, topic, content FROM (
		SELECT id, timestamp, topic, content FROM journal
		ORDER BY timestamp DESC, id DESC LIMIT ?
	) ORDER BY timestamp ASC, id ASC`, limit)
	if err != nil {
		return nil, wrap(err, "list journal")
	}
	defer rows.Close()

	var entries []*models.JournalEntry
	for rows.Next() {
		var entry models.JournalEntry
		if err := rows.Scan(&entry.ID, &entry.Timestamp, &entry.Topic, &entry.Content); err != nil {
			return nil, wrap(err, "scan journal entry")
		}
		entries = append(entries, &entry)
	}
	return entries, wrap(rows.Err(), "list journal")
}

// ListJournalWithEmbeddings returns up to maxScanned entries that carry an
// embedding, newest first. Entries without embeddings are skipped.
func (s *Store) ListJournalWithEmbeddings(ctx context.Context, maxScanned int) ([]*models.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, topic, content, embedding FROM journal
		 WHERE embedding IS NOT NULL
		 ORDER BY timestamp DESC, id DESC LIMIT ?`, maxScanned)
	if err != nil {
		return nil, wrap(err, "list journal embeddings")
	}
	defer rows.Close()

	var entries []*models.JournalEntry
	for rows.Next() {
		var entry models.JournalEntry
		var blob []byte
		if err := rows.Scan(&entry.ID, &entry.Timestamp, &entry.Topic, &entry.Content, &blob); err != nil {
			return nil, wrap(err, "scan journal entry")
		}
		embedding, err := s.decodeEmbedding(blob)
		if err != nil {
			return nil, err
		}
		entry.Embedding = embedding
		entries = append(entries, &entry)
	}
	return entries, wrap(rows.Err(), "list journal embeddings")
}
