package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/haasonsaas/outie/pkg/models"
)

// UpsertTopic creates or overwrites a topic by name. Overwriting preserves
// CreatedAt and replaces content, UpdatedAt and the embedding.
func (s *Store) UpsertTopic(ctx context.Context, topic *models.Topic) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO topics (id, name, content, created_at, updated_at, embedding) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			content = excluded.content,
			updated_at = excluded.updated_at,
			embedding = excluded.embedding`,
		topic.ID, topic.Name, topic.Content, topic.CreatedAt, topic.UpdatedAt, encodeEmbedding(topic.Embedding))
	return wrap(err, "upsert topic")
}

// GetTopic returns a topic by name, or ErrNotFound.
func (s *Store) GetTopic(ctx context.Context, name string) (*models.Topic, error) {
	var topic models.Topic
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, content, created_at, updated_at, embedding FROM topics WHERE name = ?`, name).
		Scan(&topic.ID, &topic.Name, &topic.Content, &topic.CreatedAt, &topic.UpdatedAt, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap(err, "get topic")
	}
	embedding, err := s.decodeEmbedding(blob)
	if err != nil {
		return nil, err
	}
	topic.Embedding = embedding
	return &topic, nil
}

// ListTopics returns all topics ordered by name, without embeddings.
func (s *Store) ListTopics(ctx context.Context) ([]*models.Topic, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, content, created_at, updated_at FROM topics ORDER BY name ASC`)
	if err != nil {
		return nil, wrap(err, "list topics")
	}
	defer rows.Close()

	var topics []*models.Topic
	for rows.Next() {
		var topic models.Topic
		if err := rows.Scan(&topic.ID, &topic.Name, &topic.Content, &topic.CreatedAt, &topic.UpdatedAt); err != nil {
			return nil, wrap(err, "scan topic")
		}
		topics = append(topics, &topic)
	}
	return topics, wrap(rows.Err(), "list topics")
}

// ListTopicsWithEmbeddings returns up to maxScanned topics that carry an
// embedding, most recently updated first.
func (s *Store) ListTopicsWithEmbeddings(ctx context.Context, maxScanned int) ([]*models.Topic, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, content, created_at, updated_at, embedding FROM topics
		 WHERE embedding IS NOT NULL
		 ORDER BY updated_at DESC, id DESC LIMIT ?`, maxScanned)
	if err != nil {
		return nil, wrap(err, "list topic embeddings")
	}
	defer rows.Close()

	var topics []*models.Topic
	for rows.Next() {
		var topic models.Topic
		var blob []byte
		if err := rows.Scan(&topic.ID, &topic.Name, &topic.Content, &topic.CreatedAt, &topic.UpdatedAt, &blob); err != nil {
			return nil, wrap(err, "scan topic")
		}
		embedding, err := s.decodeEmbedding(blob)
		if err != nil {
			return nil, err
		}
		topic.Embedding = embedding
		topics = append(topics, &topic)
	}
	return topics, wrap(rows.Err(), "list topic embeddings")
}
