package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/haasonsaas/outie/pkg/models"
)

// SaveSummary writes a summary and deletes every message with timestamp at or
// below ToTimestamp in the same transaction. The summary is committed before
// the absorbed messages are visible as deleted; a failed commit leaves both
// untouched.
func (s *Store) SaveSummary(ctx context.Context, summary *models.Summary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(err, "save summary")
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	keyDecisions, err := marshalList(summary.KeyDecisions)
	if err != nil {
		return Fatal(err)
	}
	openThreads, err := marshalList(summary.OpenThreads)
	if err != nil {
		return Fatal(err)
	}
	learnedPatterns, err := marshalList(summary.LearnedPatterns)
	if err != nil {
		return Fatal(err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO summaries (id, timestamp, content, notes, key_decisions_json, open_threads_json,
			learned_patterns_json, from_timestamp, to_timestamp, message_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.ID, summary.Timestamp, summary.Content, nullString(summary.Notes),
		keyDecisions, openThreads, learnedPatterns,
		summary.FromTimestamp, summary.ToTimestamp, summary.MessageCount)
	if err != nil {
		return wrap(err, "save summary")
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE timestamp <= ?`, summary.ToTimestamp)
	if err != nil {
		return wrap(err, "prune absorbed messages")
	}

	return wrap(tx.Commit(), "save summary")
}

// RecentSummaries returns the newest count summaries, newest first.
func (s *Store) RecentSummaries(ctx context.Context, count int) ([]*models.Summary, error) {
	if count <= 0 {
		count = 1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, content, notes, key_decisions_json, open_threads_json,
			learned_patterns_json, from_timestamp, to_timestamp, message_count
		 FROM summaries ORDER BY timestamp DESC, id DESC LIMIT ?`, count)
	if err != nil {
		return nil, wrap(err, "list summaries")
	}
	defer rows.Close()

	var summaries []*models.Summary
	for rows.Next() {
		var summary models.Summary
		var notes, keyDecisions, openThreads, learnedPatterns sql.NullString
		if err := rows.Scan(&summary.ID, &summary.Timestamp, &summary.Content, &notes,
			&keyDecisions, &openThreads, &learnedPatterns,
			&summary.FromTimestamp, &summary.ToTimestamp, &summary.MessageCount); err != nil {
			return nil, wrap(err, "scan summary")
		}
		summary.Notes = notes.String
		if summary.KeyDecisions, err = unmarshalList(keyDecisions); err != nil {
			return nil, Fatal(err)
		}
		if summary.OpenThreads, err = unmarshalList(openThreads); err != nil {
			return nil, Fatal(err)
		}
		if summary.LearnedPatterns, err = unmarshalList(learnedPatterns); err != nil {
			return nil, Fatal(err)
		}
		summaries = append(summaries, &summary)
	}
	return summaries, wrap(rows.Err(), "list summaries")
}

// LastSummary returns the single most recent summary, or ErrNotFound.
func (s *Store) LastSummary(ctx context.Context) (*models.Summary, error) {
	summaries, err := s.RecentSummaries(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, ErrNotFound
	}
	return summaries[0], nil
}

func marshalList(items []string) (sql.NullString, error) {
	if len(items) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalList(value sql.NullString) ([]string, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	var items []string
	if err := json.Unmarshal([]byte(value.String), &items); err != nil {
		return nil, err
	}
	return items, nil
}
