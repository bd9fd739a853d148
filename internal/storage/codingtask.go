package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/haasonsaas/outie/pkg/models"
)

// GetCodingTaskState returns the continuation handle for a repo, or
// ErrNotFound.
func (s *Store) GetCodingTaskState(ctx context.Context, repoURL string) (*models.CodingTaskState, error) {
	var state models.CodingTaskState
	err := s.db.QueryRowContext(ctx,
		`SELECT repo_url, branch, session_id, last_task, last_timestamp
		 FROM coding_task_state WHERE repo_url = ?`, repoURL).
		Scan(&state.RepoURL, &state.Branch, &state.SessionID, &state.LastTask, &state.LastTimestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap(err, "get coding task state")
	}
	return &state, nil
}

// SaveCodingTaskState creates or overwrites the continuation handle for a
// repo.
func (s *Store) SaveCodingTaskState(ctx context.Context, state *models.CodingTaskState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO coding_task_state (repo_url, branch, session_id, last_task, last_timestamp)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(repo_url) DO UPDATE SET
			branch = excluded.branch,
			session_id = excluded.session_id,
			last_task = excluded.last_task,
			last_timestamp = excluded.last_timestamp`,
		state.RepoURL, state.Branch, state.SessionID, state.LastTask, state.LastTimestamp)
	return wrap(err, "save coding task state")
}
