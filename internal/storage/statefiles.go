package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/haasonsaas/outie/pkg/models"
)

// WriteStateFile overwrites (or creates) a named state file.
func (s *Store) WriteStateFile(ctx context.Context, file *models.StateFile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO state_files (name, content, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		file.Name, file.Content, file.UpdatedAt)
	return wrap(err, "write state file")
}

// ReadStateFile returns the named state file, or ErrNotFound.
func (s *Store) ReadStateFile(ctx context.Context, name string) (*models.StateFile, error) {
	var file models.StateFile
	err := s.db.QueryRowContext(ctx,
		`SELECT name, content, updated_at FROM state_files WHERE name = ?`, name).
		Scan(&file.Name, &file.Content, &file.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap(err, "read state file")
	}
	return &file, nil
}

// ListStateFiles returns all state files ordered by name.
func (s *Store) ListStateFiles(ctx context.Context) ([]*models.StateFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, content, updated_at FROM state_files ORDER BY name ASC`)
	if err != nil {
		return nil, wrap(err, "list state files")
	}
	defer rows.Close()

	var files []*models.StateFile
	for rows.Next() {
		var file models.StateFile
		if err := rows.Scan(&file.Name, &file.Content, &file.UpdatedAt); err != nil {
			return nil, wrap(err, "scan state file")
		}
		files = append(files, &file)
	}
	return files, wrap(rows.Err(), "list state files")
}
