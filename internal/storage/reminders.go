package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/haasonsaas/outie/pkg/models"
)

// SaveReminder inserts or replaces a reminder. Exactly one of CronExpression
// and ScheduledTime must be set.
func (s *Store) SaveReminder(ctx context.Context, r *models.Reminder) error {
	if (r.CronExpression == "") == (r.ScheduledTime == 0) {
		return Fatal(fmt.Errorf("reminder %s: exactly one of cron_expression and scheduled_time must be set", r.ID))
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO reminders (id, description, payload, cron_expression, scheduled_time, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Description, r.Payload, nullString(r.CronExpression), nullInt64(r.ScheduledTime), r.CreatedAt)
	return wrap(err, "save reminder")
}

// DeleteReminder removes a reminder. Deleting a missing id is benign; the
// bool reports whether a row existed.
func (s *Store) DeleteReminder(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	if err != nil {
		return false, wrap(err, "delete reminder")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap(err, "delete reminder")
	}
	return n > 0, nil
}

// ListReminders returns all reminders ordered by creation time.
func (s *Store) ListReminders(ctx context.Context) ([]*models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, description, payload, cron_expression, scheduled_time, created_at
		 FROM reminders ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, wrap(err, "list reminders")
	}
	defer rows.Close()

	var reminders []*models.Reminder
	for rows.Next() {
		var r models.Reminder
		var cronExpr sql.NullString
		var scheduledTime sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Description, &r.Payload, &cronExpr, &scheduledTime, &r.CreatedAt); err != nil {
			return nil, wrap(err, "scan reminder")
		}
		r.CronExpression = cronExpr.String
		r.ScheduledTime = scheduledTime.Int64
		reminders = append(reminders, &r)
	}
	return reminders, wrap(rows.Err(), "list reminders")
}

// GetReminder returns a reminder by id, or ErrNotFound.
func (s *Store) GetReminder(ctx context.Context, id string) (*models.Reminder, error) {
	var r models.Reminder
	var cronExpr sql.NullString
	var scheduledTime sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, description, payload, cron_expression, scheduled_time, created_at
		 FROM reminders WHERE id = ?`, id).
		Scan(&r.ID, &r.Description, &r.Payload, &cronExpr, &scheduledTime, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap(err, "get reminder")
	}
	r.CronExpression = cronExpr.String
	r.ScheduledTime = scheduledTime.Int64
	return &r, nil
}
