package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetCursor retrieves the saved firehose cursor for a service.
func (r *Repository) GetCursor(ctx context.Context, service string) (int64, error) {
	var cursor int64
	err := r.db.QueryRowContext(ctx,
		`SELECT cursor FROM subscription_state WHERE service = ?`, service,
	).Scan(&cursor)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get cursor %s: %w", service, err)
	}
	return cursor, nil
}

// UpdateCursor upserts the firehose cursor for a service.
func (r *Repository) UpdateCursor(ctx context.Context, service string, cursor int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscription_state (service, cursor, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(service) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at`,
		service, cursor, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("update cursor %s to %d: %w", service, cursor, err)
	}
	return nil
}
