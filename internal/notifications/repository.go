package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for notifications.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateNotification inserts a message.
func (r *Repository) CreateNotification(ctx context.Context, accountID int64, subject, body string) (*Notification, error) {
	var n Notification
	err := r.pool.QueryRow(ctx, `
		INSERT INTO notifications (account_id, subject, body, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, account_id, subject, body, read_at, created_at`,
		accountID, subject, body,
	).Scan(&n.ID, &n.AccountID, &n.Subject, &n.Body, &n.ReadAt, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// ListByAccount returns messages for an account, newest first.
func (r *Repository) ListByAccount(ctx context.Context, accountID int64, limit int) ([]Notification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, subject, body, read_at, created_at
		FROM notifications
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.AccountID, &n.Subject, &n.Body, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead stamps the message as read. Only the owner's messages match.
func (r *Repository) MarkRead(ctx context.Context, id, accountID int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET read_at = $3
		WHERE id = $1 AND account_id = $2 AND read_at IS NULL`, id, accountID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountUnread returns the unread message count for an account.
func (r *Repository) CountUnread(ctx context.Context, accountID int64) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications WHERE account_id = $1 AND read_at IS NULL`, accountID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return n, err
}
