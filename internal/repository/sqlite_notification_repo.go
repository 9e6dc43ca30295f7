package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/notifyhub/collab-notify/internal/domain"
)

const sqliteNotificationColumns = `id, user_id, type, title, message, metadata, read, status, retry_count, created_at, sent_at`

type sqliteNotificationRepository struct {
	db *sqlx.DB
}

// NewSQLiteNotificationRepository returns a NotificationRepository backed by
// SQLite, for local runs and tests. The schema must already be applied
// (see db.OpenSQLite).
func NewSQLiteNotificationRepository(db *sqlx.DB) NotificationRepository {
	return &sqliteNotificationRepository{db: db}
}

func (r *sqliteNotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	md, err := marshalMetadata(n.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO notifications
			(id, user_id, type, title, message, metadata, read, status, retry_count, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Message, nullString(md),
		n.Read, string(n.Status), n.RetryCount, n.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *sqliteNotificationRepository) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	row := r.db.QueryRowxContext(ctx,
		`SELECT `+sqliteNotificationColumns+` FROM notifications WHERE id = ?`, id)

	n, err := scanSQLiteNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

func (r *sqliteNotificationRepository) ListByUser(ctx context.Context, f domain.ListFilter) ([]*domain.Notification, int, error) {
	where, args := buildSQLiteListWhere(f)

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM notifications"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	args = append(args, f.Limit, f.Offset())
	rows, err := r.db.QueryxContext(ctx, `SELECT `+sqliteNotificationColumns+`
		FROM notifications`+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	notifications, err := scanSQLiteNotifications(rows)
	return notifications, total, err
}

func (r *sqliteNotificationRepository) ListUnread(ctx context.Context, userID string, limit int) ([]*domain.Notification, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT `+sqliteNotificationColumns+`
		FROM notifications
		WHERE user_id = ? AND type = ? AND read = 0
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, string(domain.ChannelInApp), unreadLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list unread: %w", err)
	}
	defer rows.Close()
	return scanSQLiteNotifications(rows)
}

func (r *sqliteNotificationRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM notifications
		WHERE user_id = ? AND type = ? AND read = 0`, userID, string(domain.ChannelInApp))
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (r *sqliteNotificationRepository) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET status = ?, sent_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.StatusSent), sentAt.UTC(), id, string(domain.StatusPending))
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return r.ensureAffected(ctx, res, id)
}

func (r *sqliteNotificationRepository) RecordFailure(ctx context.Context, id string, terminal bool) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		UPDATE notifications
		SET retry_count = retry_count + 1,
		    status = CASE WHEN ? THEN ? ELSE status END
		WHERE id = ? AND status = ?
		RETURNING retry_count`,
		terminal, string(domain.StatusFailed), id, string(domain.StatusPending))
	if errors.Is(err, sql.ErrNoRows) {
		n, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return 0, getErr
		}
		return n.RetryCount, nil
	}
	if err != nil {
		return 0, fmt.Errorf("record failure: %w", err)
	}
	return count, nil
}

func (r *sqliteNotificationRepository) MarkFailed(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET status = ? WHERE id = ? AND status = ?`,
		string(domain.StatusFailed), id, string(domain.StatusPending))
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return r.ensureAffected(ctx, res, id)
}

func (r *sqliteNotificationRepository) MarkRead(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *sqliteNotificationRepository) MarkAllRead(ctx context.Context, userID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET read = 1
		WHERE user_id = ? AND type = ? AND read = 0`, userID, string(domain.ChannelInApp))
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return int(n), nil
}

// ensureAffected turns a conditional update that matched nothing into either
// ErrNotFound or a no-op on an already-terminal row.
func (r *sqliteNotificationRepository) ensureAffected(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil || n > 0 {
		return err
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, `SELECT COUNT(*) FROM notifications WHERE id = ?`, id); err != nil {
		return fmt.Errorf("check notification: %w", err)
	}
	if exists == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// scanSQLiteNotification scans a notification row from a sqlx row or rows value.
func scanSQLiteNotification(row interface{ Scan(...any) error }) (*domain.Notification, error) {
	var (
		n      domain.Notification
		typ    string
		status string
		md     sql.NullString
		sentAt sql.NullTime
	)
	err := row.Scan(
		&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &md,
		&n.Read, &status, &n.RetryCount, &n.CreatedAt, &sentAt,
	)
	if err != nil {
		return nil, err
	}
	n.Type = domain.Channel(typ)
	n.Status = domain.Status(status)
	if sentAt.Valid {
		t := sentAt.Time
		n.SentAt = &t
	}
	if md.Valid {
		if n.Metadata, err = unmarshalMetadata([]byte(md.String)); err != nil {
			return nil, err
		}
	}
	return &n, nil
}

func scanSQLiteNotifications(rows *sqlx.Rows) ([]*domain.Notification, error) {
	var result []*domain.Notification
	for rows.Next() {
		n, err := scanSQLiteNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func buildSQLiteListWhere(f domain.ListFilter) (string, []any) {
	conditions := []string{"user_id = ?"}
	args := []any{f.UserID}
	if f.Type != nil {
		conditions = append(conditions, "type = ?")
		args = append(args, string(*f.Type))
	}
	if f.Unread {
		conditions = append(conditions, "read = 0")
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func nullString(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
