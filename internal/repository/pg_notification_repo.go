package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/collab-notify/internal/domain"
)

const pgNotificationColumns = `id, user_id, type, title, message, metadata, read, status, retry_count, created_at, sent_at`

type pgNotificationRepository struct {
	pool *pgxpool.Pool
}

// NewPgNotificationRepository returns a NotificationRepository backed by PostgreSQL.
func NewPgNotificationRepository(pool *pgxpool.Pool) NotificationRepository {
	return &pgNotificationRepository{pool: pool}
}

func (r *pgNotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	md, err := marshalMetadata(n.Metadata)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications
			(id, user_id, type, title, message, metadata, read, status, retry_count, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		n.ID, n.UserID, n.Type, n.Title, n.Message, md, n.Read, n.Status, n.RetryCount, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *pgNotificationRepository) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+pgNotificationColumns+` FROM notifications WHERE id = $1`, id)

	n, err := scanPgNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

func (r *pgNotificationRepository) ListByUser(ctx context.Context, f domain.ListFilter) ([]*domain.Notification, int, error) {
	where, args := buildPgListWhere(f)

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM notifications"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	// Append pagination args after the WHERE args.
	args = append(args, f.Limit, f.Offset())
	query := fmt.Sprintf(`SELECT `+pgNotificationColumns+`
		FROM notifications%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	notifications, err := scanPgNotifications(rows)
	return notifications, total, err
}

func (r *pgNotificationRepository) ListUnread(ctx context.Context, userID string, limit int) ([]*domain.Notification, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+pgNotificationColumns+`
		FROM notifications
		WHERE user_id = $1 AND type = $2 AND read = FALSE
		ORDER BY created_at DESC, id DESC
		LIMIT $3`, userID, domain.ChannelInApp, unreadLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list unread: %w", err)
	}
	defer rows.Close()
	return scanPgNotifications(rows)
}

func (r *pgNotificationRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE user_id = $1 AND type = $2 AND read = FALSE`, userID, domain.ChannelInApp).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (r *pgNotificationRepository) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET status = $1, sent_at = $2
		WHERE id = $3 AND status = $4`,
		domain.StatusSent, sentAt, id, domain.StatusPending)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.ensureExists(ctx, id)
	}
	return nil
}

func (r *pgNotificationRepository) RecordFailure(ctx context.Context, id string, terminal bool) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		UPDATE notifications
		SET retry_count = retry_count + 1,
		    status = CASE WHEN $1 THEN $2 ELSE status END
		WHERE id = $3 AND status = $4
		RETURNING retry_count`,
		terminal, domain.StatusFailed, id, domain.StatusPending).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already terminal: report the stored count unchanged.
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

func (r *pgNotificationRepository) MarkFailed(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET status = $1 WHERE id = $2 AND status = $3`,
		domain.StatusFailed, id, domain.StatusPending)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.ensureExists(ctx, id)
	}
	return nil
}

func (r *pgNotificationRepository) MarkRead(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *pgNotificationRepository) MarkAllRead(ctx context.Context, userID string) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET read = TRUE
		WHERE user_id = $1 AND type = $2 AND read = FALSE`, userID, domain.ChannelInApp)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *pgNotificationRepository) ensureExists(ctx context.Context, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check notification: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return nil
}

// ---- helpers ----

// scanPgNotification reads a single notification row from any pgx row type.
func scanPgNotification(row pgx.Row) (*domain.Notification, error) {
	var (
		n  domain.Notification
		md []byte
	)
	err := row.Scan(
		&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &md,
		&n.Read, &n.Status, &n.RetryCount, &n.CreatedAt, &n.SentAt,
	)
	if err != nil {
		return nil, err
	}
	if n.Metadata, err = unmarshalMetadata(md); err != nil {
		return nil, err
	}
	return &n, nil
}

func scanPgNotifications(rows pgx.Rows) ([]*domain.Notification, error) {
	var result []*domain.Notification
	for rows.Next() {
		n, err := scanPgNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

// buildPgListWhere builds a parameterised WHERE clause from a ListFilter.
func buildPgListWhere(f domain.ListFilter) (string, []any) {
	var conditions []string
	var args []any

	add := func(condition string, val any) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	add("user_id = $%d", f.UserID)
	if f.Type != nil {
		add("type = $%d", *f.Type)
	}
	if f.Unread {
		conditions = append(conditions, "read = FALSE")
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
