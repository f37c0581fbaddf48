package sqlite

import (
	"context"

	"github.com/jmoiron/sqlx"

	domain "github.com/waypoint-immigration/portal/internal/domain"
)

// NotificationRepository appends notifications; rows are never updated.
type NotificationRepository struct {
	db *sqlx.DB
}

type notificationRow struct {
	ID          string `db:"id"`
	RecipientID string `db:"recipient_id"`
	CaseID      string `db:"case_id"`
	Title       string `db:"title"`
	Message     string `db:"message"`
	Type        string `db:"type"`
	CreatedAt   string `db:"created_at"`
}

func (r *NotificationRepository) Insert(ctx context.Context, n domain.Notification) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO notifications (id, recipient_id, case_id, title, message, type, created_at)
		VALUES (:id, :recipient_id, :case_id, :title, :message, :type, :created_at)`,
		notificationRow{
			ID:          n.ID,
			RecipientID: n.RecipientID,
			CaseID:      n.CaseID,
			Title:       n.Title,
			Message:     n.Message,
			Type:        string(n.Type),
			CreatedAt:   formatTime(n.CreatedAt),
		},
	)
	return wrapError("notifications.insert", err)
}

// ListByRecipient returns the newest notifications first.
func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []notificationRow
	err := r.db.SelectContext(ctx, &rows,
		"SELECT * FROM notifications WHERE recipient_id = ? ORDER BY created_at DESC, id DESC LIMIT ?",
		recipientID, limit,
	)
	if err != nil {
		return nil, wrapError("notifications.list", err)
	}
	out := make([]domain.Notification, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.Notification{
			ID:          row.ID,
			RecipientID: row.RecipientID,
			CaseID:      row.CaseID,
			Title:       row.Title,
			Message:     row.Message,
			Type:        domain.NotificationType(row.Type),
			CreatedAt:   parseTime(row.CreatedAt),
		})
	}
	return out, nil
}
