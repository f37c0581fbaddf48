package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/waypoint-immigration/portal/internal/domain"
	pfirestore "github.com/waypoint-immigration/portal/internal/platform/firestore"
)

// NotificationRepository appends notification documents.
type NotificationRepository struct {
	provider *pfirestore.Provider
}

type notificationDocument struct {
	RecipientID string    `firestore:"recipient_id"`
	CaseID      string    `firestore:"case_id"`
	Title       string    `firestore:"title"`
	Message     string    `firestore:"message"`
	Type        string    `firestore:"type"`
	CreatedAt   time.Time `firestore:"created_at"`
}

// Insert uses Create so an id is never overwritten.
func (r *NotificationRepository) Insert(ctx context.Context, n domain.Notification) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	_, err = client.Collection(notificationsCollection).Doc(n.ID).Create(ctx, notificationDocument{
		RecipientID: n.RecipientID,
		CaseID:      n.CaseID,
		Title:       n.Title,
		Message:     n.Message,
		Type:        string(n.Type),
		CreatedAt:   n.CreatedAt.UTC(),
	})
	return pfirestore.WrapError("notifications.insert", err)
}

func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]domain.Notification, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	iter := client.Collection(notificationsCollection).
		Where("recipient_id", "==", recipientID).
		OrderBy("created_at", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var out []domain.Notification
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("notifications.list", err)
		}
		var doc notificationDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, pfirestore.WrapError("notifications.decode", err)
		}
		out = append(out, domain.Notification{
			ID:          snap.Ref.ID,
			RecipientID: doc.RecipientID,
			CaseID:      doc.CaseID,
			Title:       doc.Title,
			Message:     doc.Message,
			Type:        domain.NotificationType(doc.Type),
			CreatedAt:   doc.CreatedAt,
		})
	}
	return out, nil
}
