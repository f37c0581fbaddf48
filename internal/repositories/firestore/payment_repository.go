package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/waypoint-immigration/portal/internal/domain"
	pfirestore "github.com/waypoint-immigration/portal/internal/platform/firestore"
	"github.com/waypoint-immigration/portal/internal/repositories"
)

// PaymentRepository stores installments under deterministic ids derived from
// (case, installment), so Create rejects a second write of the same installment.
type PaymentRepository struct {
	provider *pfirestore.Provider
}

type paymentDocument struct {
	CaseID            string     `firestore:"case_id"`
	ClientID          string     `firestore:"client_id"`
	Amount            int64      `firestore:"amount"`
	Currency          string     `firestore:"currency"`
	InstallmentNumber int        `firestore:"installment_number"`
	TotalInstallments int        `firestore:"total_installments"`
	Status            string     `firestore:"status"`
	Method            string     `firestore:"payment_method"`
	TransactionRef    string     `firestore:"transaction_ref"`
	DueDate           time.Time  `firestore:"due_date"`
	PaidAt            *time.Time `firestore:"paid_at"`
	Notes             string     `firestore:"notes"`
	LastReminderAt    *time.Time `firestore:"last_reminder_at"`
	CreatedAt         time.Time  `firestore:"created_at"`
	UpdatedAt         time.Time  `firestore:"updated_at"`
}

func newPaymentDocument(p domain.Payment) paymentDocument {
	return paymentDocument{
		CaseID:            p.CaseID,
		ClientID:          p.ClientID,
		Amount:            p.Amount,
		Currency:          p.Currency,
		InstallmentNumber: p.InstallmentNumber,
		TotalInstallments: p.TotalInstallments,
		Status:            string(p.Status),
		Method:            string(p.Method),
		TransactionRef:    p.TransactionRef,
		DueDate:           p.DueDate.UTC(),
		PaidAt:            utcPtr(p.PaidAt),
		Notes:             p.Notes,
		LastReminderAt:    utcPtr(p.LastReminderAt),
		CreatedAt:         p.CreatedAt.UTC(),
		UpdatedAt:         p.UpdatedAt.UTC(),
	}
}

func (d paymentDocument) toDomain(id string) domain.Payment {
	return domain.Payment{
		ID:                id,
		CaseID:            d.CaseID,
		ClientID:          d.ClientID,
		Amount:            d.Amount,
		Currency:          d.Currency,
		InstallmentNumber: d.InstallmentNumber,
		TotalInstallments: d.TotalInstallments,
		Status:            domain.PaymentStatus(d.Status),
		Method:            domain.PaymentMethod(d.Method),
		TransactionRef:    d.TransactionRef,
		DueDate:           d.DueDate,
		PaidAt:            d.PaidAt,
		Notes:             d.Notes,
		LastReminderAt:    d.LastReminderAt,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func decodePayment(snap *firestore.DocumentSnapshot) (domain.Payment, error) {
	var doc paymentDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Payment{}, pfirestore.WrapError("payments.decode", err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

func (r *PaymentRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(paymentsCollection), nil
}

func (r *PaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	_, err = coll.Doc(domain.PaymentID(payment.CaseID, payment.InstallmentNumber)).Create(ctx, newPaymentDocument(payment))
	return pfirestore.WrapError("payments.insert", err)
}

// InsertBatch creates every payment in one transaction, so either all or none are stored.
func (r *PaymentRepository) InsertBatch(ctx context.Context, payments []domain.Payment) error {
	if len(payments) == 0 {
		return nil
	}
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, p := range payments {
			ref := coll.Doc(domain.PaymentID(p.CaseID, p.InstallmentNumber))
			if err := tx.Create(ref, newPaymentDocument(p)); err != nil {
				return err
			}
		}
		return nil
	}, pfirestore.WithTxAttempts(1))
	return pfirestore.WrapError("payments.insert_batch", err)
}

func (r *PaymentRepository) InsertMissing(ctx context.Context, payments []domain.Payment) (int, error) {
	if len(payments) == 0 {
		return 0, nil
	}
	coll, err := r.collection(ctx)
	if err != nil {
		return 0, err
	}

	refs := make([]*firestore.DocumentRef, len(payments))
	for i, p := range payments {
		refs[i] = coll.Doc(domain.PaymentID(p.CaseID, p.InstallmentNumber))
	}

	var written int
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		written = 0
		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}
		for i, snap := range snaps {
			if snap.Exists() {
				continue
			}
			if err := tx.Create(refs[i], newPaymentDocument(payments[i])); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, pfirestore.WrapError("payments.insert_missing", err)
	}
	return written, nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Payment{}, err
	}
	snap, err := coll.Doc(paymentID).Get(ctx)
	if err != nil {
		return domain.Payment{}, pfirestore.WrapError("payments.get", err)
	}
	return decodePayment(snap)
}

// MarkPaid reads and updates inside one transaction; a concurrent completion aborts the
// transaction and the retry observes the completed status.
func (r *PaymentRepository) MarkPaid(ctx context.Context, update repositories.PaymentCompletion) (domain.Payment, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Payment{}, err
	}
	ref := coll.Doc(update.PaymentID)
	paidAt := update.PaidAt.UTC()

	var result domain.Payment
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return pfirestore.NotFound("payments.mark_paid", update.PaymentID)
			}
			return err
		}
		current, err := decodePayment(snap)
		if err != nil {
			return err
		}
		if current.Status != domain.PaymentStatusPending {
			return pfirestore.NotFound("payments.mark_paid", update.PaymentID)
		}

		updates := []firestore.Update{
			{Path: "status", Value: string(domain.PaymentStatusCompleted)},
			{Path: "payment_method", Value: string(update.Method)},
			{Path: "paid_at", Value: paidAt},
			{Path: "updated_at", Value: paidAt},
		}
		if update.Notes != "" {
			updates = append(updates, firestore.Update{Path: "notes", Value: update.Notes})
			current.Notes = update.Notes
		}
		if update.TransactionRef != "" {
			updates = append(updates, firestore.Update{Path: "transaction_ref", Value: update.TransactionRef})
			current.TransactionRef = update.TransactionRef
		}
		if err := tx.Update(ref, updates); err != nil {
			return err
		}

		current.Status = domain.PaymentStatusCompleted
		current.Method = update.Method
		current.PaidAt = &paidAt
		current.UpdatedAt = paidAt
		result = current
		return nil
	})
	if err != nil {
		return domain.Payment{}, pfirestore.WrapError("payments.mark_paid", err)
	}
	return result, nil
}

func (r *PaymentRepository) ListByCase(ctx context.Context, caseID string) ([]domain.Payment, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}
	snaps, err := coll.Where("case_id", "==", caseID).OrderBy("installment_number", firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, pfirestore.WrapError("payments.list_by_case", err)
	}
	return decodePayments(snaps)
}

// ListOverdue queries pending payments by due date and filters the reminder window in memory,
// since Firestore cannot express "null or before" in one query.
func (r *PaymentRepository) ListOverdue(ctx context.Context, filter repositories.OverdueFilter) ([]domain.Payment, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	snaps, err := coll.
		Where("status", "==", string(domain.PaymentStatusPending)).
		Where("due_date", "<", filter.AsOf.UTC()).
		OrderBy("due_date", firestore.Asc).
		Limit(limit * 2).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, pfirestore.WrapError("payments.list_overdue", err)
	}
	payments, err := decodePayments(snaps)
	if err != nil {
		return nil, err
	}

	out := payments[:0]
	for _, p := range payments {
		if p.LastReminderAt != nil && !p.LastReminderAt.Before(filter.RemindedBefore) {
			continue
		}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *PaymentRepository) TouchReminder(ctx context.Context, paymentID string, at time.Time) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	_, err = coll.Doc(paymentID).Update(ctx, []firestore.Update{{Path: "last_reminder_at", Value: at.UTC()}})
	return pfirestore.WrapError("payments.touch_reminder", err)
}

func decodePayments(snaps []*firestore.DocumentSnapshot) ([]domain.Payment, error) {
	out := make([]domain.Payment, 0, len(snaps))
	for _, snap := range snaps {
		p, err := decodePayment(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
