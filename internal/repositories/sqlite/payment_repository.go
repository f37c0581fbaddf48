package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	domain "github.com/waypoint-immigration/portal/internal/domain"
	"github.com/waypoint-immigration/portal/internal/repositories"
)

// PaymentRepository stores installments. The UNIQUE(case_id, installment_number) constraint is
// what makes webhook redelivery safe.
type PaymentRepository struct {
	db *sqlx.DB
}

type paymentRow struct {
	ID                string         `db:"id"`
	CaseID            string         `db:"case_id"`
	ClientID          string         `db:"client_id"`
	Amount            int64          `db:"amount"`
	Currency          string         `db:"currency"`
	InstallmentNumber int            `db:"installment_number"`
	TotalInstallments int            `db:"total_installments"`
	Status            string         `db:"status"`
	Method            string         `db:"payment_method"`
	TransactionRef    string         `db:"transaction_ref"`
	DueDate           string         `db:"due_date"`
	PaidAt            sql.NullString `db:"paid_at"`
	Notes             string         `db:"notes"`
	LastReminderAt    sql.NullString `db:"last_reminder_at"`
	CreatedAt         string         `db:"created_at"`
	UpdatedAt         string         `db:"updated_at"`
}

func newPaymentRow(p domain.Payment) paymentRow {
	return paymentRow{
		ID:                p.ID,
		CaseID:            p.CaseID,
		ClientID:          p.ClientID,
		Amount:            p.Amount,
		Currency:          p.Currency,
		InstallmentNumber: p.InstallmentNumber,
		TotalInstallments: p.TotalInstallments,
		Status:            string(p.Status),
		Method:            string(p.Method),
		TransactionRef:    p.TransactionRef,
		DueDate:           formatTime(p.DueDate),
		PaidAt:            formatNullTime(p.PaidAt),
		Notes:             p.Notes,
		LastReminderAt:    formatNullTime(p.LastReminderAt),
		CreatedAt:         formatTime(p.CreatedAt),
		UpdatedAt:         formatTime(p.UpdatedAt),
	}
}

func (r paymentRow) toDomain() domain.Payment {
	return domain.Payment{
		ID:                r.ID,
		CaseID:            r.CaseID,
		ClientID:          r.ClientID,
		Amount:            r.Amount,
		Currency:          r.Currency,
		InstallmentNumber: r.InstallmentNumber,
		TotalInstallments: r.TotalInstallments,
		Status:            domain.PaymentStatus(r.Status),
		Method:            domain.PaymentMethod(r.Method),
		TransactionRef:    r.TransactionRef,
		DueDate:           parseTime(r.DueDate),
		PaidAt:            parseNullTime(r.PaidAt),
		Notes:             r.Notes,
		LastReminderAt:    parseNullTime(r.LastReminderAt),
		CreatedAt:         parseTime(r.CreatedAt),
		UpdatedAt:         parseTime(r.UpdatedAt),
	}
}

const insertPaymentSQL = `
	INTO payments (
		id, case_id, client_id, amount, currency,
		installment_number, total_installments, status, payment_method, transaction_ref,
		due_date, paid_at, notes, last_reminder_at, created_at, updated_at
	) VALUES (
		:id, :case_id, :client_id, :amount, :currency,
		:installment_number, :total_installments, :status, :payment_method, :transaction_ref,
		:due_date, :paid_at, :notes, :last_reminder_at, :created_at, :updated_at
	)`

// Insert writes one payment; a second payment for the same installment is a conflict.
func (r *PaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	_, err := r.db.NamedExecContext(ctx, "INSERT"+insertPaymentSQL, newPaymentRow(payment))
	return wrapError("payments.insert", err)
}

// InsertBatch writes all payments in one transaction.
func (r *PaymentRepository) InsertBatch(ctx context.Context, payments []domain.Payment) error {
	if len(payments) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapError("payments.insert_batch", err)
	}
	defer tx.Rollback()

	for _, p := range payments {
		if _, err := tx.NamedExecContext(ctx, "INSERT"+insertPaymentSQL, newPaymentRow(p)); err != nil {
			return wrapError("payments.insert_batch", fmt.Errorf("installment %d: %w", p.InstallmentNumber, err))
		}
	}
	return wrapError("payments.insert_batch", tx.Commit())
}

// InsertMissing writes the payments whose installment is not stored yet.
func (r *PaymentRepository) InsertMissing(ctx context.Context, payments []domain.Payment) (int, error) {
	if len(payments) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, wrapError("payments.insert_missing", err)
	}
	defer tx.Rollback()

	written := 0
	for _, p := range payments {
		res, err := tx.NamedExecContext(ctx, "INSERT OR IGNORE"+insertPaymentSQL, newPaymentRow(p))
		if err != nil {
			return 0, wrapError("payments.insert_missing", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			written += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, wrapError("payments.insert_missing", err)
	}
	return written, nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	var row paymentRow
	if err := r.db.GetContext(ctx, &row, "SELECT * FROM payments WHERE id = ?", paymentID); err != nil {
		return domain.Payment{}, wrapError("payments.get", err)
	}
	return row.toDomain(), nil
}

// MarkPaid completes a pending payment. The status predicate in the UPDATE is the concurrency
// guard: a payment that is already completed or missing matches zero rows. Empty notes and
// transaction refs keep the stored values.
func (r *PaymentRepository) MarkPaid(ctx context.Context, update repositories.PaymentCompletion) (domain.Payment, error) {
	paidAt := formatTime(update.PaidAt)
	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET status = ?, payment_method = ?, notes = COALESCE(NULLIF(?, ''), notes), paid_at = ?, updated_at = ?,
			transaction_ref = COALESCE(NULLIF(?, ''), transaction_ref)
		WHERE id = ? AND status = ?`,
		string(domain.PaymentStatusCompleted), string(update.Method), update.Notes, paidAt, paidAt,
		update.TransactionRef,
		update.PaymentID, string(domain.PaymentStatusPending),
	)
	if err != nil {
		return domain.Payment{}, wrapError("payments.mark_paid", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Payment{}, wrapError("payments.mark_paid", err)
	}
	if n == 0 {
		return domain.Payment{}, notFound("payments.mark_paid", update.PaymentID)
	}
	return r.FindByID(ctx, update.PaymentID)
}

// ListByCase returns a case's payments ordered by installment.
func (r *PaymentRepository) ListByCase(ctx context.Context, caseID string) ([]domain.Payment, error) {
	var rows []paymentRow
	if err := r.db.SelectContext(ctx, &rows,
		"SELECT * FROM payments WHERE case_id = ? ORDER BY installment_number", caseID); err != nil {
		return nil, wrapError("payments.list_by_case", err)
	}
	return toPayments(rows), nil
}

// ListOverdue returns pending payments due before filter.AsOf that were not reminded since
// filter.RemindedBefore, oldest due date first.
func (r *PaymentRepository) ListOverdue(ctx context.Context, filter repositories.OverdueFilter) ([]domain.Payment, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	var rows []paymentRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM payments
		WHERE status = ? AND due_date < ?
		  AND (last_reminder_at IS NULL OR last_reminder_at < ?)
		ORDER BY due_date, id
		LIMIT ?`,
		string(domain.PaymentStatusPending), formatTime(filter.AsOf), formatTime(filter.RemindedBefore), limit,
	)
	if err != nil {
		return nil, wrapError("payments.list_overdue", err)
	}
	return toPayments(rows), nil
}

// TouchReminder records that a reminder went out for the payment.
func (r *PaymentRepository) TouchReminder(ctx context.Context, paymentID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE payments SET last_reminder_at = ? WHERE id = ?", formatTime(at), paymentID)
	if err != nil {
		return wrapError("payments.touch_reminder", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound("payments.touch_reminder", paymentID)
	}
	return nil
}

func toPayments(rows []paymentRow) []domain.Payment {
	out := make([]domain.Payment, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out
}
