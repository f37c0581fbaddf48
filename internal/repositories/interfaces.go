package repositories

import (
	"context"
	"time"

	domain "github.com/waypoint-immigration/portal/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error
	Ping(ctx context.Context) error

	Cases() CaseRepository
	Payments() PaymentRepository
	Notifications() NotificationRepository
	Profiles() ProfileRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CaseRepository reads cases and flips the access gate.
type CaseRepository interface {
	FindByID(ctx context.Context, caseID string) (domain.Case, error)
	// GrantAccess sets access_granted=true. Repeating the call is a no-op; it never clears the flag.
	GrantAccess(ctx context.Context, caseID string, at time.Time) error
}

// PaymentRepository persists installments. Every implementation must reject a second payment for
// the same (case, installment_number) with a conflict error.
type PaymentRepository interface {
	Insert(ctx context.Context, payment domain.Payment) error
	// InsertBatch writes all payments or returns the first failure.
	InsertBatch(ctx context.Context, payments []domain.Payment) error
	// InsertMissing writes the payments whose installment does not exist yet and reports how many
	// were written.
	InsertMissing(ctx context.Context, payments []domain.Payment) (int, error)
	FindByID(ctx context.Context, paymentID string) (domain.Payment, error)
	// MarkPaid transitions a pending payment to completed. It returns a not-found error when no
	// pending payment with the id exists, leaving completed payments untouched.
	MarkPaid(ctx context.Context, update PaymentCompletion) (domain.Payment, error)
	ListByCase(ctx context.Context, caseID string) ([]domain.Payment, error)
	ListOverdue(ctx context.Context, filter OverdueFilter) ([]domain.Payment, error)
	TouchReminder(ctx context.Context, paymentID string, at time.Time) error
}

// PaymentCompletion carries the fields stamped when a pending payment completes. Empty Notes and
// TransactionRef keep the stored values.
type PaymentCompletion struct {
	PaymentID      string
	Method         domain.PaymentMethod
	Notes          string
	TransactionRef string
	PaidAt         time.Time
}

// OverdueFilter selects pending payments due before AsOf whose last reminder (if any) predates
// RemindedBefore.
type OverdueFilter struct {
	AsOf           time.Time
	RemindedBefore time.Time
	Limit          int
}

// NotificationRepository appends immutable notifications.
type NotificationRepository interface {
	Insert(ctx context.Context, notification domain.Notification) error
	ListByRecipient(ctx context.Context, recipientID string, limit int) ([]domain.Notification, error)
}

// ProfileRepository is the staff and client directory.
type ProfileRepository interface {
	FindByID(ctx context.Context, profileID string) (domain.Profile, error)
	FindByRole(ctx context.Context, role string) ([]domain.Profile, error)
}
