package domain

import (
	"fmt"
	"time"
)

// PaymentStatus is the lifecycle state of a single installment.
type PaymentStatus string

const (
	// PaymentStatusPending marks an installment that is scheduled but not yet collected.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusCompleted is terminal; a completed payment never returns to pending.
	PaymentStatusCompleted PaymentStatus = "completed"
)

// PaymentMethod tags how a payment was collected. The set is open; these are the values the
// portal itself writes.
type PaymentMethod string

const (
	PaymentMethodStripe       PaymentMethod = "stripe"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodCardOffline  PaymentMethod = "card_offline"
	PaymentMethodOther        PaymentMethod = "other"
)

// NotificationType classifies notifications for client rendering and email templates.
type NotificationType string

const (
	NotificationPaymentReceived      NotificationType = "payment_received"
	NotificationPaymentPlanCreated   NotificationType = "payment_plan_created"
	NotificationAdminPaymentReceived NotificationType = "admin_payment_received"
	NotificationAdminPaymentConflict NotificationType = "admin_payment_conflict"
	NotificationPaymentReminder      NotificationType = "payment_reminder"
)

// Case is a client's service engagement. AccessGranted only ever moves from false to true.
type Case struct {
	ID            string
	ClientID      string
	ServiceName   string
	AccessGranted bool
	FormData      map[string]any
	CurrentStep   int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Payment is one installment of a case's plan. Amount is in minor currency units.
// PaidAt is set iff Status is completed.
type Payment struct {
	ID                string
	CaseID            string
	ClientID          string
	Amount            int64
	Currency          string
	InstallmentNumber int
	TotalInstallments int
	Status            PaymentStatus
	Method            PaymentMethod
	TransactionRef    string
	DueDate           time.Time
	PaidAt            *time.Time
	Notes             string
	LastReminderAt    *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsCompleted reports whether the payment reached its terminal state.
func (p Payment) IsCompleted() bool {
	return p.Status == PaymentStatusCompleted
}

// PaymentID derives the storage identifier for an installment. Deriving it from
// (case, installment) lets the store reject duplicate installments on insert.
func PaymentID(caseID string, installment int) string {
	return fmt.Sprintf("%s_%03d", caseID, installment)
}

// Notification is an immutable one-way message addressed to a profile.
type Notification struct {
	ID          string
	RecipientID string
	CaseID      string
	Title       string
	Message     string
	Type        NotificationType
	CreatedAt   time.Time
}

// Profile is the portal's view of a user account.
type Profile struct {
	ID       string
	FullName string
	Email    string
	Role     string
	Locale   string
}

// DisplayName returns the best human-readable label for the profile.
func (p Profile) DisplayName() string {
	switch {
	case p.FullName != "":
		return p.FullName
	case p.Email != "":
		return p.Email
	default:
		return p.ID
	}
}

// Health statuses reported by readiness probes.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// HealthCheck describes the outcome of an individual dependency probe.
type HealthCheck struct {
	Status    string        `json:"status"`
	Detail    string        `json:"detail,omitempty"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checkedAt"`
}

// HealthReport aggregates dependency status for readiness endpoints.
type HealthReport struct {
	Status      string                 `json:"status"`
	Checks      map[string]HealthCheck `json:"checks"`
	GeneratedAt time.Time              `json:"generatedAt"`
}
