package services

import (
	"context"
	"time"

	domain "github.com/waypoint-immigration/portal/internal/domain"
	"github.com/waypoint-immigration/portal/internal/payments"
)

// CheckoutService opens hosted checkout sessions for a client's case.
type CheckoutService interface {
	CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSession, error)
}

// PaymentService owns the payment state machine: gateway reconciliation, manual admin actions,
// and the overdue reminder sweep.
type PaymentService interface {
	ReconcileCheckoutCompleted(ctx context.Context, cmd CheckoutCompletedCommand) (ReconciliationResult, error)
	CreatePlan(ctx context.Context, cmd CreatePaymentPlanCommand) ([]domain.Payment, error)
	MarkPaid(ctx context.Context, cmd MarkPaymentPaidCommand) (domain.Payment, error)
	RegisterPayment(ctx context.Context, cmd RegisterPaymentCommand) (domain.Payment, error)
	ListCasePayments(ctx context.Context, query ListCasePaymentsQuery) ([]domain.Payment, error)
	SendOverdueReminders(ctx context.Context, asOf time.Time) (ReminderSweepResult, error)
}

// NotificationService appends notifications and fans them out to the email worker.
type NotificationService interface {
	Notify(ctx context.Context, cmd NotifyCommand) (domain.Notification, error)
	NotifyAdmins(ctx context.Context, cmd NotifyCommand) ([]domain.Notification, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]domain.Notification, error)
}

// NotificationPublisher delivers rendered notifications to an out-of-process channel.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, event NotificationEvent) (string, error)
}

type CreateCheckoutSessionCommand struct {
	UserID       string
	Email        string
	CaseID       string
	ServiceName  string
	ServiceSlug  string
	Variant      string
	TotalPrice   int64
	Installments int
	SuccessURL   string
	CancelURL    string
	Locale       string
}

type CheckoutSession struct {
	SessionID         string    `json:"sessionId"`
	URL               string    `json:"url"`
	Provider          string    `json:"provider"`
	ExpiresAt         time.Time `json:"expiresAt"`
	Amount            int64     `json:"amount"`
	Currency          string    `json:"currency"`
	InstallmentNumber int       `json:"installmentNumber"`
	TotalInstallments int       `json:"totalInstallments"`
}

// CheckoutCompletedCommand is a verified gateway completion. Metadata is the only trusted
// description of what was bought; AmountPaid is informational.
type CheckoutCompletedCommand struct {
	EventID        string
	SessionID      string
	TransactionRef string
	Currency       string
	AmountPaid     int64
	Metadata       payments.CheckoutMetadata
}

type ReconciliationResult struct {
	Payment   domain.Payment
	Duplicate bool
	// ConflictingCharge marks a gateway charge for an installment already completed under a
	// different transaction reference. The stored payment is left untouched.
	ConflictingCharge     bool
	ScheduledInstallments int
	FailedSteps           []string
}

type CreatePaymentPlanCommand struct {
	ActorID          string
	CaseID           string
	TotalAmount      int64
	NumInstallments  int
	FirstPaymentDate time.Time
	Method           domain.PaymentMethod
	Notes            string
}

type MarkPaymentPaidCommand struct {
	ActorID   string
	PaymentID string
	Method    domain.PaymentMethod
	Notes     string
}

type RegisterPaymentCommand struct {
	ActorID           string
	CaseID            string
	Amount            int64
	Method            domain.PaymentMethod
	Notes             string
	InstallmentNumber int
	TotalInstallments int
}

type ListCasePaymentsQuery struct {
	CaseID        string
	ViewerID      string
	ViewerIsAdmin bool
}

type ReminderSweepResult struct {
	Scanned int `json:"scanned"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// NotifyCommand addresses one notification. MessageKey selects the catalog entry and defaults
// to the notification type; Params fill its placeholders.
type NotifyCommand struct {
	RecipientID string
	CaseID      string
	Type        domain.NotificationType
	MessageKey  string
	Params      map[string]string
	Locale      string
}

// NotificationEvent is the fan-out payload consumed by the email worker.
type NotificationEvent struct {
	NotificationID string    `json:"notificationId"`
	RecipientID    string    `json:"recipientId"`
	RecipientEmail string    `json:"recipientEmail,omitempty"`
	CaseID         string    `json:"caseId,omitempty"`
	Type           string    `json:"type"`
	Title          string    `json:"title"`
	Text           string    `json:"text"`
	HTML           string    `json:"html"`
	Locale         string    `json:"locale"`
	CreatedAt      time.Time `json:"createdAt"`
}
