package handlers

import (
	"context"
	"time"

	domain "github.com/waypoint-immigration/portal/internal/domain"
	"github.com/waypoint-immigration/portal/internal/payments"
	"github.com/waypoint-immigration/portal/internal/services"
)

type stubCheckoutService struct {
	createFunc func(ctx context.Context, cmd services.CreateCheckoutSessionCommand) (services.CheckoutSession, error)
}

func (s *stubCheckoutService) CreateCheckoutSession(ctx context.Context, cmd services.CreateCheckoutSessionCommand) (services.CheckoutSession, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, cmd)
	}
	return services.CheckoutSession{}, nil
}

type stubPaymentService struct {
	reconcileFunc func(ctx context.Context, cmd services.CheckoutCompletedCommand) (services.ReconciliationResult, error)
	planFunc      func(ctx context.Context, cmd services.CreatePaymentPlanCommand) ([]domain.Payment, error)
	markPaidFunc  func(ctx context.Context, cmd services.MarkPaymentPaidCommand) (domain.Payment, error)
	registerFunc  func(ctx context.Context, cmd services.RegisterPaymentCommand) (domain.Payment, error)
	listFunc      func(ctx context.Context, query services.ListCasePaymentsQuery) ([]domain.Payment, error)
	remindFunc    func(ctx context.Context, asOf time.Time) (services.ReminderSweepResult, error)
}

func (s *stubPaymentService) ReconcileCheckoutCompleted(ctx context.Context, cmd services.CheckoutCompletedCommand) (services.ReconciliationResult, error) {
	if s.reconcileFunc != nil {
		return s.reconcileFunc(ctx, cmd)
	}
	return services.ReconciliationResult{}, nil
}

func (s *stubPaymentService) CreatePlan(ctx context.Context, cmd services.CreatePaymentPlanCommand) ([]domain.Payment, error) {
	if s.planFunc != nil {
		return s.planFunc(ctx, cmd)
	}
	return nil, nil
}

func (s *stubPaymentService) MarkPaid(ctx context.Context, cmd services.MarkPaymentPaidCommand) (domain.Payment, error) {
	if s.markPaidFunc != nil {
		return s.markPaidFunc(ctx, cmd)
	}
	return domain.Payment{}, nil
}

func (s *stubPaymentService) RegisterPayment(ctx context.Context, cmd services.RegisterPaymentCommand) (domain.Payment, error) {
	if s.registerFunc != nil {
		return s.registerFunc(ctx, cmd)
	}
	return domain.Payment{}, nil
}

func (s *stubPaymentService) ListCasePayments(ctx context.Context, query services.ListCasePaymentsQuery) ([]domain.Payment, error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, query)
	}
	return nil, nil
}

func (s *stubPaymentService) SendOverdueReminders(ctx context.Context, asOf time.Time) (services.ReminderSweepResult, error) {
	if s.remindFunc != nil {
		return s.remindFunc(ctx, asOf)
	}
	return services.ReminderSweepResult{}, nil
}

type stubNotificationService struct {
	listFunc func(ctx context.Context, userID string, limit int) ([]domain.Notification, error)
}

func (s *stubNotificationService) Notify(context.Context, services.NotifyCommand) (domain.Notification, error) {
	return domain.Notification{}, nil
}

func (s *stubNotificationService) NotifyAdmins(context.Context, services.NotifyCommand) ([]domain.Notification, error) {
	return nil, nil
}

func (s *stubNotificationService) ListForUser(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, userID, limit)
	}
	return nil, nil
}

type stubWebhookParser struct {
	event payments.WebhookEvent
	err   error
	got   []byte
	sig   string
}

func (s *stubWebhookParser) ParseEvent(payload []byte, signatureHeader string) (payments.WebhookEvent, error) {
	s.got = payload
	s.sig = signatureHeader
	return s.event, s.err
}

type stubHealthCollector struct {
	report domain.HealthReport
}

func (s stubHealthCollector) Collect(context.Context) domain.HealthReport {
	return s.report
}
