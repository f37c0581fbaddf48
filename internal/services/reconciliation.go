package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/waypoint-immigration/portal/internal/domain"
	"github.com/waypoint-immigration/portal/internal/repositories"
)

// Reconciliation step names reported in ReconciliationResult.FailedSteps.
const (
	stepScheduleRemaining = "schedule_remaining"
	stepGrantAccess       = "grant_access"
	stepNotifyClient      = "notify_client"
	stepNotifyAdmin       = "notify_admin"
	stepNotifyPlanCreated = "notify_plan_created"
	stepNotifyConflict    = "notify_conflict"
)

// workflowStep is a post-payment side effect. Steps run in order after the payment row is durable;
// a failing step is logged and recorded but never undoes the payment or stops later steps.
type workflowStep struct {
	name string
	// replay steps are idempotent and also run for a redelivered event to repair partial failures.
	replay bool
	run    func(r *paymentRun, ctx context.Context) error
}

var (
	scheduleRemainingStep = workflowStep{name: stepScheduleRemaining, replay: true, run: (*paymentRun).scheduleRemaining}
	grantAccessStep       = workflowStep{name: stepGrantAccess, replay: true, run: (*paymentRun).grantAccess}
	notifyClientStep      = workflowStep{name: stepNotifyClient, run: (*paymentRun).notifyClient}
	notifyAdminStep       = workflowStep{name: stepNotifyAdmin, run: (*paymentRun).notifyAdmins}
	notifyPlanCreatedStep = workflowStep{name: stepNotifyPlanCreated, run: (*paymentRun).notifyPlanCreated}
	// notifyConflictStep only runs on the conflicting-charge path, where the run is a duplicate.
	notifyConflictStep = workflowStep{name: stepNotifyConflict, replay: true, run: (*paymentRun).notifyConflict}

	reconciliationWorkflow = []workflowStep{scheduleRemainingStep, grantAccessStep, notifyClientStep, notifyAdminStep}
)

// paymentRun carries the state shared by the steps of one workflow execution.
type paymentRun struct {
	service     *paymentService
	caseRecord  domain.Case
	payment     domain.Payment
	schedule    []domain.Payment
	serviceName string
	duplicate   bool
	chargeRef   string

	scheduled int
	failed    []string
	client    *domain.Profile
}

func (r *paymentRun) execute(ctx context.Context, steps []workflowStep) {
	for _, step := range steps {
		if r.duplicate && !step.replay {
			continue
		}
		if err := step.run(r, ctx); err != nil {
			r.failed = append(r.failed, step.name)
			r.service.logger(ctx, "payments.workflow.step_failed", map[string]any{
				"step":      step.name,
				"caseId":    r.caseRecord.ID,
				"paymentId": r.payment.ID,
				"error":     err,
			})
		}
	}
}

func (r *paymentRun) scheduleRemaining(ctx context.Context) error {
	if r.payment.InstallmentNumber != 1 || len(r.schedule) <= 1 {
		return nil
	}
	n, err := r.service.payments.InsertMissing(ctx, r.schedule[1:])
	if err != nil {
		return err
	}
	r.scheduled = n
	return nil
}

func (r *paymentRun) grantAccess(ctx context.Context) error {
	return r.service.cases.GrantAccess(ctx, r.caseRecord.ID, r.service.now())
}

func (r *paymentRun) notifyClient(ctx context.Context) error {
	client := r.clientProfile(ctx)
	key := string(domain.NotificationPaymentReceived)
	if r.payment.TotalInstallments > 1 {
		key = "payment_received_installment"
	}
	_, err := r.service.notifications.Notify(ctx, NotifyCommand{
		RecipientID: client.ID,
		CaseID:      r.caseRecord.ID,
		Type:        domain.NotificationPaymentReceived,
		MessageKey:  key,
		Locale:      client.Locale,
		Params:      r.params(client.Locale),
	})
	return err
}

func (r *paymentRun) notifyAdmins(ctx context.Context) error {
	client := r.clientProfile(ctx)
	params := r.params("")
	params["client"] = client.DisplayName()
	_, err := r.service.notifications.NotifyAdmins(ctx, NotifyCommand{
		CaseID: r.caseRecord.ID,
		Type:   domain.NotificationAdminPaymentReceived,
		Params: params,
	})
	return err
}

func (r *paymentRun) notifyConflict(ctx context.Context) error {
	params := r.params("")
	params["existing_ref"] = r.payment.TransactionRef
	if params["existing_ref"] == "" {
		params["existing_ref"] = string(r.payment.Method)
	}
	params["charge_ref"] = r.chargeRef
	_, err := r.service.notifications.NotifyAdmins(ctx, NotifyCommand{
		CaseID: r.caseRecord.ID,
		Type:   domain.NotificationAdminPaymentConflict,
		Params: params,
	})
	return err
}

func (r *paymentRun) notifyPlanCreated(ctx context.Context) error {
	client := r.clientProfile(ctx)
	params := r.params(client.Locale)
	params["installments"] = strconv.Itoa(len(r.schedule))
	if len(r.schedule) > 0 {
		params["first_due"] = r.schedule[0].DueDate.Format(time.DateOnly)
	}
	_, err := r.service.notifications.Notify(ctx, NotifyCommand{
		RecipientID: client.ID,
		CaseID:      r.caseRecord.ID,
		Type:        domain.NotificationPaymentPlanCreated,
		Locale:      client.Locale,
		Params:      params,
	})
	return err
}

func (r *paymentRun) params(locale string) map[string]string {
	service := r.serviceName
	if service == "" {
		service = r.caseRecord.ServiceName
	}
	return map[string]string{
		"amount":      FormatAmount(r.payment.Amount, currencyOr(r.payment.Currency, r.service.currency), locale),
		"service":     service,
		"case":        r.caseRecord.ID,
		"installment": strconv.Itoa(r.payment.InstallmentNumber),
		"total":       strconv.Itoa(r.payment.TotalInstallments),
	}
}

// clientProfile resolves the case owner once per run. A failed lookup degrades to the bare id.
func (r *paymentRun) clientProfile(ctx context.Context) domain.Profile {
	if r.client != nil {
		return *r.client
	}
	clientID := r.caseRecord.ClientID
	if clientID == "" {
		clientID = r.payment.ClientID
	}
	profile, err := r.service.profiles.FindByID(ctx, clientID)
	if err != nil {
		profile = domain.Profile{ID: clientID}
	}
	r.client = &profile
	return profile
}

// ReconcileCheckoutCompleted records a verified gateway completion. The completed installment is
// the only write whose failure is returned; everything after it runs as reconciliationWorkflow.
// A redelivered event is reported as Duplicate and only replays the idempotent steps. A charge for
// an installment already completed under another transaction reference is a ConflictingCharge:
// the stored row is kept and admins are alerted to review it.
func (s *paymentService) ReconcileCheckoutCompleted(ctx context.Context, cmd CheckoutCompletedCommand) (ReconciliationResult, error) {
	meta := cmd.Metadata
	if strings.TrimSpace(meta.CaseID) == "" || meta.InstallmentNumber < 1 ||
		meta.TotalInstallments < meta.InstallmentNumber || meta.TotalPrice <= 0 {
		s.recordOutcome(ctx, "invalid")
		return ReconciliationResult{}, fmt.Errorf("%w: incomplete checkout metadata", ErrPaymentInvalidInput)
	}

	c, err := s.loadCase(ctx, meta.CaseID)
	if err != nil {
		if errors.Is(err, ErrPaymentCaseNotFound) {
			s.recordOutcome(ctx, "case_not_found")
		} else {
			s.recordOutcome(ctx, "store_error")
		}
		return ReconciliationResult{}, err
	}
	if meta.ClientID != c.ClientID {
		s.logger(ctx, "payments.reconcile.client_mismatch", map[string]any{
			"caseId":         c.ID,
			"metadataClient": meta.ClientID,
			"caseClient":     c.ClientID,
		})
	}

	now := s.now()
	ref := strings.TrimSpace(cmd.TransactionRef)
	if ref == "" {
		ref = strings.TrimSpace(cmd.SessionID)
	}
	schedule, err := BuildInstallmentSchedule(InstallmentPlanParams{
		CaseID:          c.ID,
		ClientID:        c.ClientID,
		TotalAmount:     meta.TotalPrice,
		NumInstallments: meta.TotalInstallments,
		Currency:        currencyOr(strings.ToLower(strings.TrimSpace(cmd.Currency)), s.currency),
		StartDate:       now,
		PaidAt:          now,
		Method:          domain.PaymentMethodStripe,
		TransactionRef:  ref,
	})
	if err != nil {
		s.recordOutcome(ctx, "invalid")
		return ReconciliationResult{}, err
	}

	payment := schedule[meta.InstallmentNumber-1]
	if meta.InstallmentNumber > 1 {
		paid := now
		payment.Status = domain.PaymentStatusCompleted
		payment.PaidAt = &paid
		payment.DueDate = now
		payment.TransactionRef = ref
	}

	recorded, duplicate, err := s.recordGatewayPayment(ctx, payment)
	if err != nil {
		s.recordOutcome(ctx, "store_error")
		return ReconciliationResult{}, err
	}

	run := &paymentRun{
		service:     s,
		caseRecord:  c,
		payment:     recorded,
		schedule:    schedule,
		serviceName: meta.ServiceName,
		duplicate:   duplicate,
		chargeRef:   ref,
	}
	run.execute(ctx, reconciliationWorkflow)

	conflict := duplicate && recorded.IsCompleted() && recorded.TransactionRef != ref
	if conflict {
		s.logger(ctx, "payments.reconcile.conflicting_charge", map[string]any{
			"alert":       "possible_double_charge",
			"eventId":     cmd.EventID,
			"sessionId":   cmd.SessionID,
			"caseId":      c.ID,
			"paymentId":   recorded.ID,
			"installment": recorded.InstallmentNumber,
			"storedRef":   recorded.TransactionRef,
			"storedVia":   string(recorded.Method),
			"chargeRef":   ref,
			"amountPaid":  cmd.AmountPaid,
		})
		run.execute(ctx, []workflowStep{notifyConflictStep})
	}

	outcome := "recorded"
	switch {
	case conflict:
		outcome = "conflicting_charge"
	case duplicate:
		outcome = "duplicate"
	case len(run.failed) > 0:
		outcome = "partial"
	}
	s.recordOutcome(ctx, outcome)
	s.logger(ctx, "payments.reconciled", map[string]any{
		"eventId":     cmd.EventID,
		"sessionId":   cmd.SessionID,
		"caseId":      c.ID,
		"paymentId":   recorded.ID,
		"installment": recorded.InstallmentNumber,
		"outcome":     outcome,
		"scheduled":   run.scheduled,
		"failedSteps": run.failed,
	})

	return ReconciliationResult{
		Payment:               recorded,
		Duplicate:             duplicate,
		ConflictingCharge:     conflict,
		ScheduledInstallments: run.scheduled,
		FailedSteps:           run.failed,
	}, nil
}

// recordGatewayPayment inserts the completed installment. When the installment already exists it
// completes a pending row (a scheduled installment paid through the gateway) or reports the event
// as a duplicate.
func (s *paymentService) recordGatewayPayment(ctx context.Context, payment domain.Payment) (domain.Payment, bool, error) {
	err := s.payments.Insert(ctx, payment)
	if err == nil {
		return payment, false, nil
	}
	if !isRepoConflict(err) {
		return domain.Payment{}, false, fmt.Errorf("%w: insert payment: %v", ErrPaymentUnavailable, err)
	}

	completed, err := s.payments.MarkPaid(ctx, repositories.PaymentCompletion{
		PaymentID:      payment.ID,
		Method:         domain.PaymentMethodStripe,
		TransactionRef: payment.TransactionRef,
		PaidAt:         *payment.PaidAt,
	})
	switch {
	case err == nil:
		return completed, false, nil
	case !isRepoNotFound(err):
		return domain.Payment{}, false, fmt.Errorf("%w: complete payment: %v", ErrPaymentUnavailable, err)
	}

	existing, err := s.payments.FindByID(ctx, payment.ID)
	if err != nil {
		return payment, true, nil
	}
	return existing, true, nil
}
