package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/waypoint-immigration/portal/internal/payments"
	"github.com/waypoint-immigration/portal/internal/repositories"
)

const (
	defaultCheckoutCurrency   = "usd"
	defaultCheckoutSessionTTL = time.Hour
	caseIDPlaceholder         = "{CASE_ID}"
)

var (
	// ErrCheckoutUnauthenticated indicates the caller has no verified identity.
	ErrCheckoutUnauthenticated = errors.New("checkout: unauthenticated")
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutCaseNotFound indicates the case is missing or belongs to another client.
	ErrCheckoutCaseNotFound = errors.New("checkout: case not found")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutPaymentFailed indicates the PSP session could not be created.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
)

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Cases      repositories.CaseRepository
	Provider   payments.Provider
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
	Currency   string
	SuccessURL string
	CancelURL  string
	SessionTTL time.Duration
}

type checkoutService struct {
	cases      repositories.CaseRepository
	provider   payments.Provider
	now        func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
	currency   string
	successURL string
	cancelURL  string
	sessionTTL time.Duration
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Cases == nil {
		return nil, errors.New("checkout service: case repository is required")
	}
	if deps.Provider == nil {
		return nil, errors.New("checkout service: payment provider is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCheckoutCurrency
	}
	ttl := deps.SessionTTL
	if ttl <= 0 {
		ttl = defaultCheckoutSessionTTL
	}

	return &checkoutService{
		cases:    deps.Cases,
		provider: deps.Provider,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:     logger,
		currency:   currency,
		successURL: strings.TrimSpace(deps.SuccessURL),
		cancelURL:  strings.TrimSpace(deps.CancelURL),
		sessionTTL: ttl,
	}, nil
}

// CreateCheckoutSession opens a hosted session charging installment 1 of the requested plan.
// Nothing is persisted here; the completion webhook records the payment.
func (s *checkoutService) CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSession, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CheckoutSession{}, ErrCheckoutUnauthenticated
	}

	caseID := strings.TrimSpace(cmd.CaseID)
	serviceName := strings.TrimSpace(cmd.ServiceName)
	if caseID == "" || serviceName == "" || cmd.TotalPrice <= 0 || cmd.TotalPrice > payments.MaxAmount {
		return CheckoutSession{}, ErrCheckoutInvalidInput
	}
	installments := cmd.Installments
	if installments <= 0 {
		installments = 1
	}
	if installments > maxInstallments {
		return CheckoutSession{}, fmt.Errorf("%w: installments must not exceed %d", ErrCheckoutInvalidInput, maxInstallments)
	}

	successURL := firstNonEmpty(strings.TrimSpace(cmd.SuccessURL), s.successURL)
	cancelURL := firstNonEmpty(strings.TrimSpace(cmd.CancelURL), s.cancelURL)
	if successURL == "" || cancelURL == "" {
		return CheckoutSession{}, fmt.Errorf("%w: success and cancel urls are required", ErrCheckoutInvalidInput)
	}

	c, err := s.cases.FindByID(ctx, caseID)
	if err != nil {
		if isRepoNotFound(err) {
			return CheckoutSession{}, ErrCheckoutCaseNotFound
		}
		return CheckoutSession{}, fmt.Errorf("%w: load case: %v", ErrCheckoutUnavailable, err)
	}
	if c.ClientID != userID {
		return CheckoutSession{}, ErrCheckoutCaseNotFound
	}

	meta := payments.CheckoutMetadata{
		CaseID:            c.ID,
		ClientID:          userID,
		InstallmentNumber: 1,
		TotalInstallments: installments,
		TotalPrice:        cmd.TotalPrice,
		ServiceName:       serviceName,
		ServiceSlug:       strings.TrimSpace(cmd.ServiceSlug),
		Variant:           strings.TrimSpace(cmd.Variant),
	}
	amount := InstallmentAmount(cmd.TotalPrice, installments)
	expiresAt := s.now().Add(s.sessionTTL).Truncate(time.Second)

	session, err := s.provider.CreateCheckoutSession(ctx, payments.CheckoutSessionRequest{
		Amount:         amount,
		Currency:       s.currency,
		CustomerEmail:  strings.TrimSpace(cmd.Email),
		SuccessURL:     expandCaseURL(successURL, c.ID),
		CancelURL:      expandCaseURL(cancelURL, c.ID),
		Locale:         strings.TrimSpace(cmd.Locale),
		Metadata:       meta.Encode(),
		IdempotencyKey: meta.IdempotencyKey(expiresAt),
		ExpiresAt:      expiresAt,
		Items: []payments.CheckoutLineItem{{
			Name:        serviceName,
			Description: checkoutDescription(meta.Variant, installments),
			Quantity:    1,
			Amount:      amount,
			Currency:    s.currency,
		}},
	})
	if err != nil {
		s.logger(ctx, "checkout.session.failed", map[string]any{
			"caseId": c.ID,
			"error":  err,
		})
		return CheckoutSession{}, fmt.Errorf("%w: %v", ErrCheckoutPaymentFailed, err)
	}
	if !session.ExpiresAt.IsZero() {
		expiresAt = session.ExpiresAt.UTC()
	}

	s.logger(ctx, "checkout.session.created", map[string]any{
		"caseId":            c.ID,
		"sessionId":         session.ID,
		"amount":            amount,
		"totalInstallments": installments,
	})

	return CheckoutSession{
		SessionID:         session.ID,
		URL:               session.RedirectURL,
		Provider:          session.Provider,
		ExpiresAt:         expiresAt,
		Amount:            amount,
		Currency:          s.currency,
		InstallmentNumber: 1,
		TotalInstallments: installments,
	}, nil
}

func checkoutDescription(variant string, installments int) string {
	parts := make([]string, 0, 2)
	if variant != "" {
		parts = append(parts, variant)
	}
	if installments > 1 {
		parts = append(parts, fmt.Sprintf("(installment 1 of %d)", installments))
	}
	return strings.Join(parts, " ")
}

func expandCaseURL(raw, caseID string) string {
	return strings.ReplaceAll(raw, caseIDPlaceholder, url.PathEscape(caseID))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
