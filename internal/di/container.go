package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/waypoint-immigration/portal/internal/payments"
	"github.com/waypoint-immigration/portal/internal/platform/config"
	"github.com/waypoint-immigration/portal/internal/platform/observability"
	"github.com/waypoint-immigration/portal/internal/repositories"
	"github.com/waypoint-immigration/portal/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Checkout      services.CheckoutService
	Payments      services.PaymentService
	Notifications services.NotificationService
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// Option supplies infrastructure that lives outside the repository registry.
type Option func(*containerOptions)

type containerOptions struct {
	provider  payments.Provider
	publisher services.NotificationPublisher
	logger    *zap.Logger
	meter     metric.Meter
	clock     func() time.Time
}

// WithPaymentProvider enables the checkout service. Without it Services.Checkout stays nil, which
// suits binaries that never open sessions.
func WithPaymentProvider(provider payments.Provider) Option {
	return func(o *containerOptions) {
		o.provider = provider
	}
}

// WithNotificationPublisher attaches the email fan-out channel.
func WithNotificationPublisher(publisher services.NotificationPublisher) Option {
	return func(o *containerOptions) {
		o.publisher = publisher
	}
}

// WithLogger sets the base logger; each service logs under its own name.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		o.logger = logger
	}
}

// WithMeter sets the meter for service metrics. Nil uses the global provider.
func WithMeter(meter metric.Meter) Option {
	return func(o *containerOptions) {
		o.meter = meter
	}
}

// WithClock injects a time source.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		o.clock = clock
	}
}

// NewContainer constructs the runtime dependencies. Tests can supply an in-memory registry.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	options := containerOptions{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.logger == nil {
		options.logger = zap.NewNop()
	}

	svc, err := buildServices(ctx, reg, cfg, options)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, opts containerOptions) (Services, error) {
	var svc Services

	notificationSvc, err := services.NewNotificationService(services.NotificationServiceDeps{
		Notifications: reg.Notifications(),
		Profiles:      reg.Profiles(),
		Publisher:     opts.publisher,
		Clock:         opts.clock,
		Logger:        observability.NewEventLogger(opts.logger.Named("notifications")),
		DefaultLocale: cfg.Notifications.DefaultLocale,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build notification service: %w", err)
	}
	svc.Notifications = notificationSvc

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Cases:         reg.Cases(),
		Payments:      reg.Payments(),
		Profiles:      reg.Profiles(),
		Notifications: notificationSvc,
		Clock:         opts.clock,
		Logger:        observability.NewEventLogger(opts.logger.Named("payments")),
		Meter:         opts.meter,
		Currency:      cfg.Checkout.Currency,
		ReminderLimit: cfg.Notifications.ReminderLimit,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	if opts.provider != nil {
		checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
			Cases:      reg.Cases(),
			Provider:   opts.provider,
			Clock:      opts.clock,
			Logger:     observability.NewEventLogger(opts.logger.Named("checkout")),
			Currency:   cfg.Checkout.Currency,
			SuccessURL: cfg.Checkout.SuccessURL,
			CancelURL:  cfg.Checkout.CancelURL,
			SessionTTL: cfg.Checkout.SessionTTL,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build checkout service: %w", err)
		}
		svc.Checkout = checkoutSvc
	}

	return svc, nil
}
