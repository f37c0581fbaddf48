package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/waypoint-immigration/portal/internal/platform/firestore"
	"github.com/waypoint-immigration/portal/internal/repositories"
)

const (
	casesCollection         = "cases"
	paymentsCollection      = "payments"
	notificationsCollection = "notifications"
	profilesCollection      = "profiles"
)

// Registry wires the Firestore repositories to a shared provider.
type Registry struct {
	provider      *pfirestore.Provider
	cases         *CaseRepository
	payments      *PaymentRepository
	notifications *NotificationRepository
	profiles      *ProfileRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the Firestore repositories.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	return &Registry{
		provider:      provider,
		cases:         &CaseRepository{provider: provider},
		payments:      &PaymentRepository{provider: provider},
		notifications: &NotificationRepository{provider: provider},
		profiles:      &ProfileRepository{provider: provider},
	}, nil
}

// Provider returns the shared Firestore provider.
func (r *Registry) Provider() *pfirestore.Provider { return r.provider }

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Ping(ctx context.Context) error { return r.provider.Ping(ctx) }

func (r *Registry) Cases() repositories.CaseRepository { return r.cases }

func (r *Registry) Payments() repositories.PaymentRepository { return r.payments }

func (r *Registry) Notifications() repositories.NotificationRepository { return r.notifications }

func (r *Registry) Profiles() repositories.ProfileRepository { return r.profiles }
