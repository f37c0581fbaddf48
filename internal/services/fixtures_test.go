package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/waypoint-immigration/portal/internal/domain"
	"github.com/waypoint-immigration/portal/internal/repositories"
	"github.com/waypoint-immigration/portal/internal/repositories/sqlite"
)

var fixtureNow = time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return "stub repository error" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

var _ repositories.RepositoryError = stubRepoError{}

type recordingPublisher struct {
	mu     sync.Mutex
	events []NotificationEvent
	err    error
}

func (p *recordingPublisher) PublishNotification(_ context.Context, event NotificationEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.events = append(p.events, event)
	return "msg-" + event.NotificationID, nil
}

func (p *recordingPublisher) Events() []NotificationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]NotificationEvent(nil), p.events...)
}

type failingCases struct {
	repositories.CaseRepository
	findErr  error
	grantErr error
}

func (f failingCases) FindByID(ctx context.Context, caseID string) (domain.Case, error) {
	if f.findErr != nil {
		return domain.Case{}, f.findErr
	}
	return f.CaseRepository.FindByID(ctx, caseID)
}

func (f failingCases) GrantAccess(ctx context.Context, caseID string, at time.Time) error {
	if f.grantErr != nil {
		return f.grantErr
	}
	return f.CaseRepository.GrantAccess(ctx, caseID, at)
}

type failingPayments struct {
	repositories.PaymentRepository
	insertErr        error
	insertMissingErr error
}

func (f failingPayments) Insert(ctx context.Context, p domain.Payment) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	return f.PaymentRepository.Insert(ctx, p)
}

func (f failingPayments) InsertMissing(ctx context.Context, payments []domain.Payment) (int, error) {
	if f.insertMissingErr != nil {
		return 0, f.insertMissingErr
	}
	return f.PaymentRepository.InsertMissing(ctx, payments)
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func seedCase(t *testing.T, store *sqlite.Store, id, clientID string) {
	t.Helper()
	err := store.CaseStore().Save(context.Background(), domain.Case{
		ID:          id,
		ClientID:    clientID,
		ServiceName: "Work Permit",
		CreatedAt:   fixtureNow.Add(-24 * time.Hour),
		UpdatedAt:   fixtureNow.Add(-24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("seed case: %v", err)
	}
}

func seedProfile(t *testing.T, store *sqlite.Store, profile domain.Profile) {
	t.Helper()
	if err := store.ProfileStore().Save(context.Background(), profile); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
}

type paymentFixture struct {
	store         *sqlite.Store
	publisher     *recordingPublisher
	notifications NotificationService
	service       PaymentService
	logs          *logRecorder
}

type logRecorder struct {
	mu     sync.Mutex
	events []loggedEvent
}

type loggedEvent struct {
	name   string
	fields map[string]any
}

func (l *logRecorder) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, loggedEvent{name: event, fields: fields})
}

func (l *logRecorder) find(name string) []loggedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []loggedEvent
	for _, e := range l.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

// newPaymentFixture seeds case-1 owned by client-1 plus one admin profile.
func newPaymentFixture(t *testing.T, customise ...func(*PaymentServiceDeps)) *paymentFixture {
	t.Helper()
	store := newTestStore(t)
	seedCase(t, store, "case-1", "client-1")
	seedProfile(t, store, domain.Profile{ID: "client-1", FullName: "Ana Lopez", Email: "ana@example.com", Role: "client", Locale: "en"})
	seedProfile(t, store, domain.Profile{ID: "admin-1", FullName: "Staff One", Email: "staff@example.com", Role: "admin", Locale: "en"})

	logs := &logRecorder{}
	clock := func() time.Time { return fixtureNow }
	publisher := &recordingPublisher{}
	notifications, err := NewNotificationService(NotificationServiceDeps{
		Notifications: store.Notifications(),
		Profiles:      store.Profiles(),
		Publisher:     publisher,
		Clock:         clock,
		Logger:        logs.log,
	})
	if err != nil {
		t.Fatalf("new notification service: %v", err)
	}

	deps := PaymentServiceDeps{
		Cases:         store.Cases(),
		Payments:      store.Payments(),
		Profiles:      store.Profiles(),
		Notifications: notifications,
		Clock:         clock,
		Logger:        logs.log,
	}
	for _, fn := range customise {
		fn(&deps)
	}
	service, err := NewPaymentService(deps)
	if err != nil {
		t.Fatalf("new payment service: %v", err)
	}
	return &paymentFixture{store: store, publisher: publisher, notifications: notifications, service: service, logs: logs}
}

func (f *paymentFixture) payments(t *testing.T, caseID string) []domain.Payment {
	t.Helper()
	items, err := f.store.Payments().ListByCase(context.Background(), caseID)
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	return items
}

func (f *paymentFixture) notificationsFor(t *testing.T, recipientID string) []domain.Notification {
	t.Helper()
	items, err := f.store.Notifications().ListByRecipient(context.Background(), recipientID, 50)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	return items
}

func (f *paymentFixture) caseRecord(t *testing.T, caseID string) domain.Case {
	t.Helper()
	c, err := f.store.Cases().FindByID(context.Background(), caseID)
	if err != nil {
		t.Fatalf("find case: %v", err)
	}
	return c
}

func requireErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
