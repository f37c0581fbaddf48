package di

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/waypoint-immigration/portal/internal/platform/config"
	pfirestore "github.com/waypoint-immigration/portal/internal/platform/firestore"
	"github.com/waypoint-immigration/portal/internal/platform/idempotency"
	"github.com/waypoint-immigration/portal/internal/platform/jobs"
	"github.com/waypoint-immigration/portal/internal/platform/secrets"
	"github.com/waypoint-immigration/portal/internal/repositories"
	firestoreRepo "github.com/waypoint-immigration/portal/internal/repositories/firestore"
	"github.com/waypoint-immigration/portal/internal/repositories/sqlite"
)

// LoadConfig resolves configuration, fetching secret:// references through Secret Manager.
// The returned fetcher must be closed by the caller.
func LoadConfig(ctx context.Context, logger *zap.Logger, required ...string) (config.Config, *secrets.Fetcher, error) {
	env, err := config.EnvironmentValues()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("read environment values: %w", err)
	}
	lookup := func(key string) string { return strings.TrimSpace(env[key]) }

	project := lookup("PORTAL_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("PORTAL_FIREBASE_PROJECT_ID")
	}
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(project),
	}
	if path := lookup("PORTAL_SECRET_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if credentials := lookup("PORTAL_FIREBASE_CREDENTIALS_FILE"); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	fetcher, err := secrets.NewFetcher(ctx, opts...)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("initialise secret fetcher: %w", err)
	}

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(required...),
	)
	if err != nil {
		_ = fetcher.Close()
		return config.Config{}, nil, err
	}
	return cfg, fetcher, nil
}

// OpenRegistry opens the configured persistence backend.
func OpenRegistry(ctx context.Context, cfg config.Config) (repositories.Registry, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		if _, err := provider.Client(ctx); err != nil {
			return nil, fmt.Errorf("initialise firestore client: %w", err)
		}
		reg, err := firestoreRepo.NewRegistry(provider)
		if err != nil {
			_ = provider.Close(ctx)
			return nil, err
		}
		return reg, nil
	case config.StoreDriverSQLite:
		store, err := sqlite.Open(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// OpenIdempotencyStore returns the key store living next to the registry's data.
func OpenIdempotencyStore(ctx context.Context, reg repositories.Registry) (idempotency.Store, error) {
	switch r := reg.(type) {
	case *sqlite.Store:
		return idempotency.NewSQLStore(ctx, r.DB())
	case *firestoreRepo.Registry:
		return idempotency.NewFirestoreStore(r.Provider())
	default:
		return nil, fmt.Errorf("idempotency store: unsupported registry %T", reg)
	}
}

// NotificationPublisher bundles the Pub/Sub publisher with the client it owns.
type NotificationPublisher struct {
	*jobs.PubSubNotificationPublisher
	client *pubsub.Client
}

// Close flushes pending messages and closes the client.
func (p *NotificationPublisher) Close() error {
	if p == nil {
		return nil
	}
	p.Stop()
	return p.client.Close()
}

// OpenNotificationPublisher connects to the configured topic. It returns nil when no topic is set.
func OpenNotificationPublisher(ctx context.Context, cfg config.Config, opts ...option.ClientOption) (*NotificationPublisher, error) {
	topicID := strings.TrimSpace(cfg.Notifications.PubSubTopic)
	if topicID == "" {
		return nil, nil
	}
	project := cfg.Firestore.ProjectID
	if project == "" {
		project = cfg.Firebase.ProjectID
	}
	if project == "" {
		return nil, errors.New("pubsub publisher: project id is required")
	}
	client, err := pubsub.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher: %w", err)
	}
	publisher, err := jobs.NewPubSubNotificationPublisher(client.Topic(topicID))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &NotificationPublisher{PubSubNotificationPublisher: publisher, client: client}, nil
}
