package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile          = ".env"
	defaultPort             = "8080"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 30 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultStoreDriver      = StoreDriverFirestore
	defaultSQLitePath       = "portal.db"
	defaultCurrency         = "usd"
	defaultCheckoutTTL      = time.Hour
	defaultWebhookTolerance = 5 * time.Minute
	defaultLocale           = "en"
	defaultReminderLimit    = 200
	defaultEnvironment      = "local"
	defaultOIDCJWKSURL      = "https://www.googleapis.com/oauth2/v3/certs"
	defaultOIDCIssuer       = "https://accounts.google.com"
	defaultIdempotencyTTL   = 24 * time.Hour
)

// Store drivers understood by the API binary.
const (
	StoreDriverFirestore = "firestore"
	StoreDriverSQLite    = "sqlite"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Firebase      FirebaseConfig
	Firestore     FirestoreConfig
	Store         StoreConfig
	PSP           PSPConfig
	Checkout      CheckoutConfig
	Notifications NotificationConfig
	Security      SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings used for client identity.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StoreConfig selects the persistence backend for cases, payments and notifications.
type StoreConfig struct {
	Driver     string
	SQLitePath string
}

// PSPConfig collects Stripe credentials.
type PSPConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
	WebhookTolerance    time.Duration
}

// CheckoutConfig controls hosted checkout session defaults.
// SuccessURL and CancelURL may contain a {CASE_ID} placeholder.
type CheckoutConfig struct {
	SuccessURL string
	CancelURL  string
	Currency   string
	SessionTTL time.Duration
}

// NotificationConfig configures notification fan-out.
type NotificationConfig struct {
	PubSubTopic   string
	DefaultLocale string
	ReminderLimit int
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment    string
	OIDC           OIDCConfig
	IdempotencyTTL time.Duration
}

// OIDCConfig controls Google-signed token verification for internal endpoints.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to empty values.
// Names are redacted in the error string so logs never leak config layout.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.names) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the missing secret identifiers, sorted.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

// RedactedNames returns hashed identifiers suitable for logging.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		out = append(out, hex.EncodeToString(sum[:8]))
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

func defaultOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
}

// WithEnvFile overrides the .env file path used for local overrides. Empty disables dotenv.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects explicit values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config secret fields (e.g. "PSP.StripeWebhookSecret") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// EnvironmentValues returns the merged environment (dotenv < OS env < explicit map) so callers can
// build dependencies, such as the secret fetcher, before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	values, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and Secret Manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	values, err := EnvironmentValues(opts...)
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "PORTAL_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "PORTAL_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "PORTAL_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "PORTAL_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "PORTAL_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "PORTAL_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "PORTAL_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "PORTAL_FIRESTORE_EMULATOR_HOST", ""),
		},
		Store: StoreConfig{
			Driver:     strings.ToLower(stringWithDefault(lookup, "PORTAL_STORE_DRIVER", defaultStoreDriver)),
			SQLitePath: stringWithDefault(lookup, "PORTAL_STORE_SQLITE_PATH", defaultSQLitePath),
		},
		PSP: PSPConfig{
			StripeAPIKey:        stringWithDefault(lookup, "PORTAL_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret: stringWithDefault(lookup, "PORTAL_PSP_STRIPE_WEBHOOK_SECRET", ""),
			WebhookTolerance:    durationWithDefault(lookup, "PORTAL_PSP_STRIPE_WEBHOOK_TOLERANCE", defaultWebhookTolerance),
		},
		Checkout: CheckoutConfig{
			SuccessURL: stringWithDefault(lookup, "PORTAL_CHECKOUT_SUCCESS_URL", ""),
			CancelURL:  stringWithDefault(lookup, "PORTAL_CHECKOUT_CANCEL_URL", ""),
			Currency:   strings.ToLower(stringWithDefault(lookup, "PORTAL_CHECKOUT_CURRENCY", defaultCurrency)),
			SessionTTL: durationWithDefault(lookup, "PORTAL_CHECKOUT_SESSION_TTL", defaultCheckoutTTL),
		},
		Notifications: NotificationConfig{
			PubSubTopic:   stringWithDefault(lookup, "PORTAL_NOTIFICATIONS_TOPIC", ""),
			DefaultLocale: stringWithDefault(lookup, "PORTAL_NOTIFICATIONS_DEFAULT_LOCALE", defaultLocale),
			ReminderLimit: intWithDefault(lookup, "PORTAL_NOTIFICATIONS_REMINDER_LIMIT", defaultReminderLimit),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "PORTAL_SECURITY_ENVIRONMENT", defaultEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:  stringWithDefault(lookup, "PORTAL_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience: stringWithDefault(lookup, "PORTAL_SECURITY_OIDC_AUDIENCE", ""),
				Issuers:  csvWithDefault(lookup, "PORTAL_SECURITY_OIDC_ISSUERS"),
			},
			IdempotencyTTL: durationWithDefault(lookup, "PORTAL_SECURITY_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultOIDCIssuer}
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.StripeWebhookSecret", &cfg.PSP.StripeWebhookSecret},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || !isSecretReference(trimmed) {
		return value, nil
	}
	ref := normalizeSecretReference(trimmed)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var invalid []string

	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	switch cfg.Store.Driver {
	case StoreDriverFirestore:
		if cfg.Firestore.ProjectID == "" {
			invalid = append(invalid, "Firestore.ProjectID")
		}
	case StoreDriverSQLite:
		if strings.TrimSpace(cfg.Store.SQLitePath) == "" {
			invalid = append(invalid, "Store.SQLitePath")
		}
	default:
		invalid = append(invalid, "Store.Driver")
	}
	if len(cfg.Checkout.Currency) != 3 {
		invalid = append(invalid, "Checkout.Currency")
	}
	if cfg.Checkout.SessionTTL <= 0 {
		invalid = append(invalid, "Checkout.SessionTTL")
	}
	if cfg.PSP.WebhookTolerance <= 0 {
		invalid = append(invalid, "PSP.WebhookTolerance")
	}
	if cfg.Notifications.ReminderLimit <= 0 {
		invalid = append(invalid, "Notifications.ReminderLimit")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	seen := make(map[string]struct{})
	var missing []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	return strings.HasPrefix(value, "secret://") || strings.HasPrefix(value, "sm://")
}

func normalizeSecretReference(value string) string {
	if rest, ok := strings.CutPrefix(value, "sm://"); ok {
		return "secret://" + rest
	}
	return value
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
