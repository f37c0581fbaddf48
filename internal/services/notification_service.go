package services

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"github.com/yuin/goldmark"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	domain "github.com/waypoint-immigration/portal/internal/domain"
	"github.com/waypoint-immigration/portal/internal/repositories"
)

const (
	notificationIDPrefix          = "ntf_"
	defaultNotificationLocale     = "en"
	defaultNotificationListLimit  = 50
	maxNotificationListLimit      = 200
	adminRole                     = "admin"
	notificationParamMaxRuneCount = 500
)

var (
	// ErrNotificationInvalidInput indicates a notification could not be addressed or rendered.
	ErrNotificationInvalidInput = errors.New("notification: invalid input")
	// ErrNotificationAdminNotFound indicates the staff directory returned no admins.
	ErrNotificationAdminNotFound = errors.New("notification: no admin recipients")
	// ErrNotificationUnavailable indicates the notification store failed.
	ErrNotificationUnavailable = errors.New("notification: unavailable")
)

//go:embed notifications/messages.yaml
var defaultMessageCatalog []byte

type catalogMessage struct {
	Title string `yaml:"title"`
	Body  string `yaml:"body"`
	Email string `yaml:"email"`
}

// messageCatalog maps locale -> message key -> message.
type messageCatalog map[string]map[string]catalogMessage

func parseMessageCatalog(data []byte) (messageCatalog, error) {
	var catalog messageCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse message catalog: %w", err)
	}
	if len(catalog) == 0 {
		return nil, errors.New("message catalog is empty")
	}
	for locale, messages := range catalog {
		if _, err := language.Parse(locale); err != nil {
			return nil, fmt.Errorf("message catalog: invalid locale %q: %w", locale, err)
		}
		for key, msg := range messages {
			if strings.TrimSpace(msg.Title) == "" || strings.TrimSpace(msg.Body) == "" {
				return nil, fmt.Errorf("message catalog: %s/%s requires title and body", locale, key)
			}
		}
	}
	return catalog, nil
}

// NotificationServiceDeps wires the dependencies required by the notification service.
type NotificationServiceDeps struct {
	Notifications repositories.NotificationRepository
	Profiles      repositories.ProfileRepository
	Publisher     NotificationPublisher
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
	DefaultLocale string
	// Catalog overrides the embedded message catalog (YAML).
	Catalog []byte
}

type notificationService struct {
	notifications repositories.NotificationRepository
	profiles      repositories.ProfileRepository
	publisher     NotificationPublisher
	now           func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)

	catalog       messageCatalog
	matcher       language.Matcher
	locales       []string
	defaultLocale string

	strict   *bluemonday.Policy
	ugc      *bluemonday.Policy
	markdown goldmark.Markdown
}

// NewNotificationService constructs a NotificationService validating required dependencies.
func NewNotificationService(deps NotificationServiceDeps) (NotificationService, error) {
	if deps.Notifications == nil {
		return nil, errors.New("notification service: notification repository is required")
	}
	if deps.Profiles == nil {
		return nil, errors.New("notification service: profile repository is required")
	}

	raw := deps.Catalog
	if len(raw) == 0 {
		raw = defaultMessageCatalog
	}
	catalog, err := parseMessageCatalog(raw)
	if err != nil {
		return nil, fmt.Errorf("notification service: %w", err)
	}

	defaultLocale := strings.TrimSpace(deps.DefaultLocale)
	if defaultLocale == "" {
		defaultLocale = defaultNotificationLocale
	}
	if _, ok := catalog[defaultLocale]; !ok {
		return nil, fmt.Errorf("notification service: default locale %q missing from catalog", defaultLocale)
	}

	// The default locale goes first so the matcher falls back to it.
	locales := []string{defaultLocale}
	for _, locale := range slices.Sorted(maps.Keys(catalog)) {
		if locale != defaultLocale {
			locales = append(locales, locale)
		}
	}
	tags := make([]language.Tag, 0, len(locales))
	for _, locale := range locales {
		tags = append(tags, language.MustParse(locale))
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &notificationService{
		notifications: deps.Notifications,
		profiles:      deps.Profiles,
		publisher:     deps.Publisher,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:        logger,
		catalog:       catalog,
		matcher:       language.NewMatcher(tags),
		locales:       locales,
		defaultLocale: defaultLocale,
		strict:        bluemonday.StrictPolicy(),
		ugc:           bluemonday.UGCPolicy(),
		markdown:      goldmark.New(),
	}, nil
}

// Notify renders and appends a notification for a single recipient, then hands it to the
// publisher. Publish failures are logged only; the stored row is the source of truth.
func (s *notificationService) Notify(ctx context.Context, cmd NotifyCommand) (domain.Notification, error) {
	recipientID := strings.TrimSpace(cmd.RecipientID)
	if recipientID == "" {
		return domain.Notification{}, fmt.Errorf("%w: recipient is required", ErrNotificationInvalidInput)
	}

	profile, err := s.profiles.FindByID(ctx, recipientID)
	if err != nil {
		// A recipient without a profile still gets the in-portal notification.
		s.logger(ctx, "notification.profile.lookup_failed", map[string]any{
			"recipientId": recipientID,
			"error":       err,
		})
		profile = domain.Profile{ID: recipientID}
	}
	return s.notifyProfile(ctx, profile, cmd)
}

// NotifyAdmins sends one notification per admin profile. Every admin is attempted; failures are
// joined into the returned error alongside the notifications that were written.
func (s *notificationService) NotifyAdmins(ctx context.Context, cmd NotifyCommand) ([]domain.Notification, error) {
	admins, err := s.profiles.FindByRole(ctx, adminRole)
	if err != nil {
		return nil, fmt.Errorf("%w: list admins: %v", ErrNotificationUnavailable, err)
	}
	if len(admins) == 0 {
		return nil, ErrNotificationAdminNotFound
	}

	sent := make([]domain.Notification, 0, len(admins))
	var errs []error
	for _, admin := range admins {
		next := cmd
		next.RecipientID = admin.ID
		n, err := s.notifyProfile(ctx, admin, next)
		if err != nil {
			errs = append(errs, fmt.Errorf("admin %s: %w", admin.ID, err))
			continue
		}
		sent = append(sent, n)
	}
	return sent, errors.Join(errs...)
}

// ListForUser returns the user's notifications newest first.
func (s *notificationService) ListForUser(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user is required", ErrNotificationInvalidInput)
	}
	switch {
	case limit <= 0:
		limit = defaultNotificationListLimit
	case limit > maxNotificationListLimit:
		limit = maxNotificationListLimit
	}
	items, err := s.notifications.ListByRecipient(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotificationUnavailable, err)
	}
	return items, nil
}

func (s *notificationService) notifyProfile(ctx context.Context, profile domain.Profile, cmd NotifyCommand) (domain.Notification, error) {
	if strings.TrimSpace(string(cmd.Type)) == "" {
		return domain.Notification{}, fmt.Errorf("%w: type is required", ErrNotificationInvalidInput)
	}
	key := strings.TrimSpace(cmd.MessageKey)
	if key == "" {
		key = string(cmd.Type)
	}

	locale := s.resolveLocale(cmd.Locale, profile.Locale)
	msg, ok := s.lookup(locale, key)
	if !ok {
		return domain.Notification{}, fmt.Errorf("%w: unknown message %q", ErrNotificationInvalidInput, key)
	}

	params := s.sanitiseParams(cmd.Params)
	plain := placeholderReplacer(params)
	notification := domain.Notification{
		ID:          notificationIDPrefix + ulid.Make().String(),
		RecipientID: profile.ID,
		CaseID:      strings.TrimSpace(cmd.CaseID),
		Title:       strings.TrimSpace(plain.Replace(msg.Title)),
		Message:     strings.TrimSpace(plain.Replace(msg.Body)),
		Type:        cmd.Type,
		CreatedAt:   s.now(),
	}

	if err := s.notifications.Insert(ctx, notification); err != nil {
		return domain.Notification{}, fmt.Errorf("%w: %v", ErrNotificationUnavailable, err)
	}

	s.publish(ctx, profile, locale, msg, params, notification)
	return notification, nil
}

func (s *notificationService) publish(ctx context.Context, profile domain.Profile, locale string, msg catalogMessage, params map[string]string, n domain.Notification) {
	if s.publisher == nil {
		return
	}

	source := msg.Email
	if strings.TrimSpace(source) == "" {
		source = msg.Body
	}
	escaped := make(map[string]string, len(params))
	for k, v := range params {
		escaped[k] = markdownEscaper.Replace(v)
	}
	var buf bytes.Buffer
	body := n.Message
	if err := s.markdown.Convert([]byte(placeholderReplacer(escaped).Replace(source)), &buf); err == nil {
		body = s.ugc.Sanitize(buf.String())
	} else {
		body = html.EscapeString(body)
	}

	id, err := s.publisher.PublishNotification(ctx, NotificationEvent{
		NotificationID: n.ID,
		RecipientID:    n.RecipientID,
		RecipientEmail: profile.Email,
		CaseID:         n.CaseID,
		Type:           string(n.Type),
		Title:          n.Title,
		Text:           n.Message,
		HTML:           body,
		Locale:         locale,
		CreatedAt:      n.CreatedAt,
	})
	if err != nil {
		s.logger(ctx, "notification.publish.failed", map[string]any{
			"notificationId": n.ID,
			"recipientId":    n.RecipientID,
			"error":          err,
		})
		return
	}
	s.logger(ctx, "notification.published", map[string]any{
		"notificationId": n.ID,
		"messageId":      id,
	})
}

func (s *notificationService) resolveLocale(preferred ...string) string {
	candidates := make([]string, 0, len(preferred))
	for _, p := range preferred {
		if p = strings.TrimSpace(p); p != "" {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return s.defaultLocale
	}
	_, index, confidence := s.matcher.Match(parseTags(candidates)...)
	if confidence == language.No {
		return s.defaultLocale
	}
	return s.locales[index]
}

func (s *notificationService) lookup(locale, key string) (catalogMessage, bool) {
	if msg, ok := s.catalog[locale][key]; ok {
		return msg, true
	}
	msg, ok := s.catalog[s.defaultLocale][key]
	return msg, ok
}

func (s *notificationService) sanitiseParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		clean := html.UnescapeString(s.strict.Sanitize(v))
		clean = strings.Join(strings.Fields(clean), " ")
		if runes := []rune(clean); len(runes) > notificationParamMaxRuneCount {
			clean = string(runes[:notificationParamMaxRuneCount])
		}
		out[k] = clean
	}
	return out
}

func parseTags(values []string) []language.Tag {
	tags := make([]language.Tag, 0, len(values))
	for _, v := range values {
		if tag, err := language.Parse(v); err == nil {
			tags = append(tags, tag)
		}
	}
	return tags
}

func placeholderReplacer(params map[string]string) *strings.Replacer {
	pairs := make([]string, 0, len(params)*2)
	for _, k := range slices.Sorted(maps.Keys(params)) {
		pairs = append(pairs, "{"+k+"}", params[k])
	}
	return strings.NewReplacer(pairs...)
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "[", `\[`, "]", `\]`, "<", "&lt;", ">", "&gt;", "#", `\#`,
)

var currencySymbols = map[string]string{
	"usd": "$",
	"cad": "CA$",
	"mxn": "MX$",
	"eur": "€",
	"gbp": "£",
	"jpy": "¥",
}

var zeroDecimalCurrencies = map[string]bool{
	"jpy": true,
	"krw": true,
	"vnd": true,
	"clp": true,
}

// FormatAmount renders minor units as a display amount with locale digit grouping, e.g. $5.00.
func FormatAmount(amount int64, currency, locale string) string {
	currency = strings.ToLower(strings.TrimSpace(currency))
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		tag = language.English
	}
	p := message.NewPrinter(tag)

	var number string
	if zeroDecimalCurrencies[currency] {
		number = p.Sprintf("%d", amount)
	} else {
		number = p.Sprintf("%.2f", float64(amount)/100)
	}
	if symbol, ok := currencySymbols[currency]; ok {
		return symbol + number
	}
	if currency == "" {
		return number
	}
	return number + " " + strings.ToUpper(currency)
}
