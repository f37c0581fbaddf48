package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/waypoint-immigration/portal/internal/services"
)

// PubSubNotificationPublisher fans notification events out to the email worker topic.
type PubSubNotificationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubNotificationPublisher constructs a Pub/Sub backed notification publisher.
func NewPubSubNotificationPublisher(topic *pubsub.Topic) (*PubSubNotificationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification publisher: topic is required")
	}
	return &PubSubNotificationPublisher{topic: topic, marshal: json.Marshal}, nil
}

// PublishNotification enqueues event and waits for the server-assigned message id.
func (p *PubSubNotificationPublisher) PublishNotification(ctx context.Context, event services.NotificationEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub notification publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal notification event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "notificationId", event.NotificationID)
	setAttr(attrs, "recipientId", event.RecipientID)
	setAttr(attrs, "caseId", event.CaseID)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "locale", event.Locale)

	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish notification event: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages.
func (p *PubSubNotificationPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
