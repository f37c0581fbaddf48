package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/waypoint-immigration/portal/internal/services"
)

func TestPubSubNotificationPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "portal-notifications")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubNotificationPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubNotificationPublisher: %v", err)
	}
	defer publisher.Stop()

	event := services.NotificationEvent{
		NotificationID: "ntf_01",
		RecipientID:    "client-1",
		CaseID:         "case-1",
		Type:           "payment_received",
		Title:          "Payment received",
		Text:           "We received your payment of $5.00.",
		HTML:           "<p>We received your payment of $5.00.</p>\n",
		Locale:         "en",
		CreatedAt:      time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
	}

	if _, err := publisher.PublishNotification(ctx, event); err != nil {
		t.Fatalf("PublishNotification: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.NotificationEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.NotificationID != event.NotificationID || payload.HTML != event.HTML {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["caseId"]; attr != "case-1" {
		t.Fatalf("expected case attribute, got %q", attr)
	}
	if _, ok := messages[0].Attributes["email"]; ok {
		t.Fatalf("email attribute should not be present")
	}
}

func TestNewPubSubNotificationPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubNotificationPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
