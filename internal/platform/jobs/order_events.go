package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/storefront/checkout/internal/services"
)

// orderEventMessage is the JSON body published for every order lifecycle event.
type orderEventMessage struct {
	Type          string    `json:"type"`
	OrderID       string    `json:"orderId"`
	UserID        string    `json:"userId"`
	PaymentStatus string    `json:"paymentStatus"`
	IntentRef     string    `json:"paymentIntentRef,omitempty"`
	TotalCents    int64     `json:"totalPriceCents"`
	Currency      string    `json:"currency"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// PubSubOrderEventPublisher publishes order events to a Pub/Sub topic, ordered per order.
type PubSubOrderEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.OrderEventPublisher = (*PubSubOrderEventPublisher)(nil)

// NewPubSubOrderEventPublisher constructs a publisher for topic and enables ordering keys on it.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order event publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubOrderEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderEvent blocks until Pub/Sub acknowledges the message.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order event publisher: not initialised")
	}
	orderID := strings.TrimSpace(event.OrderID)
	if orderID == "" {
		return errors.New("pubsub order event publisher: order id is required")
	}

	data, err := p.marshal(orderEventMessage{
		Type:          event.Type,
		OrderID:       orderID,
		UserID:        event.UserID,
		PaymentStatus: event.PaymentStatus,
		IntentRef:     event.IntentRef,
		TotalCents:    event.TotalCents,
		Currency:      event.Currency,
		OccurredAt:    event.OccurredAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := map[string]string{"orderId": orderID}
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "paymentStatus", event.PaymentStatus)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: orderID,
	})
	if _, err := result.Get(ctx); err != nil {
		// a failed ordered publish pauses the key until resumed
		p.topic.ResumePublish(orderID)
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// Stop flushes pending messages.
func (p *PubSubOrderEventPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
