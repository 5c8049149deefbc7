package orders

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

const (
	EventOrderCompleted    = "OrderCompleted"
	EventDeliveryRequested = "DeliveryRequested"
	EventRefundSettled     = "RefundSettled"
	EventRefundFailed      = "RefundFailed"
)

// Kafka topics, one per event type.
const (
	TopicOrderCompleted    = "order.completed"
	TopicDeliveryRequested = "delivery.requested"
	TopicRefundSettled     = "refund.settled"
	TopicRefundFailed      = "refund.failed"

	// TopicDeliveryDead holds delivery requests the worker gave up on.
	TopicDeliveryDead = "delivery.requested.dead"
)

// Partition key = order_id, supaya semua event 1 order maintain urutan.
func PartitionKey(orderID string) []byte { return []byte(orderID) }

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

func NewEnvelope(eventType, producer, orderID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: orderID,
		Payload:       b,
	}, nil
}

// EventPublisher is satisfied by kafka.Producer.
type EventPublisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header) bool
}

// ConfirmingPublisher writes a message and waits for the broker to take it.
// kafka.Producer implements it.
type ConfirmingPublisher interface {
	PublishSync(ctx context.Context, topic string, key, value []byte, headers ...kafkago.Header) error
}

func encodeEvent(eventType, producer, orderID, traceID string, payload any) ([]byte, []kafkago.Header, error) {
	env, err := NewEnvelope(eventType, producer, orderID, payload)
	if err != nil {
		return nil, nil, err
	}
	env.TraceID = traceID
	value, err := json.Marshal(env)
	if err != nil {
		return nil, nil, err
	}
	return value, []kafkago.Header{
		{Key: "x-event-type", Value: []byte(eventType)},
		{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
	}, nil
}

// Emit wraps payload in an envelope and publishes it keyed by order. An
// event the publisher refuses comes back as ErrBroker.
func Emit(p EventPublisher, topic, eventType, producer, orderID, traceID string, payload any) error {
	value, headers, err := encodeEvent(eventType, producer, orderID, traceID, payload)
	if err != nil {
		return err
	}
	if !p.Publish(topic, PartitionKey(orderID), value, headers...) {
		return apperr.New(apperr.ErrBroker, "%s for order %s was not accepted by the producer", eventType, orderID)
	}
	return nil
}

// EmitConfirmed is Emit for events nothing else will redo. When p can confirm
// writes it returns only after the broker has the event.
func EmitConfirmed(ctx context.Context, p EventPublisher, topic, eventType, producer, orderID, traceID string, payload any) error {
	cp, ok := p.(ConfirmingPublisher)
	if !ok {
		return Emit(p, topic, eventType, producer, orderID, traceID, payload)
	}
	value, headers, err := encodeEvent(eventType, producer, orderID, traceID, payload)
	if err != nil {
		return err
	}
	if err := cp.PublishSync(ctx, topic, PartitionKey(orderID), value, headers...); err != nil {
		return apperr.Wrap(apperr.ErrBroker, err, "publish %s for order %s", eventType, orderID)
	}
	return nil
}

type OrderCompletedPayload struct {
	OrderID          string `json:"order_id"`
	CustomerID       string `json:"customer_id"`
	PaymentReference string `json:"payment_reference"`
	SessionID        string `json:"session_id"`
	AmountCents      int64  `json:"amount_cents"`
	Currency         string `json:"currency"`
	CustomerEmail    string `json:"customer_email,omitempty"`
}

// DeliveryRequestedPayload asks the delivery worker to create the record the
// checkout flow could not.
type DeliveryRequestedPayload struct {
	OrderID         string `json:"order_id"`
	CustomerID      string `json:"customer_id"`
	CustomerAddress string `json:"customer_address,omitempty"`
	CustomerEmail   string `json:"customer_email,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

type RefundSettledPayload struct {
	RequestID        string `json:"request_id"`
	OrderID          string `json:"order_id,omitempty"`
	PaymentReference string `json:"payment_reference"`
	RefundID         string `json:"refund_id"`
	AmountCents      int64  `json:"amount_cents"`
}

type RefundFailedPayload struct {
	RequestID        string `json:"request_id"`
	OrderID          string `json:"order_id,omitempty"`
	PaymentReference string `json:"payment_reference"`
	Reason           string `json:"reason"`
}
