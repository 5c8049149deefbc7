package amqpx

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type Publisher interface {
	Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error
}

// ChannelPublisher serialises publishes on one channel. amqp channels are
// not safe for concurrent use.
type ChannelPublisher struct {
	mu sync.Mutex
	ch Channel
}

func NewPublisher(ch Channel) *ChannelPublisher { return &ChannelPublisher{ch: ch} }

func (p *ChannelPublisher) Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, exchange, key, false, false, msg); err != nil {
		return apperr.Wrap(apperr.ErrBroker, err, "publish %s/%s", exchange, key)
	}
	return nil
}

// JSON builds a persistent JSON message. An empty messageID gets a fresh uuid.
func JSON(v any, messageID string) (amqp.Publishing, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return amqp.Publishing{}, err
	}
	if messageID == "" {
		messageID = uuid.NewString()
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}, nil
}

// PublishJSON marshals v and publishes it.
func PublishJSON(ctx context.Context, p Publisher, exchange, key, messageID string, v any) error {
	msg, err := JSON(v, messageID)
	if err != nil {
		return apperr.Wrap(apperr.ErrValidation, err, "encode message")
	}
	return p.Publish(ctx, exchange, key, msg)
}
