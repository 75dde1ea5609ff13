package messaging

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

// ErrPermanent marks a handler failure that redelivery cannot fix.
// Such messages are acked and dropped, as are payloads that fail to decode.
var ErrPermanent = errors.New("permanent failure")

// Handler processes a single event. Returning an error nacks the message for
// redelivery unless the error wraps ErrPermanent.
type Handler[T any] func(ctx context.Context, event *T) error

// Consumer subscribes to a topic and processes messages with a typed handler.
type Consumer[T any] struct {
	subscriber message.Subscriber
	topic      string
	handler    Handler[T]
	logger     *zap.Logger
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewConsumer creates a new generic consumer for a specific event type.
func NewConsumer[T any](
	subscriber message.Subscriber,
	topic string,
	handler Handler[T],
	logger *zap.Logger,
) *Consumer[T] {
	return &Consumer[T]{
		subscriber: subscriber,
		topic:      topic,
		handler:    handler,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Topic returns the topic this consumer subscribes to.
func (c *Consumer[T]) Topic() string {
	return c.topic
}

// Start begins consuming messages from the topic.
func (c *Consumer[T]) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	msgs, err := c.subscriber.Subscribe(ctx, c.topic)
	if err != nil {
		return err
	}

	go c.consumeLoop(ctx, msgs)

	return nil
}

func (c *Consumer[T]) consumeLoop(ctx context.Context, msgs <-chan *message.Message) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}

			c.handleMessage(ctx, msg)
		}
	}
}

func (c *Consumer[T]) handleMessage(ctx context.Context, msg *message.Message) {
	logger := c.logger.With(zap.String("topic", c.topic), zap.String("message_id", msg.UUID))

	var event T
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		logger.Error("dropping malformed event", zap.Error(err))
		msg.Ack()

		return
	}

	err := c.handler(ctx, &event)

	switch {
	case err == nil:
		msg.Ack()
		logger.Debug("processed event")
	case errors.Is(err, ErrPermanent):
		logger.Error("dropping event", zap.Error(err))
		msg.Ack()
	default:
		logger.Warn("event will be redelivered", zap.Error(err))
		msg.Nack()
	}
}

// Done is closed once the consume loop has exited.
func (c *Consumer[T]) Done() <-chan struct{} {
	return c.done
}

// Shutdown stops the consumer and waits for in-flight messages to complete.
// It is a no-op for a consumer that was never started.
func (c *Consumer[T]) Shutdown() error {
	if c.cancel == nil {
		return nil
	}

	c.cancel()
	<-c.done

	return nil
}
