package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

// Runnable is a consumer bound to one topic.
type Runnable interface {
	Topic() string
	Start(ctx context.Context) error
	Shutdown() error
}

// ConsumerGroup starts and stops a set of consumers sharing one subscriber.
type ConsumerGroup struct {
	subscriber message.Subscriber
	logger     *zap.Logger

	mu        sync.Mutex
	consumers []Runnable
	started   bool
}

// NewConsumerGroup creates an empty group reading from subscriber.
func NewConsumerGroup(subscriber message.Subscriber, logger *zap.Logger) *ConsumerGroup {
	return &ConsumerGroup{subscriber: subscriber, logger: logger}
}

// Add registers a consumer. Consumers added after Start are not started.
func (g *ConsumerGroup) Add(consumer Runnable) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.consumers = append(g.consumers, consumer)
}

// Topics lists the topics of the registered consumers in registration order.
func (g *ConsumerGroup) Topics() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	topics := make([]string, 0, len(g.consumers))
	for _, consumer := range g.consumers {
		topics = append(topics, consumer.Topic())
	}

	return topics
}

// Start starts every consumer. If one fails, those already started are shut down
// again and the error names the failing topic. Starting twice is an error.
func (g *ConsumerGroup) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		return errors.New("consumer group already started")
	}

	for i, consumer := range g.consumers {
		if err := consumer.Start(ctx); err != nil {
			for _, running := range g.consumers[:i] {
				_ = running.Shutdown()
			}

			return fmt.Errorf("start consumer for %s: %w", consumer.Topic(), err)
		}
	}

	g.started = true

	g.logger.Info("consumer group started", zap.Int("count", len(g.consumers)))

	return nil
}

// Shutdown stops every consumer, then closes the subscriber. All failures are
// returned joined, each tagged with its topic.
func (g *ConsumerGroup) Shutdown() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("shutting down consumer group")

	var errs []error

	for _, consumer := range g.consumers {
		if err := consumer.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", consumer.Topic(), err))
		}
	}

	if err := g.subscriber.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close subscriber: %w", err))
	}

	g.started = false

	return errors.Join(errs...)
}
