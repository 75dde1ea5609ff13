package analytics

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/serroba/resume-tracker/internal/messaging"
	"go.uber.org/zap"
)

// NewConsumers creates one typed consumer per ledger topic, each persisting into store.
func NewConsumers(subscriber message.Subscriber, store Store, logger *zap.Logger) []messaging.Runnable {
	return []messaging.Runnable{
		messaging.NewConsumer[LinkCreatedEvent](subscriber, TopicLinkCreated, store.SaveLinkCreated, logger),
		messaging.NewConsumer[LinkViewedEvent](subscriber, TopicLinkViewed, store.SaveLinkViewed, logger),
		messaging.NewConsumer[LinkDeletedEvent](subscriber, TopicLinkDeleted, store.SaveLinkDeleted, logger),
		messaging.NewConsumer[LedgerWipedEvent](subscriber, TopicLedgerWiped, store.SaveLedgerWiped, logger),
	}
}
