package analytics

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/serroba/resume-tracker/internal/messaging"
)

// Publishers bundles the typed publish functions for every ledger topic.
type Publishers struct {
	LinkCreated messaging.Publish[LinkCreatedEvent]
	LinkViewed  messaging.Publish[LinkViewedEvent]
	LinkDeleted messaging.Publish[LinkDeletedEvent]
	LedgerWiped messaging.Publish[LedgerWipedEvent]
}

// NewPublishers creates publish functions for all topics on publisher.
func NewPublishers(publisher message.Publisher) Publishers {
	return Publishers{
		LinkCreated: messaging.NewPublishFunc[LinkCreatedEvent](publisher, TopicLinkCreated),
		LinkViewed:  messaging.NewPublishFunc[LinkViewedEvent](publisher, TopicLinkViewed),
		LinkDeleted: messaging.NewPublishFunc[LinkDeletedEvent](publisher, TopicLinkDeleted),
		LedgerWiped: messaging.NewPublishFunc[LedgerWipedEvent](publisher, TopicLedgerWiped),
	}
}

// DiscardPublishers drops every event. Used by the management CLI, which has no bus.
func DiscardPublishers() Publishers {
	return Publishers{
		LinkCreated: messaging.Discard[LinkCreatedEvent](),
		LinkViewed:  messaging.Discard[LinkViewedEvent](),
		LinkDeleted: messaging.Discard[LinkDeletedEvent](),
		LedgerWiped: messaging.Discard[LedgerWipedEvent](),
	}
}
