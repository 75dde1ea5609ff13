package analytics

import "context"

// Store defines the interface for persisting analytics events.
type Store interface {
	SaveLinkCreated(ctx context.Context, event *LinkCreatedEvent) error
	SaveLinkViewed(ctx context.Context, event *LinkViewedEvent) error
	SaveLinkDeleted(ctx context.Context, event *LinkDeletedEvent) error
	SaveLedgerWiped(ctx context.Context, event *LedgerWipedEvent) error
}
