package analytics

import "time"

// Topics carrying ledger events.
const (
	TopicLinkCreated = "link.created"
	TopicLinkViewed  = "link.viewed"
	TopicLinkDeleted = "link.deleted"
	TopicLedgerWiped = "ledger.wiped"
)

// LinkCreatedEvent is emitted after a tracked link has been durably created.
type LinkCreatedEvent struct {
	LinkID      string    `json:"linkId"`
	ArtifactRef string    `json:"artifactRef"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
	ClientIP    string    `json:"clientIp"`
	UserAgent   string    `json:"userAgent"`
}

// LinkViewedEvent is emitted after a view has been recorded.
type LinkViewedEvent struct {
	LinkID        string    `json:"linkId"`
	ViewedAt      time.Time `json:"viewedAt"`
	ViewerAddress string    `json:"viewerAddress"`
	Referrer      string    `json:"referrer"`
	UserAgent     string    `json:"userAgent,omitempty"`
	ViewCount     int       `json:"viewCount"`
}

// LinkDeletedEvent is emitted after a link has been removed from the ledger.
type LinkDeletedEvent struct {
	LinkID          string    `json:"linkId"`
	ArtifactRef     string    `json:"artifactRef"`
	ArtifactDeleted bool      `json:"artifactDeleted"`
	ViewCount       int       `json:"viewCount"`
	DeletedAt       time.Time `json:"deletedAt"`
}

// LedgerWipedEvent is emitted after a confirmed delete-all.
type LedgerWipedEvent struct {
	Deleted  int       `json:"deleted"`
	WipedAt  time.Time `json:"wipedAt"`
	ClientIP string    `json:"clientIp"`
}
