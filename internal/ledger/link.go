package ledger

import (
	"strings"
	"time"
)

const (
	// UnknownViewer is recorded when the viewer's network origin cannot be determined.
	UnknownViewer = "unknown"
	// DirectReferrer is recorded when the request carried no referring context.
	DirectReferrer = "direct"

	maxViewerFieldLen = 512
)

// LinkID identifies a tracked link.
type LinkID string

// ViewEvent is one immutable record of a single access to a tracked link.
type ViewEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	ViewerAddress string    `json:"viewerAddress"`
	Referrer      string    `json:"referrer"`
	UserAgent     string    `json:"userAgent,omitempty"`
}

// TrackedLink is a shareable identifier bound to a stored artifact, together with its view history.
type TrackedLink struct {
	ID           LinkID      `json:"id"`
	ArtifactRef  string      `json:"artifactRef"`
	DisplayName  string      `json:"displayName"`
	CreatedAt    time.Time   `json:"createdAt"`
	ViewCount    int         `json:"viewCount"`
	LastViewedAt *time.Time  `json:"lastViewedAt,omitempty"`
	Events       []ViewEvent `json:"events"`
}

// Clone returns a copy that shares no mutable state with l.
func (l TrackedLink) Clone() TrackedLink {
	out := l

	out.Events = make([]ViewEvent, len(l.Events))
	copy(out.Events, l.Events)

	if l.LastViewedAt != nil {
		ts := *l.LastViewedAt
		out.LastViewedAt = &ts
	}

	return out
}

// Viewer carries best-effort, untrusted metadata about who opened a link.
// It is recorded for display only and never used for access decisions.
type Viewer struct {
	Address   string
	Referrer  string
	UserAgent string
}

func (v Viewer) event(at time.Time) ViewEvent {
	return ViewEvent{
		Timestamp:     at,
		ViewerAddress: sanitizeViewerField(v.Address, UnknownViewer),
		Referrer:      sanitizeViewerField(v.Referrer, DirectReferrer),
		UserAgent:     sanitizeViewerField(v.UserAgent, ""),
	}
}

func sanitizeViewerField(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}

	if len(value) > maxViewerFieldLen {
		value = strings.ToValidUTF8(value[:maxViewerFieldLen], "")
	}

	return value
}
