package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when no tracked link exists for an id.
	ErrNotFound = errors.New("link not found")
	// ErrInvalidInput is returned when a request is rejected before any persistence attempt.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStorage is returned when the durable store could not be read or written.
	ErrStorage = errors.New("storage failure")
)

// StorageError wraps a backend failure so that it matches ErrStorage.
func StorageError(op string, err error) error {
	if errors.Is(err, ErrStorage) {
		return err
	}

	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// ChangeKind names the mutation carried by a Change.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeViewed  ChangeKind = "viewed"
	ChangeDeleted ChangeKind = "deleted"
	ChangeWiped   ChangeKind = "wiped"
)

// Change describes the single mutation that produced a snapshot.
// Link holds the state after the change and is nil for deletes and wipes.
// Event is set only for ChangeViewed.
type Change struct {
	Kind   ChangeKind
	LinkID LinkID
	Link   *TrackedLink
	Event  *ViewEvent
}

// Snapshot is the full ledger state in insertion order.
type Snapshot struct {
	Links []TrackedLink
}

// Validate checks every record for the invariants the ledger relies on.
func (s *Snapshot) Validate() error {
	seen := make(map[LinkID]struct{}, len(s.Links))

	for i := range s.Links {
		link := &s.Links[i]

		if link.ID == "" {
			return StorageError("validate snapshot", fmt.Errorf("link at position %d has no id", i))
		}

		if _, dup := seen[link.ID]; dup {
			return StorageError("validate snapshot", fmt.Errorf("duplicate link id %q", link.ID))
		}

		seen[link.ID] = struct{}{}

		if link.ArtifactRef == "" {
			return StorageError("validate snapshot", fmt.Errorf("link %q has no artifact ref", link.ID))
		}

		if link.ViewCount != len(link.Events) {
			return StorageError("validate snapshot", fmt.Errorf(
				"link %q has view count %d but %d events", link.ID, link.ViewCount, len(link.Events)))
		}

		if err := checkLastViewed(link); err != nil {
			return StorageError("validate snapshot", err)
		}
	}

	return nil
}

func checkLastViewed(link *TrackedLink) error {
	if len(link.Events) == 0 {
		if link.LastViewedAt != nil {
			return fmt.Errorf("link %q has last viewed time but no events", link.ID)
		}

		return nil
	}

	last := link.Events[len(link.Events)-1].Timestamp
	if link.LastViewedAt == nil || !link.LastViewedAt.Equal(last) {
		return fmt.Errorf("link %q last viewed time does not match its last event", link.ID)
	}

	return nil
}

// Store persists ledger snapshots.
//
// Save receives the complete proposed state together with the change that produced it.
// Whole-state backends write the snapshot; row-oriented backends may apply only the change.
// Implementations must either persist everything or nothing.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snapshot *Snapshot, change Change) error
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
