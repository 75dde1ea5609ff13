package ledger

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxIDAttempts      = 8
	maxArtifactRefLen  = 1024
	maxDisplayNameLen  = 255
	defaultWipeConfirm = 2 * time.Minute
)

// Ledger owns the set of tracked links and their view histories.
//
// All mutations are serialized by writeMu, which is held across the durable save.
// Committed state is guarded by mu, which is only held to swap in a saved state
// or to copy out reads. Readers never wait on storage I/O.
type Ledger struct {
	store    Store
	strategy IDStrategy
	clock    Clock
	logger   *zap.Logger
	wipeTTL  time.Duration

	writeMu sync.Mutex
	wipe    *WipeConfirmation

	mu    sync.RWMutex
	links map[LinkID]*TrackedLink
	order []LinkID
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used for creation and view timestamps.
func WithClock(c Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithIDStrategy sets the id generation strategy.
func WithIDStrategy(s IDStrategy) Option {
	return func(l *Ledger) { l.strategy = s }
}

// WithWipeConfirmTTL sets how long a delete-all confirmation stays valid.
func WithWipeConfirmTTL(d time.Duration) Option {
	return func(l *Ledger) { l.wipeTTL = d }
}

// New loads the current snapshot from store and returns a ready ledger.
// A snapshot that cannot be read or fails validation is reported as ErrStorage.
func New(ctx context.Context, store Store, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		store:   store,
		clock:   systemClock{},
		logger:  zap.NewNop(),
		wipeTTL: defaultWipeConfirm,
		links:   make(map[LinkID]*TrackedLink),
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.strategy == nil {
		s, err := NewStrategy(StrategyToken, 21)
		if err != nil {
			return nil, err
		}

		l.strategy = s
	}

	snapshot, err := store.Load(ctx)
	if err != nil {
		return nil, StorageError("load ledger", err)
	}

	if err := snapshot.Validate(); err != nil {
		return nil, err
	}

	for i := range snapshot.Links {
		link := snapshot.Links[i].Clone()
		l.links[link.ID] = &link
		l.order = append(l.order, link.ID)
	}

	l.logger.Info("ledger loaded", zap.Int("links", len(l.order)))

	return l, nil
}

type createInput struct {
	ArtifactRef string
	DisplayName string
}

func (in *createInput) Validate() error {
	return validation.ValidateStruct(in,
		validation.Field(&in.ArtifactRef, validation.Required, validation.RuneLength(1, maxArtifactRefLen)),
		validation.Field(&in.DisplayName, validation.Required, validation.RuneLength(1, maxDisplayNameLen)),
	)
}

// CreateLink registers an artifact for tracking and returns the new link id.
// The id is only returned once the link has been durably saved.
func (l *Ledger) CreateLink(ctx context.Context, artifactRef, displayName string) (LinkID, error) {
	in := &createInput{
		ArtifactRef: strings.TrimSpace(artifactRef),
		DisplayName: strings.TrimSpace(displayName),
	}

	if err := in.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	now := l.now()

	id, err := l.uniqueID(in.ArtifactRef, in.DisplayName, now)
	if err != nil {
		return "", err
	}

	link := &TrackedLink{
		ID:          id,
		ArtifactRef: in.ArtifactRef,
		DisplayName: in.DisplayName,
		CreatedAt:   now,
		Events:      []ViewEvent{},
	}

	links := append(l.committed(len(l.order)+1), *link)

	if err := l.save(ctx, links, Change{Kind: ChangeCreated, LinkID: id, Link: link}); err != nil {
		return "", err
	}

	l.mu.Lock()
	l.links[id] = link
	l.order = append(l.order, id)
	l.mu.Unlock()

	l.logger.Debug("link created",
		zap.String("link_id", string(id)),
		zap.String("artifact_ref", in.ArtifactRef),
	)

	return id, nil
}

// RecordView appends a view event to the link. Every call records a distinct event;
// views are not deduplicated. Unknown ids return ErrNotFound and change nothing.
func (l *Ledger) RecordView(ctx context.Context, id LinkID, viewer Viewer) (*ViewEvent, error) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	current, ok := l.links[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	event := viewer.event(l.now())

	next := *current
	next.Events = append(slices.Clip(current.Events), event)
	next.ViewCount = len(next.Events)
	viewedAt := event.Timestamp
	next.LastViewedAt = &viewedAt

	links := l.committed(len(l.order))
	for i := range links {
		if links[i].ID == id {
			links[i] = next

			break
		}
	}

	if err := l.save(ctx, links, Change{Kind: ChangeViewed, LinkID: id, Link: &next, Event: &event}); err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.links[id] = &next
	l.mu.Unlock()

	return &event, nil
}

// GetLink returns a copy of the link with its full event history.
func (l *Ledger) GetLink(id LinkID) (TrackedLink, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	link, ok := l.links[id]
	if !ok {
		return TrackedLink{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return link.Clone(), nil
}

// ListLinks returns copies of all links in insertion order.
func (l *Ledger) ListLinks() []TrackedLink {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]TrackedLink, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.links[id].Clone())
	}

	return out
}

// DeleteLink permanently removes a link and its events. The artifact is not touched.
func (l *Ledger) DeleteLink(ctx context.Context, id LinkID) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if _, ok := l.links[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	links := make([]TrackedLink, 0, len(l.order))
	for _, existing := range l.order {
		if existing != id {
			links = append(links, *l.links[existing])
		}
	}

	if err := l.save(ctx, links, Change{Kind: ChangeDeleted, LinkID: id}); err != nil {
		return err
	}

	l.mu.Lock()
	delete(l.links, id)
	l.order = slices.DeleteFunc(l.order, func(existing LinkID) bool { return existing == id })
	l.mu.Unlock()

	l.logger.Info("link deleted", zap.String("link_id", string(id)))

	return nil
}

// WipeConfirmation is the acknowledgment a caller must present to DeleteAll.
type WipeConfirmation struct {
	Token     string
	ExpiresAt time.Time
}

// RequestDeleteAll issues a one-time confirmation token for DeleteAll.
// Issuing a new token invalidates any earlier one.
func (l *Ledger) RequestDeleteAll() WipeConfirmation {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	confirmation := WipeConfirmation{
		Token:     uuid.NewString(),
		ExpiresAt: l.now().Add(l.wipeTTL),
	}
	l.wipe = &confirmation

	return confirmation
}

// DeleteAll wipes the ledger and returns the number of links removed.
// It requires the token from the most recent RequestDeleteAll; the token is consumed
// whether or not the wipe succeeds.
func (l *Ledger) DeleteAll(ctx context.Context, token string) (int, error) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	pending := l.wipe
	l.wipe = nil

	if pending == nil || subtle.ConstantTimeCompare([]byte(pending.Token), []byte(token)) != 1 {
		return 0, fmt.Errorf("%w: delete-all confirmation does not match", ErrInvalidInput)
	}

	if l.now().After(pending.ExpiresAt) {
		return 0, fmt.Errorf("%w: delete-all confirmation expired", ErrInvalidInput)
	}

	count := len(l.order)

	if err := l.save(ctx, []TrackedLink{}, Change{Kind: ChangeWiped}); err != nil {
		return 0, err
	}

	l.mu.Lock()
	l.links = make(map[LinkID]*TrackedLink)
	l.order = nil
	l.mu.Unlock()

	l.logger.Warn("ledger wiped", zap.Int("links", count))

	return count, nil
}

// Len returns the number of tracked links.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.order)
}

// Shutdown releases the underlying store when it holds resources.
func (l *Ledger) Shutdown() error {
	if closer, ok := l.store.(io.Closer); ok {
		return closer.Close()
	}

	return nil
}

func (l *Ledger) now() time.Time {
	return l.clock.Now().UTC().Truncate(time.Microsecond)
}

// committed returns the committed links in order. Callers hold writeMu.
func (l *Ledger) committed(capacity int) []TrackedLink {
	out := make([]TrackedLink, 0, capacity)
	for _, id := range l.order {
		out = append(out, *l.links[id])
	}

	return out
}

func (l *Ledger) save(ctx context.Context, links []TrackedLink, change Change) error {
	if err := l.store.Save(ctx, &Snapshot{Links: links}, change); err != nil {
		l.logger.Error("ledger save failed",
			zap.String("change", string(change.Kind)),
			zap.String("link_id", string(change.LinkID)),
			zap.Error(err),
		)

		return StorageError("save ledger", err)
	}

	return nil
}

func (l *Ledger) uniqueID(artifactRef, displayName string, at time.Time) (LinkID, error) {
	for range maxIDAttempts {
		id, err := l.strategy.NewID(artifactRef, displayName, at)
		if err != nil {
			return "", fmt.Errorf("generate link id: %w", err)
		}

		if _, taken := l.links[id]; !taken && id != "" {
			return id, nil
		}
	}

	return "", fmt.Errorf("generate link id: no unused id after %d attempts", maxIDAttempts)
}
