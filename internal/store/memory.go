package store

import (
	"context"
	"sync"

	"github.com/serroba/resume-tracker/internal/ledger"
)

// MemoryStore is an in-process implementation of ledger.Store. State is lost on exit.
type MemoryStore struct {
	mu    sync.RWMutex
	links []ledger.TrackedLink
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(_ context.Context) (*ledger.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return &ledger.Snapshot{Links: cloneLinks(m.links)}, nil
}

func (m *MemoryStore) Save(_ context.Context, snapshot *ledger.Snapshot, _ ledger.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.links = cloneLinks(snapshot.Links)

	return nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(_ context.Context) error {
	return nil
}

func cloneLinks(links []ledger.TrackedLink) []ledger.TrackedLink {
	out := make([]ledger.TrackedLink, len(links))
	for i := range links {
		out[i] = links[i].Clone()
	}

	return out
}
