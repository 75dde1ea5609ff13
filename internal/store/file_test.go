package store_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/serroba/resume-tracker/internal/ledger"
	"github.com/serroba/resume-tracker/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_RoundTrip(t *testing.T) {
	names := []string{"ledger.json", "ledger.cbor", "ledger.json.zst", "ledger.cbor.zst"}

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			s := store.NewFileStore(filepath.Join(t.TempDir(), name))
			want := sampleSnapshot()

			err := s.Save(context.Background(), want, ledger.Change{Kind: ledger.ChangeViewed})
			require.NoError(t, err)

			got, err := s.Load(context.Background())
			require.NoError(t, err)
			assert.Equal(t, want.Links, got.Links)
		})
	}
}

func TestFileStore_Load(t *testing.T) {
	t.Run("missing file is an empty ledger", func(t *testing.T) {
		s := store.NewFileStore(filepath.Join(t.TempDir(), "absent.json"))

		snapshot, err := s.Load(context.Background())

		require.NoError(t, err)
		assert.Empty(t, snapshot.Links)
	})

	t.Run("unparseable file is a storage failure", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ledger.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

		snapshot, err := store.NewFileStore(path).Load(context.Background())

		assert.Nil(t, snapshot)
		assert.ErrorIs(t, err, ledger.ErrStorage)
	})

	t.Run("empty file is a storage failure", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ledger.json")
		require.NoError(t, os.WriteFile(path, nil, 0o600))

		_, err := store.NewFileStore(path).Load(context.Background())

		assert.ErrorIs(t, err, ledger.ErrStorage)
	})

	t.Run("corrupt compressed file is a storage failure", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ledger.json.zst")
		require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o600))

		_, err := store.NewFileStore(path).Load(context.Background())

		assert.ErrorIs(t, err, ledger.ErrStorage)
	})

	t.Run("unknown version is a storage failure", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ledger.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"version":7,"links":{}}`), 0o600))

		_, err := store.NewFileStore(path).Load(context.Background())

		assert.ErrorIs(t, err, ledger.ErrStorage)
	})

	t.Run("mismatched key and id is a storage failure", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ledger.json")
		doc := `{"version":1,"links":{"a":{"id":"b","artifactRef":"r","displayName":"n","createdAt":"2026-01-01T00:00:00Z","viewCount":0,"events":[]}}}`
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

		_, err := store.NewFileStore(path).Load(context.Background())

		assert.ErrorIs(t, err, ledger.ErrStorage)
	})

	t.Run("ledger refuses a corrupt file instead of starting empty", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ledger.json")
		require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))

		l, err := ledger.New(context.Background(), store.NewFileStore(path))

		assert.Nil(t, l)
		require.ErrorIs(t, err, ledger.ErrStorage)

		data, _ := os.ReadFile(path)
		assert.Equal(t, "garbage", string(data), "corrupt file must be left for inspection")
	})
}

func TestFileStore_Save(t *testing.T) {
	t.Run("creates missing directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "dir", "ledger.json")
		s := store.NewFileStore(path)

		err := s.Save(context.Background(), sampleSnapshot(), ledger.Change{Kind: ledger.ChangeCreated})

		require.NoError(t, err)
		assert.FileExists(t, path)
	})

	t.Run("leaves no temp files behind", func(t *testing.T) {
		dir := t.TempDir()
		s := store.NewFileStore(filepath.Join(dir, "ledger.json"))

		for range 3 {
			require.NoError(t, s.Save(context.Background(), sampleSnapshot(), ledger.Change{Kind: ledger.ChangeViewed}))
		}

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("reports write failure as storage failure", func(t *testing.T) {
		dir := t.TempDir()
		blocker := filepath.Join(dir, "file")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

		s := store.NewFileStore(filepath.Join(blocker, "ledger.json"))

		err := s.Save(context.Background(), sampleSnapshot(), ledger.Change{Kind: ledger.ChangeCreated})

		assert.ErrorIs(t, err, ledger.ErrStorage)
	})
}

func TestFileStore_LedgerReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	ctx := context.Background()

	l, err := ledger.New(ctx, store.NewFileStore(path))
	require.NoError(t, err)

	keep, err := l.CreateLink(ctx, "resumes/keep.pdf", "keep.pdf")
	require.NoError(t, err)

	drop, err := l.CreateLink(ctx, "resumes/drop.pdf", "drop.pdf")
	require.NoError(t, err)

	for range 3 {
		_, err = l.RecordView(ctx, keep, ledger.Viewer{Address: "198.51.100.4"})
		require.NoError(t, err)
	}

	require.NoError(t, l.DeleteLink(ctx, drop))

	before := l.ListLinks()

	reopened, err := ledger.New(ctx, store.NewFileStore(path))
	require.NoError(t, err)

	after := reopened.ListLinks()
	require.Len(t, after, 1)
	assert.Equal(t, before, after)
	assert.Equal(t, 3, after[0].ViewCount)
}

type frozenClock struct{ at time.Time }

func (c frozenClock) Now() time.Time { return c.at }

// createInOneInstant creates n links that all share one creation timestamp
// and returns their ids in creation order.
func createInOneInstant(t *testing.T, s ledger.Store, n int) []ledger.LinkID {
	t.Helper()

	ctx := context.Background()
	clock := frozenClock{at: time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)}

	l, err := ledger.New(ctx, s, ledger.WithClock(clock))
	require.NoError(t, err)

	ids := make([]ledger.LinkID, 0, n)

	for i := range n {
		id, err := l.CreateLink(ctx, fmt.Sprintf("resumes/%d.pdf", i), fmt.Sprintf("cv %d", i))
		require.NoError(t, err)

		ids = append(ids, id)
	}

	return ids
}

func linkIDs(links []ledger.TrackedLink) []ledger.LinkID {
	ids := make([]ledger.LinkID, 0, len(links))
	for _, link := range links {
		ids = append(ids, link.ID)
	}

	return ids
}

func TestFileStore_ReloadKeepsInsertionOrder(t *testing.T) {
	for _, name := range []string{"ledger.json", "ledger.cbor.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			want := createInOneInstant(t, store.NewFileStore(path), 6)

			reopened, err := ledger.New(context.Background(), store.NewFileStore(path))
			require.NoError(t, err)

			assert.Equal(t, want, linkIDs(reopened.ListLinks()))
		})
	}
}

func TestFileStore_LoadRejectsInconsistentOrder(t *testing.T) {
	link := `{"id":"abc","artifactRef":"resumes/a.pdf","displayName":"a","createdAt":"2024-05-01T09:30:00Z","viewCount":0,"events":[]}`

	for name, order := range map[string]string{
		"missing id":   `["zzz"]`,
		"duplicate id": `["abc","abc"]`,
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "ledger.json")
			doc := `{"version":1,"order":` + order + `,"links":{"abc":` + link + `}}`
			require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

			_, err := store.NewFileStore(path).Load(context.Background())

			assert.ErrorIs(t, err, ledger.ErrStorage)
		})
	}
}
