package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/serroba/resume-tracker/internal/ledger"
	"github.com/serroba/resume-tracker/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() *ledger.Snapshot {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	first := created.Add(time.Minute)
	second := created.Add(2*time.Minute + 123456*time.Microsecond)

	return &ledger.Snapshot{Links: []ledger.TrackedLink{
		{
			ID:           "alpha",
			ArtifactRef:  "resumes/alpha.pdf",
			DisplayName:  "resume.pdf",
			CreatedAt:    created,
			ViewCount:    2,
			LastViewedAt: &second,
			Events: []ledger.ViewEvent{
				{Timestamp: first, ViewerAddress: "203.0.113.7", Referrer: ledger.DirectReferrer},
				{Timestamp: second, ViewerAddress: ledger.UnknownViewer, Referrer: "https://mail.example.com", UserAgent: "TestAgent/1.0"},
			},
		},
		{
			ID:          "beta",
			ArtifactRef: "resumes/beta.docx",
			DisplayName: "cv.docx",
			CreatedAt:   created.Add(time.Hour),
			Events:      []ledger.ViewEvent{},
		},
	}}
}

func TestMemoryStore(t *testing.T) {
	t.Run("starts empty", func(t *testing.T) {
		s := store.NewMemoryStore()

		snapshot, err := s.Load(context.Background())

		require.NoError(t, err)
		assert.Empty(t, snapshot.Links)
	})

	t.Run("round trips a snapshot", func(t *testing.T) {
		s := store.NewMemoryStore()
		want := sampleSnapshot()

		err := s.Save(context.Background(), want, ledger.Change{Kind: ledger.ChangeCreated})
		require.NoError(t, err)

		got, err := s.Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want.Links, got.Links)
	})

	t.Run("saved state is detached from the caller", func(t *testing.T) {
		s := store.NewMemoryStore()
		snapshot := sampleSnapshot()
		_ = s.Save(context.Background(), snapshot, ledger.Change{Kind: ledger.ChangeCreated})

		snapshot.Links[0].Events[0].ViewerAddress = "tampered"

		got, _ := s.Load(context.Background())
		assert.Equal(t, "203.0.113.7", got.Links[0].Events[0].ViewerAddress)
	})

	t.Run("backs a ledger", func(t *testing.T) {
		s := store.NewMemoryStore()
		ctx := context.Background()

		l, err := ledger.New(ctx, s)
		require.NoError(t, err)

		id, err := l.CreateLink(ctx, "resumes/x.pdf", "resume.pdf")
		require.NoError(t, err)

		_, err = l.RecordView(ctx, id, ledger.Viewer{})
		require.NoError(t, err)

		reopened, err := ledger.New(ctx, s)
		require.NoError(t, err)

		link, err := reopened.GetLink(id)
		require.NoError(t, err)
		assert.Equal(t, 1, link.ViewCount)
	})
}
