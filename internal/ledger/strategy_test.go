package ledger_test

import (
	"testing"
	"time"

	"github.com/serroba/resume-tracker/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStrategy(t *testing.T) {
	t.Run("token strategy produces codes of the requested length", func(t *testing.T) {
		s, err := ledger.NewStrategy(ledger.StrategyToken, 12)
		require.NoError(t, err)

		id, err := s.NewID("resumes/a.pdf", "a.pdf", time.Now())

		require.NoError(t, err)
		assert.Len(t, string(id), 12)
	})

	t.Run("hash strategy produces hex of twice the size", func(t *testing.T) {
		s, err := ledger.NewStrategy(ledger.StrategyHash, 16)
		require.NoError(t, err)

		id, err := s.NewID("resumes/a.pdf", "a.pdf", time.Now())

		require.NoError(t, err)
		assert.Regexp(t, "^[0-9a-f]{32}$", string(id))
	})

	t.Run("rejects unknown strategy", func(t *testing.T) {
		_, err := ledger.NewStrategy("sequential", 8)

		assert.ErrorIs(t, err, ledger.ErrInvalidInput)
	})

	t.Run("rejects out of range hash size", func(t *testing.T) {
		_, err := ledger.NewStrategy(ledger.StrategyHash, 4)

		assert.ErrorIs(t, err, ledger.ErrInvalidInput)
	})
}

func TestHashStrategy(t *testing.T) {
	t.Run("same inputs yield different ids", func(t *testing.T) {
		s := ledger.NewHashStrategy(16)
		at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		first, err := s.NewID("resumes/a.pdf", "a.pdf", at)
		require.NoError(t, err)

		second, err := s.NewID("resumes/a.pdf", "a.pdf", at)
		require.NoError(t, err)

		assert.NotEqual(t, first, second)
	})
}
