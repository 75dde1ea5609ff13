package artifact_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/serroba/resume-tracker/internal/artifact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/webdav"
)

func newWebDAVServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(&webdav.Handler{
		FileSystem: webdav.NewMemFS(),
		LockSystem: webdav.NewMemLS(),
	})
	t.Cleanup(srv.Close)

	return srv
}

func TestWebDAVStore(t *testing.T) {
	ctx := context.Background()
	srv := newWebDAVServer(t)
	s := artifact.NewWebDAVStore(artifact.NewWebDAVClient(srv.URL, "", ""), "/tracker")

	t.Run("save and retrieve", func(t *testing.T) {
		ref, err := s.Save(ctx, strings.NewReader(resumeBytes), "resume.pdf")
		require.NoError(t, err)

		data, err := s.Retrieve(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, resumeBytes, string(data))
	})

	t.Run("missing file is not found", func(t *testing.T) {
		_, err := s.Retrieve(ctx, artifact.NewRef("missing.pdf"))

		assert.ErrorIs(t, err, artifact.ErrNotFound)
	})

	t.Run("delete then delete again", func(t *testing.T) {
		ref, err := s.Save(ctx, strings.NewReader(resumeBytes), "resume.pdf")
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, ref))
		assert.ErrorIs(t, s.Delete(ctx, ref), artifact.ErrNotFound)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, s.Ping(ctx))
	})
}
