package artifact_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/serroba/resume-tracker/internal/artifact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resumeBytes = "%PDF-1.7 fake resume"

func TestNewRef(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantExt string
	}{
		{name: "keeps pdf extension", input: "Jane Doe.pdf", wantExt: ".pdf"},
		{name: "lowercases extension", input: "CV.DOCX", wantExt: ".docx"},
		{name: "drops missing extension", input: "resume", wantExt: ""},
		{name: "drops odd extension", input: "resume.p d f", wantExt: ""},
		{name: "ignores windows directories", input: `C:\Users\me\cv.pdf`, wantExt: ".pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := artifact.NewRef(tt.input)

			assert.True(t, strings.HasPrefix(ref, artifact.KeyPrefix))
			assert.Equal(t, tt.wantExt, filepath.Ext(ref))
			assert.True(t, artifact.ValidRef(ref))
		})
	}

	t.Run("refs are unique", func(t *testing.T) {
		assert.NotEqual(t, artifact.NewRef("a.pdf"), artifact.NewRef("a.pdf"))
	})
}

func TestValidRef(t *testing.T) {
	assert.False(t, artifact.ValidRef(""))
	assert.False(t, artifact.ValidRef("resumes/"))
	assert.False(t, artifact.ValidRef("resumes/../etc/passwd"))
	assert.False(t, artifact.ValidRef("other/0b4e7a0e-5b7a-4f7e-9f53-2f5d8a2f1c11.pdf"))
	assert.False(t, artifact.ValidRef("resumes/not-a-uuid.pdf"))
	assert.True(t, artifact.ValidRef("resumes/0b4e7a0e-5b7a-4f7e-9f53-2f5d8a2f1c11.pdf"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/pdf", artifact.ContentType("resume.PDF"))
	assert.Equal(t, "application/octet-stream", artifact.ContentType("resume"))
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()

	t.Run("save and retrieve", func(t *testing.T) {
		s, err := artifact.NewLocalStore(t.TempDir())
		require.NoError(t, err)

		ref, err := s.Save(ctx, strings.NewReader(resumeBytes), "resume.pdf")
		require.NoError(t, err)

		data, err := s.Retrieve(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, resumeBytes, string(data))
	})

	t.Run("retrieve unknown ref", func(t *testing.T) {
		s, _ := artifact.NewLocalStore(t.TempDir())

		_, err := s.Retrieve(ctx, artifact.NewRef("gone.pdf"))

		assert.ErrorIs(t, err, artifact.ErrNotFound)
	})

	t.Run("rejects traversal", func(t *testing.T) {
		root := t.TempDir()
		secret := filepath.Join(filepath.Dir(root), "secret.txt")
		require.NoError(t, os.WriteFile(secret, []byte("x"), 0o600))
		t.Cleanup(func() { _ = os.Remove(secret) })

		s, _ := artifact.NewLocalStore(root)

		_, err := s.Retrieve(ctx, "../secret.txt")

		assert.ErrorIs(t, err, artifact.ErrNotFound)
	})

	t.Run("delete removes file", func(t *testing.T) {
		s, _ := artifact.NewLocalStore(t.TempDir())
		ref, _ := s.Save(ctx, strings.NewReader(resumeBytes), "resume.pdf")

		require.NoError(t, s.Delete(ctx, ref))

		_, err := s.Retrieve(ctx, ref)
		require.ErrorIs(t, err, artifact.ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, ref), artifact.ErrNotFound)
	})

	t.Run("leaves no temp files", func(t *testing.T) {
		root := t.TempDir()
		s, _ := artifact.NewLocalStore(root)

		_, err := s.Save(ctx, strings.NewReader(resumeBytes), "resume.pdf")
		require.NoError(t, err)

		entries, err := os.ReadDir(filepath.Join(root, "resumes"))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.False(t, strings.HasPrefix(entries[0].Name(), "."))
	})

	t.Run("ping", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "artifacts")
		s, err := artifact.NewLocalStore(root)
		require.NoError(t, err)

		require.NoError(t, s.Ping(ctx))
		require.NoError(t, os.RemoveAll(root))
		assert.Error(t, s.Ping(ctx))
	})
}
