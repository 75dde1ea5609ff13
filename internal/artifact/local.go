package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps artifacts in a directory on disk.
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory if needed and returns a store rooted there.
func NewLocalStore(root string) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("artifact: resolve root: %w", err)
	}

	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("artifact: create root: %w", err)
	}

	return &LocalStore{root: abs}, nil
}

// safePath resolves ref under the root and rejects anything that escapes it.
func (s *LocalStore) safePath(ref string) (string, error) {
	if !ValidRef(ref) {
		return "", fmt.Errorf("%w: malformed reference %q", ErrNotFound, ref)
	}

	cleaned := filepath.Clean(filepath.FromSlash(ref))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%w: absolute reference %q", ErrNotFound, ref)
	}

	abs := filepath.Join(s.root, cleaned)
	if !strings.HasPrefix(abs, s.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: reference escapes root %q", ErrNotFound, ref)
	}

	return abs, nil
}

func (s *LocalStore) Save(_ context.Context, r io.Reader, suggestedName string) (string, error) {
	ref := NewRef(suggestedName)

	abs, err := s.safePath(ref)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("artifact: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("artifact: create temp: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return "", fmt.Errorf("artifact: write: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)

		return "", fmt.Errorf("artifact: close: %w", err)
	}

	if err := os.Rename(tmpName, abs); err != nil {
		_ = os.Remove(tmpName)

		return "", fmt.Errorf("artifact: rename: %w", err)
	}

	return ref, nil
}

func (s *LocalStore) Retrieve(_ context.Context, ref string) ([]byte, error) {
	abs, err := s.safePath(ref)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}

	if err != nil {
		return nil, fmt.Errorf("artifact: read %s: %w", ref, err)
	}

	return data, nil
}

func (s *LocalStore) Delete(_ context.Context, ref string) error {
	abs, err := s.safePath(ref)
	if err != nil {
		return err
	}

	err = os.Remove(abs)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, ref)
	}

	if err != nil {
		return fmt.Errorf("artifact: remove %s: %w", ref, err)
	}

	return nil
}

// Ping checks that the root directory is still there.
func (s *LocalStore) Ping(_ context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.root)
	}

	return nil
}
