package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/studio-b12/gowebdav"
)

// WebDAVClient is the subset of gowebdav.Client used by WebDAVStore.
type WebDAVClient interface {
	WriteStream(path string, stream io.Reader, mode os.FileMode) error
	Read(path string) ([]byte, error)
	Stat(path string) (os.FileInfo, error)
	Remove(path string) error
	MkdirAll(path string, mode os.FileMode) error
	Connect() error
}

// NewWebDAVClient creates a client for the share at endpoint.
func NewWebDAVClient(endpoint, user, password string) *gowebdav.Client {
	return gowebdav.NewClient(endpoint, user, password)
}

// WebDAVStore keeps artifacts on a WebDAV share.
type WebDAVStore struct {
	client WebDAVClient
	root   string
}

// NewWebDAVStore creates a share-backed artifact store rooted at root on the server.
func NewWebDAVStore(client WebDAVClient, root string) *WebDAVStore {
	return &WebDAVStore{client: client, root: "/" + strings.Trim(root, "/")}
}

func (s *WebDAVStore) remotePath(ref string) string {
	return path.Join(s.root, ref)
}

func (s *WebDAVStore) Save(_ context.Context, r io.Reader, suggestedName string) (string, error) {
	ref := NewRef(suggestedName)
	remote := s.remotePath(ref)

	if err := s.client.MkdirAll(path.Dir(remote), 0o755); err != nil {
		return "", fmt.Errorf("artifact: webdav mkdir: %w", err)
	}

	if err := s.client.WriteStream(remote, r, 0o644); err != nil {
		return "", fmt.Errorf("artifact: webdav write: %w", err)
	}

	return ref, nil
}

func (s *WebDAVStore) Retrieve(_ context.Context, ref string) ([]byte, error) {
	if !ValidRef(ref) {
		return nil, fmt.Errorf("%w: malformed reference %q", ErrNotFound, ref)
	}

	data, err := s.client.Read(s.remotePath(ref))
	if err != nil {
		if gowebdav.IsErrNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}

		return nil, fmt.Errorf("artifact: webdav read: %w", err)
	}

	return data, nil
}

// Delete removes the file. The server treats a missing file as removed, so existence is checked first.
func (s *WebDAVStore) Delete(_ context.Context, ref string) error {
	if !ValidRef(ref) {
		return fmt.Errorf("%w: malformed reference %q", ErrNotFound, ref)
	}

	remote := s.remotePath(ref)

	if _, err := s.client.Stat(remote); err != nil {
		if gowebdav.IsErrNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, ref)
		}

		return fmt.Errorf("artifact: webdav stat: %w", err)
	}

	if err := s.client.Remove(remote); err != nil {
		return fmt.Errorf("artifact: webdav remove: %w", err)
	}

	return nil
}

// Ping checks that the share accepts the configured credentials.
func (s *WebDAVStore) Ping(_ context.Context) error {
	return s.client.Connect()
}
