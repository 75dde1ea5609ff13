// Package artifact stores the files that tracked links point at.
//
// The ledger only ever sees the opaque reference returned by Save. Backends are
// interchangeable: a local directory, an S3 bucket or a WebDAV share.
package artifact

import (
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no artifact exists for a reference.
var ErrNotFound = errors.New("artifact not found")

// KeyPrefix is the namespace every artifact reference lives under.
const KeyPrefix = "resumes/"

// Store persists artifact bytes and hands back an opaque reference.
type Store interface {
	// Save stores the content and returns its reference. suggestedName only influences the extension.
	Save(ctx context.Context, r io.Reader, suggestedName string) (string, error)
	// Retrieve returns the content for ref, or ErrNotFound.
	Retrieve(ctx context.Context, ref string) ([]byte, error)
	// Delete removes the content for ref, or returns ErrNotFound.
	Delete(ctx context.Context, ref string) error
}

// Pinger is implemented by backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// NewRef returns a fresh reference for a file called suggestedName.
// The name itself is never part of the reference; only a sane extension is kept.
func NewRef(suggestedName string) string {
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(suggestedName, "\\", "/")))
	if !extPattern.MatchString(ext) {
		ext = ""
	}

	return KeyPrefix + uuid.NewString() + ext
}

// ValidRef reports whether ref has the shape produced by NewRef.
func ValidRef(ref string) bool {
	rest, ok := strings.CutPrefix(ref, KeyPrefix)
	if !ok || rest == "" || strings.ContainsAny(rest, "/\\") {
		return false
	}

	id := strings.TrimSuffix(rest, path.Ext(rest))

	return uuid.Validate(id) == nil
}

// ContentType guesses the media type of an artifact from its display name.
func ContentType(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(name))); ct != "" {
		return ct
	}

	return "application/octet-stream"
}
