package ledger

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jaevor/go-nanoid"
	"github.com/zeebo/blake3"
)

// Strategy names an id generation scheme.
type Strategy string

const (
	// StrategyToken draws a random nanoid for every link.
	StrategyToken Strategy = "token"
	// StrategyHash derives the id from the artifact, its name, the creation time and a random nonce.
	StrategyHash Strategy = "hash"
)

// IDStrategy generates identifiers for new links.
type IDStrategy interface {
	NewID(artifactRef, displayName string, at time.Time) (LinkID, error)
}

// CodeGenerator generates random codes.
type CodeGenerator func() string

// TokenStrategy returns a fresh random code for every link.
type TokenStrategy struct {
	generateCode CodeGenerator
}

// NewTokenStrategy creates a token-based id strategy.
func NewTokenStrategy(generator CodeGenerator) *TokenStrategy {
	return &TokenStrategy{generateCode: generator}
}

func (s *TokenStrategy) NewID(_, _ string, _ time.Time) (LinkID, error) {
	return LinkID(s.generateCode()), nil
}

// HashStrategy hashes the link inputs with blake3 and keeps the first Size bytes.
// The nonce makes two registrations of the same artifact produce different ids.
type HashStrategy struct {
	size  int
	nonce func() ([]byte, error)
}

// NewHashStrategy creates a hash-based id strategy producing hex ids of 2*size characters.
func NewHashStrategy(size int) *HashStrategy {
	return &HashStrategy{size: size, nonce: randomNonce}
}

func (s *HashStrategy) NewID(artifactRef, displayName string, at time.Time) (LinkID, error) {
	nonce, err := s.nonce()
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(at.UnixNano()))

	h := blake3.New()
	_, _ = h.Write([]byte(artifactRef))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(displayName))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(ts[:])
	_, _ = h.Write(nonce)

	sum := h.Sum(nil)

	return LinkID(hex.EncodeToString(sum[:s.size])), nil
}

func randomNonce() ([]byte, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}

	return b, nil
}

// NewStrategy builds the named strategy. For StrategyToken length is the code length;
// for StrategyHash it is the number of hash bytes kept.
func NewStrategy(name Strategy, length int) (IDStrategy, error) {
	switch name {
	case StrategyToken, "":
		gen, err := nanoid.Standard(length)
		if err != nil {
			return nil, fmt.Errorf("%w: token length %d: %w", ErrInvalidInput, length, err)
		}

		return NewTokenStrategy(gen), nil
	case StrategyHash:
		if length < 8 || length > 32 {
			return nil, fmt.Errorf("%w: hash size must be between 8 and 32 bytes, got %d", ErrInvalidInput, length)
		}

		return NewHashStrategy(length), nil
	default:
		return nil, fmt.Errorf("%w: unknown id strategy %q", ErrInvalidInput, name)
	}
}
