package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/serroba/resume-tracker/internal/ledger"
)

const fileFormatVersion = 1

// Format is the serialization used by FileStore.
type Format string

const (
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

// fileDocument is the persisted layout: one collection keyed by link id plus
// the ids in insertion order. Documents written without Order are sorted by
// creation time on load.
type fileDocument struct {
	Version int                                  `json:"version"`
	Order   []ledger.LinkID                      `json:"order,omitempty"`
	Links   map[ledger.LinkID]ledger.TrackedLink `json:"links"`
}

var (
	cborEnc     cbor.EncMode
	cborDec     cbor.DecMode
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Keep nanoseconds and the zone; the default unix-seconds encoding would truncate timestamps.
	encOptions.Time = cbor.TimeRFC3339Nano

	cborEnc, err = encOptions.EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}

	cborDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("store: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("store: zstd decoder initialization failed: " + err.Error())
	}
}

// FileStore persists the whole ledger as a single file.
//
// The format follows the file name: "*.cbor" is CBOR, anything else JSON, and a
// trailing ".zst" compresses the encoded document with zstd. Writes go to a temp
// file that is synced and renamed over the target, so a crash leaves either the old
// or the new snapshot. A missing file is an empty ledger; an unreadable one is an error.
type FileStore struct {
	mu       sync.Mutex
	path     string
	format   Format
	compress bool
}

// NewFileStore creates a file-backed ledger store at path.
func NewFileStore(path string) *FileStore {
	name := path
	compress := strings.HasSuffix(name, ".zst")

	if compress {
		name = strings.TrimSuffix(name, ".zst")
	}

	format := FormatJSON
	if strings.EqualFold(filepath.Ext(name), ".cbor") {
		format = FormatCBOR
	}

	return &FileStore{path: path, format: format, compress: compress}
}

// Path returns the snapshot file location.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Load(_ context.Context) (*ledger.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return &ledger.Snapshot{}, nil
	}

	if err != nil {
		return nil, ledger.StorageError("read snapshot", err)
	}

	doc, err := f.decode(data)
	if err != nil {
		return nil, ledger.StorageError("decode snapshot "+f.path, err)
	}

	if doc.Version != fileFormatVersion {
		return nil, ledger.StorageError("decode snapshot "+f.path,
			fmt.Errorf("unsupported version %d", doc.Version))
	}

	links := make([]ledger.TrackedLink, 0, len(doc.Links))

	for id, link := range doc.Links {
		if link.ID != id {
			return nil, ledger.StorageError("decode snapshot "+f.path,
				fmt.Errorf("link keyed %q carries id %q", id, link.ID))
		}

		if link.Events == nil {
			link.Events = []ledger.ViewEvent{}
		}

		links = append(links, link)
	}

	if err := orderLinks(links, doc.Order); err != nil {
		return nil, ledger.StorageError("decode snapshot "+f.path, err)
	}

	return &ledger.Snapshot{Links: links}, nil
}

func (f *FileStore) Save(_ context.Context, snapshot *ledger.Snapshot, _ ledger.Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc := fileDocument{
		Version: fileFormatVersion,
		Order:   make([]ledger.LinkID, 0, len(snapshot.Links)),
		Links:   make(map[ledger.LinkID]ledger.TrackedLink, len(snapshot.Links)),
	}

	for _, link := range snapshot.Links {
		doc.Order = append(doc.Order, link.ID)
		doc.Links[link.ID] = link
	}

	data, err := f.encode(&doc)
	if err != nil {
		return ledger.StorageError("encode snapshot", err)
	}

	if err := writeAtomic(f.path, data); err != nil {
		return ledger.StorageError("write snapshot", err)
	}

	return nil
}

// Ping checks that the snapshot directory is reachable.
func (f *FileStore) Ping(_ context.Context) error {
	info, err := os.Stat(filepath.Dir(f.path))
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", filepath.Dir(f.path))
	}

	return nil
}

func (f *FileStore) encode(doc *fileDocument) ([]byte, error) {
	var (
		data []byte
		err  error
	)

	if f.format == FormatCBOR {
		data, err = cborEnc.Marshal(doc)
	} else {
		data, err = json.MarshalIndent(doc, "", "  ")
	}

	if err != nil {
		return nil, err
	}

	if f.compress {
		data = zstdEncoder.EncodeAll(data, nil)
	}

	return data, nil
}

func (f *FileStore) decode(data []byte) (*fileDocument, error) {
	if len(data) == 0 {
		return nil, errors.New("snapshot file is empty")
	}

	if f.compress {
		plain, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}

		data = plain
	}

	var doc fileDocument

	if f.format == FormatCBOR {
		if err := cborDec.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	} else if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	return &doc, nil
}

// writeAtomic writes data to path via temp file, fsync and rename.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ledger-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}

	tmpName := tmp.Name()
	success := false

	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}

	success = true

	return nil
}

// orderLinks puts links in the recorded insertion order. Without a recorded
// order it falls back to creation time, then id.
func orderLinks(links []ledger.TrackedLink, order []ledger.LinkID) error {
	if len(order) == 0 {
		slices.SortFunc(links, func(a, b ledger.TrackedLink) int {
			if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
				return c
			}

			return strings.Compare(string(a.ID), string(b.ID))
		})

		return nil
	}

	if len(order) != len(links) {
		return fmt.Errorf("order lists %d ids for %d links", len(order), len(links))
	}

	position := make(map[ledger.LinkID]int, len(order))

	for i, id := range order {
		if _, dup := position[id]; dup {
			return fmt.Errorf("order lists %q twice", id)
		}

		position[id] = i
	}

	for _, link := range links {
		if _, ok := position[link.ID]; !ok {
			return fmt.Errorf("order is missing %q", link.ID)
		}
	}

	slices.SortFunc(links, func(a, b ledger.TrackedLink) int {
		return position[a.ID] - position[b.ID]
	})

	return nil
}
