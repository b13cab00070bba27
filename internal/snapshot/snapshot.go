// Package snapshot persists the fixture registry between runs as a
// versioned JSON document.
package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/drblury/dmxrelay/internal/protocol"
	errspkg "github.com/drblury/dmxrelay/internal/runtime/errors"
	"github.com/drblury/dmxrelay/internal/runtime/jsoncodec"
)

// SchemaVersion is the only document version this package reads and writes.
const SchemaVersion = 1

// Record is one persisted fixture. Fields are pointers so a record that omits
// one can be told apart from a zero value.
type Record struct {
	ID *uint32  `json:"id"`
	X  *float64 `json:"x"`
	Y  *float64 `json:"y"`
	Z  *float64 `json:"z"`
}

// Document is the durable form of the registry.
type Document struct {
	Version  int      `json:"version"`
	Fixtures []Record `json:"fixtures"`
}

// FromFixtures builds a document holding fixtures in order.
func FromFixtures(fixtures []protocol.Fixture) Document {
	doc := Document{Version: SchemaVersion, Fixtures: make([]Record, 0, len(fixtures))}
	for _, f := range fixtures {
		id, x, y, z := f.ID, f.X, f.Y, f.Z
		doc.Fixtures = append(doc.Fixtures, Record{ID: &id, X: &x, Y: &y, Z: &z})
	}
	return doc
}

// CheckFinite reports ErrInvalidFixture for the first record with a NaN or
// infinite coordinate. JSON cannot represent either.
func CheckFinite(doc Document) error {
	for _, r := range doc.Fixtures {
		for _, v := range []*float64{r.X, r.Y, r.Z} {
			if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
				id := uint32(0)
				if r.ID != nil {
					id = *r.ID
				}
				return fmt.Errorf("%w: fixture %d", errspkg.ErrInvalidFixture, id)
			}
		}
	}
	return nil
}

// Decode validates doc and returns its fixtures in order. Any problem is
// reported as ErrRegistryLoadCorrupt.
func (d Document) Decode() ([]protocol.Fixture, error) {
	if d.Version != SchemaVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", errspkg.ErrRegistryLoadCorrupt, d.Version)
	}
	out := make([]protocol.Fixture, 0, len(d.Fixtures))
	seen := make(map[uint32]struct{}, len(d.Fixtures))
	for i, r := range d.Fixtures {
		if r.ID == nil || r.X == nil || r.Y == nil || r.Z == nil {
			return nil, fmt.Errorf("%w: fixture record %d is missing fields", errspkg.ErrRegistryLoadCorrupt, i)
		}
		if _, dup := seen[*r.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate fixture id %d", errspkg.ErrRegistryLoadCorrupt, *r.ID)
		}
		seen[*r.ID] = struct{}{}
		f := protocol.Fixture{ID: *r.ID, X: *r.X, Y: *r.Y, Z: *r.Z}
		if !f.Finite() {
			return nil, fmt.Errorf("%w: fixture %d has non-finite coordinates", errspkg.ErrRegistryLoadCorrupt, f.ID)
		}
		out = append(out, f)
	}
	return out, nil
}

// Store loads and saves registry documents.
type Store interface {
	Load() (Document, error)
	Save(doc Document) error
}

// Empty is the document for a registry with no fixtures.
func Empty() Document {
	return Document{Version: SchemaVersion, Fixtures: []Record{}}
}

// Parse decodes a document strictly: unknown fields anywhere are rejected.
func Parse(data []byte) (Document, error) {
	var doc Document
	if err := jsoncodec.UnmarshalStrict(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", errspkg.ErrRegistryLoadCorrupt, err)
	}
	if _, err := doc.Decode(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// FileStore keeps the document in a single file.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path. The file need not exist yet.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

// Load reads the document. A missing or empty file yields an empty document;
// a non-empty file that does not parse is ErrRegistryLoadCorrupt.
func (s *FileStore) Load() (Document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Empty(), nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("read snapshot %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Empty(), nil
	}
	doc, err := Parse(data)
	if err != nil {
		return Document{}, fmt.Errorf("load snapshot %s: %w", s.path, err)
	}
	return doc, nil
}

// Save replaces the file atomically: the document is written to a temporary
// file in the same directory, synced, then renamed over the target.
func (s *FileStore) Save(doc Document) error {
	if doc.Fixtures == nil {
		doc.Fixtures = []Record{}
	}
	if err := CheckFinite(doc); err != nil {
		return err
	}
	data, err := jsoncodec.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace snapshot %s: %w", s.path, err)
	}
	return nil
}

// MemoryStore keeps the last saved document in memory.
type MemoryStore struct {
	mu    sync.Mutex
	doc   Document
	saves int
}

// NewMemoryStore returns a store preloaded with doc.
func NewMemoryStore(doc Document) *MemoryStore {
	return &MemoryStore{doc: doc}
}

func (s *MemoryStore) Load() (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.Version == 0 && len(s.doc.Fixtures) == 0 {
		return Empty(), nil
	}
	return s.doc, nil
}

func (s *MemoryStore) Save(doc Document) error {
	if err := CheckFinite(doc); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
	s.saves++
	return nil
}

// Saves reports how many times Save was called.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
