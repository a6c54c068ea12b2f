// Package store implements the on-disk snapshot cache used by the resolver.
// The layout is a versioned root directory with an index file mapping
// checkpoint references to unpacked snapshot directories.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CurrentVersion is the current version of the store layout.
const CurrentVersion = "1.0.0"

const (
	layoutFile    = "layout.json"
	indexFile     = "index.json"
	snapshotsDir  = "snapshots"
	indexFileMode = 0o644
)

// Layout records the store layout version.
type Layout struct {
	Version string `json:"version"`
}

// Entry is one cached snapshot.
type Entry struct {
	Reference string    `json:"reference"`
	Dir       string    `json:"dir"`
	Created   time.Time `json:"created"`
}

// Index is the reference-to-snapshot mapping.
type Index struct {
	Snapshots []Entry `json:"snapshots"`
}

// Store is a local snapshot cache.
type Store struct {
	rootPath string
}

// Options configures a new Store.
type Options struct {
	RootPath string
}

// New creates a Store rooted at opts.RootPath, initializing the layout on
// first use.
func New(opts Options) (*Store, error) {
	if opts.RootPath == "" {
		return nil, fmt.Errorf("store root path is required")
	}
	s := &Store{rootPath: opts.RootPath}
	if err := s.initialize(); err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// RootPath returns the root path of the store.
func (s *Store) RootPath() string {
	return s.rootPath
}

func (s *Store) initialize() error {
	if err := os.MkdirAll(filepath.Join(s.rootPath, snapshotsDir), 0o755); err != nil {
		return err
	}
	if _, err := os.Stat(s.layoutPath()); os.IsNotExist(err) {
		if err := writeJSON(s.layoutPath(), Layout{Version: CurrentVersion}); err != nil {
			return fmt.Errorf("initializing layout file: %w", err)
		}
	}
	if _, err := os.Stat(s.indexPath()); os.IsNotExist(err) {
		if err := writeJSON(s.indexPath(), Index{Snapshots: []Entry{}}); err != nil {
			return fmt.Errorf("initializing index file: %w", err)
		}
	}
	return nil
}

// Lookup returns the snapshot directory cached for ref. A stale index entry
// whose directory has disappeared reports a miss.
func (s *Store) Lookup(ref string) (string, bool) {
	index, err := s.readIndex()
	if err != nil {
		return "", false
	}
	for _, entry := range index.Snapshots {
		if entry.Reference != ref {
			continue
		}
		if fi, err := os.Stat(entry.Dir); err != nil || !fi.IsDir() {
			return "", false
		}
		return entry.Dir, true
	}
	return "", false
}

// SnapshotDir returns the directory a snapshot of ref should be unpacked
// into. The name stays recognizable while a digest suffix keeps distinct
// references collision-free.
func (s *Store) SnapshotDir(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	name := sanitizeRef(ref) + "-" + hex.EncodeToString(sum[:4])
	return filepath.Join(s.rootPath, snapshotsDir, name)
}

// Record registers dir as the snapshot for ref, replacing any previous
// entry.
func (s *Store) Record(ref, dir string) error {
	index, err := s.readIndex()
	if err != nil {
		return fmt.Errorf("reading snapshot index: %w", err)
	}
	entry := Entry{Reference: ref, Dir: dir, Created: time.Now().UTC()}
	replaced := false
	for i := range index.Snapshots {
		if index.Snapshots[i].Reference == ref {
			index.Snapshots[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		index.Snapshots = append(index.Snapshots, entry)
	}
	return writeJSON(s.indexPath(), index)
}

// List returns all cached snapshots.
func (s *Store) List() ([]Entry, error) {
	index, err := s.readIndex()
	if err != nil {
		return nil, fmt.Errorf("reading snapshot index: %w", err)
	}
	return index.Snapshots, nil
}

func (s *Store) layoutPath() string {
	return filepath.Join(s.rootPath, layoutFile)
}

func (s *Store) indexPath() string {
	return filepath.Join(s.rootPath, indexFile)
}

func (s *Store) readIndex() (Index, error) {
	raw, err := os.ReadFile(s.indexPath())
	if err != nil {
		return Index{}, err
	}
	var index Index
	if err := json.Unmarshal(raw, &index); err != nil {
		return Index{}, err
	}
	return index, nil
}

func writeJSON(path string, value any) error {
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, indexFileMode)
}

// sanitizeRef turns a registry reference into a filesystem-safe directory
// name.
func sanitizeRef(ref string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, ref)
}
