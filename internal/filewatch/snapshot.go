package filewatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
)

// ErrNotDirectory is returned when a snapshot root exists but is not a directory.
var ErrNotDirectory = errors.New("snapshot root is not a directory")

// FileRecord is the fingerprint of one regular file under a root.
type FileRecord struct {
	// Path is slash separated and relative to the snapshot root.
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
	// Hash is the xxhash64 digest of the content, zero unless content
	// hashing was requested.
	Hash uint64 `json:"hash,omitempty"`
}

// Equal reports whether two records describe the same file state.
func (r FileRecord) Equal(o FileRecord) bool {
	return r.Path == o.Path &&
		r.Size == o.Size &&
		r.ModTime.Equal(o.ModTime) &&
		r.Hash == o.Hash
}

// Snapshot is an immutable point-in-time listing of the regular files
// below a root, sorted by path.
type Snapshot struct {
	root    string
	takenAt time.Time
	files   []FileRecord
	index   map[string]int
}

func newSnapshot(root string, takenAt time.Time, files []FileRecord) *Snapshot {
	slices.SortFunc(files, func(a, b FileRecord) int {
		return strings.Compare(a.Path, b.Path)
	})
	index := make(map[string]int, len(files))
	for i, f := range files {
		index[f.Path] = i
	}
	return &Snapshot{root: root, takenAt: takenAt, files: files, index: index}
}

// Root returns the directory the snapshot was taken of.
func (s *Snapshot) Root() string { return s.root }

// TakenAt returns when the scan started.
func (s *Snapshot) TakenAt() time.Time { return s.takenAt }

// Len returns the number of files.
func (s *Snapshot) Len() int { return len(s.files) }

// Files returns a copy of the records in path order.
func (s *Snapshot) Files() []FileRecord {
	return slices.Clone(s.files)
}

// Lookup returns the record for a relative path.
func (s *Snapshot) Lookup(rel string) (FileRecord, bool) {
	i, ok := s.index[rel]
	if !ok {
		return FileRecord{}, false
	}
	return s.files[i], true
}

// MarshalJSON encodes the snapshot for diagnostics.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	files := s.files
	if files == nil {
		files = []FileRecord{}
	}
	return json.Marshal(struct {
		Root    string       `json:"root"`
		TakenAt time.Time    `json:"takenAt"`
		Files   []FileRecord `json:"files"`
	}{s.root, s.takenAt, files})
}

type snapshotOptions struct {
	contentHash bool
	now         func() time.Time
}

// SnapshotOption customizes TakeSnapshot.
type SnapshotOption func(*snapshotOptions)

// WithContentHash adds an xxhash64 content digest to every record so
// rewrites that keep size and mtime are still detected.
func WithContentHash() SnapshotOption {
	return func(o *snapshotOptions) { o.contentHash = true }
}

// TakeSnapshot records every regular file below root. A missing root
// yields an empty snapshot. Files that disappear or cannot be read while
// scanning are left out. Symlinked directories are not followed.
func TakeSnapshot(fs afero.Fs, root string, opts ...SnapshotOption) (*Snapshot, error) {
	o := snapshotOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	root = filepath.Clean(root)
	takenAt := o.now()

	info, err := fs.Stat(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return newSnapshot(root, takenAt, nil), nil
		}
		return nil, fmt.Errorf("failed to stat snapshot root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}

	s := scanner{fs: fs, root: root, contentHash: o.contentHash}
	s.scanDir("")
	return newSnapshot(root, takenAt, s.files), nil
}

type scanner struct {
	fs          afero.Fs
	root        string
	contentHash bool
	files       []FileRecord
}

func (s *scanner) scanDir(rel string) {
	entries, err := afero.ReadDir(s.fs, s.abs(rel))
	if err != nil {
		// vanished or unreadable directory
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if name == "." || name == ".." {
			continue
		}
		childRel := path.Join(rel, name)

		switch mode := entry.Mode(); {
		case entry.IsDir():
			s.scanDir(childRel)
		case mode&os.ModeSymlink != 0:
			target, err := s.fs.Stat(s.abs(childRel))
			if err != nil || !target.Mode().IsRegular() {
				continue
			}
			s.record(childRel, target)
		case mode.IsRegular():
			s.record(childRel, entry)
		}
	}
}

func (s *scanner) record(rel string, info os.FileInfo) {
	rec := FileRecord{
		Path:    rel,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if s.contentHash {
		sum, err := s.hash(rel)
		if err != nil {
			return
		}
		rec.Hash = sum
	}
	s.files = append(s.files, rec)
}

func (s *scanner) hash(rel string) (uint64, error) {
	f, err := s.fs.Open(s.abs(rel))
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	d := xxhash.New()
	if _, err := io.Copy(d, f); err != nil {
		return 0, err
	}
	return d.Sum64(), nil
}

func (s *scanner) abs(rel string) string {
	if rel == "" {
		return s.root
	}
	return filepath.Join(s.root, filepath.FromSlash(rel))
}
