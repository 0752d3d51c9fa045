package filewatch

import (
	"errors"
	"fmt"
)

// ErrRootMismatch is returned when diffing snapshots of different roots.
var ErrRootMismatch = errors.New("snapshots have different roots")

// ChangeKind classifies a file change.
type ChangeKind int

const (
	Add ChangeKind = iota + 1
	Modify
	Delete
)

func (k ChangeKind) String() string {
	switch k {
	case Add:
		return "ADD"
	case Modify:
		return "MODIFY"
	case Delete:
		return "DELETE"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

func (k ChangeKind) MarshalText() ([]byte, error) {
	switch k {
	case Add, Modify, Delete:
		return []byte(k.String()), nil
	}
	return nil, fmt.Errorf("invalid change kind %d", int(k))
}

func (k *ChangeKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "ADD":
		*k = Add
	case "MODIFY":
		*k = Modify
	case "DELETE":
		*k = Delete
	default:
		return fmt.Errorf("invalid change kind %q", text)
	}
	return nil
}

// ChangeRecord is a single file change relative to a root.
type ChangeRecord struct {
	Path string     `json:"path"`
	Kind ChangeKind `json:"kind"`
}

// ChangeSet groups the changes found under one root in a single scan.
type ChangeSet struct {
	Root    string         `json:"root"`
	Changes []ChangeRecord `json:"changes"`
}

// IsEmpty reports whether the set carries no changes.
func (c ChangeSet) IsEmpty() bool { return len(c.Changes) == 0 }

// Count returns the number of changes of the given kind.
func (c ChangeSet) Count(kind ChangeKind) int {
	n := 0
	for _, ch := range c.Changes {
		if ch.Kind == kind {
			n++
		}
	}
	return n
}

// Diff compares two snapshots of the same root. Added and modified files
// come first in current order, followed by deleted files in previous order.
func Diff(previous, current *Snapshot) (ChangeSet, error) {
	if previous.root != current.root {
		return ChangeSet{}, fmt.Errorf("%w: %s != %s", ErrRootMismatch, previous.root, current.root)
	}

	remaining := make(map[string]FileRecord, len(previous.files))
	for _, f := range previous.files {
		remaining[f.Path] = f
	}

	set := ChangeSet{Root: current.root}
	for _, f := range current.files {
		old, ok := remaining[f.Path]
		if !ok {
			set.Changes = append(set.Changes, ChangeRecord{Path: f.Path, Kind: Add})
			continue
		}
		delete(remaining, f.Path)
		if !old.Equal(f) {
			set.Changes = append(set.Changes, ChangeRecord{Path: f.Path, Kind: Modify})
		}
	}

	if len(remaining) > 0 {
		for _, f := range previous.files {
			if _, gone := remaining[f.Path]; gone {
				set.Changes = append(set.Changes, ChangeRecord{Path: f.Path, Kind: Delete})
			}
		}
	}

	return set, nil
}
