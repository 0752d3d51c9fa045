// Package events publishes file change notifications to in-process
// listeners and, optionally, to a Redis channel.
package events

import (
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/leslieo2/devreload/internal/filewatch"
)

// ChangedEvent is published once per dispatched batch of changes.
type ChangedEvent struct {
	ID              string                `json:"id"`
	DetectedAt      time.Time             `json:"detected_at"`
	RestartRequired bool                  `json:"restart_required"`
	ChangeSets      []filewatch.ChangeSet `json:"change_sets"`
}

// NewChangedEvent stamps sets with a fresh ID and the current time.
func NewChangedEvent(sets []filewatch.ChangeSet, restartRequired bool) ChangedEvent {
	if sets == nil {
		sets = []filewatch.ChangeSet{}
	}
	return ChangedEvent{
		ID:              uuid.NewString(),
		DetectedAt:      time.Now().UTC(),
		RestartRequired: restartRequired,
		ChangeSets:      sets,
	}
}

// Paths returns every changed path joined to its root, slash-separated.
func (e ChangedEvent) Paths() []string {
	var paths []string
	for _, set := range e.ChangeSets {
		root := filepath.ToSlash(set.Root)
		for _, ch := range set.Changes {
			paths = append(paths, path.Join(root, ch.Path))
		}
	}
	return paths
}

// Count returns the number of changes across all sets.
func (e ChangedEvent) Count() int {
	n := 0
	for _, set := range e.ChangeSets {
		n += len(set.Changes)
	}
	return n
}
