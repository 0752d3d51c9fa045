package remote

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/leslieo2/devreload/internal/filewatch"
	"github.com/leslieo2/devreload/internal/observability"
)

var (
	// ErrUnknownFolder is returned for a source folder that matches no
	// loadable root.
	ErrUnknownFolder = errors.New("remote: source folder matches no loadable root")
	// ErrInvalidPath is returned for a file path that would escape its
	// root.
	ErrInvalidPath = errors.New("remote: invalid file path")
	// ErrInvalidKind is returned for a file without a known change kind.
	ErrInvalidKind = errors.New("remote: invalid change kind")
)

// UpdateRequest is the body of an update push. It lists changed files
// grouped by the source folder they were compiled into.
type UpdateRequest struct {
	SourceFolders []SourceFolder `json:"source_folders"`
}

// SourceFolder names a folder on the pushing side and its changed files.
type SourceFolder struct {
	Name  string       `json:"name"`
	Files []FileUpdate `json:"files"`
}

// FileUpdate is one changed file. Path is slash separated and relative
// to the folder; Content is omitted for deletions.
type FileUpdate struct {
	Path    string               `json:"path"`
	Kind    filewatch.ChangeKind `json:"kind"`
	Content []byte               `json:"content,omitempty"`
}

// UpdateResult reports what an applied update did.
type UpdateResult struct {
	Written       int  `json:"written"`
	Deleted       int  `json:"deleted"`
	ReloadStarted bool `json:"reload_started"`
}

// Updater writes pushed files into the loadable roots.
type Updater struct {
	fs     afero.Fs
	roots  []string
	logger *zap.Logger
}

// NewUpdater creates an updater over roots. A nil fs uses the OS file
// system.
func NewUpdater(fs afero.Fs, roots []string, logger *zap.Logger) *Updater {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Updater{
		fs:     fs,
		roots:  append([]string(nil), roots...),
		logger: observability.OrNop(logger),
	}
}

type plannedWrite struct {
	target string
	update FileUpdate
}

// Apply validates the whole request before touching any file, then
// writes and deletes in request order.
func (u *Updater) Apply(req UpdateRequest) (UpdateResult, error) {
	var plan []plannedWrite
	for _, folder := range req.SourceFolders {
		root, err := u.resolveRoot(folder.Name)
		if err != nil {
			return UpdateResult{}, err
		}
		for _, f := range folder.Files {
			target, err := resolveTarget(root, f.Path)
			if err != nil {
				return UpdateResult{}, err
			}
			switch f.Kind {
			case filewatch.Add, filewatch.Modify, filewatch.Delete:
			default:
				return UpdateResult{}, fmt.Errorf("%w: %s", ErrInvalidKind, f.Path)
			}
			plan = append(plan, plannedWrite{target: target, update: f})
		}
	}

	var result UpdateResult
	for _, w := range plan {
		switch w.update.Kind {
		case filewatch.Delete:
			if err := u.fs.Remove(w.target); err != nil && !errors.Is(err, os.ErrNotExist) {
				return result, fmt.Errorf("failed to delete %s: %w", w.target, err)
			}
			result.Deleted++
		default:
			if err := u.fs.MkdirAll(filepath.Dir(w.target), 0o755); err != nil {
				return result, fmt.Errorf("failed to create directory for %s: %w", w.target, err)
			}
			if err := afero.WriteFile(u.fs, w.target, w.update.Content, 0o644); err != nil {
				return result, fmt.Errorf("failed to write %s: %w", w.target, err)
			}
			result.Written++
		}
		u.logger.Debug("Applied remote change",
			zap.String("path", w.target),
			zap.Stringer("kind", w.update.Kind))
	}
	return result, nil
}

// resolveRoot finds the loadable root a source folder was built into.
// Folders match a root with the same trailing path elements, so
// "/home/dev/app/build/classes" matches the root "build/classes".
func (u *Updater) resolveRoot(name string) (string, error) {
	want := cleanSlash(name)
	for _, root := range u.roots {
		have := cleanSlash(root)
		if want == have || strings.HasSuffix(want, "/"+have) || strings.HasSuffix(have, "/"+want) {
			return root, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFolder, name)
}

func resolveTarget(root, rel string) (string, error) {
	local := filepath.FromSlash(rel)
	if rel == "" || !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	return filepath.Join(root, local), nil
}

func cleanSlash(p string) string {
	return strings.TrimSuffix(path.Clean(filepath.ToSlash(p)), "/")
}
