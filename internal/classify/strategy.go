// Package classify decides whether a batch of file changes needs a full
// application restart or can be served by a browser reload.
package classify

import (
	"fmt"
	"path"
	"strings"

	"github.com/gobwas/glob"

	"github.com/leslieo2/devreload/internal/config"
	"github.com/leslieo2/devreload/internal/filewatch"
)

// Strategy classifies relative paths. It is immutable and safe for
// concurrent use.
type Strategy struct {
	excludes    []glob.Glob
	codePattern []glob.Glob
	codeExt     map[string]struct{}
	triggerFile string
}

// NewStrategy compiles the restart configuration. Patterns use '/' as the
// separator; "*" stays within one segment and "**" crosses segments.
func NewStrategy(cfg config.RestartConfig) (*Strategy, error) {
	excludes, err := compileAll(cfg.AllExcludes())
	if err != nil {
		return nil, fmt.Errorf("invalid exclude pattern: %w", err)
	}
	patterns, err := compileAll(cfg.CodePatterns)
	if err != nil {
		return nil, fmt.Errorf("invalid code pattern: %w", err)
	}

	ext := make(map[string]struct{}, len(cfg.CodeExtensions))
	for _, e := range cfg.CodeExtensions {
		ext[strings.ToLower(e)] = struct{}{}
	}

	return &Strategy{
		excludes:    excludes,
		codePattern: patterns,
		codeExt:     ext,
		triggerFile: path.Clean(filepathToSlash(cfg.TriggerFile)),
	}, nil
}

func compileAll(patterns []string) ([]glob.Glob, error) {
	var out []glob.Glob
	for _, p := range patterns {
		p = strings.TrimPrefix(filepathToSlash(p), "/")
		if p == "" {
			continue
		}
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		out = append(out, g)

		// "**/x" also matches x at the top level.
		if rest, ok := strings.CutPrefix(p, "**/"); ok && rest != "" {
			g, err := glob.Compile(rest, '/')
			if err != nil {
				return nil, fmt.Errorf("%q: %w", p, err)
			}
			out = append(out, g)
		}
	}
	return out, nil
}

func matchAny(globs []glob.Glob, rel string) bool {
	for _, g := range globs {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// IsExcluded reports whether rel matches an exclude pattern.
func (s *Strategy) IsExcluded(rel string) bool {
	return matchAny(s.excludes, rel)
}

// IsCode reports whether a change to rel requires a restart.
func (s *Strategy) IsCode(rel string) bool {
	if s.IsExcluded(rel) {
		return false
	}
	if _, ok := s.codeExt[strings.ToLower(path.Ext(rel))]; ok {
		return true
	}
	return matchAny(s.codePattern, rel)
}

// IsStylesheet reports whether rel is a CSS file the browser can swap
// without a full page reload.
func (s *Strategy) IsStylesheet(rel string) bool {
	return strings.EqualFold(path.Ext(rel), ".css")
}

// RequiresTrigger reports whether restarts wait for a trigger file.
func (s *Strategy) RequiresTrigger() bool {
	return s.triggerFile != "" && s.triggerFile != "."
}

// IsTrigger reports whether rel names the trigger file. The trigger may be
// given as a path relative to a root or as a bare file name.
func (s *Strategy) IsTrigger(rel string) bool {
	if !s.RequiresTrigger() {
		return false
	}
	return rel == s.triggerFile || path.Base(rel) == s.triggerFile
}

// HasTrigger reports whether any change in sets touches the trigger file.
func (s *Strategy) HasTrigger(sets []filewatch.ChangeSet) bool {
	for _, set := range sets {
		for _, ch := range set.Changes {
			if s.IsTrigger(ch.Path) {
				return true
			}
		}
	}
	return false
}

// IsRestartRequired reports whether any change in sets is code, or the
// trigger file changed.
func (s *Strategy) IsRestartRequired(sets []filewatch.ChangeSet) bool {
	for _, set := range sets {
		for _, ch := range set.Changes {
			if s.IsTrigger(ch.Path) || s.IsCode(ch.Path) {
				return true
			}
		}
	}
	return false
}

// AllStylesheets reports whether every change in sets is a stylesheet.
// It is false for an empty batch.
func (s *Strategy) AllStylesheets(sets []filewatch.ChangeSet) bool {
	seen := false
	for _, set := range sets {
		for _, ch := range set.Changes {
			if !s.IsStylesheet(ch.Path) {
				return false
			}
			seen = true
		}
	}
	return seen
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
