package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/leslieo2/devreload/internal/constants"
)

// DefaultRestartExcludes are paths that never require a restart
var DefaultRestartExcludes = []string{
	"META-INF/maven/**",
	"META-INF/resources/**",
	"resources/**",
	"static/**",
	"public/**",
	"templates/**",
	"**/*Test.class",
	"**/*Tests.class",
	"git.properties",
	"META-INF/build-info.properties",
}

// DefaultCodeExtensions are file extensions treated as loadable code
var DefaultCodeExtensions = []string{
	".class",
	".jar",
	".so",
	".dylib",
	".dll",
	".wasm",
	".exe",
}

// RestartConfig represents code reload configuration
type RestartConfig struct {
	Enabled           bool          `json:"enabled" yaml:"enabled"`
	Command           []string      `json:"command" yaml:"command"`
	LoadableRoots     []string      `json:"loadable_roots" yaml:"loadable_roots"`
	CodeExtensions    []string      `json:"code_extensions" yaml:"code_extensions"`
	CodePatterns      []string      `json:"code_patterns" yaml:"code_patterns"`
	Exclude           []string      `json:"exclude" yaml:"exclude"`
	AdditionalExclude []string      `json:"additional_exclude" yaml:"additional_exclude"`
	TriggerFile       string        `json:"trigger_file" yaml:"trigger_file"`
	StartupGrace      time.Duration `json:"startup_grace" yaml:"startup_grace"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	KillDelay         time.Duration `json:"kill_delay" yaml:"kill_delay"`
}

// DefaultRestartConfig returns default restart configuration
func DefaultRestartConfig() RestartConfig {
	return RestartConfig{
		Enabled:         true,
		CodeExtensions:  append([]string(nil), DefaultCodeExtensions...),
		Exclude:         append([]string(nil), DefaultRestartExcludes...),
		StartupGrace:    constants.DefaultStartupGrace,
		ShutdownTimeout: constants.DefaultShutdownTimeout,
		KillDelay:       constants.DefaultKillDelay,
	}
}

// AllExcludes returns the base and additional exclude patterns combined
func (r RestartConfig) AllExcludes() []string {
	all := make([]string, 0, len(r.Exclude)+len(r.AdditionalExclude))
	all = append(all, r.Exclude...)
	all = append(all, r.AdditionalExclude...)
	return all
}

// Validate validates restart configuration
func (r RestartConfig) Validate() error {
	for _, ext := range r.CodeExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("code extension %q must start with a dot", ext)
		}
	}
	if strings.ContainsAny(r.TriggerFile, "*?[") {
		return fmt.Errorf("trigger file %q must be a plain name", r.TriggerFile)
	}
	if r.StartupGrace < 0 {
		return fmt.Errorf("startup grace must be non-negative")
	}
	if r.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown timeout must be non-negative")
	}
	if r.KillDelay < 0 {
		return fmt.Errorf("kill delay must be non-negative")
	}
	return nil
}
