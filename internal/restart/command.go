package restart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/leslieo2/devreload/internal/constants"
)

// ErrCommandNotFound is returned when the application executable cannot be
// resolved.
var ErrCommandNotFound = errors.New("restart: command not found")

// CommandOptions configures a process entry point.
type CommandOptions struct {
	// Dir is the working directory of the child. Empty uses the current one.
	Dir string
	// Env holds extra KEY=VALUE pairs added to the inherited environment.
	Env []string
	// KillDelay is how long the child may take to exit after an interrupt
	// before it is killed. Zero kills immediately.
	KillDelay time.Duration
	Stdout    io.Writer
	Stderr    io.Writer
}

// Command returns an entry point that runs name as a child process, one
// process per generation. The executable is resolved once, here; a
// missing executable is a configuration error. The child learns its
// loadable roots and generation number from the environment.
func Command(name string, args []string, opts CommandOptions) (EntryPoint, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty command", ErrCommandNotFound)
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCommandNotFound, name, err)
	}

	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	args = append([]string(nil), args...)
	extraEnv := append([]string(nil), opts.Env...)

	return func(ctx context.Context, scope *Scope) error {
		cmd := exec.CommandContext(ctx, path, args...)
		cmd.Dir = opts.Dir
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		cmd.Env = append(os.Environ(), extraEnv...)
		cmd.Env = append(cmd.Env,
			constants.EnvLoadableRoots+"="+strings.Join(scope.Roots(), string(os.PathListSeparator)),
			constants.EnvGeneration+"="+strconv.FormatUint(scope.Generation(), 10),
		)
		if opts.KillDelay > 0 && runtime.GOOS != "windows" {
			cmd.Cancel = func() error {
				return cmd.Process.Signal(os.Interrupt)
			}
			cmd.WaitDelay = opts.KillDelay
		}

		if err := cmd.Start(); err != nil {
			return fmt.Errorf("failed to start %s: %w", name, err)
		}

		err := cmd.Wait()
		if ctx.Err() != nil {
			// stopped by teardown
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s exited: %w", name, err)
		}
		return nil
	}, nil
}
