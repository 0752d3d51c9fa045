package restart

import (
	"bytes"
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestCommand_NotFound(t *testing.T) {
	_, err := Command("devreload-definitely-missing-binary", nil, CommandOptions{})
	assert.ErrorIs(t, err, ErrCommandNotFound)

	_, err = Command("", nil, CommandOptions{})
	assert.ErrorIs(t, err, ErrCommandNotFound)
}

func TestCommand_PassesRootsAndGeneration(t *testing.T) {
	skipWithoutShell(t)

	var out bytes.Buffer
	ep, err := Command("sh", []string{"-c", `echo "$DEVRELOAD_GENERATION|$DEVRELOAD_LOADABLE_ROOTS|$EXTRA"`}, CommandOptions{
		Env:    []string{"EXTRA=yes"},
		Stdout: &out,
	})
	require.NoError(t, err)

	gen := newGeneration(7, []string{"build/classes", "build/resources"})
	require.NoError(t, ep(gen.Scope().Context(), gen.Scope()))

	assert.Equal(t, "7|build/classes:build/resources|yes", strings.TrimSpace(out.String()))
}

func TestCommand_ExitErrorIsReported(t *testing.T) {
	skipWithoutShell(t)

	var stderr bytes.Buffer
	ep, err := Command("sh", []string{"-c", "echo failing >&2; exit 3"}, CommandOptions{Stderr: &stderr})
	require.NoError(t, err)

	gen := newGeneration(1, nil)
	err = ep(gen.Scope().Context(), gen.Scope())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sh exited")
	assert.Contains(t, stderr.String(), "failing")
}

func TestCommand_CancelStopsChild(t *testing.T) {
	skipWithoutShell(t)

	ep, err := Command("sleep", []string{"30"}, CommandOptions{KillDelay: time.Second})
	require.NoError(t, err)

	gen := newGeneration(1, nil)
	result := make(chan error, 1)
	go func() { result <- ep(gen.Scope().Context(), gen.Scope()) }()

	time.Sleep(50 * time.Millisecond)
	gen.Scope().cancel()

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("child did not stop after cancellation")
	}
}

func TestCommand_WithOrchestrator(t *testing.T) {
	skipWithoutShell(t)

	ep, err := Command("sleep", []string{"30"}, CommandOptions{KillDelay: time.Second})
	require.NoError(t, err)

	o := newOrchestrator(t, Options{
		EntryPoint:   ep,
		StartupGrace: 50 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, o.Start(ctx))
	first := o.CurrentGeneration()
	require.NotNil(t, first)

	require.True(t, o.TriggerReload())
	require.NoError(t, o.WaitIdle(ctx))

	assert.Equal(t, Stopped, first.State())
	second := o.CurrentGeneration()
	require.NotNil(t, second)
	assert.Equal(t, uint64(2), second.ID())
}
