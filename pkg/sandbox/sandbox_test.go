package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemsculpt/studio/pkg/studiotypes"
)

type allowAll struct{}

func (allowAll) AssertCliCommand(string) error   { return nil }
func (allowAll) AssertFilesystemPath(string) error { return nil }

type denyAll struct{ reason error }

func (d denyAll) AssertCliCommand(string) error   { return d.reason }
func (d denyAll) AssertFilesystemPath(string) error { return d.reason }

func TestRunner_UnsupportedEnvironment(t *testing.T) {
	r := New(allowAll{}, false, zerolog.Nop())
	_, err := r.Run(context.Background(), studiotypes.CLIRequest{Command: "echo", Args: []string{"hi"}})
	assert.Error(t, err)
}

func TestRunner_PermissionPreflight(t *testing.T) {
	r := New(denyAll{reason: assert.AnError}, true, zerolog.Nop())
	_, err := r.Run(context.Background(), studiotypes.CLIRequest{Command: "rm"})
	assert.Error(t, err)
}

func TestRunner_SuccessAndOutputCapture(t *testing.T) {
	r := New(allowAll{}, true, zerolog.Nop())
	result, err := r.Run(context.Background(), studiotypes.CLIRequest{
		Command: "sh",
		Args:    []string{"-c", "echo hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Stdout, "hello")
	assert.False(t, result.TimedOut)
}

func TestRunner_NonZeroExit(t *testing.T) {
	r := New(allowAll{}, true, zerolog.Nop())
	result, err := r.Run(context.Background(), studiotypes.CLIRequest{
		Command: "sh",
		Args:    []string{"-c", "exit 7"},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, result.ExitCode)
}

func TestRunner_Timeout(t *testing.T) {
	r := New(allowAll{}, true, zerolog.Nop())
	result, err := r.Run(context.Background(), studiotypes.CLIRequest{
		Command:   "sh",
		Args:      []string{"-c", "sleep 5"},
		TimeoutMS: 150,
	})
	require.NoError(t, err)
	assert.True(t, result.TimedOut)
}

func TestRunner_StdinClosedImmediately(t *testing.T) {
	// A command blocking on a stdin read must observe EOF right away
	// rather than hanging until the sandbox timeout.
	r := New(allowAll{}, true, zerolog.Nop())
	start := time.Now()
	result, err := r.Run(context.Background(), studiotypes.CLIRequest{
		Command:   "cat",
		TimeoutMS: 2000,
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 1*time.Second)
	assert.Equal(t, 0, result.ExitCode)
}

func TestRunner_OutputTruncation(t *testing.T) {
	r := New(allowAll{}, true, zerolog.Nop())
	result, err := r.Run(context.Background(), studiotypes.CLIRequest{
		Command:        "sh",
		Args:           []string{"-c", "head -c 5000 /dev/zero | tr '\\0' 'a'"},
		MaxOutputBytes: 1024,
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(result.Stdout), 1024)
}
