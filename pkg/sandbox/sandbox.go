// Package sandbox implements the subprocess Sandbox Runner of spec.md
// §4.5: CWD/env/arg/stdin policy, timeout, output truncation and
// permission preflight. Grounded on pkg/health/exec.go's
// exec.CommandContext + timeout pattern, generalized with a byte-capped
// output reader and mandatory stdin closing.
package sandbox

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/systemsculpt/studio/pkg/studioerr"
	"github.com/systemsculpt/studio/pkg/studiotypes"
)

const (
	minTimeout        = 100 * time.Millisecond
	defaultTimeout    = 30 * time.Second
	minMaxOutputBytes = 1024
	defaultMaxOutput  = 256 * 1024
)

// extraPathDirs is the fixed set of common tool directories appended to
// PATH for every sandboxed invocation, so CLI tools installed outside a
// login shell's PATH (Homebrew, asdf shims, local bin) are still found.
var extraPathDirs = []string{
	"/usr/local/bin",
	"/opt/homebrew/bin",
	"/usr/bin",
	"/bin",
}

// PermissionChecker is the subset of the Permission Manager the sandbox
// preflights against.
type PermissionChecker interface {
	AssertCliCommand(command string) error
	AssertFilesystemPath(path string) error
}

// Runner executes subprocesses under the permission/timeout/truncation
// policy of spec.md §4.5. Desktop-only: non-desktop hosts must construct
// a Runner with Desktop: false so every call fails fast.
type Runner struct {
	Desktop bool
	perms   PermissionChecker
	logger  zerolog.Logger
}

// New returns a Runner. desktop should reflect whether the embedding host
// environment supports subprocess execution at all (spec.md §4.5 item 7).
func New(perms PermissionChecker, desktop bool, logger zerolog.Logger) *Runner {
	return &Runner{Desktop: desktop, perms: perms, logger: logger.With().Str("component", "sandbox").Logger()}
}

// Run executes req under the sandbox policy and returns its observed
// outcome. Once the process has started, timeouts and non-zero exits are
// reported in the result rather than as a Go error, per spec.md §4.5; a
// process that cannot be started (for example, a command not found on
// PATH) returns IoUnavailable.
func (r *Runner) Run(ctx context.Context, req studiotypes.CLIRequest) (studiotypes.CLIResult, error) {
	if !r.Desktop {
		return studiotypes.CLIResult{}, &studioerr.UnsupportedEnvironment{Capability: "cli"}
	}
	if err := r.perms.AssertCliCommand(req.Command); err != nil {
		return studiotypes.CLIResult{}, err
	}
	if req.WorkingDir != "" {
		if err := r.perms.AssertFilesystemPath(req.WorkingDir); err != nil {
			return studiotypes.CLIResult{}, err
		}
	}

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	if timeout < minTimeout {
		timeout = defaultTimeout
	}
	maxOutput := req.MaxOutputBytes
	if maxOutput < minMaxOutputBytes {
		maxOutput = defaultMaxOutput
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, req.Command, req.Args...)
	cmd.Dir = req.WorkingDir
	cmd.Env = mergedEnv(req.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return studiotypes.CLIResult{}, &studioerr.IoUnavailable{Reason: err.Error()}
	}

	stdout := newCappedBuffer(maxOutput)
	stderr := newCappedBuffer(maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return studiotypes.CLIResult{}, &studioerr.IoUnavailable{Reason: err.Error()}
	}
	// Close stdin immediately: tools that block on a stdin read (e.g. a
	// script expecting piped input) must see EOF right away, or they hang
	// forever under the sandbox. See spec.md §9.
	_ = stdin.Close()

	waitErr := cmd.Wait()

	timedOut := runCtx.Err() == context.DeadlineExceeded
	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
			if exitCode < 0 {
				exitCode = 1
			}
		} else {
			exitCode = 1
		}
	}

	r.logger.Debug().
		Str("command", req.Command).
		Int("exit_code", exitCode).
		Bool("timed_out", timedOut).
		Str("stdout_size", humanize.Bytes(uint64(stdout.Len()))).
		Msg("sandboxed command completed")

	return studiotypes.CLIResult{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		TimedOut: timedOut,
	}, nil
}

func mergedEnv(overlay map[string]string) []string {
	base := os.Environ()
	merged := make(map[string]string, len(base)+len(overlay))
	var pathKey = "PATH"
	if runtime.GOOS == "windows" {
		pathKey = "Path"
	}
	for _, kv := range base {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	for k, v := range overlay {
		merged[k] = v
	}

	sep := ":"
	if runtime.GOOS == "windows" {
		sep = ";"
	}
	merged[pathKey] = merged[pathKey] + sep + strings.Join(extraPathDirs, sep)

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}

// cappedBuffer truncates writes once the accumulated size reaches cap.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if c.truncated {
		return len(p), nil
	}
	remaining := c.limit - c.buf.Len()
	if remaining <= 0 {
		c.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		c.buf.Write(p[:remaining])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) Len() int { return c.buf.Len() }

func (c *cappedBuffer) String() string { return c.buf.String() }

var _ io.Writer = (*cappedBuffer)(nil)
