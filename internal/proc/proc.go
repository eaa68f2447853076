// Package proc holds the small pieces shared by every ffmpeg/ffprobe
// subprocess the service launches: binary resolution, bounded stderr capture
// and exit-code reporting.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

const MaxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics

// Result is the outcome of one subprocess run.
type Result struct {
	ExitCode   int           `json:"exit_code"`
	StderrTail string        `json:"stderr_tail,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r Result) IsSuccess() bool { return r.ExitCode == 0 }

// Resolve returns the absolute path of preferred, or of the first fallback
// found on PATH when preferred is empty.
func Resolve(preferred string, fallbacks ...string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured binary %q not found", preferred)
	}
	for _, name := range fallbacks {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no binary found on PATH (tried %v)", fallbacks)
}

// ExitCode extracts the process exit status from a Run/Wait error.
// Errors that never reached the process report -1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Run executes bin with args and returns its stdout.
func Run(ctx context.Context, logger *slog.Logger, bin string, args ...string) ([]byte, Result) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout bytes.Buffer
	stderr := NewTail(MaxStderrBytes)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	res := Result{
		ExitCode:   ExitCode(err),
		StderrTail: stderr.String(),
		Duration:   time.Since(start),
	}
	if res.ExitCode == -1 && res.StderrTail == "" && err != nil {
		res.StderrTail = err.Error()
	}

	if !res.IsSuccess() && logger != nil {
		logger.Warn("subprocess failed",
			"bin", bin,
			"exit_code", res.ExitCode,
			"duration_ms", res.Duration.Milliseconds(),
			"stderr_tail", Truncate(res.StderrTail, 512),
		)
	}
	return stdout.Bytes(), res
}

// Truncate keeps the last maxLen bytes of s.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// Tail is an io.Writer that keeps only the last limit bytes. It is safe to
// read while the process is still writing.
type Tail struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

var _ io.Writer = (*Tail)(nil)

func NewTail(limit int) *Tail {
	return &Tail{limit: limit}
}

func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p)
	t.buf.Write(p)
	if t.buf.Len() > t.limit {
		b := t.buf.Bytes()
		keep := append([]byte(nil), b[len(b)-t.limit:]...)
		t.buf.Reset()
		t.buf.Write(keep)
	}
	return n, nil
}

func (t *Tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
