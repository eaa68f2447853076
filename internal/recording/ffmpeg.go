package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/kelasi/composer/internal/proc"
	"github.com/kelasi/composer/internal/wav"
)

const stopGrace = 3 * time.Second

// FFmpegDevice captures microphone audio with an ffmpeg subprocess that
// writes raw s16le samples to stdout.
type FFmpegDevice struct {
	FFmpegPath  string // empty = look up "ffmpeg" on PATH
	InputFormat string // alsa, pulse, avfoundation, dshow; empty = platform default
	Input       string // device name; empty = platform default
	Format      wav.Format
	Logger      *slog.Logger
}

// DefaultInput returns the capture backend and device name usually present
// on the running platform.
func DefaultInput() (string, string) {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation", ":0"
	case "windows":
		return "dshow", "audio=default"
	default:
		return "pulse", "default"
	}
}

// captureFormat fills unset fields from wav.DefaultFormat. Capture is always
// s16le.
func captureFormat(f wav.Format) wav.Format {
	if f.SampleRate == 0 {
		f.SampleRate = wav.DefaultFormat.SampleRate
	}
	if f.Channels == 0 {
		f.Channels = wav.DefaultFormat.Channels
	}
	f.BitDepth = 16
	return f
}

func (d FFmpegDevice) Open(ctx context.Context) (Capture, error) {
	bin, err := proc.Resolve(d.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, err
	}

	format := captureFormat(d.Format)

	inFmt, in := d.InputFormat, d.Input
	if inFmt == "" || in == "" {
		defFmt, defIn := DefaultInput()
		if inFmt == "" {
			inFmt = defFmt
		}
		if in == "" {
			in = defIn
		}
	}

	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", inFmt, "-i", in,
		"-ac", strconv.Itoa(int(format.Channels)),
		"-ar", strconv.Itoa(int(format.SampleRate)),
		"-acodec", "pcm_s16le", "-f", "s16le", "pipe:1",
	}

	// The capture outlives the request that started it; only Stop ends it.
	cmd := exec.Command(bin, args...)
	c := &ffmpegCapture{cmd: cmd, format: format, stderr: proc.NewTail(proc.MaxStderrBytes), logger: d.Logger}
	cmd.Stdout = &c.pcm
	cmd.Stderr = c.stderr

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg capture: %w", err)
	}

	c.done = make(chan struct{})
	go func() {
		c.waitErr = cmd.Wait()
		close(c.done)
	}()

	// A device that cannot be opened makes ffmpeg exit almost immediately.
	select {
	case <-c.done:
		return nil, fmt.Errorf("ffmpeg capture exited %d: %s",
			proc.ExitCode(c.waitErr), proc.Truncate(c.stderr.String(), 512))
	case <-time.After(250 * time.Millisecond):
	}

	if d.Logger != nil {
		d.Logger.Info("ffmpeg capture started", "input_format", inFmt, "input", in, "pid", cmd.Process.Pid)
	}
	return c, nil
}

type ffmpegCapture struct {
	cmd    *exec.Cmd
	format wav.Format
	pcm    bytes.Buffer
	stderr *proc.Tail
	logger *slog.Logger

	once    sync.Once
	done    chan struct{}
	waitErr error
}

func (c *ffmpegCapture) Format() wav.Format { return c.format }

func (c *ffmpegCapture) Stop() ([]byte, error) {
	c.once.Do(func() {
		if runtime.GOOS == "windows" {
			_ = c.cmd.Process.Kill()
		} else {
			_ = c.cmd.Process.Signal(os.Interrupt)
		}
		select {
		case <-c.done:
		case <-time.After(stopGrace):
			_ = c.cmd.Process.Kill()
			<-c.done
		}
	})

	// Interrupted ffmpeg exits non-zero; the samples written so far are valid.
	if c.pcm.Len() == 0 && c.waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(c.waitErr, &exitErr) {
			return nil, c.waitErr
		}
		return nil, fmt.Errorf("ffmpeg capture produced no audio (exit %d): %s",
			exitErr.ExitCode(), proc.Truncate(c.stderr.String(), 512))
	}
	return c.pcm.Bytes(), nil
}
