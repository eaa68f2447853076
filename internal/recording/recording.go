// Package recording manages voice-over takes: one capture device, at most one
// take at a time, bounded by playhead positions.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/kelasi/composer/internal/wav"
)

var (
	ErrAlreadyRecording    = errors.New("recording already in progress")
	ErrNotRecording        = errors.New("no recording in progress")
	ErrDeviceUnavailable   = errors.New("capture device unavailable")
	ErrDegenerateRecording = errors.New("recording has no duration")
)

// Device opens an exclusive capture handle.
type Device interface {
	Open(ctx context.Context) (Capture, error)
}

// Capture is a running capture. Stop releases the device and returns the raw
// PCM gathered so far.
type Capture interface {
	Format() wav.Format
	Stop() ([]byte, error)
}

// Playhead reports the current timeline position.
type Playhead interface {
	Playhead() float64
}

// State of the manager.
type State string

const (
	StateStopped   State = "stopped"
	StateRecording State = "recording"
)

// Take is a finished recording.
type Take struct {
	Start  float64    `json:"start"`
	End    float64    `json:"end"`
	Audio  []byte     `json:"-"`
	Format wav.Format `json:"format"`
}

func (t Take) Duration() float64 {
	return t.End - t.Start
}

// Manager serializes access to the capture device.
type Manager struct {
	device   Device
	playhead Playhead
	logger   *slog.Logger

	mu      sync.Mutex
	capture Capture
	start   float64
}

func NewManager(device Device, playhead Playhead, logger *slog.Logger) *Manager {
	return &Manager{device: device, playhead: playhead, logger: logger}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capture != nil {
		return StateRecording
	}
	return StateStopped
}

// Recording reports whether a take is running.
func (m *Manager) Recording() bool {
	return m.State() == StateRecording
}

// Start opens the device and remembers the playhead as the take start.
func (m *Manager) Start(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.capture != nil {
		return 0, ErrAlreadyRecording
	}

	c, err := m.device.Open(ctx)
	if err != nil {
		m.logger.Warn("capture device open failed", "error", err)
		return 0, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	m.capture = c
	m.start = m.playhead.Playhead()
	m.logger.Info("recording started", "start", m.start)
	return m.start, nil
}

// Stop ends the take. The device is released whatever the outcome.
func (m *Manager) Stop(ctx context.Context) (Take, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.capture == nil {
		return Take{}, ErrNotRecording
	}

	c := m.capture
	start := m.start
	end := m.playhead.Playhead()
	m.capture = nil

	pcm, stopErr := c.Stop()

	if end <= start {
		m.logger.Warn("discarding degenerate take", "start", start, "end", end)
		return Take{}, fmt.Errorf("%w: start %.3f end %.3f", ErrDegenerateRecording, start, end)
	}
	if stopErr != nil {
		return Take{}, fmt.Errorf("stopping capture: %w", stopErr)
	}
	if err := ctx.Err(); err != nil {
		return Take{}, err
	}

	format := c.Format()
	take := Take{
		Start:  start,
		End:    end,
		Audio:  wav.EncapsulateFormat(pcm, format),
		Format: format,
	}

	m.logger.Info("recording stopped",
		"start", start,
		"end", end,
		"size", humanize.Bytes(uint64(len(take.Audio))),
	)
	return take, nil
}

// UnavailableDevice is used when capture is disabled.
type UnavailableDevice struct {
	Reason string
}

func (d UnavailableDevice) Open(context.Context) (Capture, error) {
	if d.Reason == "" {
		return nil, errors.New("audio capture disabled")
	}
	return nil, errors.New(d.Reason)
}
