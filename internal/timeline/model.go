package timeline

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
)

var (
	ErrAlreadyImported     = errors.New("project already imported")
	ErrNotImported         = errors.New("no project imported")
	ErrInvalidSplitPoint   = errors.New("invalid split point")
	ErrEmptyText           = errors.New("overlay text is empty")
	ErrEmptyImageRef       = errors.New("overlay image reference is empty")
	ErrNonPositiveDuration = errors.New("duration must be positive")
	ErrClipNotFound        = errors.New("clip not found")
	ErrOutOfRange          = errors.New("time outside timeline")
	ErrBrokenPartition     = errors.New("video track does not partition the timeline")
)

const (
	DefaultSplitGuard = 0.1
	DefaultTextSpan   = 3.0
	DefaultImageSpan  = 5.0

	DefaultTextPosition  = PositionBottomCenter
	DefaultImagePosition = PositionTopRight
)

// Options tunes the edit rules. Zero fields fall back to the defaults.
type Options struct {
	SplitGuard float64
	TextSpan   float64
	ImageSpan  float64
}

func (o Options) withDefaults() Options {
	if o.SplitGuard <= 0 {
		o.SplitGuard = DefaultSplitGuard
	}
	if o.TextSpan <= 0 {
		o.TextSpan = DefaultTextSpan
	}
	if o.ImageSpan <= 0 {
		o.ImageSpan = DefaultImageSpan
	}
	return o
}

// Model owns every clip of one editing session. All methods are safe for
// concurrent use; each mutation is applied atomically with respect to
// Snapshot.
type Model struct {
	mu   sync.RWMutex
	opts Options

	imported bool
	mediaRef string
	duration float64
	playhead float64
	active   ClipID
	nextID   ClipID

	video []VideoClip
	text  []TextOverlayClip
	image []ImageOverlayClip
	audio []AudioClip
}

func New(opts Options) *Model {
	return &Model{opts: opts.withDefaults(), nextID: 1}
}

// Options returns the effective edit rules.
func (m *Model) Options() Options {
	return m.opts
}

func (m *Model) mint() ClipID {
	id := m.nextID
	m.nextID++
	return id
}

// ImportPrimary opens the project with a single clip spanning the whole
// source. A model accepts exactly one import.
func (m *Model) ImportPrimary(mediaRef string, duration float64) (ClipID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.imported {
		return 0, ErrAlreadyImported
	}
	if !(duration > 0) || math.IsInf(duration, 1) {
		return 0, fmt.Errorf("%w: %v", ErrNonPositiveDuration, duration)
	}

	clip := newVideoClip(m.mint(), 0, duration, mediaRef)
	m.imported = true
	m.mediaRef = mediaRef
	m.duration = duration
	m.playhead = 0
	m.video = []VideoClip{clip}
	m.active = clip.ID
	return clip.ID, nil
}

// Split cuts a video clip in two at at. The first half keeps the id and
// becomes the active clip; the second half gets a fresh id.
func (m *Model) Split(id ClipID, at float64) (ClipID, ClipID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.imported {
		return 0, 0, ErrNotImported
	}

	idx := m.indexOf(id)
	if idx < 0 {
		return 0, 0, fmt.Errorf("%w: %s", ErrClipNotFound, id)
	}

	clip := m.video[idx]
	guard := m.opts.SplitGuard
	if !(at > clip.Start+guard && at < clip.End-guard) {
		return 0, 0, fmt.Errorf("%w: %.3f not inside (%.3f, %.3f)",
			ErrInvalidSplitPoint, at, clip.Start+guard, clip.End-guard)
	}

	first := newVideoClip(clip.ID, clip.Start, at, clip.SourceRef)
	second := newVideoClip(m.mint(), at, clip.End, clip.SourceRef)

	next := make([]VideoClip, 0, len(m.video)+1)
	next = append(next, m.video[:idx]...)
	next = append(next, first, second)
	next = append(next, m.video[idx+1:]...)

	m.video = next
	m.active = first.ID
	return first.ID, second.ID, nil
}

// SplitActive splits the active clip at at.
func (m *Model) SplitActive(at float64) (ClipID, ClipID, error) {
	m.mu.RLock()
	active := m.active
	m.mu.RUnlock()
	return m.Split(active, at)
}

// AddTextOverlay places text at at for span seconds, clamped to the end of
// the timeline. A non-positive span uses the configured default.
func (m *Model) AddTextOverlay(text string, at, span float64, pos Position) (ClipID, error) {
	if strings.TrimSpace(text) == "" {
		return 0, ErrEmptyText
	}
	if pos == "" {
		pos = DefaultTextPosition
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if span <= 0 {
		span = m.opts.TextSpan
	}
	start, end, err := m.overlaySpan(at, span)
	if err != nil {
		return 0, err
	}

	clip := newTextClip(m.mint(), text, start, end, pos)
	m.text = append(m.text[:len(m.text):len(m.text)], clip)
	return clip.ID, nil
}

// AddImageOverlay places an image reference with the same clamping rule as
// AddTextOverlay.
func (m *Model) AddImageOverlay(imageRef string, at, span float64, pos Position) (ClipID, error) {
	if strings.TrimSpace(imageRef) == "" {
		return 0, ErrEmptyImageRef
	}
	if pos == "" {
		pos = DefaultImagePosition
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if span <= 0 {
		span = m.opts.ImageSpan
	}
	start, end, err := m.overlaySpan(at, span)
	if err != nil {
		return 0, err
	}

	clip := newImageClip(m.mint(), imageRef, start, end, pos)
	m.image = append(m.image[:len(m.image):len(m.image)], clip)
	return clip.ID, nil
}

func (m *Model) overlaySpan(at, span float64) (float64, float64, error) {
	if !m.imported {
		return 0, 0, ErrNotImported
	}
	if math.IsNaN(at) || at < 0 || at >= m.duration {
		return 0, 0, fmt.Errorf("%w: %.3f not in [0, %.3f)", ErrOutOfRange, at, m.duration)
	}
	return at, math.Min(at+span, m.duration), nil
}

// AddAudioClip appends a voice-over spanning [start, end].
func (m *Model) AddAudioClip(audioRef string, start, end float64) (ClipID, error) {
	if !(end > start) {
		return 0, fmt.Errorf("%w: [%.3f, %.3f]", ErrNonPositiveDuration, start, end)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.imported {
		return 0, ErrNotImported
	}

	clip := newAudioClip(m.mint(), audioRef, start, end)
	m.audio = append(m.audio[:len(m.audio):len(m.audio)], clip)
	return clip.ID, nil
}

// Select makes id the active video clip.
func (m *Model) Select(id ClipID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexOf(id) < 0 {
		return fmt.Errorf("%w: %s", ErrClipNotFound, id)
	}
	m.active = id
	return nil
}

// SelectAt makes the clip under t the active clip and returns it.
func (m *Model) SelectAt(t float64) (VideoClip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexAt(t)
	if idx < 0 {
		return VideoClip{}, fmt.Errorf("%w: %.3f", ErrOutOfRange, t)
	}
	m.active = m.video[idx].ID
	return m.video[idx], nil
}

// ClipAt returns the video clip covering t. The final clip also covers the
// timeline's end point.
func (m *Model) ClipAt(t float64) (VideoClip, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := m.indexAt(t)
	if idx < 0 {
		return VideoClip{}, false
	}
	return m.video[idx], true
}

// Seek moves the playhead, clamped to [0, duration].
func (m *Model) Seek(t float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case math.IsNaN(t) || t < 0:
		t = 0
	case t > m.duration:
		t = m.duration
	}
	m.playhead = t
	return t
}

func (m *Model) Playhead() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.playhead
}

func (m *Model) Duration() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.duration
}

func (m *Model) Imported() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.imported
}

// Snapshot returns a detached copy of every track.
func (m *Model) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Snapshot{
		MediaRef: m.mediaRef,
		Duration: m.duration,
		Playhead: m.playhead,
		Active:   m.active,
		Video:    append([]VideoClip(nil), m.video...),
		Text:     append([]TextOverlayClip(nil), m.text...),
		Image:    append([]ImageOverlayClip(nil), m.image...),
		Audio:    append([]AudioClip(nil), m.audio...),
	}
}

// Validate checks the partition invariant of the video track.
func (m *Model) Validate() error {
	return ValidatePartition(m.Snapshot())
}

// ValidatePartition checks that the video clips of s are ordered, contiguous
// and cover exactly [0, s.Duration].
func ValidatePartition(s Snapshot) error {
	if len(s.Video) == 0 {
		return nil
	}
	if s.Video[0].Start != 0 {
		return fmt.Errorf("%w: first clip starts at %.3f", ErrBrokenPartition, s.Video[0].Start)
	}
	for i, c := range s.Video {
		if c.Duration != c.End-c.Start || !(c.End > c.Start) {
			return fmt.Errorf("%w: clip %s has span [%.3f, %.3f] duration %.3f",
				ErrBrokenPartition, c.ID, c.Start, c.End, c.Duration)
		}
		if i > 0 && s.Video[i-1].End != c.Start {
			return fmt.Errorf("%w: gap between clip %s and %s", ErrBrokenPartition, s.Video[i-1].ID, c.ID)
		}
	}
	if last := s.Video[len(s.Video)-1]; last.End != s.Duration {
		return fmt.Errorf("%w: last clip ends at %.3f, timeline at %.3f", ErrBrokenPartition, last.End, s.Duration)
	}
	return nil
}

func (m *Model) indexOf(id ClipID) int {
	for i, c := range m.video {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (m *Model) indexAt(t float64) int {
	for i, c := range m.video {
		if c.Contains(t) {
			return i
		}
	}
	if n := len(m.video); n > 0 && t == m.video[n-1].End {
		return n - 1
	}
	return -1
}
