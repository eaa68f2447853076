// Package studio owns the single editing session: the timeline, live preview
// scheduling, voice-over recording, AI voice-over generation and export.
package studio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/kelasi/composer/internal/aigen"
	"github.com/kelasi/composer/internal/engine"
	"github.com/kelasi/composer/internal/export"
	"github.com/kelasi/composer/internal/logging"
	"github.com/kelasi/composer/internal/recording"
	"github.com/kelasi/composer/internal/scheduler"
	"github.com/kelasi/composer/internal/store"
	"github.com/kelasi/composer/internal/timeline"
	"github.com/kelasi/composer/internal/wav"
)

var (
	ErrRecordingActive = errors.New("recording in progress")
	ErrAssetNotFound   = errors.New("asset not found")
	ErrWrongAssetKind  = errors.New("asset has the wrong kind")
	ErrUnknownDuration = errors.New("cannot determine media duration")
	ErrSpeechDisabled  = errors.New("speech generation not configured")
	ErrInvalidPath     = errors.New("invalid media path")
)

// Prober inspects a media file.
type Prober interface {
	Probe(ctx context.Context, path string) (*engine.ProbeResult, error)
}

// Assets is the slice of the repository the session needs.
type Assets interface {
	CreateAsset(ctx context.Context, asset *store.Asset) error
	GetAsset(ctx context.Context, id string) (*store.Asset, error)
}

type Config struct {
	Timeline      timeline.Options
	FireTolerance float64
	AssetsDir     string
	Voice         string

	Device  recording.Device
	Speaker aigen.Speaker
	Prober  Prober
	Assets  Assets

	// Export is handed to the compositor. Its Resolve field is replaced by
	// the session's asset resolver.
	Export export.Config
	Logger *slog.Logger
}

// Session serializes every edit against the recording and export guards.
type Session struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	model    *timeline.Model
	sched    *scheduler.Scheduler
	recorder *recording.Manager
	comp     *export.Compositor
}

func New(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.FireTolerance <= 0 {
		cfg.FireTolerance = scheduler.DefaultTolerance
	}
	if cfg.Device == nil {
		cfg.Device = recording.UnavailableDevice{Reason: "capture disabled"}
	}
	if cfg.Voice == "" {
		cfg.Voice = aigen.DefaultVoice
	}

	logger := logging.WithComponent(cfg.Logger, "studio")
	model := timeline.New(cfg.Timeline)

	s := &Session{
		cfg:    cfg,
		logger: logger,
		model:  model,
		sched:  scheduler.New(model, cfg.FireTolerance),
	}
	s.recorder = recording.NewManager(cfg.Device, model, logging.WithComponent(cfg.Logger, "recording"))

	exportCfg := cfg.Export
	exportCfg.Resolve = s.resolve
	if exportCfg.Logger == nil {
		exportCfg.Logger = logging.WithComponent(cfg.Logger, "export")
	}
	s.comp = export.NewCompositor(exportCfg)
	return s
}

func (s *Session) Compositor() *export.Compositor {
	return s.comp
}

// guard rejects edits while a take or an export is running. Callers hold mu.
func (s *Session) guard() error {
	if s.comp.Busy() {
		return export.ErrExportInProgress
	}
	if s.recorder.Recording() {
		return ErrRecordingActive
	}
	return nil
}

// Import registers path as the source asset and opens the project on it. A
// non-positive duration is probed from the file.
func (s *Session) Import(ctx context.Context, path string, duration float64) (timeline.ClipID, *store.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(); err != nil {
		return 0, nil, err
	}
	if s.model.Imported() {
		return 0, nil, timeline.ErrAlreadyImported
	}

	if !(duration > 0) {
		d, err := s.probeDuration(ctx, path)
		if err != nil {
			return 0, nil, err
		}
		duration = d
	}

	asset, err := s.registerFile(ctx, path, store.AssetKindSource, duration)
	if err != nil {
		return 0, nil, err
	}

	id, err := s.model.ImportPrimary(asset.ID, duration)
	if err != nil {
		return 0, nil, err
	}
	s.sched.Seek(0)
	s.logger.Info("project imported", "asset_id", asset.ID, "path", logging.SanitizePath(asset.Path), "duration", duration)
	return id, asset, nil
}

func (s *Session) probeDuration(ctx context.Context, path string) (float64, error) {
	if s.cfg.Prober == nil {
		return 0, ErrUnknownDuration
	}
	info, err := s.cfg.Prober.Probe(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnknownDuration, err)
	}
	if !(info.Duration > 0) {
		return 0, ErrUnknownDuration
	}
	return info.Duration, nil
}

// Split cuts id at at. A zero id splits the active clip.
func (s *Session) Split(id timeline.ClipID, at float64) (timeline.ClipID, timeline.ClipID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(); err != nil {
		return 0, 0, err
	}
	var first, second timeline.ClipID
	var err error
	if id == 0 {
		first, second, err = s.model.SplitActive(at)
	} else {
		first, second, err = s.model.Split(id, at)
	}
	if err == nil {
		logging.WithClipID(s.logger, first).Debug("clip split", "at", at, "second", second)
	}
	return first, second, err
}

func (s *Session) Select(id timeline.ClipID) error {
	return s.model.Select(id)
}

// SelectAt makes the clip under t active.
func (s *Session) SelectAt(t float64) (timeline.VideoClip, error) {
	return s.model.SelectAt(t)
}

func (s *Session) AddText(text string, at, span float64, pos timeline.Position) (timeline.ClipID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(); err != nil {
		return 0, err
	}
	return s.model.AddTextOverlay(text, at, span, pos)
}

// AddImage places an image overlay. ref is an image asset id.
func (s *Session) AddImage(ctx context.Context, ref string, at, span float64, pos timeline.Position) (timeline.ClipID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(); err != nil {
		return 0, err
	}
	if ref != "" {
		if _, err := s.asset(ctx, ref, store.AssetKindImage); err != nil {
			return 0, err
		}
	}
	return s.model.AddImageOverlay(ref, at, span, pos)
}

// AddAudio places an existing audio asset on the voice-over track.
func (s *Session) AddAudio(ctx context.Context, ref string, start, end float64) (timeline.ClipID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(); err != nil {
		return 0, err
	}
	if _, err := s.asset(ctx, ref, store.AssetKindRecording, store.AssetKindVoiceOver); err != nil {
		return 0, err
	}
	return s.model.AddAudioClip(ref, start, end)
}

// StartRecording begins a take at the current playhead.
func (s *Session) StartRecording(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(); err != nil {
		return 0, err
	}
	if !s.model.Imported() {
		return 0, timeline.ErrNotImported
	}
	return s.recorder.Start(ctx)
}

// StopRecording ends the take, stores it as an asset and places it on the
// voice-over track at the take's bounds.
func (s *Session) StopRecording(ctx context.Context) (timeline.AudioClip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	take, err := s.recorder.Stop(ctx)
	if err != nil {
		return timeline.AudioClip{}, err
	}

	asset, err := s.storeBytes(ctx, take.Audio, wav.MIMEWAV, store.AssetKindRecording, take.Duration())
	if err != nil {
		return timeline.AudioClip{}, err
	}

	id, err := s.model.AddAudioClip(asset.ID, take.Start, take.End)
	if err != nil {
		return timeline.AudioClip{}, err
	}
	return timeline.AudioClip{ID: id, AudioRef: asset.ID, Start: take.Start, End: take.End, Duration: take.End - take.Start}, nil
}

func (s *Session) RecordingState() recording.State {
	return s.recorder.State()
}

// GenerateVoiceOver asks the speech service for text and places the result
// at at. The clip is sized from the WAV header and clamped to the timeline.
func (s *Session) GenerateVoiceOver(ctx context.Context, text string, at float64) (timeline.AudioClip, *store.Asset, error) {
	if s.cfg.Speaker == nil {
		return timeline.AudioClip{}, nil, ErrSpeechDisabled
	}

	s.mu.Lock()
	err := s.guard()
	if err == nil && !s.model.Imported() {
		err = timeline.ErrNotImported
	}
	s.mu.Unlock()
	if err != nil {
		return timeline.AudioClip{}, nil, err
	}

	dur := s.model.Duration()
	if math.IsNaN(at) || at < 0 || at >= dur {
		return timeline.AudioClip{}, nil, fmt.Errorf("%w: %.3f not in [0, %.3f)", timeline.ErrOutOfRange, at, dur)
	}

	media, err := s.cfg.Speaker.Speak(ctx, aigen.SpeechRequest{Text: text, Voice: s.cfg.Voice})
	if err != nil {
		return timeline.AudioClip{}, nil, err
	}
	d, err := wav.ParseDataURL(media)
	if err != nil {
		return timeline.AudioClip{}, nil, err
	}
	audio, err := d.Bytes()
	if err != nil {
		return timeline.AudioClip{}, nil, err
	}

	length, err := s.audioLength(ctx, audio, d.MIME)
	if err != nil {
		return timeline.AudioClip{}, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// the service call is slow; a take or an export may have begun meanwhile
	if err := s.guard(); err != nil {
		return timeline.AudioClip{}, nil, err
	}

	asset, err := s.storeBytes(ctx, audio, d.MIME, store.AssetKindVoiceOver, length)
	if err != nil {
		return timeline.AudioClip{}, nil, err
	}

	end := math.Min(at+length, dur)
	id, err := s.model.AddAudioClip(asset.ID, at, end)
	if err != nil {
		return timeline.AudioClip{}, nil, err
	}
	s.logger.Info("voice-over generated", "asset_id", asset.ID, "start", at, "end", end)
	return timeline.AudioClip{ID: id, AudioRef: asset.ID, Start: at, End: end, Duration: end - at}, asset, nil
}

// audioLength reads the duration from a WAV header, falling back to the
// prober for other containers.
func (s *Session) audioLength(ctx context.Context, audio []byte, mime string) (float64, error) {
	if f, n, err := wav.DecodeHeader(audio); err == nil {
		if secs := f.Duration(n).Seconds(); secs > 0 {
			return secs, nil
		}
		return 0, ErrUnknownDuration
	}
	if s.cfg.Prober == nil {
		return 0, ErrUnknownDuration
	}
	path, err := s.writeTemp(audio, store.ExtensionForMIME(mime))
	if err != nil {
		return 0, err
	}
	defer removeQuietly(path)
	return s.probeDuration(ctx, path)
}

// Tick advances the playhead and returns the preview frame for t.
func (s *Session) Tick(t float64, playing bool) scheduler.Frame {
	t = s.model.Seek(t)
	return s.sched.Tick(t, playing)
}

// Seek is a discontinuity: clips after the new position fire again.
func (s *Session) Seek(t float64) float64 {
	t = s.model.Seek(t)
	s.sched.Seek(t)
	return t
}

func (s *Session) Snapshot() timeline.Snapshot {
	return s.model.Snapshot()
}

// Export starts rendering the current timeline.
func (s *Session) Export(ctx context.Context) (*export.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recorder.Recording() {
		return nil, ErrRecordingActive
	}
	return s.comp.Start(ctx, s.model.Snapshot())
}

// Status summarizes the session for the status endpoint.
type Status struct {
	Imported    bool            `json:"imported"`
	Duration    float64         `json:"duration"`
	Playhead    float64         `json:"playhead"`
	Recording   recording.State `json:"recording"`
	Export      export.Status   `json:"export"`
	ExportID    string          `json:"export_id,omitempty"`
	Progress    float64         `json:"progress"`
	EngineReady bool            `json:"engine_ready"`
	Counts      map[string]int  `json:"counts"`
	Active      timeline.ClipID `json:"active,omitempty"`
}

func (s *Session) Status(ctx context.Context) Status {
	snap := s.model.Snapshot()
	st := Status{
		Imported:    s.model.Imported(),
		Duration:    snap.Duration,
		Playhead:    snap.Playhead,
		Recording:   s.recorder.State(),
		Export:      s.comp.Status(),
		EngineReady: s.comp.EngineReady(ctx),
		Active:      snap.Active,
		Counts: map[string]int{
			"video": len(snap.Video),
			"text":  len(snap.Text),
			"image": len(snap.Image),
			"audio": len(snap.Audio),
		},
	}
	if cur := s.comp.Current(); cur != nil {
		st.ExportID = cur.ID
		st.Progress = cur.Progress()
	}
	return st
}
