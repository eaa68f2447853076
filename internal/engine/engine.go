// Package engine drives the external ffmpeg/ffprobe binaries: readiness
// probing, media inspection and rendering of export plans.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kelasi/composer/internal/export"
	"github.com/kelasi/composer/internal/logging"
	"github.com/kelasi/composer/internal/proc"
)

// ProbeResult describes a media file as reported by ffprobe.
type ProbeResult struct {
	Duration   float64 `json:"duration"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	VideoCodec string  `json:"video_codec,omitempty"`
	AudioCodec string  `json:"audio_codec,omitempty"`
	HasVideo   bool    `json:"has_video"`
	HasAudio   bool    `json:"has_audio"`
	FrameRate  float64 `json:"frame_rate,omitempty"`
}

type Config struct {
	FFmpegPath    string // empty = look up on PATH
	FFprobePath   string
	WorkDir       string // scratch space for renders; empty = os.TempDir()
	ProbeTTL      time.Duration
	ProbeTimeout  time.Duration
	RenderTimeout time.Duration
	Logger        *slog.Logger
}

func DefaultConfig(logger *slog.Logger) Config {
	return Config{
		ProbeTTL:      defaultCacheTTL,
		ProbeTimeout:  30 * time.Second,
		RenderTimeout: 2 * time.Hour,
		Logger:        logger,
	}
}

// FFmpegEngine is the production export.Engine.
type FFmpegEngine struct {
	cfg   Config
	probe *CachedProbe
}

var _ export.Engine = (*FFmpegEngine)(nil)

// New never fails: missing binaries surface as an engine that is not ready.
func New(cfg Config) *FFmpegEngine {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 30 * time.Second
	}
	e := &FFmpegEngine{cfg: cfg}
	e.probe = NewCachedProbe(e, cfg.ProbeTTL, cfg.Logger)
	return e
}

func (e *FFmpegEngine) Ready(ctx context.Context) bool {
	caps, err := e.probe.Get(ctx)
	return err == nil && caps.Available
}

// Capabilities returns the cached readiness report.
func (e *FFmpegEngine) Capabilities(ctx context.Context) (*Capabilities, error) {
	return e.probe.Get(ctx)
}

func (e *FFmpegEngine) Invalidate() {
	e.probe.Invalidate()
}

// ProbeCapabilities runs `ffmpeg -version` and lists filters.
func (e *FFmpegEngine) ProbeCapabilities(ctx context.Context) (*Capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ProbeTimeout)
	defer cancel()

	caps := &Capabilities{ProbedAt: time.Now()}

	ffmpeg, err := proc.Resolve(e.cfg.FFmpegPath, "ffmpeg")
	if err != nil {
		caps.Error = err.Error()
		return caps, nil
	}
	caps.FFmpegPath = ffmpeg

	ffprobe, err := proc.Resolve(e.cfg.FFprobePath, "ffprobe")
	if err != nil {
		caps.Error = err.Error()
		return caps, nil
	}
	caps.FFprobePath = ffprobe

	out, res := proc.Run(ctx, e.cfg.Logger, ffmpeg, "-hide_banner", "-version")
	if !res.IsSuccess() {
		return nil, fmt.Errorf("ffmpeg -version exited %d: %s", res.ExitCode, proc.Truncate(res.StderrTail, 256))
	}
	caps.Version = parseVersion(string(out))

	filters, res := proc.Run(ctx, e.cfg.Logger, ffmpeg, "-hide_banner", "-filters")
	if res.IsSuccess() {
		caps.HasDrawtext = strings.Contains(string(filters), " drawtext ")
	}
	caps.Available = true

	e.cfg.Logger.Info("media engine probe complete",
		"version", caps.Version,
		"drawtext", caps.HasDrawtext,
	)
	return caps, nil
}

func parseVersion(out string) string {
	line, _, _ := strings.Cut(out, "\n")
	fields := strings.Fields(line)
	if len(fields) >= 3 && fields[0] == "ffmpeg" && fields[1] == "version" {
		return fields[2]
	}
	return strings.TrimSpace(line)
}

// Probe inspects a media file with ffprobe.
func (e *FFmpegEngine) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	if path == "" {
		return nil, fmt.Errorf("file path is required")
	}
	ffprobe, err := proc.Resolve(e.cfg.FFprobePath, "ffprobe")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ProbeTimeout)
	defer cancel()

	out, res := proc.Run(ctx, e.cfg.Logger, ffprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if !res.IsSuccess() {
		return nil, fmt.Errorf("ffprobe exited %d: %s", res.ExitCode, proc.Truncate(res.StderrTail, 512))
	}
	return parseProbe(out)
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		Duration   string `json:"duration"`
	} `json:"streams"`
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var p probeOutput
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	r := &ProbeResult{}
	if d, err := strconv.ParseFloat(p.Format.Duration, 64); err == nil {
		r.Duration = d
	}

	for _, s := range p.Streams {
		switch s.CodecType {
		case "video":
			if r.HasVideo {
				continue
			}
			r.HasVideo = true
			r.Width, r.Height = s.Width, s.Height
			r.VideoCodec = s.CodecName
			r.FrameRate = parseFrameRate(s.RFrameRate)
		case "audio":
			if r.HasAudio {
				continue
			}
			r.HasAudio = true
			r.AudioCodec = s.CodecName
		}
		if r.Duration == 0 {
			if d, err := strconv.ParseFloat(s.Duration, 64); err == nil {
				r.Duration = d
			}
		}
	}
	return r, nil
}

// parseFrameRate reads ffprobe's "num/den" notation.
func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// Render runs ffmpeg for plan. Output goes to a temporary file that is
// renamed onto outPath only when ffmpeg succeeds.
func (e *FFmpegEngine) Render(ctx context.Context, plan *export.Plan, outPath string, onProgress func(float64)) error {
	ffmpeg, err := proc.Resolve(e.cfg.FFmpegPath, "ffmpeg")
	if err != nil {
		return err
	}

	workDir, err := os.MkdirTemp(e.cfg.WorkDir, "render-*")
	if err != nil {
		return fmt.Errorf("cannot create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	partial := outPath + ".part"
	command, err := BuildCommand(plan, partial, workDir)
	if err != nil {
		return err
	}

	if e.cfg.RenderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RenderTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, ffmpeg, command.Args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	e.cfg.Logger.Info("render starting",
		"inputs", countInputs(command.Args),
		"duration", command.Duration,
		"filter_graph", proc.Truncate(command.Graph, 1024),
	)
	start := time.Now()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	tail := proc.NewTail(proc.MaxStderrBytes)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		streamProgress(stderr, command.Duration, onProgress, tail)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		os.Remove(partial)
		if ctx.Err() != nil {
			return fmt.Errorf("render aborted: %w", ctx.Err())
		}
		return fmt.Errorf("ffmpeg exited %d: %s", proc.ExitCode(err), proc.Truncate(tail.String(), 512))
	}

	if err := os.Rename(partial, outPath); err != nil {
		os.Remove(partial)
		return fmt.Errorf("cannot move rendered file: %w", err)
	}

	e.cfg.Logger.Info("render complete", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func countInputs(args []string) int {
	n := 0
	for _, a := range args {
		if a == "-i" {
			n++
		}
	}
	return n
}
