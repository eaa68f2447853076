package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelasi/composer/internal/export"
	"github.com/kelasi/composer/internal/timeline"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPlan(t *testing.T, withEdits bool) *export.Plan {
	t.Helper()
	m := timeline.New(timeline.Options{})
	a, err := m.ImportPrimary("/media/src.mp4", 60)
	require.NoError(t, err)
	if withEdits {
		_, _, err = m.Split(a, 20)
		require.NoError(t, err)
		_, err = m.AddTextOverlay("Hello 'world'", 5, 0, "")
		require.NoError(t, err)
		_, err = m.AddImageOverlay("/media/logo.png", 10, 0, timeline.PositionTopLeft)
		require.NoError(t, err)
		_, err = m.AddAudioClip("/media/vo.wav", 12.5, 15)
		require.NoError(t, err)
	}
	plan, err := export.Compile(m.Snapshot(), export.DefaultOutputSpec())
	require.NoError(t, err)
	return plan
}

func TestBuildCommand_SingleClip(t *testing.T) {
	cmd, err := BuildCommand(testPlan(t, false), "/out/x.mp4", t.TempDir())
	require.NoError(t, err)

	args := strings.Join(cmd.Args, " ")
	assert.Contains(t, args, "-progress pipe:2")
	assert.Contains(t, args, "-i /media/src.mp4")
	assert.Contains(t, args, "-map [vcat] -map [acat]")
	assert.Contains(t, args, "-c:v libx264 -preset veryfast -crf 23")
	assert.Contains(t, args, "-c:a aac")
	assert.Contains(t, args, "-t 60 -f mp4 /out/x.mp4")
	assert.Equal(t, "/out/x.mp4", cmd.Args[len(cmd.Args)-1])

	assert.Equal(t,
		"[0:v]trim=start=0:end=60,setpts=PTS-STARTPTS[v0];"+
			"[0:a]atrim=start=0:end=60,asetpts=PTS-STARTPTS[a0];"+
			"[v0][a0]concat=n=1:v=1:a=1[vcat][acat]",
		cmd.Graph)
	assert.Equal(t, 60.0, cmd.Duration)
}

func TestBuildCommand_FullGraph(t *testing.T) {
	work := t.TempDir()
	cmd, err := BuildCommand(testPlan(t, true), "/out/x.mp4", work)
	require.NoError(t, err)

	assert.Equal(t, 3, countInputs(cmd.Args), "one shared source, one image, one voice-over")

	g := cmd.Graph
	assert.Contains(t, g, "[0:v]trim=start=0:end=20,setpts=PTS-STARTPTS[v0]")
	assert.Contains(t, g, "[0:v]trim=start=20:end=60,setpts=PTS-STARTPTS[v1]")
	assert.Contains(t, g, "[v0][a0][v1][a1]concat=n=2:v=1:a=1[vcat][acat]")
	assert.Contains(t, g, "[vcat]drawtext=textfile=")
	assert.Contains(t, g, "enable='between(t,5,8)'[ov0]")
	assert.Contains(t, g, "[ov0][1:v]overlay=x=48:y=48:enable='between(t,10,15)'[ov1]")
	assert.Contains(t, g, "[2:a]atrim=duration=2.5,asetpts=PTS-STARTPTS,adelay=delays=12500:all=1[mx0]")
	assert.Contains(t, g, "[acat][mx0]amix=inputs=2:duration=first:dropout_transition=0:normalize=0[aout]")

	args := strings.Join(cmd.Args, " ")
	assert.Contains(t, args, "-map [ov1] -map [aout]")

	text, err := os.ReadFile(filepath.Join(work, "overlay-3.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Hello 'world'", string(text))
}

func TestBuildCommand_RejectsInvalidPlan(t *testing.T) {
	_, err := BuildCommand(&export.Plan{Version: export.PlanVersion}, "/out/x.mp4", t.TempDir())
	assert.ErrorIs(t, err, export.ErrEmptyProject)
}

func TestAnchor(t *testing.T) {
	x, y := anchor(timeline.PositionBottomCenter, "w", "h", "text_w", "text_h")
	assert.Equal(t, "(w-text_w)/2", x)
	assert.Equal(t, "h-text_h-48", y)

	x, y = anchor(timeline.PositionTopRight, "W", "H", "w", "h")
	assert.Equal(t, "W-w-48", x)
	assert.Equal(t, "48", y)

	x, y = anchor(timeline.PositionCenter, "W", "H", "w", "h")
	assert.Equal(t, "(W-w)/2", x)
	assert.Equal(t, "(H-h)/2", y)
}

func TestNumAndQuote(t *testing.T) {
	assert.Equal(t, "0", num(0))
	assert.Equal(t, "10", num(10))
	assert.Equal(t, "0.1", num(0.1))
	assert.Equal(t, "12.345", num(12.345))
	assert.Equal(t, `'/tmp/it'\''s.txt'`, quote("/tmp/it's.txt"))
}

func TestParseProgressLine(t *testing.T) {
	tests := []struct {
		line string
		want float64
		ok   bool
	}{
		{"out_time_us=1500000", 1.5, true},
		{"out_time_ms=2000000", 2, true},
		{"out_time=00:01:02.500000", 62.5, true},
		{"out_time=N/A", 0, false},
		{"out_time_us=-5", 0, false},
		{"frame=120", 0, false},
		{"progress=continue", 0, false},
		{"garbage", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseProgressLine(tt.line)
		assert.Equal(t, tt.ok, ok, tt.line)
		if tt.ok {
			assert.InDelta(t, tt.want, got, 1e-9, tt.line)
		}
	}
}

func TestStreamProgress(t *testing.T) {
	stderr := strings.Join([]string{
		"frame=10",
		"out_time_us=1000000",
		"progress=continue",
		"[aac @ 0x1] too many bits",
		"out_time_us=500000",
		"out_time_us=3000000",
		"out_time_us=20000000",
		"progress=end",
	}, "\n")

	var got []float64
	var logs strings.Builder
	streamProgress(strings.NewReader(stderr), 10, func(f float64) { got = append(got, f) }, &logs)

	assert.Equal(t, []float64{0.1, 0.3, 1}, got, "fractions never decrease and cap at 1")
	assert.Equal(t, "[aac @ 0x1] too many bits\n", logs.String())
}

func TestParseProbe(t *testing.T) {
	data := []byte(`{
		"format": {"duration": "12.480000"},
		"streams": [
			{"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080, "r_frame_rate": "30000/1001"},
			{"codec_type": "audio", "codec_name": "aac"}
		]
	}`)
	r, err := parseProbe(data)
	require.NoError(t, err)
	assert.Equal(t, 12.48, r.Duration)
	assert.True(t, r.HasVideo)
	assert.True(t, r.HasAudio)
	assert.Equal(t, 1920, r.Width)
	assert.Equal(t, "aac", r.AudioCodec)
	assert.InDelta(t, 29.97, r.FrameRate, 0.01)

	r, err = parseProbe([]byte(`{"format": {}, "streams": [{"codec_type": "audio", "codec_name": "pcm_s16le", "duration": "3.5"}]}`))
	require.NoError(t, err)
	assert.Equal(t, 3.5, r.Duration, "falls back to stream duration")
	assert.False(t, r.HasVideo)

	_, err = parseProbe([]byte("nope"))
	assert.Error(t, err)
}

func TestParseVersion(t *testing.T) {
	assert.Equal(t, "6.1.1", parseVersion("ffmpeg version 6.1.1 Copyright (c) 2000-2023\nbuilt with gcc"))
	assert.Equal(t, "something else", parseVersion("something else"))
}

type countingProber struct {
	calls atomic.Int32
	err   error
	caps  *Capabilities
}

func (p *countingProber) ProbeCapabilities(context.Context) (*Capabilities, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	c := *p.caps
	c.ProbedAt = time.Now()
	return &c, nil
}

func TestCachedProbe_CachesWithinTTL(t *testing.T) {
	p := &countingProber{caps: &Capabilities{Available: true, Version: "6.0"}}
	cp := NewCachedProbe(p, time.Hour, discard())

	for i := 0; i < 3; i++ {
		caps, err := cp.Get(context.Background())
		require.NoError(t, err)
		assert.True(t, caps.Available)
	}
	assert.Equal(t, int32(1), p.calls.Load())

	cp.Invalidate()
	assert.Nil(t, cp.Peek())
	_, err := cp.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestCachedProbe_StaleOnFailure(t *testing.T) {
	p := &countingProber{caps: &Capabilities{Available: true}}
	cp := NewCachedProbe(p, time.Hour, discard())

	_, err := cp.Refresh(context.Background())
	require.NoError(t, err)

	p.err = errors.New("probe crashed")
	caps, err := cp.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, caps.Available)

	fresh := NewCachedProbe(p, time.Hour, discard())
	_, err = fresh.Get(context.Background())
	assert.Error(t, err)
}

func TestFFmpegEngine_MissingBinaryNotReady(t *testing.T) {
	e := New(Config{FFmpegPath: "/nonexistent/ffmpeg", FFprobePath: "/nonexistent/ffprobe", Logger: discard()})
	assert.False(t, e.Ready(context.Background()))

	caps, err := e.Capabilities(context.Background())
	require.NoError(t, err)
	assert.False(t, caps.Available)
	assert.NotEmpty(t, caps.Error)

	err = e.Render(context.Background(), testPlan(t, false), filepath.Join(t.TempDir(), "x.mp4"), nil)
	assert.Error(t, err)

	_, err = e.Probe(context.Background(), "/media/x.mp4")
	assert.Error(t, err)
}
