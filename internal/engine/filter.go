package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kelasi/composer/internal/export"
	"github.com/kelasi/composer/internal/timeline"
)

const overlayMargin = 48

// Command is a fully built ffmpeg invocation.
type Command struct {
	Args     []string
	Graph    string
	Duration float64
}

type inputSet struct {
	args  []string
	index map[string]int
	n     int
}

func (s *inputSet) add(path string, shared bool) int {
	if shared {
		if i, ok := s.index[path]; ok {
			return i
		}
	}
	i := s.n
	s.n++
	s.args = append(s.args, "-i", path)
	if shared {
		s.index[path] = i
	}
	return i
}

// BuildCommand translates plan into ffmpeg arguments. Text overlays are
// written to files under workDir and read back with drawtext's textfile.
// Every trimmed source is expected to carry an audio stream.
func BuildCommand(plan *export.Plan, outPath, workDir string) (*Command, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	in := &inputSet{index: make(map[string]int)}
	var chains []string

	trims := plan.Trims()
	var concatIn strings.Builder
	for i, t := range trims {
		src := in.add(t.SourceRef, true)
		chains = append(chains,
			fmt.Sprintf("[%d:v]trim=start=%s:end=%s,setpts=PTS-STARTPTS[v%d]", src, num(t.Start), num(t.End), i),
			fmt.Sprintf("[%d:a]atrim=start=%s:end=%s,asetpts=PTS-STARTPTS[a%d]", src, num(t.Start), num(t.End), i),
		)
		fmt.Fprintf(&concatIn, "[v%d][a%d]", i, i)
	}
	chains = append(chains, fmt.Sprintf("%sconcat=n=%d:v=1:a=1[vcat][acat]", concatIn.String(), len(trims)))

	video := "vcat"
	for i, o := range plan.Overlays() {
		label := fmt.Sprintf("ov%d", i)
		enable := fmt.Sprintf("enable='between(t,%s,%s)'", num(o.Start), num(o.End))

		switch o.Kind {
		case export.OverlayText:
			if workDir == "" {
				return nil, fmt.Errorf("text overlay %s needs a work dir", o.ClipID)
			}
			textPath := filepath.Join(workDir, fmt.Sprintf("overlay-%s.txt", o.ClipID))
			if err := os.WriteFile(textPath, []byte(o.Text), 0644); err != nil {
				return nil, fmt.Errorf("cannot write overlay text: %w", err)
			}
			x, y := anchor(o.Position, "w", "h", "text_w", "text_h")
			chains = append(chains, fmt.Sprintf(
				"[%s]drawtext=textfile=%s:expansion=none:fontsize=h/18:fontcolor=white:box=1:boxcolor=black@0.5:boxborderw=12:x=%s:y=%s:%s[%s]",
				video, quote(textPath), x, y, enable, label))

		case export.OverlayImage:
			img := in.add(o.ImageRef, false)
			x, y := anchor(o.Position, "W", "H", "w", "h")
			chains = append(chains, fmt.Sprintf(
				"[%s][%d:v]overlay=x=%s:y=%s:%s[%s]", video, img, x, y, enable, label))

		default:
			return nil, fmt.Errorf("unknown overlay kind %q", o.Kind)
		}
		video = label
	}

	audio := "acat"
	if mixes := plan.Mixes(); len(mixes) > 0 {
		var mixIn strings.Builder
		mixIn.WriteString("[acat]")
		for i, m := range mixes {
			src := in.add(m.AudioRef, false)
			delayMs := int64(m.Start*1000 + 0.5)
			chains = append(chains, fmt.Sprintf(
				"[%d:a]atrim=duration=%s,asetpts=PTS-STARTPTS,adelay=delays=%d:all=1[mx%d]",
				src, num(m.End-m.Start), delayMs, i))
			fmt.Fprintf(&mixIn, "[mx%d]", i)
		}
		chains = append(chains, fmt.Sprintf(
			"%samix=inputs=%d:duration=first:dropout_transition=0:normalize=0[aout]", mixIn.String(), len(mixes)+1))
		audio = "aout"
	}

	out := plan.Output()
	graph := strings.Join(chains, ";")

	args := []string{"-hide_banner", "-nostdin", "-y", "-loglevel", "error", "-nostats", "-progress", "pipe:2"}
	args = append(args, in.args...)
	args = append(args,
		"-filter_complex", graph,
		"-map", "["+video+"]",
		"-map", "["+audio+"]",
		"-c:v", out.VideoCodec,
	)
	if out.Preset != "" {
		args = append(args, "-preset", out.Preset)
	}
	if out.CRF > 0 {
		args = append(args, "-crf", strconv.Itoa(out.CRF))
	}
	args = append(args, "-pix_fmt", "yuv420p", "-c:a", out.AudioCodec)
	if out.Container == "mp4" || out.Container == "mov" {
		args = append(args, "-movflags", "+faststart")
	}
	args = append(args, "-t", num(out.Duration), "-f", out.Container, outPath)

	return &Command{Args: args, Graph: graph, Duration: out.Duration}, nil
}

// anchor returns x/y expressions placing an item of size (iw, ih) inside a
// frame of size (fw, fh).
func anchor(pos timeline.Position, fw, fh, iw, ih string) (string, string) {
	m := strconv.Itoa(overlayMargin)
	left := m
	center := fmt.Sprintf("(%s-%s)/2", fw, iw)
	right := fmt.Sprintf("%s-%s-%s", fw, iw, m)
	top := m
	middle := fmt.Sprintf("(%s-%s)/2", fh, ih)
	bottom := fmt.Sprintf("%s-%s-%s", fh, ih, m)

	switch pos {
	case timeline.PositionTopLeft:
		return left, top
	case timeline.PositionTopCenter:
		return center, top
	case timeline.PositionTopRight:
		return right, top
	case timeline.PositionCenter:
		return center, middle
	case timeline.PositionBottomLeft:
		return left, bottom
	case timeline.PositionBottomRight:
		return right, bottom
	default:
		return center, bottom
	}
}

// num formats seconds with millisecond-or-better precision and no trailing zeros.
func num(v float64) string {
	s := strconv.FormatFloat(v, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// quote wraps a filter option value in single quotes.
func quote(s string) string {
	s = filepath.ToSlash(s)
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
