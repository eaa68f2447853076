package export

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kelasi/composer/internal/timeline"
)

// PlanVersion is bumped whenever the encoded plan layout changes.
const PlanVersion = 1

var ErrEmptyProject = errors.New("project has no video clips")

type Op string

const (
	OpTrim    Op = "trim"
	OpConcat  Op = "concat"
	OpOverlay Op = "overlay"
	OpMix     Op = "mix"
	OpOutput  Op = "output"
)

type OverlayKind string

const (
	OverlayText  OverlayKind = "text"
	OverlayImage OverlayKind = "image"
)

// Trim selects [Start, End) of a source.
type Trim struct {
	ClipID    timeline.ClipID `json:"clip_id"`
	SourceRef string          `json:"source_ref"`
	Start     float64         `json:"start"`
	End       float64         `json:"end"`
}

func (t Trim) Duration() float64 { return t.End - t.Start }

// Concat joins the preceding Inputs trims in order.
type Concat struct {
	Inputs int `json:"inputs"`
}

// Overlay draws text or an image over the concatenated video, in output time.
type Overlay struct {
	ClipID   timeline.ClipID   `json:"clip_id"`
	Kind     OverlayKind       `json:"kind"`
	Text     string            `json:"text,omitempty"`
	ImageRef string            `json:"image_ref,omitempty"`
	Start    float64           `json:"start"`
	End      float64           `json:"end"`
	Position timeline.Position `json:"position"`
}

// Mix lays a voice-over onto the primary audio at Start.
type Mix struct {
	ClipID   timeline.ClipID `json:"clip_id"`
	AudioRef string          `json:"audio_ref"`
	Start    float64         `json:"start"`
	End      float64         `json:"end"`
}

type Output struct {
	Container   string  `json:"container"`
	ContentType string  `json:"content_type"`
	VideoCodec  string  `json:"video_codec"`
	AudioCodec  string  `json:"audio_codec"`
	Preset      string  `json:"preset,omitempty"`
	CRF         int     `json:"crf,omitempty"`
	Duration    float64 `json:"duration"`
}

// Instruction is one step of a Plan. Exactly one payload matches Op.
type Instruction struct {
	Op      Op       `json:"op"`
	Trim    *Trim    `json:"trim,omitempty"`
	Concat  *Concat  `json:"concat,omitempty"`
	Overlay *Overlay `json:"overlay,omitempty"`
	Mix     *Mix     `json:"mix,omitempty"`
	Output  *Output  `json:"output,omitempty"`
}

// Plan is the ordered render program handed to an Engine: trims in
// partition order, one concat, overlays in creation order, mixes, output.
type Plan struct {
	Version      int           `json:"version"`
	Instructions []Instruction `json:"instructions"`
}

// OutputSpec fixes the encoding of the rendered artifact.
type OutputSpec struct {
	Container   string
	ContentType string
	VideoCodec  string
	AudioCodec  string
	Preset      string
	CRF         int
}

func DefaultOutputSpec() OutputSpec {
	return OutputSpec{
		Container:   "mp4",
		ContentType: "video/mp4",
		VideoCodec:  "libx264",
		AudioCodec:  "aac",
		Preset:      "veryfast",
		CRF:         23,
	}
}

// Compile turns a timeline snapshot into a Plan.
func Compile(snap timeline.Snapshot, spec OutputSpec) (*Plan, error) {
	if snap.Empty() {
		return nil, ErrEmptyProject
	}
	if err := timeline.ValidatePartition(snap); err != nil {
		return nil, err
	}

	n := len(snap.Video) + 1 + len(snap.Text) + len(snap.Image) + len(snap.Audio) + 1
	p := &Plan{Version: PlanVersion, Instructions: make([]Instruction, 0, n)}

	for _, c := range snap.Video {
		p.Instructions = append(p.Instructions, Instruction{Op: OpTrim, Trim: &Trim{
			ClipID: c.ID, SourceRef: c.SourceRef, Start: c.Start, End: c.End,
		}})
	}
	p.Instructions = append(p.Instructions, Instruction{Op: OpConcat, Concat: &Concat{Inputs: len(snap.Video)}})

	for _, o := range mergeOverlays(snap) {
		o := o
		p.Instructions = append(p.Instructions, Instruction{Op: OpOverlay, Overlay: &o})
	}

	for _, a := range snap.Audio {
		p.Instructions = append(p.Instructions, Instruction{Op: OpMix, Mix: &Mix{
			ClipID: a.ID, AudioRef: a.AudioRef, Start: a.Start, End: a.End,
		}})
	}

	p.Instructions = append(p.Instructions, Instruction{Op: OpOutput, Output: &Output{
		Container:   spec.Container,
		ContentType: spec.ContentType,
		VideoCodec:  spec.VideoCodec,
		AudioCodec:  spec.AudioCodec,
		Preset:      spec.Preset,
		CRF:         spec.CRF,
		Duration:    snap.Duration,
	}})

	return p, nil
}

// mergeOverlays interleaves text and image overlays by clip id, which is
// their creation order.
func mergeOverlays(snap timeline.Snapshot) []Overlay {
	out := make([]Overlay, 0, len(snap.Text)+len(snap.Image))
	i, j := 0, 0
	for i < len(snap.Text) || j < len(snap.Image) {
		if j >= len(snap.Image) || (i < len(snap.Text) && snap.Text[i].ID < snap.Image[j].ID) {
			t := snap.Text[i]
			out = append(out, Overlay{ClipID: t.ID, Kind: OverlayText, Text: t.Text, Start: t.Start, End: t.End, Position: t.Position})
			i++
			continue
		}
		im := snap.Image[j]
		out = append(out, Overlay{ClipID: im.ID, Kind: OverlayImage, ImageRef: im.ImageRef, Start: im.Start, End: im.End, Position: im.Position})
		j++
	}
	return out
}

func (p *Plan) Trims() []Trim {
	var out []Trim
	for _, in := range p.Instructions {
		if in.Op == OpTrim {
			out = append(out, *in.Trim)
		}
	}
	return out
}

func (p *Plan) Overlays() []Overlay {
	var out []Overlay
	for _, in := range p.Instructions {
		if in.Op == OpOverlay {
			out = append(out, *in.Overlay)
		}
	}
	return out
}

func (p *Plan) Mixes() []Mix {
	var out []Mix
	for _, in := range p.Instructions {
		if in.Op == OpMix {
			out = append(out, *in.Mix)
		}
	}
	return out
}

// Output returns the output instruction, which Validate guarantees is last.
func (p *Plan) Output() Output {
	if n := len(p.Instructions); n > 0 && p.Instructions[n-1].Output != nil {
		return *p.Instructions[n-1].Output
	}
	return Output{}
}

// Duration is the length of the rendered artifact.
func (p *Plan) Duration() float64 {
	return p.Output().Duration
}

// Resolve rewrites every source, image and audio reference through fn.
func (p *Plan) Resolve(fn func(ref string) (string, error)) error {
	for i := range p.Instructions {
		in := &p.Instructions[i]
		var err error
		switch in.Op {
		case OpTrim:
			in.Trim.SourceRef, err = fn(in.Trim.SourceRef)
		case OpOverlay:
			if in.Overlay.Kind == OverlayImage {
				in.Overlay.ImageRef, err = fn(in.Overlay.ImageRef)
			}
		case OpMix:
			in.Mix.AudioRef, err = fn(in.Mix.AudioRef)
		}
		if err != nil {
			return fmt.Errorf("resolving %s instruction %d: %w", in.Op, i, err)
		}
	}
	return nil
}

// Validate checks the instruction order and that every payload is present.
func (p *Plan) Validate() error {
	rank := map[Op]int{OpTrim: 0, OpConcat: 1, OpOverlay: 2, OpMix: 3, OpOutput: 4}
	last, trims, concats, outputs := -1, 0, 0, 0

	for i, in := range p.Instructions {
		r, ok := rank[in.Op]
		if !ok {
			return fmt.Errorf("instruction %d: unknown op %q", i, in.Op)
		}
		if r < last {
			return fmt.Errorf("instruction %d: %s out of order", i, in.Op)
		}
		last = r

		switch in.Op {
		case OpTrim:
			if in.Trim == nil {
				return fmt.Errorf("instruction %d: missing trim", i)
			}
			trims++
		case OpConcat:
			if in.Concat == nil {
				return fmt.Errorf("instruction %d: missing concat", i)
			}
			if in.Concat.Inputs != trims {
				return fmt.Errorf("concat joins %d inputs, plan has %d trims", in.Concat.Inputs, trims)
			}
			concats++
		case OpOverlay:
			if in.Overlay == nil {
				return fmt.Errorf("instruction %d: missing overlay", i)
			}
		case OpMix:
			if in.Mix == nil {
				return fmt.Errorf("instruction %d: missing mix", i)
			}
		case OpOutput:
			if in.Output == nil {
				return fmt.Errorf("instruction %d: missing output", i)
			}
			outputs++
		}
	}

	if trims == 0 {
		return ErrEmptyProject
	}
	if concats != 1 || outputs != 1 {
		return fmt.Errorf("plan needs exactly one concat and one output, got %d and %d", concats, outputs)
	}
	return nil
}

func (p *Plan) Encode() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

func DecodePlan(b []byte) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("cannot parse plan JSON: %w", err)
	}
	if p.Version != PlanVersion {
		return nil, fmt.Errorf("unsupported plan version %d", p.Version)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
