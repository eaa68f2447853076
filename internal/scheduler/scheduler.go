// Package scheduler decides, for a playback position, which overlays are
// visible and which voice-over clips must start playing.
package scheduler

import (
	"sync"

	"github.com/kelasi/composer/internal/timeline"
)

// DefaultTolerance is the width of the window after a clip's start in which
// a tick may fire it.
const DefaultTolerance = 0.1

// Active is the set of overlays visible at one instant, in creation order.
type Active struct {
	Text  []timeline.TextOverlayClip  `json:"text"`
	Image []timeline.ImageOverlayClip `json:"image"`
}

// ActiveAt returns every overlay of snap with start <= t <= end.
func ActiveAt(snap timeline.Snapshot, t float64) Active {
	var a Active
	for _, c := range snap.Text {
		if c.ActiveAt(t) {
			a.Text = append(a.Text, c)
		}
	}
	for _, c := range snap.Image {
		if c.ActiveAt(t) {
			a.Image = append(a.Image, c)
		}
	}
	return a
}

// State is the firing state of one audio clip.
type State int

const (
	NotFired State = iota
	Fired
)

func (s State) String() string {
	if s == Fired {
		return "fired"
	}
	return "not_fired"
}

type entry struct {
	start float64
	state State
}

// Firer turns a stream of playback ticks into one-shot start events for
// audio clips. A clip fires at most once until a backward seek crosses its
// start again.
type Firer struct {
	mu        sync.Mutex
	tolerance float64
	clips     map[timeline.ClipID]*entry
	last      float64
	hasLast   bool
}

func NewFirer(tolerance float64) *Firer {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Firer{tolerance: tolerance, clips: make(map[timeline.ClipID]*entry)}
}

// Tick returns the clips that must start playing at t. A tick earlier than
// the previous one counts as a rewind and rearms every clip starting at or
// after t.
func (f *Firer) Tick(audio []timeline.AudioClip, t float64, playing bool) []timeline.AudioClip {
	f.mu.Lock()
	defer f.mu.Unlock()

	rewound := f.hasLast && t < f.last
	present := make(map[timeline.ClipID]struct{}, len(audio))
	var fire []timeline.AudioClip

	for _, c := range audio {
		present[c.ID] = struct{}{}

		e, ok := f.clips[c.ID]
		if !ok {
			e = &entry{start: c.Start}
			f.clips[c.ID] = e
		}
		e.start = c.Start
		if rewound && t <= e.start {
			e.state = NotFired
		}

		if !playing || e.state == Fired {
			continue
		}
		inWindow := c.Start <= t && t < c.Start+f.tolerance
		jumped := f.hasLast && f.last < c.Start && t >= c.Start && t < c.End
		if inWindow || jumped {
			e.state = Fired
			fire = append(fire, c)
		}
	}

	for id := range f.clips {
		if _, ok := present[id]; !ok {
			delete(f.clips, id)
		}
	}

	f.last = t
	f.hasLast = true
	return fire
}

// Seek moves the firer to t and rearms every clip starting at or after t.
func (f *Firer) Seek(t float64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, e := range f.clips {
		if e.start >= t {
			e.state = NotFired
		}
	}
	f.last = t
	f.hasLast = true
}

// State returns the firing state of id. Unknown clips are NotFired.
func (f *Firer) State(id timeline.ClipID) State {
	f.mu.Lock()
	defer f.mu.Unlock()

	if e, ok := f.clips[id]; ok {
		return e.state
	}
	return NotFired
}

// Source yields the current timeline.
type Source interface {
	Snapshot() timeline.Snapshot
}

// Frame is everything the preview needs to render one tick.
type Frame struct {
	Time    float64                     `json:"time"`
	Playing bool                        `json:"playing"`
	Text    []timeline.TextOverlayClip  `json:"text"`
	Image   []timeline.ImageOverlayClip `json:"image"`
	Fire    []timeline.AudioClip        `json:"fire"`
}

// Scheduler pairs a timeline source with a Firer.
type Scheduler struct {
	src   Source
	firer *Firer
}

func New(src Source, tolerance float64) *Scheduler {
	return &Scheduler{src: src, firer: NewFirer(tolerance)}
}

func (s *Scheduler) Tick(t float64, playing bool) Frame {
	snap := s.src.Snapshot()
	active := ActiveAt(snap, t)
	return Frame{
		Time:    t,
		Playing: playing,
		Text:    active.Text,
		Image:   active.Image,
		Fire:    s.firer.Tick(snap.Audio, t, playing),
	}
}

func (s *Scheduler) Seek(t float64) {
	s.firer.Seek(t)
}

func (s *Scheduler) Firer() *Firer {
	return s.firer
}
