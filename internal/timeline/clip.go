// Package timeline holds the multi-track editing model: a video track that
// always partitions [0, duration] plus append-only text, image and voice-over
// tracks. Clips are immutable values; every edit replaces records.
package timeline

import "strconv"

// ClipID identifies a clip on any track. Ids increase monotonically for the
// life of a Model and are never reused.
type ClipID uint64

func (id ClipID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Position anchors an overlay on the output frame.
type Position string

const (
	PositionTopLeft      Position = "top-left"
	PositionTopCenter    Position = "top-center"
	PositionTopRight     Position = "top-right"
	PositionCenter       Position = "center"
	PositionBottomLeft   Position = "bottom-left"
	PositionBottomCenter Position = "bottom-center"
	PositionBottomRight  Position = "bottom-right"
)

// Valid reports whether p is one of the known anchors.
func (p Position) Valid() bool {
	switch p {
	case PositionTopLeft, PositionTopCenter, PositionTopRight,
		PositionCenter,
		PositionBottomLeft, PositionBottomCenter, PositionBottomRight:
		return true
	}
	return false
}

type VideoClip struct {
	ID        ClipID  `json:"id"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Duration  float64 `json:"duration"`
	SourceRef string  `json:"source_ref"`
}

func newVideoClip(id ClipID, start, end float64, sourceRef string) VideoClip {
	return VideoClip{ID: id, Start: start, End: end, Duration: end - start, SourceRef: sourceRef}
}

// Contains reports whether t falls inside [Start, End).
func (c VideoClip) Contains(t float64) bool {
	return t >= c.Start && t < c.End
}

type TextOverlayClip struct {
	ID       ClipID   `json:"id"`
	Text     string   `json:"text"`
	Start    float64  `json:"start"`
	End      float64  `json:"end"`
	Duration float64  `json:"duration"`
	Position Position `json:"position"`
}

func newTextClip(id ClipID, text string, start, end float64, pos Position) TextOverlayClip {
	return TextOverlayClip{ID: id, Text: text, Start: start, End: end, Duration: end - start, Position: pos}
}

// ActiveAt reports whether the overlay is visible at t. Both ends are inclusive.
func (c TextOverlayClip) ActiveAt(t float64) bool {
	return c.Start <= t && t <= c.End
}

type ImageOverlayClip struct {
	ID       ClipID   `json:"id"`
	ImageRef string   `json:"image_ref"`
	Start    float64  `json:"start"`
	End      float64  `json:"end"`
	Duration float64  `json:"duration"`
	Position Position `json:"position"`
}

func newImageClip(id ClipID, ref string, start, end float64, pos Position) ImageOverlayClip {
	return ImageOverlayClip{ID: id, ImageRef: ref, Start: start, End: end, Duration: end - start, Position: pos}
}

func (c ImageOverlayClip) ActiveAt(t float64) bool {
	return c.Start <= t && t <= c.End
}

// AudioClip is a voice-over placed on the audio track.
type AudioClip struct {
	ID       ClipID  `json:"id"`
	AudioRef string  `json:"audio_ref"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
}

func newAudioClip(id ClipID, ref string, start, end float64) AudioClip {
	return AudioClip{ID: id, AudioRef: ref, Start: start, End: end, Duration: end - start}
}

// Snapshot is a consistent, detached copy of the model. Callers may keep and
// read it freely; later edits never show through.
type Snapshot struct {
	MediaRef string             `json:"media_ref"`
	Duration float64            `json:"duration"`
	Playhead float64            `json:"playhead"`
	Active   ClipID             `json:"active_clip_id"`
	Video    []VideoClip        `json:"video"`
	Text     []TextOverlayClip  `json:"text"`
	Image    []ImageOverlayClip `json:"image"`
	Audio    []AudioClip        `json:"audio"`
}

// Empty reports whether the snapshot has no video clip.
func (s Snapshot) Empty() bool {
	return len(s.Video) == 0
}

// Clip returns the video clip with the given id.
func (s Snapshot) Clip(id ClipID) (VideoClip, bool) {
	for _, c := range s.Video {
		if c.ID == id {
			return c, true
		}
	}
	return VideoClip{}, false
}
