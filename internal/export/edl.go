package export

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
)

// GenerateEDL writes a CMX3600 edit decision list for the trim sequence so the
// cut can be reopened in an NLE. Record times run back to back from zero.
func GenerateEDL(trims []Trim, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	record := 0.0
	for i, t := range trims {
		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, reelName(i), "AA/V",
				timecode(t.Start, fps), timecode(t.End, fps),
				timecode(record, fps), timecode(record+t.Duration(), fps)),
			fmt.Sprintf("* FROM CLIP NAME:  clip-%s", t.ClipID),
			fmt.Sprintf("* SOURCE FILE:  %s", filepath.Base(t.SourceRef)),
		)
		record += t.Duration()
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func reelName(i int) string {
	return fmt.Sprintf("R%03d", i+1)
}

// timecode renders seconds as HH:MM:SS:FF at fps, rounding to the nearest frame.
func timecode(sec float64, fps int) string {
	totalFrames := int(math.Round(sec * float64(fps)))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
