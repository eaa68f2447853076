package export

import (
	"strings"
	"testing"
)

func TestGenerateEDL_SingleTrim(t *testing.T) {
	trims := []Trim{{ClipID: 1, SourceRef: "/media/intro.mp4", Start: 0, End: 2}}

	edl := GenerateEDL(trims, "Project One", 30.0)

	if !strings.Contains(edl, "TITLE: Project One") {
		t.Fatalf("missing title in EDL: %q", edl)
	}
	if !strings.Contains(edl, "FCM: NON-DROP FRAME") {
		t.Fatalf("missing non-drop-frame FCM: %q", edl)
	}
	if !strings.Contains(edl, "001  R001     AA/V  C        00:00:00:00 00:00:02:00 00:00:00:00 00:00:02:00") {
		t.Fatalf("missing event line: %q", edl)
	}
	if !strings.Contains(edl, "* FROM CLIP NAME:  clip-1") {
		t.Fatalf("missing clip name comment: %q", edl)
	}
	if !strings.Contains(edl, "* SOURCE FILE:  intro.mp4") {
		t.Fatalf("missing source file comment: %q", edl)
	}
}

func TestGenerateEDL_SplitSequence(t *testing.T) {
	trims := []Trim{
		{ClipID: 1, SourceRef: "/a.mp4", Start: 0, End: 1},
		{ClipID: 2, SourceRef: "/a.mp4", Start: 1, End: 2.5},
	}

	edl := GenerateEDL(trims, "Multi", 30.0)

	if !strings.Contains(edl, "001  R001     AA/V  C        00:00:00:00 00:00:01:00 00:00:00:00 00:00:01:00") {
		t.Fatalf("first event line mismatch: %q", edl)
	}
	if !strings.Contains(edl, "002  R002     AA/V  C        00:00:01:00 00:00:02:15 00:00:01:00 00:00:02:15") {
		t.Fatalf("second event line mismatch or bad record offset: %q", edl)
	}
}

func TestGenerateEDL_DropFrame(t *testing.T) {
	trims := []Trim{{ClipID: 1, SourceRef: "/x.mp4", Start: 0, End: 1}}
	edl := GenerateEDL(trims, "Drop", 29.97)

	if !strings.Contains(edl, "FCM: DROP FRAME") {
		t.Fatalf("expected drop frame FCM, got: %q", edl)
	}
}

func TestTimecode(t *testing.T) {
	tests := []struct {
		name string
		sec  float64
		fps  int
		want string
	}{
		{name: "zero", sec: 0, fps: 30, want: "00:00:00:00"},
		{name: "one second", sec: 1, fps: 30, want: "00:00:01:00"},
		{name: "half second", sec: 0.5, fps: 30, want: "00:00:00:15"},
		{name: "rounds to nearest frame", sec: 0.049, fps: 30, want: "00:00:00:01"},
		{name: "one minute", sec: 60, fps: 30, want: "00:01:00:00"},
		{name: "one hour", sec: 3600, fps: 25, want: "01:00:00:00"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := timecode(tc.sec, tc.fps)
			if got != tc.want {
				t.Fatalf("timecode(%v, %d) = %q, want %q", tc.sec, tc.fps, got, tc.want)
			}
		})
	}
}
