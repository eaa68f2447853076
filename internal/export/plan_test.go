package export

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelasi/composer/internal/timeline"
)

func editedSnapshot(t *testing.T) timeline.Snapshot {
	t.Helper()
	m := timeline.New(timeline.Options{})
	a, err := m.ImportPrimary("src.mp4", 100)
	require.NoError(t, err)
	_, b, err := m.Split(a, 40)
	require.NoError(t, err)
	_, _, err = m.Split(b, 70)
	require.NoError(t, err)

	_, err = m.AddTextOverlay("first", 5, 0, "")
	require.NoError(t, err)
	_, err = m.AddImageOverlay("logo.png", 10, 0, "")
	require.NoError(t, err)
	_, err = m.AddTextOverlay("second", 50, 0, timeline.PositionCenter)
	require.NoError(t, err)
	_, err = m.AddAudioClip("vo.wav", 20, 24)
	require.NoError(t, err)
	return m.Snapshot()
}

func TestCompile_InstructionOrder(t *testing.T) {
	plan, err := Compile(editedSnapshot(t), DefaultOutputSpec())
	require.NoError(t, err)
	require.NoError(t, plan.Validate())

	var ops []Op
	for _, in := range plan.Instructions {
		ops = append(ops, in.Op)
	}
	assert.Equal(t, []Op{
		OpTrim, OpTrim, OpTrim,
		OpConcat,
		OpOverlay, OpOverlay, OpOverlay,
		OpMix,
		OpOutput,
	}, ops)

	trims := plan.Trims()
	assert.Equal(t, [][2]float64{{0, 40}, {40, 70}, {70, 100}},
		[][2]float64{{trims[0].Start, trims[0].End}, {trims[1].Start, trims[1].End}, {trims[2].Start, trims[2].End}})
	assert.Equal(t, 3, plan.Instructions[3].Concat.Inputs)

	overlays := plan.Overlays()
	assert.Equal(t, OverlayText, overlays[0].Kind)
	assert.Equal(t, "first", overlays[0].Text)
	assert.Equal(t, OverlayImage, overlays[1].Kind)
	assert.Equal(t, "logo.png", overlays[1].ImageRef)
	assert.Equal(t, "second", overlays[2].Text)
	assert.Less(t, overlays[0].ClipID, overlays[1].ClipID)
	assert.Less(t, overlays[1].ClipID, overlays[2].ClipID)

	mixes := plan.Mixes()
	require.Len(t, mixes, 1)
	assert.Equal(t, 20.0, mixes[0].Start)

	out := plan.Output()
	assert.Equal(t, 100.0, out.Duration)
	assert.Equal(t, "mp4", out.Container)
	assert.Equal(t, 100.0, plan.Duration())
}

func TestCompile_Empty(t *testing.T) {
	_, err := Compile(timeline.Snapshot{}, DefaultOutputSpec())
	assert.ErrorIs(t, err, ErrEmptyProject)
}

func TestCompile_BrokenPartition(t *testing.T) {
	snap := timeline.Snapshot{
		Duration: 10,
		Video:    []timeline.VideoClip{{ID: 1, Start: 0, End: 5, Duration: 5}},
	}
	_, err := Compile(snap, DefaultOutputSpec())
	assert.ErrorIs(t, err, timeline.ErrBrokenPartition)
}

func TestPlan_EncodeDecode(t *testing.T) {
	plan, err := Compile(editedSnapshot(t), DefaultOutputSpec())
	require.NoError(t, err)

	b, err := plan.Encode()
	require.NoError(t, err)

	back, err := DecodePlan(b)
	require.NoError(t, err)
	assert.Equal(t, plan, back)
}

func TestDecodePlan_Rejects(t *testing.T) {
	_, err := DecodePlan([]byte(`{"version": 99, "instructions": []}`))
	assert.Error(t, err)

	_, err = DecodePlan([]byte(`{"version": 1, "instructions": [{"op": "output", "output": {}}, {"op": "trim", "trim": {}}]}`))
	assert.Error(t, err)

	_, err = DecodePlan([]byte(`not json`))
	assert.Error(t, err)
}

func TestPlan_Resolve(t *testing.T) {
	plan, err := Compile(editedSnapshot(t), DefaultOutputSpec())
	require.NoError(t, err)

	seen := map[string]int{}
	err = plan.Resolve(func(ref string) (string, error) {
		seen[ref]++
		return "/abs/" + ref, nil
	})
	require.NoError(t, err)

	assert.Equal(t, 3, seen["src.mp4"])
	assert.Equal(t, 1, seen["logo.png"])
	assert.Equal(t, 1, seen["vo.wav"])
	assert.Equal(t, "/abs/src.mp4", plan.Trims()[0].SourceRef)
	assert.Equal(t, "first", plan.Overlays()[0].Text, "text overlays are not references")

	boom := errors.New("missing asset")
	err = plan.Resolve(func(string) (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)
}
