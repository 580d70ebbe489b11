package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/models"
)

func repeat(p float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = p
	}
	return out
}

// secondFrames returns n one-second frames starting at 0.
func secondFrames(n int) []models.Timing {
	out := make([]models.Timing, n)
	for i := range out {
		out[i] = models.Timing{float64(i), float64(i + 1)}
	}
	return out
}

func TestFixedPartitionLaw(t *testing.T) {
	lengths := []float64{0.1, 1, 9.7, 30, 59.999, 1e4 / 3}
	for _, length := range lengths {
		for n := 1; n <= 17; n++ {
			segs, err := Fixed(length, n)
			require.NoError(t, err)
			require.Len(t, segs, n)

			assert.Equal(t, 0.0, segs[0].Start)
			assert.Equal(t, length, segs[n-1].End)
			for i, s := range segs {
				assert.Less(t, s.Start, s.End)
				assert.Equal(t, models.Absence, s.SuggestedLabel)
				if i > 0 {
					assert.Equal(t, segs[i-1].End, s.Start)
				}
			}
		}
	}
}

func TestFixedRejectsBadArgs(t *testing.T) {
	_, err := Fixed(0, 3)
	assert.ErrorIs(t, err, ErrInvalidLength)
	_, err = Fixed(10, 0)
	assert.ErrorIs(t, err, ErrInvalidSegments)
}

func TestIsBimodal(t *testing.T) {
	tests := map[string]struct {
		probs []float64
		want  bool
	}{
		"two-modes":      {probs: append(repeat(0.05, 50), repeat(0.95, 50)...), want: true},
		"flat":           {probs: repeat(0.5, 100), want: false},
		"only-low":       {probs: repeat(0.1, 20), want: false},
		"high-at-10pct":  {probs: append(repeat(0.1, 9), 0.9), want: false},
		"thresholds-inc": {probs: []float64{0.3, 0.7, 0.5}, want: true},
		"empty":          {probs: nil, want: false},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsBimodal(tt.probs))
		})
	}
}

func TestChangePoints(t *testing.T) {
	probs := []float64{0.1, 0.1, 0.9, 0.9, 0.2, 0.2}
	// jumps: 0, 0.8, 0, 0.7, 0
	assert.Equal(t, []int{2, 4}, ChangePoints(probs, 2))
	assert.Equal(t, []int{2}, ChangePoints(probs, 1))
	assert.Len(t, ChangePoints(probs, 10), 5)
	assert.Empty(t, ChangePoints(probs, 0))
	assert.Empty(t, ChangePoints([]float64{0.4}, 3))
}

func TestChangePointsTieBreakLowestIndex(t *testing.T) {
	probs := []float64{0, 1, 0, 1, 0}
	// four equal jumps; lowest gradient indices win
	assert.Equal(t, []int{1, 2}, ChangePoints(probs, 2))
	assert.Equal(t, []int{1, 2, 3}, ChangePoints(probs, 3))
}

func TestAdaptiveBimodalKeepsContentLabels(t *testing.T) {
	probs := append(append(repeat(0.05, 4), repeat(0.95, 4)...), repeat(0.05, 4)...)
	timings := secondFrames(12)

	segs, err := Adaptive(12, 3, probs, timings)
	require.NoError(t, err)
	require.Len(t, segs, 3)

	assert.Equal(t, models.Segment{Start: 0, End: 4.5, SuggestedLabel: models.Absence}, segs[0])
	assert.Equal(t, models.Segment{Start: 4.5, End: 8.5, SuggestedLabel: models.Presence}, segs[1])
	assert.Equal(t, models.Segment{Start: 8.5, End: 12, SuggestedLabel: models.Absence}, segs[2])
}

func TestAdaptiveGateForcesAbsence(t *testing.T) {
	probs := append(repeat(0.45, 9), repeat(0.55, 9)...)
	timings := secondFrames(18)

	segs, err := Adaptive(18, 2, probs, timings)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, 9.5, segs[0].End)
	for _, s := range segs {
		assert.Equal(t, models.Absence, s.SuggestedLabel)
	}
}

func TestAdaptiveFewerFramesThanSegments(t *testing.T) {
	segs, err := Adaptive(3, 10, []float64{0, 1, 0}, secondFrames(3))
	require.NoError(t, err)
	assert.Len(t, segs, 3)
	assert.Equal(t, 3.0, segs[len(segs)-1].End)
}

// paddedFrames returns 3-second frames whose last center lies past a 10-second recording.
func paddedFrames() []models.Timing {
	return []models.Timing{{0, 3}, {3, 6}, {6, 9}, {9, 12}}
}

func assertPartitions(t *testing.T, segs []models.Segment, audioLength float64) {
	t.Helper()
	require.NotEmpty(t, segs)
	assert.Equal(t, 0.0, segs[0].Start)
	assert.Equal(t, audioLength, segs[len(segs)-1].End)
	for i, s := range segs {
		assert.Greater(t, s.End, s.Start, "segment %d %+v", i, s)
		if i > 0 {
			assert.Equal(t, segs[i-1].End, s.Start, "segment %d", i)
		}
	}
}

func TestAdaptiveDropsSplitsPastAudioEnd(t *testing.T) {
	segs, err := Adaptive(10, 2, []float64{0.1, 0.1, 0.1, 0.9}, paddedFrames())
	require.NoError(t, err)
	assertPartitions(t, segs, 10)
	// the presence frame centered at 10.5 still belongs to the last segment
	assert.Equal(t, []models.Segment{{Start: 0, End: 10, SuggestedLabel: models.Presence}}, segs)

	segs, err = Adaptive(10, 4, []float64{0.1, 0.9, 0.1, 0.9}, paddedFrames())
	require.NoError(t, err)
	assertPartitions(t, segs, 10)
	require.Len(t, segs, 3)
	assert.Equal(t, 7.5, segs[2].Start)
	assert.Equal(t, models.Presence, segs[2].SuggestedLabel)
}

func TestAdaptiveRequiresMatchingTimings(t *testing.T) {
	_, err := Adaptive(3, 2, []float64{0, 1}, secondFrames(3))
	assert.Error(t, err)
}

func TestSegmentDispatch(t *testing.T) {
	res, err := Segment(Request{AudioLength: 10, NumSegments: 5, Policy: PolicyFixed})
	require.NoError(t, err)
	assert.Len(t, res.Segments, 5)
	assert.Empty(t, res.Probabilities)
	assert.Empty(t, res.Timings)
	assert.Equal(t, repeatClass(models.Absence, 5), res.SuggestedLabels())

	probs := []float64{0.1, 0.9}
	res, err = Segment(Request{AudioLength: 2, NumSegments: 2, Policy: PolicyAdaptive, Probabilities: probs, Timings: secondFrames(2)})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1.5}, res.Timings)
	assert.Equal(t, probs, res.Probabilities)
	assert.Equal(t, []models.Class{models.Absence, models.Presence}, res.SuggestedLabels())
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyFixed, p)

	p, err = ParsePolicy("Adaptive")
	require.NoError(t, err)
	assert.Equal(t, PolicyAdaptive, p)

	_, err = ParsePolicy("spectral")
	assert.Error(t, err)
}

func repeatClass(c models.Class, n int) []models.Class {
	out := make([]models.Class, n)
	for i := range out {
		out[i] = c
	}
	return out
}
