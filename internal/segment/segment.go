// Package segment partitions a recording into regions with suggested labels.
package segment

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/models"
)

type Policy string

const (
	PolicyFixed    Policy = "fixed"
	PolicyAdaptive Policy = "adaptive"
)

// ParsePolicy maps a request value to a Policy. Empty selects fixed.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyFixed:
		return PolicyFixed, nil
	case PolicyAdaptive:
		return PolicyAdaptive, nil
	default:
		return "", fmt.Errorf("unknown segmentation policy %q", s)
	}
}

const (
	lowThreshold    = 0.3
	highThreshold   = 0.7
	minModeFraction = 0.1
	presenceCutoff  = 0.5
)

var (
	ErrInvalidLength   = errors.New("audio length must be positive")
	ErrInvalidSegments = errors.New("number of segments must be at least 1")
)

// Request describes one segmentation call. Probabilities and Timings are only read by
// the adaptive policy.
type Request struct {
	AudioLength   float64
	NumSegments   int
	Policy        Policy
	Probabilities []float64
	Timings       []models.Timing
}

// Result mirrors the segments response: Probabilities and Timings (frame centers) are
// empty for the fixed policy.
type Result struct {
	Segments      []models.Segment
	Probabilities []float64
	Timings       []float64
}

// SuggestedLabels lists the suggested label of every segment in order.
func (r Result) SuggestedLabels() []models.Class {
	out := make([]models.Class, len(r.Segments))
	for i, s := range r.Segments {
		out[i] = s.SuggestedLabel
	}
	return out
}

// Segment dispatches on the request policy.
func Segment(req Request) (Result, error) {
	switch req.Policy {
	case PolicyFixed, "":
		segs, err := Fixed(req.AudioLength, req.NumSegments)
		if err != nil {
			return Result{}, err
		}
		return Result{Segments: segs, Probabilities: []float64{}, Timings: []float64{}}, nil
	case PolicyAdaptive:
		segs, err := Adaptive(req.AudioLength, req.NumSegments, req.Probabilities, req.Timings)
		if err != nil {
			return Result{}, err
		}
		centers := make([]float64, len(req.Timings))
		for i, t := range req.Timings {
			centers[i] = t.Center()
		}
		return Result{Segments: segs, Probabilities: req.Probabilities, Timings: centers}, nil
	default:
		return Result{}, fmt.Errorf("unknown segmentation policy %q", req.Policy)
	}
}

// Fixed splits [0, audioLength] into n equal contiguous segments, all suggested absence.
// The last segment ends exactly at audioLength.
func Fixed(audioLength float64, n int) ([]models.Segment, error) {
	if err := checkArgs(audioLength, n); err != nil {
		return nil, err
	}
	segs := make([]models.Segment, n)
	for i := range segs {
		end := audioLength * float64(i+1) / float64(n)
		if i == n-1 {
			end = audioLength
		}
		start := 0.0
		if i > 0 {
			start = segs[i-1].End
		}
		segs[i] = models.Segment{Start: start, End: end, SuggestedLabel: models.Absence}
	}
	return segs, nil
}

// Adaptive cuts the recording at the frames where the presence probability changes the
// most. Change points that would not advance inside (0, audioLength) are dropped, so fewer
// than n segments may come back. A segment is suggested presence when any frame centered in
// [start, end) has probability above 0.5, unless the probabilities are not bimodal, in
// which case every segment is suggested absence.
func Adaptive(audioLength float64, n int, probabilities []float64, timings []models.Timing) ([]models.Segment, error) {
	if err := checkArgs(audioLength, n); err != nil {
		return nil, err
	}
	if len(probabilities) != len(timings) {
		return nil, fmt.Errorf("%d probabilities but %d timings", len(probabilities), len(timings))
	}

	var segs []models.Segment
	start := 0.0
	for _, cp := range ChangePoints(probabilities, n-1) {
		// Padded trailing frames can be centered at or past the end of the audio.
		split := timings[cp].Center()
		if split <= start || split >= audioLength {
			continue
		}
		segs = append(segs, models.Segment{Start: start, End: split})
		start = split
	}
	segs = append(segs, models.Segment{Start: start, End: audioLength})

	bimodal := IsBimodal(probabilities)
	last := len(segs) - 1
	for i := range segs {
		segs[i].SuggestedLabel = models.Absence
		if bimodal && hasPresence(segs[i], i == last, probabilities, timings) {
			segs[i].SuggestedLabel = models.Presence
		}
	}
	return segs, nil
}

// ChangePoints returns up to k frame indices, ascending, that start the largest absolute
// jumps in probability. The jump between frames i and i+1 yields change point i+1.
// Equal jumps favor the lower index.
func ChangePoints(probabilities []float64, k int) []int {
	if k <= 0 || len(probabilities) < 2 {
		return []int{}
	}

	idx := make([]int, len(probabilities)-1)
	grad := make([]float64, len(idx))
	for i := range idx {
		idx[i] = i
		d := probabilities[i+1] - probabilities[i]
		if d < 0 {
			d = -d
		}
		grad[i] = d
	}
	sort.SliceStable(idx, func(a, b int) bool { return grad[idx[a]] > grad[idx[b]] })

	if k > len(idx) {
		k = len(idx)
	}
	points := make([]int, k)
	for i := range points {
		points[i] = idx[i] + 1
	}
	sort.Ints(points)
	return points
}

// IsBimodal reports whether more than 10% of the probabilities are <= 0.3 and more than
// 10% are >= 0.7. An empty sequence is not bimodal.
func IsBimodal(probabilities []float64) bool {
	if len(probabilities) == 0 {
		return false
	}
	var low, high int
	for _, p := range probabilities {
		if p <= lowThreshold {
			low++
		}
		if p >= highThreshold {
			high++
		}
	}
	total := float64(len(probabilities))
	return float64(low)/total > minModeFraction && float64(high)/total > minModeFraction
}

// hasPresence checks the frames centered in [start, end). The last segment also owns
// frames centered at or past its end.
func hasPresence(seg models.Segment, last bool, probabilities []float64, timings []models.Timing) bool {
	for i, t := range timings {
		c := t.Center()
		if c >= seg.Start && (c < seg.End || last) && probabilities[i] > presenceCutoff {
			return true
		}
	}
	return false
}

func checkArgs(audioLength float64, n int) error {
	if !(audioLength > 0) {
		return fmt.Errorf("%w: got %g", ErrInvalidLength, audioLength)
	}
	if n < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidSegments, n)
	}
	return nil
}
