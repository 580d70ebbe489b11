package models

import (
	"fmt"
	"strings"
)

// EmbeddingDim is the dimensionality of the BirdNET embeddings used by the dataset.
const EmbeddingDim = 1024

// Class is the binary annotation class of a labeled region.
type Class string

const (
	Presence Class = "presence"
	Absence  Class = "absence"
)

// ParseClass converts a raw label value into a Class.
func ParseClass(s string) (Class, error) {
	switch Class(strings.TrimSpace(s)) {
	case Presence:
		return Presence, nil
	case Absence:
		return Absence, nil
	default:
		return "", fmt.Errorf("%w: unknown class %q", ErrInvalidLabel, s)
	}
}

// Timing is the [start, end] interval of one embedding frame in seconds.
type Timing [2]float64

func (t Timing) Start() float64 { return t[0] }

func (t Timing) End() float64 { return t[1] }

// Center returns the midpoint of the frame.
func (t Timing) Center() float64 { return (t[0] + t[1]) / 2 }

// Label is a human-authored interval with its class.
type Label struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Class     Class   `json:"label"`
}

// Validate checks the interval ordering and class value.
func (l Label) Validate() error {
	if l.StartTime >= l.EndTime {
		return fmt.Errorf("%w: start_time %g must be before end_time %g", ErrInvalidLabel, l.StartTime, l.EndTime)
	}
	if l.Class != Presence && l.Class != Absence {
		return fmt.Errorf("%w: unknown class %q", ErrInvalidLabel, l.Class)
	}
	return nil
}

// Covers reports whether t lies in the closed interval [StartTime, EndTime].
func (l Label) Covers(t float64) bool {
	return t >= l.StartTime && t <= l.EndTime
}

// LabelSet is the ordered list of labels of one recording.
type LabelSet []Label

// Validate returns the first invalid label error, annotated with its index.
func (ls LabelSet) Validate() error {
	for i, l := range ls {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("label %d: %w", i, err)
		}
	}
	return nil
}

// EmbeddingSet holds the per-frame embeddings of one recording.
// Presence and Absence carry the partition written at label submission, if any.
type EmbeddingSet struct {
	Embeddings [][]float64
	Timings    []Timing
	Presence   [][]float64
	Absence    [][]float64
}

// Centers returns the center time of every frame.
func (s *EmbeddingSet) Centers() []float64 {
	centers := make([]float64, len(s.Timings))
	for i, t := range s.Timings {
		centers[i] = t.Center()
	}
	return centers
}

// PrototypePair holds the two class centroids.
type PrototypePair struct {
	Presence []float64 `json:"presence_prototype"`
	Absence  []float64 `json:"absence_prototype"`
}

// Validate checks both prototypes have the expected dimensionality.
func (p PrototypePair) Validate(dim int) error {
	if len(p.Presence) != dim || len(p.Absence) != dim {
		return fmt.Errorf("%w: prototypes have lengths %d/%d, want %d",
			ErrDimensionMismatch, len(p.Presence), len(p.Absence), dim)
	}
	return nil
}

// Segment is one region of a recording partition with its suggested label.
type Segment struct {
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	SuggestedLabel Class   `json:"-"`
}

// Candidate is a scored recording considered during batch selection.
type Candidate struct {
	Filename string
	Score    float64
}

// RecordingDescriptor is what the annotator front end needs to present a recording.
type RecordingDescriptor struct {
	Filename        string  `json:"filename"`
	AudioLength     float64 `json:"audio_length"`
	AudioPath       string  `json:"audio_path"`
	SpectrogramPath string  `json:"spectrogram_path"`
	EmbeddingsPath  string  `json:"embeddings_path"`
}
