package main

import (
	"fmt"

	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/annotator"
	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/models"
)

const (
	defaultNumSegments = 10
	defaultBatchSize   = 1

	// MaxLabelsPerSubmission bounds a single label submission.
	MaxLabelsPerSubmission = 10000
	maxBodyBytes           = 4 << 20
)

// SegmentDTO is one region of a segmentation response.
type SegmentDTO struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// SegmentsResponse is the response for GET /api/audio/{filename}/segments
type SegmentsResponse struct {
	Segments        []SegmentDTO   `json:"segments"`
	Probabilities   []float64      `json:"probabilities"`
	Timings         []float64      `json:"timings"`
	SuggestedLabels []models.Class `json:"suggestedLabels"`
}

// BatchResponse is the response for GET /api/audio/batch
type BatchResponse struct {
	Batch []models.RecordingDescriptor `json:"batch"`
}

// SubmitLabelsRequest is the request body for POST /api/audio/{filename}/labels
type SubmitLabelsRequest struct {
	Labels []models.Label `json:"labels"`
}

// Validate checks if the request is valid
func (r *SubmitLabelsRequest) Validate() error {
	if r.Labels == nil {
		return fmt.Errorf("labels is required")
	}
	if len(r.Labels) > MaxLabelsPerSubmission {
		return fmt.Errorf("too many labels: %d (maximum: %d)", len(r.Labels), MaxLabelsPerSubmission)
	}
	return models.LabelSet(r.Labels).Validate()
}

// SubmitLabelsResponse is the response for a successful label submission
type SubmitLabelsResponse struct {
	Message    string                `json:"message"`
	Submission *annotator.Submission `json:"submission"`
}

// HistoryResponse is the response for GET /api/audio/{filename}/history
type HistoryResponse struct {
	Filename    string                 `json:"filename"`
	Submissions []annotator.Submission `json:"submissions"`
	Count       int                    `json:"count"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}
