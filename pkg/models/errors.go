package models

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingEmbeddings is returned when the embedding blob of a recording is absent or corrupt.
	ErrMissingEmbeddings = errors.New("missing embeddings")
	// ErrDimensionMismatch is returned when a vector does not have the configured dimensionality.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrEmptyScoringPool signals that no sampling candidate could be scored.
	ErrEmptyScoringPool = errors.New("no candidate could be scored")
	// ErrInvalidLabel is returned for labels with a bad interval or class.
	ErrInvalidLabel = errors.New("invalid label")
	// ErrUnknownRecording is returned for filenames the dataset index does not know.
	ErrUnknownRecording = errors.New("unknown recording")
)

// MalformedLineError reports one unparsable row of a label file.
type MalformedLineError struct {
	Line int
	Text string
	Err  error
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("malformed label line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *MalformedLineError) Unwrap() error { return e.Err }
