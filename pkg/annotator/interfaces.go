package annotator

import (
	"context"

	"github.com/johnmartinsson/active-learning-for-audio-data/internal/sampling"
	"github.com/johnmartinsson/active-learning-for-audio-data/internal/segment"
	"github.com/johnmartinsson/active-learning-for-audio-data/internal/storage"
	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/models"
)

// Service is the active-learning annotation engine.
type Service interface {
	Prototypes(ctx context.Context) (models.PrototypePair, error)
	Segments(ctx context.Context, filename string, policy segment.Policy, numSegments int) (segment.Result, error)
	Batch(ctx context.Context, kind sampling.Kind, batchSize int) ([]models.RecordingDescriptor, error)
	SubmitLabels(ctx context.Context, filename string, labels models.LabelSet) (*Submission, error)
	Descriptor(filename string) (models.RecordingDescriptor, error)
	Labeled() ([]string, error)
	Unlabeled() ([]string, error)
	History(filename string) ([]Submission, error)
	Stats() (Stats, error)
	VerifyPartitions(filename string) (*PartitionReport, error)
	RebuildPartitions(ctx context.Context) (int, error)
	Close() error
}

// Ledger records accepted submissions.
type Ledger interface {
	RecordSubmission(s storage.Submission) (string, error)
	SubmissionsFor(filename string) ([]storage.Submission, error)
	LatestSubmission(filename string) (*storage.Submission, error)
	Stats() (storage.LedgerStats, error)
	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
