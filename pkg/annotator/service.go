package annotator

import (
	"context"
	"errors"
	"fmt"

	"github.com/johnmartinsson/active-learning-for-audio-data/internal/classifier"
	"github.com/johnmartinsson/active-learning-for-audio-data/internal/dataset"
	"github.com/johnmartinsson/active-learning-for-audio-data/internal/embeddings"
	"github.com/johnmartinsson/active-learning-for-audio-data/internal/labels"
	"github.com/johnmartinsson/active-learning-for-audio-data/internal/prototype"
	"github.com/johnmartinsson/active-learning-for-audio-data/internal/sampling"
	"github.com/johnmartinsson/active-learning-for-audio-data/internal/segment"
	"github.com/johnmartinsson/active-learning-for-audio-data/internal/storage"
	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/logger"
	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/models"
	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/utils"
)

// annotatorService is the default implementation of the Service interface.
type annotatorService struct {
	index      *dataset.Index
	labels     *labels.Store
	embeddings *embeddings.Store
	builder    *prototype.Builder
	random     *sampling.Random
	ledger     Ledger
	log        Logger
	config     *Config

	locks utils.KeyedMutex
}

// NewSQLiteLedger opens the SQLite submission ledger at dbPath.
func NewSQLiteLedger(dbPath string) (Ledger, error) {
	db, err := storage.NewDBClientWithPath(dbPath)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}
	if cfg.EmbeddingDim < 1 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", cfg.EmbeddingDim)
	}

	layout := dataset.Layout{DataDir: cfg.DataDir, Dataset: cfg.Dataset}
	idx := cfg.Index
	if idx == nil {
		var err error
		if idx, err = dataset.Load(layout, cfg.MetadataFile, cfg.Logger); err != nil {
			return nil, fmt.Errorf("failed to load dataset index: %w", err)
		}
	} else {
		layout = idx.Layout()
	}

	ledger := cfg.Ledger
	if ledger == nil {
		var err error
		if ledger, err = NewSQLiteLedger(cfg.DBPath); err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
	}

	labelStore := labels.NewStore(layout.LabelsDir())
	embStore := embeddings.NewStore(layout.EmbeddingsDir(), cfg.EmbeddingDim)
	protoRng, sampleRng := cfg.rngs()

	cfg.Logger.Infof("Dataset %s: %d recordings", layout.Dataset, idx.Len())

	return &annotatorService{
		index:      idx,
		labels:     labelStore,
		embeddings: embStore,
		builder: prototype.NewBuilder(labelStore, embStore, cfg.EmbeddingDim,
			prototype.WithRand(protoRng), prototype.WithLogger(cfg.Logger)),
		random: sampling.NewRandom(sampleRng),
		ledger: ledger,
		log:    cfg.Logger,
		config: cfg,
	}, nil
}

// Prototypes recomputes the class prototypes from every label file.
func (s *annotatorService) Prototypes(ctx context.Context) (models.PrototypePair, error) {
	pair, err := s.builder.Build(ctx)
	if err != nil {
		return models.PrototypePair{}, fmt.Errorf("building prototypes: %w", err)
	}
	return pair, nil
}

// Segments partitions a recording. The adaptive policy classifies the recording's frames
// against freshly built prototypes.
func (s *annotatorService) Segments(ctx context.Context, filename string, policy segment.Policy, numSegments int) (segment.Result, error) {
	length, err := s.index.AudioLength(filename)
	if err != nil {
		return segment.Result{}, err
	}

	req := segment.Request{AudioLength: length, NumSegments: numSegments, Policy: policy}
	if policy == segment.PolicyAdaptive {
		emb, err := s.embeddings.Load(filename)
		if err != nil {
			return segment.Result{}, err
		}
		protos, err := s.Prototypes(ctx)
		if err != nil {
			return segment.Result{}, err
		}
		probs, err := classifier.Predict(emb.Embeddings, protos)
		if err != nil {
			return segment.Result{}, fmt.Errorf("classifying %s: %w", filename, err)
		}
		req.Probabilities = probs
		req.Timings = emb.Timings
	}

	res, err := segment.Segment(req)
	if err != nil {
		return segment.Result{}, fmt.Errorf("segmenting %s: %w", filename, err)
	}
	s.log.Debugf("Segmented %s (%s) into %d segments", filename, policy, len(res.Segments))
	return res, nil
}

// Batch selects the next recordings to annotate from the unlabeled pool.
func (s *annotatorService) Batch(ctx context.Context, kind sampling.Kind, batchSize int) ([]models.RecordingDescriptor, error) {
	pool, err := s.Unlabeled()
	if err != nil {
		return nil, err
	}

	var strategy sampling.Strategy = s.random
	if kind.NeedsPrototypes() {
		if s.config.ScoreTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.config.ScoreTimeout)
			defer cancel()
		}
		protos, err := s.Prototypes(ctx)
		if err != nil {
			return nil, err
		}
		strategy, err = sampling.New(kind, sampling.Config{
			Embeddings: s.embeddings,
			Prototypes: protos,
			Workers:    s.config.ScoreWorkers,
			Logger:     s.log,
		})
		if err != nil {
			return nil, err
		}
	} else if kind != sampling.KindRandom {
		return nil, fmt.Errorf("%w: %q", sampling.ErrUnknownStrategy, kind)
	}

	names, err := strategy.Sample(ctx, pool, batchSize)
	if err != nil {
		return nil, fmt.Errorf("%s sampling: %w", kind, err)
	}
	s.log.Infof("Selected %d of %d unlabeled recordings with %s sampling", len(names), len(pool), kind)

	batch := make([]models.RecordingDescriptor, 0, len(names))
	for _, name := range names {
		d, err := s.index.Descriptor(name)
		if err != nil {
			return nil, err
		}
		batch = append(batch, d)
	}
	return batch, nil
}

// SubmitLabels persists the labels of a recording, writes its embedding partition and
// records the submission. Submissions for the same filename are serialized.
func (s *annotatorService) SubmitLabels(ctx context.Context, filename string, set models.LabelSet) (*Submission, error) {
	if !s.index.Has(filename) {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownRecording, filename)
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(filename)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	emb, err := s.embeddings.Load(filename)
	if err != nil {
		return nil, err
	}

	if err := s.labels.Save(filename, set); err != nil {
		return nil, fmt.Errorf("failed to save labels: %w", err)
	}

	presence, absence := prototype.Partition(set, emb)
	if err := s.embeddings.WritePartition(filename, presence, absence); err != nil {
		return nil, fmt.Errorf("failed to save embedding partition: %w", err)
	}

	sub := storage.Submission{
		Filename:       filename,
		LabelCount:     len(set),
		PresenceFrames: len(presence),
		AbsenceFrames:  len(absence),
	}
	id, err := s.ledger.RecordSubmission(sub)
	if err != nil {
		s.log.Errorf("Failed to record submission for %s: %v", filename, err)
	} else {
		sub.ID = id
	}

	s.log.Infof("Saved %d labels for %s (%d presence, %d absence frames)",
		len(set), filename, len(presence), len(absence))
	return &sub, nil
}

func (s *annotatorService) Descriptor(filename string) (models.RecordingDescriptor, error) {
	return s.index.Descriptor(filename)
}

// Labeled lists the recordings that have a label file.
func (s *annotatorService) Labeled() ([]string, error) {
	return s.labels.Labeled()
}

// Unlabeled lists the dataset recordings without a label file, in index order.
func (s *annotatorService) Unlabeled() ([]string, error) {
	done, err := s.labels.Labeled()
	if err != nil {
		return nil, err
	}
	return s.index.Unlabeled(done), nil
}

func (s *annotatorService) History(filename string) ([]Submission, error) {
	return s.ledger.SubmissionsFor(filename)
}

func (s *annotatorService) Stats() (Stats, error) {
	done, err := s.labels.Labeled()
	if err != nil {
		return Stats{}, err
	}
	ls, err := s.ledger.Stats()
	if err != nil {
		return Stats{}, err
	}
	unlabeled := s.index.Unlabeled(done)
	return Stats{
		Dataset:        s.index.Dataset(),
		Recordings:     s.index.Len(),
		Labeled:        s.index.Len() - len(unlabeled),
		Unlabeled:      len(unlabeled),
		Submissions:    ls.Submissions,
		LastSubmission: ls.LastSubmission,
	}, nil
}

// VerifyPartitions re-derives the partition of a recording from its persisted label file
// and raw embeddings and compares it with the partition stored in the blob.
func (s *annotatorService) VerifyPartitions(filename string) (*PartitionReport, error) {
	unlock := s.locks.Lock(filename)
	defer unlock()

	if !s.labels.Exists(filename) {
		return nil, fmt.Errorf("%s has no label file", filename)
	}
	set, lineErrs, err := s.loadLabels(filename)
	if err != nil {
		return nil, err
	}
	emb, err := s.embeddings.Load(filename)
	if err != nil {
		return nil, err
	}

	presence, absence := prototype.Partition(set, emb)
	report := &PartitionReport{
		LabelErrors:    lineErrs,
		Filename:       filename,
		PresenceFrames: len(presence),
		AbsenceFrames:  len(absence),
		StoredPresence: len(emb.Presence),
		StoredAbsence:  len(emb.Absence),
		Consistent:     sameVectors(presence, emb.Presence) && sameVectors(absence, emb.Absence),
	}

	latest, err := s.ledger.LatestSubmission(filename)
	if err != nil {
		s.log.Warnf("Could not read ledger for %s: %v", filename, err)
	} else if latest != nil {
		report.LedgerConsistent = latest.PresenceFrames == report.PresenceFrames &&
			latest.AbsenceFrames == report.AbsenceFrames &&
			latest.LabelCount == len(set)
	}
	return report, nil
}

// RebuildPartitions rewrites the stored partition of every labeled recording from its
// label file. Recordings that fail are logged and skipped.
func (s *annotatorService) RebuildPartitions(ctx context.Context) (int, error) {
	names, err := s.labels.Labeled()
	if err != nil {
		return 0, err
	}

	rebuilt := 0
	var errs []error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return rebuilt, err
		}
		if err := s.rebuild(name); err != nil {
			s.log.Warnf("Skipping partition rebuild for %s: %v", name, err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		rebuilt++
	}
	s.log.Infof("Rebuilt partitions for %d of %d labeled recordings", rebuilt, len(names))
	return rebuilt, errors.Join(errs...)
}

func (s *annotatorService) rebuild(name string) error {
	unlock := s.locks.Lock(name)
	defer unlock()

	set, _, err := s.loadLabels(name)
	if err != nil {
		return err
	}
	emb, err := s.embeddings.Load(name)
	if err != nil {
		return err
	}
	presence, absence := prototype.Partition(set, emb)
	return s.embeddings.WritePartition(name, presence, absence)
}

// loadLabels returns the valid labels of a recording along with the messages of its
// malformed lines, the way the prototype builder reads them. It fails only when no label
// could be read.
func (s *annotatorService) loadLabels(name string) (models.LabelSet, []string, error) {
	set, err := s.labels.Load(name)
	if err == nil {
		return set, nil, nil
	}
	var malformed *models.MalformedLineError
	if len(set) == 0 || !errors.As(err, &malformed) {
		return nil, nil, fmt.Errorf("loading labels: %w", err)
	}
	var lines []string
	for _, e := range unwrapJoined(err) {
		lines = append(lines, e.Error())
	}
	s.log.Warnf("Labels for %s partially parsed: %v", name, err)
	return set, lines, nil
}

func unwrapJoined(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

func (s *annotatorService) Close() error {
	if s.ledger == nil {
		return nil
	}
	return s.ledger.Close()
}

func sameVectors(a, b [][]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				return false
			}
		}
	}
	return true
}
