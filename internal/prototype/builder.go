// Package prototype derives the presence/absence class prototypes from the current labels.
package prototype

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/models"
)

// LabelSource lists labeled recordings and loads their labels.
type LabelSource interface {
	Labeled() ([]string, error)
	Load(name string) (models.LabelSet, error)
}

// EmbeddingSource loads the embedding set of a recording.
type EmbeddingSource interface {
	Load(name string) (*models.EmbeddingSet, error)
}

// Logger is the subset of pkg/logger used here.
type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Debugf(format string, args ...any)
}

// Builder recomputes the prototype pair from every label file on each call.
type Builder struct {
	labels     LabelSource
	embeddings EmbeddingSource
	dim        int
	log        Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

type Option func(*Builder)

// WithRand sets the random source of the cold-start fallback.
func WithRand(rng *rand.Rand) Option {
	return func(b *Builder) { b.rng = rng }
}

func WithLogger(log Logger) Option {
	return func(b *Builder) { b.log = log }
}

func NewBuilder(labels LabelSource, embeddings EmbeddingSource, dim int, opts ...Option) *Builder {
	b := &Builder{
		labels:     labels,
		embeddings: embeddings,
		dim:        dim,
		log:        nopLogger{},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.rng == nil {
		b.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return b
}

// Build scans all labeled recordings in name order and averages each class bucket.
// An empty bucket falls back to a uniform random vector in [0,1).
func (b *Builder) Build(ctx context.Context) (models.PrototypePair, error) {
	names, err := b.labels.Labeled()
	if err != nil {
		return models.PrototypePair{}, err
	}

	names = append([]string(nil), names...)
	sort.Strings(names)

	presence := newAccumulator(b.dim)
	absence := newAccumulator(b.dim)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return models.PrototypePair{}, err
		}

		set, err := b.labels.Load(name)
		if err != nil {
			if len(set) == 0 {
				b.log.Warnf("Skipping labels for %s: %v", name, err)
				continue
			}
			b.log.Warnf("Labels for %s partially parsed: %v", name, err)
		}
		if len(set) == 0 {
			continue
		}

		emb, err := b.embeddings.Load(name)
		if err != nil {
			b.log.Warnf("Skipping labeled recording %s: %v", name, err)
			continue
		}
		if err := checkDim(emb, b.dim); err != nil {
			b.log.Warnf("Skipping labeled recording %s: %v", name, err)
			continue
		}

		p, a := Partition(set, emb)
		presence.addAll(p)
		absence.addAll(a)
	}

	b.log.Debugf("Prototype buckets: %d presence, %d absence frames from %d labeled recordings",
		presence.n, absence.n, len(names))

	return models.PrototypePair{
		Presence: b.meanOrRandom(presence, models.Presence),
		Absence:  b.meanOrRandom(absence, models.Absence),
	}, nil
}

func (b *Builder) meanOrRandom(acc *accumulator, class models.Class) []float64 {
	if acc.n > 0 {
		return acc.mean()
	}
	b.log.Infof("No %s frames labeled yet, using a random %s prototype", class, class)
	return b.random()
}

func (b *Builder) random() []float64 {
	b.rngMu.Lock()
	defer b.rngMu.Unlock()

	v := make([]float64, b.dim)
	for i := range v {
		v[i] = b.rng.Float64()
	}
	return v
}

// Partition splits the frames of a recording into presence and absence buckets: a frame
// belongs to a label when its timing center lies in the closed label interval. A frame
// covered by several labels is added once per covering label.
func Partition(set models.LabelSet, emb *models.EmbeddingSet) (presence, absence [][]float64) {
	presence = [][]float64{}
	absence = [][]float64{}
	for _, label := range set {
		for i, timing := range emb.Timings {
			if !label.Covers(timing.Center()) {
				continue
			}
			switch label.Class {
			case models.Presence:
				presence = append(presence, emb.Embeddings[i])
			case models.Absence:
				absence = append(absence, emb.Embeddings[i])
			}
		}
	}
	return presence, absence
}

type accumulator struct {
	sum []float64
	n   int
}

func newAccumulator(dim int) *accumulator {
	return &accumulator{sum: make([]float64, dim)}
}

func (a *accumulator) addAll(vectors [][]float64) {
	for _, v := range vectors {
		floats.Add(a.sum, v)
		a.n++
	}
}

func (a *accumulator) mean() []float64 {
	out := make([]float64, len(a.sum))
	n := float64(a.n)
	for i, s := range a.sum {
		out[i] = s / n
	}
	return out
}

func checkDim(emb *models.EmbeddingSet, dim int) error {
	for i, v := range emb.Embeddings {
		if len(v) != dim {
			return fmt.Errorf("%w: embedding %d has length %d, want %d", models.ErrDimensionMismatch, i, len(v), dim)
		}
	}
	if len(emb.Embeddings) != len(emb.Timings) {
		return fmt.Errorf("%w: %d embeddings but %d timings", models.ErrMissingEmbeddings, len(emb.Embeddings), len(emb.Timings))
	}
	return nil
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Debugf(string, ...any) {}
