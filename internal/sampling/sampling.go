// Package sampling selects the next batch of unlabeled recordings to annotate.
package sampling

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/johnmartinsson/active-learning-for-audio-data/internal/classifier"
	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/models"
)

// Kind names a sampling strategy.
type Kind string

const (
	KindRandom          Kind = "random"
	KindUncertainty     Kind = "uncertainty"
	KindCertainty       Kind = "certainty"
	KindHighProbability Kind = "high_probability"
)

var (
	ErrUnknownStrategy  = errors.New("unknown sampling strategy")
	ErrInvalidBatchSize = errors.New("batch size must be at least 1")
)

// Kinds lists every strategy in display order.
func Kinds() []Kind {
	return []Kind{KindRandom, KindUncertainty, KindCertainty, KindHighProbability}
}

// ParseKind maps a request value to a Kind. Empty selects random.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if k == "" {
		return KindRandom, nil
	}
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// NeedsPrototypes reports whether the strategy scores candidates with the classifier.
func (k Kind) NeedsPrototypes() bool {
	return k == KindUncertainty || k == KindCertainty || k == KindHighProbability
}

// Strategy picks an ordered batch from a pool of recording names.
type Strategy interface {
	Sample(ctx context.Context, pool []string, batchSize int) ([]string, error)
}

// EmbeddingSource loads the embedding set of a recording.
type EmbeddingSource interface {
	Load(name string) (*models.EmbeddingSet, error)
}

type Logger interface {
	Warnf(format string, args ...any)
	Debugf(format string, args ...any)
}

// Config carries the dependencies of New. Prototypes and Embeddings are only read by
// scored strategies.
type Config struct {
	Rand       *rand.Rand
	Embeddings EmbeddingSource
	Prototypes models.PrototypePair
	Workers    int
	Logger     Logger
}

// New builds the strategy for kind.
func New(kind Kind, cfg Config) (Strategy, error) {
	switch kind {
	case KindRandom:
		return NewRandom(cfg.Rand), nil
	case KindUncertainty, KindCertainty, KindHighProbability:
		return NewScored(kind, cfg.Embeddings, cfg.Prototypes, cfg.Workers, cfg.Logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, kind)
	}
}

// Random returns a uniform random permutation prefix of the pool.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandom uses rng, or a time-seeded source when rng is nil.
func NewRandom(rng *rand.Rand) *Random {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Random{rng: rng}
}

func (r *Random) Sample(ctx context.Context, pool []string, batchSize int) ([]string, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, batchSize)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	shuffled := append([]string(nil), pool...)
	r.mu.Lock()
	r.rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	r.mu.Unlock()

	return shuffled[:min(batchSize, len(shuffled))], nil
}

// Scored ranks candidates by a per-recording score computed from the classifier output.
type Scored struct {
	kind       Kind
	embeddings EmbeddingSource
	protos     models.PrototypePair
	workers    int
	log        Logger
}

// NewScored builds an uncertainty, certainty or high_probability strategy.
// Workers below 1 defaults to GOMAXPROCS.
func NewScored(kind Kind, embeddings EmbeddingSource, protos models.PrototypePair, workers int, log Logger) (*Scored, error) {
	if !kind.NeedsPrototypes() {
		return nil, fmt.Errorf("%w: %q is not a scored strategy", ErrUnknownStrategy, kind)
	}
	if embeddings == nil {
		return nil, errors.New("scored sampling needs an embedding source")
	}
	if len(protos.Presence) == 0 {
		return nil, fmt.Errorf("%w: empty prototypes", models.ErrDimensionMismatch)
	}
	if err := protos.Validate(len(protos.Presence)); err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	if log == nil {
		log = nopLogger{}
	}
	return &Scored{kind: kind, embeddings: embeddings, protos: protos, workers: workers, log: log}, nil
}

// Sample returns the best ranked names. Candidates that cannot be scored are skipped;
// when none can be scored the result is empty.
func (s *Scored) Sample(ctx context.Context, pool []string, batchSize int) ([]string, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, batchSize)
	}
	ranked, err := s.Rank(ctx, pool)
	if errors.Is(err, models.ErrEmptyScoringPool) {
		s.log.Warnf("No candidate out of %d could be scored for %s sampling", len(pool), s.kind)
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, min(batchSize, len(ranked)))
	for _, c := range ranked[:min(batchSize, len(ranked))] {
		out = append(out, c.Filename)
	}
	return out, nil
}

// Rank scores every candidate in parallel and orders them best first. Equal scores keep
// pool order. It returns ErrEmptyScoringPool when the pool is non-empty but nothing scored.
func (s *Scored) Rank(ctx context.Context, pool []string) ([]models.Candidate, error) {
	if len(pool) == 0 {
		return []models.Candidate{}, nil
	}

	scores := make([]float64, len(pool))
	ok := make([]bool, len(pool))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, name := range pool {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			score, err := s.score(name)
			if err != nil {
				s.log.Warnf("Skipping %s for %s sampling: %v", name, s.kind, err)
				return nil
			}
			scores[i], ok[i] = score, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ranked := make([]models.Candidate, 0, len(pool))
	for i, name := range pool {
		if ok[i] {
			ranked = append(ranked, models.Candidate{Filename: name, Score: scores[i]})
		}
	}
	if len(ranked) == 0 {
		return ranked, models.ErrEmptyScoringPool
	}

	ascending := s.kind == KindCertainty
	sort.SliceStable(ranked, func(a, b int) bool {
		if ascending {
			return ranked[a].Score < ranked[b].Score
		}
		return ranked[a].Score > ranked[b].Score
	})
	s.log.Debugf("Scored %d of %d candidates for %s sampling", len(ranked), len(pool), s.kind)
	return ranked, nil
}

func (s *Scored) score(name string) (float64, error) {
	emb, err := s.embeddings.Load(name)
	if err != nil {
		return 0, err
	}
	probs, err := classifier.Predict(emb.Embeddings, s.protos)
	if err != nil {
		return 0, err
	}

	var score float64
	if s.kind == KindHighProbability {
		score = classifier.MeanProbability(probs)
	} else {
		score = classifier.MeanEntropy(probs)
	}
	if math.IsNaN(score) {
		return 0, fmt.Errorf("%w: no frames", models.ErrMissingEmbeddings)
	}
	return score, nil
}

type nopLogger struct{}

func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Debugf(string, ...any) {}
