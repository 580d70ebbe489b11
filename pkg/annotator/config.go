package annotator

import (
	"math/rand"
	"time"

	"github.com/johnmartinsson/active-learning-for-audio-data/internal/dataset"
	"github.com/johnmartinsson/active-learning-for-audio-data/internal/storage"
	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/models"
)

type Config struct {
	DataDir      string
	Dataset      string
	MetadataFile string
	EmbeddingDim int
	ScoreWorkers int
	ScoreTimeout time.Duration
	Seed         int64
	DBPath       string
	Logger       Logger
	Ledger       Ledger
	Index        *dataset.Index
}

type Option func(*Config)

func WithDataDir(dir string) Option {
	return func(c *Config) {
		c.DataDir = dir
	}
}

func WithDataset(name string) Option {
	return func(c *Config) {
		c.Dataset = name
	}
}

func WithMetadataFile(file string) Option {
	return func(c *Config) {
		c.MetadataFile = file
	}
}

func WithEmbeddingDim(dim int) Option {
	return func(c *Config) {
		c.EmbeddingDim = dim
	}
}

// WithScoreWorkers bounds the number of recordings scored in parallel.
func WithScoreWorkers(n int) Option {
	return func(c *Config) {
		c.ScoreWorkers = n
	}
}

// WithScoreTimeout bounds scored batch selection. Zero disables the timeout.
func WithScoreTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ScoreTimeout = d
	}
}

// WithSeed makes the cold-start prototypes and random sampling reproducible.
func WithSeed(seed int64) Option {
	return func(c *Config) {
		c.Seed = seed
	}
}

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithLedger(ledger Ledger) Option {
	return func(c *Config) {
		c.Ledger = ledger
	}
}

// WithIndex uses a prebuilt dataset index instead of loading the metadata file.
func WithIndex(idx *dataset.Index) Option {
	return func(c *Config) {
		c.Index = idx
	}
}

func defaultConfig() *Config {
	return &Config{
		DataDir:      "data",
		Dataset:      "default",
		MetadataFile: "metadata.json",
		EmbeddingDim: models.EmbeddingDim,
		ScoreTimeout: 30 * time.Second,
		DBPath:       storage.DefaultDBFile,
	}
}

// rngs derives the two independent random sources used by the service.
func (c *Config) rngs() (prototypes, sampling *rand.Rand) {
	seed := c.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed)), rand.New(rand.NewSource(seed ^ 0x5DEECE66D))
}
