// Package config loads the annotator configuration from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/models"
)

type Server struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type Data struct {
	Dir          string `yaml:"dir"`
	Dataset      string `yaml:"dataset"`
	MetadataFile string `yaml:"metadata_file"`
}

type Engine struct {
	EmbeddingDim int           `yaml:"embedding_dim"`
	ScoreWorkers int           `yaml:"score_workers"`
	ScoreTimeout time.Duration `yaml:"score_timeout"`
	// Seed makes cold-start prototypes and random sampling reproducible. 0 seeds from the clock.
	Seed int64 `yaml:"seed"`
}

type Storage struct {
	DBPath string `yaml:"db_path"`
}

type Log struct {
	Level string `yaml:"level"`
}

type Root struct {
	Server  Server  `yaml:"server"`
	Data    Data    `yaml:"data"`
	Engine  Engine  `yaml:"engine"`
	Storage Storage `yaml:"storage"`
	Log     Log     `yaml:"log"`
}

func Default() *Root {
	return &Root{
		Server: Server{Port: "8080", AllowedOrigins: []string{"*"}},
		Data:   Data{Dir: "data", Dataset: "default", MetadataFile: "metadata.json"},
		Engine: Engine{
			EmbeddingDim: models.EmbeddingDim,
			ScoreTimeout: 30 * time.Second,
		},
		Storage: Storage{DBPath: "annotator.sqlite3"},
		Log:     Log{Level: "info"},
	}
}

// Load reads path over the defaults, then applies environment overrides. An empty path
// uses ANNOTATOR_CONFIG when set; a missing file is only an error when named explicitly.
func Load(path string) (*Root, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv("ANNOTATOR_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = "annotator.yaml"
	}

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("opening config: %w", err)
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Root, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PORT", &cfg.Server.Port)
	str("ANNOTATOR_DATA_DIR", &cfg.Data.Dir)
	str("ANNOTATOR_DATASET", &cfg.Data.Dataset)
	str("ANNOTATOR_METADATA_FILE", &cfg.Data.MetadataFile)
	str("ANNOTATOR_DB_PATH", &cfg.Storage.DBPath)
	str("LOG_LEVEL", &cfg.Log.Level)

	if v, ok := lookup("ANNOTATOR_ALLOWED_ORIGINS"); ok && v != "" {
		cfg.Server.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.Server.AllowedOrigins = append(cfg.Server.AllowedOrigins, o)
			}
		}
	}
	if v, ok := lookup("ANNOTATOR_SCORE_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ANNOTATOR_SCORE_WORKERS: %w", err)
		}
		cfg.Engine.ScoreWorkers = n
	}
	if v, ok := lookup("ANNOTATOR_SCORE_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ANNOTATOR_SCORE_TIMEOUT: %w", err)
		}
		cfg.Engine.ScoreTimeout = d
	}
	if v, ok := lookup("ANNOTATOR_SEED"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("ANNOTATOR_SEED: %w", err)
		}
		cfg.Engine.Seed = n
	}
	return nil
}

func (c *Root) Validate() error {
	if c.Data.Dir == "" || c.Data.Dataset == "" {
		return errors.New("data.dir and data.dataset are required")
	}
	if c.Engine.EmbeddingDim < 1 {
		return fmt.Errorf("engine.embedding_dim must be positive, got %d", c.Engine.EmbeddingDim)
	}
	if c.Engine.ScoreTimeout < 0 {
		return fmt.Errorf("engine.score_timeout must not be negative, got %s", c.Engine.ScoreTimeout)
	}
	return nil
}
