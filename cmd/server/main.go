package main

import (
	"flag"
	"log"
	"strings"

	"github.com/johnmartinsson/active-learning-for-audio-data/internal/config"
	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/annotator"
	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/logger"
)

var (
	configPath     string
	port           string
	dataDir        string
	dataset        string
	dbPath         string
	allowedOrigins string
)

func init() {
	flag.StringVar(&configPath, "config", "", "Path to YAML config (default $ANNOTATOR_CONFIG or ./annotator.yaml)")
	flag.StringVar(&port, "port", "", "HTTP server port")
	flag.StringVar(&dataDir, "data", "", "Root directory holding the datasets")
	flag.StringVar(&dataset, "dataset", "", "Dataset to annotate")
	flag.StringVar(&dbPath, "db", "", "Path to SQLite submission ledger")
	flag.StringVar(&allowedOrigins, "origins", "", "Comma-separated list of allowed CORS origins (use * for all)")
}

// applyFlags overrides the loaded configuration with explicitly set flags.
func applyFlags(cfg *config.Root) {
	if port != "" {
		cfg.Server.Port = port
	}
	if dataDir != "" {
		cfg.Data.Dir = dataDir
	}
	if dataset != "" {
		cfg.Data.Dataset = dataset
	}
	if dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}
	if allowedOrigins == "*" {
		cfg.Server.AllowedOrigins = []string{"*"}
	} else if allowedOrigins != "" {
		cfg.Server.AllowedOrigins = nil
		for _, o := range strings.Split(allowedOrigins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.Server.AllowedOrigins = append(cfg.Server.AllowedOrigins, o)
			}
		}
	}
}

func main() {
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	lg := logger.GetLogger()
	lg.SetLevel(logger.ParseLevel(cfg.Log.Level))

	service, err := annotator.NewService(
		annotator.WithDataDir(cfg.Data.Dir),
		annotator.WithDataset(cfg.Data.Dataset),
		annotator.WithMetadataFile(cfg.Data.MetadataFile),
		annotator.WithEmbeddingDim(cfg.Engine.EmbeddingDim),
		annotator.WithScoreWorkers(cfg.Engine.ScoreWorkers),
		annotator.WithScoreTimeout(cfg.Engine.ScoreTimeout),
		annotator.WithSeed(cfg.Engine.Seed),
		annotator.WithDBPath(cfg.Storage.DBPath),
		annotator.WithLogger(lg),
	)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}
	defer service.Close()

	server := NewServer(service, &ServerConfig{
		Port:           cfg.Server.Port,
		DataDir:        cfg.Data.Dir,
		Dataset:        cfg.Data.Dataset,
		DBPath:         cfg.Storage.DBPath,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, lg.WithPrefix("[http]"))
	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
