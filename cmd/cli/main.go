package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/johnmartinsson/active-learning-for-audio-data/internal/config"
	"github.com/johnmartinsson/active-learning-for-audio-data/internal/dataset"
	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/annotator"
	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/logger"
)

// globalFlags are shared by every subcommand and override the loaded config.
type globalFlags struct {
	configPath string
	dataDir    string
	dataset    string
	dbPath     string
	logLevel   string
}

// app is the state a command needs once the persistent flags are resolved.
type app struct {
	flags globalFlags
	cfg   *config.Root
	log   *logger.Logger
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.flags.configPath)
	if err != nil {
		return err
	}
	if a.flags.dataDir != "" {
		cfg.Data.Dir = a.flags.dataDir
	}
	if a.flags.dataset != "" {
		cfg.Data.Dataset = a.flags.dataset
	}
	if a.flags.dbPath != "" {
		cfg.Storage.DBPath = a.flags.dbPath
	}
	if a.flags.logLevel != "" {
		cfg.Log.Level = a.flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.log = logger.New(logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		Colorize:   true,
		ShowTime:   true,
		TimeFormat: "15:04:05",
		Output:     cmd.ErrOrStderr(),
	})
	return nil
}

func (a *app) layout() dataset.Layout {
	return dataset.Layout{DataDir: a.cfg.Data.Dir, Dataset: a.cfg.Data.Dataset}
}

// service creates the annotation service with the resolved configuration
func (a *app) service() (annotator.Service, error) {
	return annotator.NewService(
		annotator.WithDataDir(a.cfg.Data.Dir),
		annotator.WithDataset(a.cfg.Data.Dataset),
		annotator.WithMetadataFile(a.cfg.Data.MetadataFile),
		annotator.WithEmbeddingDim(a.cfg.Engine.EmbeddingDim),
		annotator.WithScoreWorkers(a.cfg.Engine.ScoreWorkers),
		annotator.WithScoreTimeout(a.cfg.Engine.ScoreTimeout),
		annotator.WithSeed(a.cfg.Engine.Seed),
		annotator.WithDBPath(a.cfg.Storage.DBPath),
		annotator.WithLogger(a.log),
	)
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "annotator",
		Short:         "Active learning annotation tool for audio datasets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "Path to YAML config (default $ANNOTATOR_CONFIG or ./annotator.yaml)")
	pf.StringVar(&a.flags.dataDir, "data", "", "Root directory holding the datasets")
	pf.StringVar(&a.flags.dataset, "dataset", "", "Dataset to operate on")
	pf.StringVar(&a.flags.dbPath, "db", "", "Path to the SQLite submission ledger")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "Log level (debug, info, warn, error, silent)")

	root.AddCommand(
		newStatsCmd(a),
		newListCmd(a),
		newPrototypesCmd(a),
		newSegmentsCmd(a),
		newBatchCmd(a),
		newSubmitCmd(a),
		newHistoryCmd(a),
		newVerifyCmd(a),
		newReindexCmd(a),
		newScanCmd(a),
		newSpectrogramsCmd(a),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}
