package main

import (
	"context"
	"log"
	"time"

	"deepresearch/backend/internal/brave"
	"deepresearch/backend/internal/config"
	"deepresearch/backend/internal/db"
	"deepresearch/backend/internal/imagegen"
	"deepresearch/backend/internal/openrouter"
	"deepresearch/backend/internal/research"
	"deepresearch/backend/internal/store"
	"deepresearch/backend/internal/workflow"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
)

const purgeInterval = time.Hour

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	database, err := db.Open(cfg)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer database.Close()

	st := store.NewStore(database, cfg.RunTTL)
	if err := st.EnsureSchema(context.Background()); err != nil {
		logger.Fatal("ensure schema", zap.Error(err))
	}

	completer := openrouter.NewClient(cfg, nil)
	models := research.ModelConfig{
		Planning:    cfg.PlanningModel,
		JSON:        cfg.JSONModel,
		Summary:     cfg.SummaryModel,
		LongPage:    cfg.LongPageModel,
		Answer:      cfg.AnswerModel,
		ImagePrompt: cfg.ImagePromptModel,
	}

	fetcher := research.NewPageFetcher(research.FetcherConfig{}, nil)
	searcher := research.NewWebSearcher(brave.NewClient(cfg, nil), fetcher, cfg.ResultsPerQuery)
	summarizer := research.NewSummarizer(completer, models)

	covers := buildCoverGenerator(cfg, logger)

	activities := workflow.NewActivities(
		st,
		research.NewPlanner(completer, models, cfg.MaxQueries),
		research.NewOrchestrator(searcher, summarizer, logger),
		research.NewEvaluator(completer, models, cfg.MaxQueries),
		research.NewReportWriter(completer, models),
		completer,
		models,
		covers,
		logger,
	)

	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNS,
	})
	if err != nil {
		logger.Fatal("dial temporal", zap.Error(err))
	}
	defer temporalClient.Close()

	w := worker.New(temporalClient, cfg.TaskQueue, worker.Options{})
	workflow.Register(w, activities)

	stopPurge := startPurgeLoop(st, logger)
	defer stopPurge()

	logger.Info("worker starting", zap.String("taskQueue", cfg.TaskQueue))
	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Fatal("worker stopped", zap.Error(err))
	}
}

// buildCoverGenerator returns nil when cover generation is not
// configured; runs then complete without a cover image.
func buildCoverGenerator(cfg config.Config, logger *zap.Logger) *imagegen.Generator {
	if cfg.CoverBucket == "" || cfg.TogetherAPIKey == "" {
		logger.Info("cover generation disabled")
		return nil
	}

	objects, err := imagegen.NewGCSObjectStore(context.Background(), cfg.CoverBucket)
	if err != nil {
		logger.Warn("cover storage unavailable, covers disabled", zap.Error(err))
		return nil
	}

	generator := imagegen.NewGenerator(imagegen.NewClient(cfg, nil), objects)
	return &generator
}

// startPurgeLoop deletes expired runs on an interval until the returned
// stop function is called.
func startPurgeLoop(st store.Store, logger *zap.Logger) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(purgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				removed, err := st.PurgeExpired(context.Background())
				if err != nil {
					logger.Warn("purge expired runs", zap.Error(err))
					continue
				}
				if removed > 0 {
					logger.Info("purged expired runs", zap.Int64("count", removed))
				}
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
