package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/chatpress/internal/ai"
	"github.com/xxxsen/chatpress/internal/cache"
	"github.com/xxxsen/chatpress/internal/checkpoint"
	"github.com/xxxsen/chatpress/internal/config"
	"github.com/xxxsen/chatpress/internal/embedcache"
	"github.com/xxxsen/chatpress/internal/generate"
	"github.com/xxxsen/chatpress/internal/job"
	"github.com/xxxsen/chatpress/internal/pipeline"
	"github.com/xxxsen/chatpress/internal/pkg/errs"
	"github.com/xxxsen/chatpress/internal/retriever"
	"github.com/xxxsen/chatpress/internal/schedule"
	"github.com/xxxsen/chatpress/internal/sink"
	"github.com/xxxsen/chatpress/internal/source"
	"github.com/xxxsen/chatpress/internal/statusapi"
	"github.com/xxxsen/chatpress/internal/vecindex"
	"github.com/xxxsen/chatpress/internal/window"
)

func main() {
	var configPath string
	var cronSpec string
	var tier string
	var allTiers bool

	rootCmd := &cobra.Command{
		Use:   "chatpress",
		Short: "turn chat streams into published documents",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "process the message stream once, or on a cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runPipeline(cfg, cronSpec)
		},
	}
	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	runCmd.Flags().StringVar(&cronSpec, "cron", "", "cron spec for watch mode, empty runs once")

	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "cache maintenance",
	}
	invalidateCmd := &cobra.Command{
		Use:   "invalidate",
		Short: "drop cached content for one tier or all tiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return invalidateCache(cfg, tier, allTiers)
		},
	}
	invalidateCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	invalidateCmd.Flags().StringVar(&tier, "tier", "", "tier to invalidate")
	invalidateCmd.Flags().BoolVar(&allTiers, "all", false, "invalidate every tier")
	cacheCmd.AddCommand(invalidateCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cacheCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", path))
	return cfg, nil
}

func runPipeline(cfg *config.Config, cronSpec string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := ai.NewProvider(cfg.AI.Provider, cfg.AI.Data)
	if err != nil {
		return fmt.Errorf("create ai provider: %w", err)
	}
	budget := ai.NewRequestBudget(
		cfg.AI.RatePerSecond,
		cfg.AI.Burst,
		cfg.AI.MaxConcurrency,
		cfg.AI.MaxRetries,
		time.Duration(cfg.AI.TimeoutSeconds)*time.Second,
	)
	gen := ai.NewBudgetedGenerator(ai.NewGenerator(provider, cfg.AI.GenerateModel), budget)
	embedder := ai.NewBudgetedEmbedder(ai.NewEmbedder(provider, cfg.AI.EmbedModel), budget)
	embedder = embedcache.WrapLruCacheToEmbedder(
		embedder,
		cfg.AI.EmbedCacheSize,
		time.Duration(cfg.AI.EmbedCacheTTLMinute)*time.Minute,
	)

	rawCache, err := cache.New(cfg.Cache.Type, cfg.Cache.Data)
	if err != nil {
		return fmt.Errorf("create cache: %w", err)
	}
	measured := cache.NewMeasured(rawCache)

	index, err := vecindex.New(cfg.VectorIndex.Type, cfg.VectorIndex.Data)
	if err != nil {
		return fmt.Errorf("create vector index: %w", err)
	}
	src, err := source.New(cfg.Source.Type, cfg.Source.Data)
	if err != nil {
		return fmt.Errorf("create source: %w", err)
	}
	snk, err := sink.New(cfg.Sink.Type, cfg.Sink.Data)
	if err != nil {
		return fmt.Errorf("create sink: %w", err)
	}
	windower, err := window.New(ctx, window.Config{
		Policy:            window.Policy(cfg.Window.Policy),
		Size:              cfg.Window.Size,
		Duration:          time.Duration(cfg.Window.DurationMinutes) * time.Minute,
		MaxBytes:          cfg.Window.MaxBytes,
		OverlapRatio:      cfg.Window.OverlapRatio,
		MaxWindowTokens:   cfg.Window.MaxWindowTokens,
		MinWindowMessages: cfg.Window.MinWindowMessages,
	})
	if err != nil {
		return fmt.Errorf("create windower: %w", err)
	}

	retr := retriever.New(embedder, index, retriever.Config{
		ChunkMaxTokens:     cfg.Retrieval.ChunkMaxTokens,
		ChunkOverlapTokens: cfg.Retrieval.ChunkOverlapTokens,
		PerChunkTopK:       cfg.Retrieval.PerChunkTopK,
		TopN:               cfg.Retrieval.TopN,
		MinSimilarity:      cfg.Retrieval.MinSimilarity,
		QueryConcurrency:   cfg.Retrieval.QueryConcurrency,
	})
	runner := pipeline.NewRunner(pipeline.RunnerParams{
		Windower:           windower,
		Checkpoints:        checkpoint.NewStore(cfg.CheckpointPath),
		Cache:              measured,
		Retriever:          retr,
		Writer:             generate.NewPromptWriter(gen, cfg.AI.Instructions),
		Sink:               snk,
		Index:              index,
		Embedder:           embedder,
		ChunkMaxTokens:     cfg.Retrieval.ChunkMaxTokens,
		ChunkOverlapTokens: cfg.Retrieval.ChunkOverlapTokens,
		ContinueOnError:    cfg.ContinueOnError,
	})

	var statusSrv *statusapi.Server
	if cfg.StatusAPI.Enable {
		statusSrv = statusapi.New(cfg.StatusAPI.Port, measured.Snapshot)
		statusSrv.Start()
		defer statusSrv.Shutdown(context.Background())
	}

	runOnce := func(ctx context.Context) error {
		msgs, err := src.ReadMessages(ctx)
		if err != nil {
			return fmt.Errorf("read messages: %w", err)
		}
		sum, err := runner.Run(ctx, msgs)
		if sum != nil && statusSrv != nil {
			statusSrv.SetSummary(sum)
		}
		return err
	}

	if cronSpec == "" {
		return runOnce(ctx)
	}

	// Watch mode: one immediate pass, then cron-driven reruns until
	// the process is signalled. A checkpoint write failure still aborts
	// the watch: without durable progress every rerun starts over.
	if err := runOnce(ctx); err != nil {
		if errs.IsCheckpointIO(err) {
			return err
		}
		logutil.GetLogger(ctx).Error("initial run failed", zap.Error(err))
	}
	sched := schedule.NewCronScheduler()
	if err := sched.AddJob(job.NewPipelineJob(runOnce), cronSpec); err != nil {
		return err
	}
	sched.Start(ctx)
	<-ctx.Done()
	sched.Stop()
	return nil
}

func invalidateCache(cfg *config.Config, tier string, allTiers bool) error {
	ctx := context.Background()
	c, err := cache.New(cfg.Cache.Type, cfg.Cache.Data)
	if err != nil {
		return fmt.Errorf("create cache: %w", err)
	}
	if allTiers {
		if err := c.InvalidateAll(ctx); err != nil {
			return err
		}
		logutil.GetLogger(ctx).Info("all cache tiers invalidated")
		return nil
	}
	if tier == "" {
		return fmt.Errorf("--tier or --all is required")
	}
	if err := c.Invalidate(ctx, tier); err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("cache tier invalidated", zap.String("tier", tier))
	return nil
}
