package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mnemohq/mnemo/internal/config"
	"github.com/mnemohq/mnemo/internal/logger"
	"github.com/mnemohq/mnemo/internal/observability"
	"github.com/mnemohq/mnemo/internal/server"
	"github.com/mnemohq/mnemo/pkg/blob"
	"github.com/mnemohq/mnemo/pkg/cache"
	"github.com/mnemohq/mnemo/pkg/jobs"
	"github.com/mnemohq/mnemo/pkg/memory"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the memory service in the foreground",
	Long: `Run the mnemo HTTP server, background embedding retrier and scheduled
maintenance jobs until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, closeLog, err := logger.New(logger.Config{
		Level:    cfg.Logging.Level,
		File:     cfg.Logging.File,
		Console:  true,
		Pretty:   true,
		MaxSize:  cfg.Logging.MaxSize,
		MaxAge:   cfg.Logging.MaxAge,
		Compress: cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer closeLog()

	if err := observability.InitAuditLogger(filepath.Join(cfg.DataDir, "audit.log")); err != nil {
		log.Warn().Err(err).Msg("Audit log unavailable")
	}

	provider := buildProvider(cfg)
	dimension := 0
	if provider != nil {
		dimension = provider.Dimension()
	}

	store, err := memory.OpenStore(memory.StoreConfig{
		Path:      cfg.Storage.Path,
		Logger:    log,
		Dimension: dimension,
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	cacheLayer, err := buildCache(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheLayer.Close()

	blobs, err := blob.NewLocal(cfg.Blob.Dir, log)
	if err != nil {
		return fmt.Errorf("failed to initialize blob storage: %w", err)
	}

	var retrier *memory.EmbedRetrier
	if provider != nil {
		retrier = memory.NewEmbedRetrier(store, provider, memory.RetrierConfig{Logger: log})
		retrier.Start()
		defer retrier.Stop()
	}

	svc := memory.NewService(store, cacheLayer, blobs, provider, retrier, memory.ServiceConfig{
		Weights: memory.Weights{
			Vector:  cfg.Search.VectorWeight,
			Keyword: cfg.Search.KeywordWeight,
			Recency: cfg.Search.RecencyWeight,
		},
		CandidateLimit:  cfg.Search.CandidateLimit,
		RecencyHalfLife: time.Duration(cfg.Search.RecencyHalfLifeHours) * time.Hour,
		EnforceACL:      cfg.ACL.Enforce,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := jobs.NewScheduler(svc, jobs.Config{
		SummarizeSchedule: cfg.Jobs.SummarizeSchedule,
		PromoteSchedule:   cfg.Jobs.PromoteSchedule,
		PruneSchedule:     cfg.Jobs.PruneSchedule,
		PromoteMinRefs:    cfg.Jobs.PromoteMinRefs,
		PromoteLookback:   time.Duration(cfg.Jobs.PromoteLookbackD) * 24 * time.Hour,
		PruneAge:          time.Duration(cfg.Jobs.PruneAgeDays) * 24 * time.Hour,
		BatchSize:         cfg.Jobs.BatchSize,
	}, log)
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job scheduler: %w", err)
	}
	defer scheduler.Stop()

	srv, err := server.New(server.Config{
		Port:         cfg.Server.Port,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}, svc, log)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	// Log level follows config file edits without a restart.
	watcher, err := config.NewWatcher(loader, log, func(next *config.Config) {
		if level, err := zerolog.ParseLevel(next.Logging.Level); err == nil {
			zerolog.SetGlobalLevel(level)
		}
	})
	if err != nil {
		log.Debug().Err(err).Msg("Config watcher not started")
	} else {
		defer watcher.Stop()
	}

	log.Info().Int("port", cfg.Server.Port).Str("db", cfg.Storage.Path).
		Str("cache", cfg.Cache.Backend).Msg("Mnemo is ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	return srv.Stop()
}

func buildProvider(cfg *config.Config) memory.EmbeddingProvider {
	switch cfg.Embedding.Provider {
	case "openai":
		return memory.NewOpenAIProvider(cfg.Embedding.APIKey, cfg.Embedding.Model)
	case "stub":
		return memory.NewStubProvider(cfg.Embedding.Dimension)
	default:
		return nil
	}
}

func buildCache(cfg *config.Config) (cache.Cache, error) {
	cc := cache.Config{
		WorkingSetTTL: cfg.Cache.WorkingSetTTL(),
		WorkingSetMax: cfg.Cache.WorkingSetMax,
		SearchTTL:     cfg.Cache.SearchTTL(),
	}
	if cfg.Cache.Backend == "redis" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return cache.NewRedis(ctx, cfg.Cache.RedisURL, cc)
	}
	return cache.NewMemory(cc), nil
}
