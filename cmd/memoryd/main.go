package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"memoryd/internal/config"
	"memoryd/internal/episodic"
	"memoryd/internal/fsrs"
	"memoryd/internal/httpapi"
	"memoryd/internal/jobs"
	"memoryd/internal/jobs/inprocess"
	"memoryd/internal/jobs/redisdedupe"
	"memoryd/internal/llm"
	"memoryd/internal/observability"
	"memoryd/internal/queue"
	"memoryd/internal/retrieval"
	"memoryd/internal/review"
	"memoryd/internal/segmentation"
	"memoryd/internal/semantic"
	"memoryd/internal/store"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("memoryd")
	}
}

// segmentationRunnerRef breaks the construction cycle between the job
// dispatcher (which needs a SegmentationRunner up front) and the
// segmentation engine (which needs the dispatcher as its review and
// consolidation sink). The dispatcher is built against this empty ref, the
// engine is built against the dispatcher, then the ref is pointed at the
// engine before any job can run.
type segmentationRunnerRef struct {
	engine *segmentation.Engine
}

func (r *segmentationRunnerRef) Run(ctx context.Context, cid uuid.UUID, fenceCount int) error {
	return r.engine.Run(ctx, cid, fenceCount)
}

func run() error {
	cfg, err := config.Load(getenv("MEMORYD_CONFIG", "config.yaml"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger(cfg.Log.Path, cfg.Log.Level)

	baseCtx := context.Background()

	pool, err := store.OpenPool(baseCtx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("open database pool: %w", err)
	}
	defer pool.Close()

	if err := store.Bootstrap(baseCtx, pool, cfg.LLM.EmbeddingDims); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}

	shutdownOTel, err := observability.InitOTel(baseCtx, cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel unavailable, continuing without tracing/metrics")
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownOTel(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("otel shutdown")
			}
		}()
	}

	var dedupe jobs.DedupeStore
	if cfg.Jobs.RedisAddr != "" {
		redisDedupe, err := redisdedupe.New(cfg.Jobs.RedisAddr)
		if err != nil {
			log.Warn().Err(err).Msg("redis dedupe store unavailable, running without job idempotency")
		} else {
			dedupe = redisDedupe
			defer func() {
				if cerr := redisDedupe.Close(); cerr != nil {
					log.Error().Err(cerr).Msg("error closing redis dedupe client")
				}
			}()
		}
	}

	llmClient := llm.NewCachingClient(
		llm.NewOpenAIClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.ChatModel, cfg.LLM.EmbeddingModel, cfg.LLM.EmbeddingDims),
		embeddingCacher(cfg),
	)
	scheduler := fsrs.NewScheduler(cfg.LLM.DesiredRetention)

	q := queue.New(pool, queue.Config{
		WindowBase:  cfg.Segmentation.WindowBase,
		WindowMax:   cfg.Segmentation.WindowMax,
		MinTrigger:  cfg.Segmentation.MinTrigger,
		FenceTTL:    cfg.Segmentation.FenceTTL,
		TimeTrigger: cfg.Segmentation.TimeTrigger,
	})
	episodes := episodic.New(pool, llmClient, scheduler, "cosine")
	facts := semantic.New(pool, llmClient, "cosine")
	consolidator := semantic.NewConsolidator(pool, llmClient, episodes, semantic.Config{
		MinUnconsolidated: cfg.Segmentation.MinUnconsolidated,
		RelatedFactsLimit: cfg.Segmentation.RelatedFactsLimit,
		DedupeThreshold:   cfg.Segmentation.DedupeThreshold,
		FlashbulbSurprise: cfg.Segmentation.FlashbulbThreshold,
	})
	reviewer := review.New(episodes, llmClient, scheduler)

	segRunner := &segmentationRunnerRef{}
	dispatcher := inprocess.New(segRunner, reviewer, consolidator, dedupe, inprocess.Config{
		Workers:   cfg.Jobs.Workers,
		DedupeTTL: cfg.Jobs.DedupeTTL,
	})
	segRunner.engine = segmentation.New(q, episodes, llmClient, dispatcher, dispatcher)

	coordinator := retrieval.New(facts, episodes, q)
	srv := httpapi.NewServer(q, coordinator, dispatcher)

	httpServer := &http.Server{Addr: cfg.HTTP.Addr, Handler: srv}

	ctx, cancel := signal.NotifyContext(baseCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("memoryd listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Jobs.ShutdownGrace)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}
	dispatcher.Shutdown(cfg.Jobs.ShutdownGrace)

	log.Info().Msg("memoryd stopped")
	return nil
}

// embeddingCacher prefers a Redis-backed cache (shared across restarts and,
// eventually, instances) and falls back to the in-process LRU cache when
// Redis isn't configured or isn't reachable.
func embeddingCacher(cfg *config.Config) llm.EmbeddingCacher {
	if cfg.Jobs.RedisAddr != "" {
		cache, err := llm.NewRedisEmbeddingCache(cfg.Jobs.RedisAddr, llm.DefaultEmbeddingCacheTTL)
		if err == nil {
			return cache
		}
		log.Warn().Err(err).Msg("redis embedding cache unavailable, falling back to in-process cache")
	}
	return llm.NewEmbeddingCache(llm.EmbeddingCacheConfig{
		MaxSize: llm.DefaultEmbeddingCacheSize,
		TTL:     llm.DefaultEmbeddingCacheTTL,
	})
}
