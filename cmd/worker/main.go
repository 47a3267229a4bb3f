package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"reelforge/internal/adapter/repo"
	"reelforge/internal/cache"
	"reelforge/internal/domain"
	"reelforge/internal/infra"
	"reelforge/internal/media"
	"reelforge/internal/pipeline"
	providermedia "reelforge/internal/providers/media"
	"reelforge/internal/storage"
)

const releaseBackoff = 30 * time.Second

type taskRunner struct {
	ctx           context.Context
	queue         *repo.TaskQueuePG
	workers       *pipeline.Workers
	logger        infra.Logger
	claimInterval time.Duration
	maxAttempts   int
}

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}
	provider, err := providermedia.NewClient(providermedia.Options{
		APIKey:     cfg.ProviderAPIKey,
		BaseURL:    cfg.ProviderBaseURL,
		Model:      cfg.ProviderModel,
		HTTPClient: httpClient,
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure media provider")
	}
	if cfg.ProviderAPIKey == "" {
		logger.Warn().Msg("worker: provider api key missing, using synthetic generation")
	}

	var pollCache cache.Cache
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: redis connection failed")
		}
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("worker: redis unreachable, poll cache disabled")
		} else {
			pollCache = redisCache
		}
	}

	queue := repo.NewTaskQueue(pool)
	workers := pipeline.NewWorkers(pipeline.Deps{
		Jobs:     repo.NewJobStore(pool),
		Ledger:   repo.NewCreditLedger(pool),
		Queue:    queue,
		Provider: provider,
		Merger:   media.NewEngine(cfg.FFmpegPath, httpClient, logger),
		Store:    fileStore,
		Cache:    pollCache,
		Logger:   logger,
		Config: pipeline.Config{
			PollInitialDelay: cfg.PollInitialDelay,
			PollInterval:     cfg.PollInterval,
			MaxPollDuration:  cfg.MaxPollDuration,
			MaxPollAttempts:  cfg.MaxPollAttempts,
		},
	})

	runner := &taskRunner{
		ctx:           ctx,
		queue:         queue,
		workers:       workers,
		logger:        logger,
		claimInterval: cfg.TaskClaimInterval,
		maxAttempts:   cfg.MaxTaskAttempts,
	}

	if err := runner.Run(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func (r *taskRunner) Run() error {
	r.logger.Info().Msg("worker: started")
	for {
		select {
		case <-r.ctx.Done():
			return r.ctx.Err()
		default:
		}

		task, err := r.queue.Claim(r.ctx)
		if err != nil {
			if errors.Is(err, domain.ErrNoTaskAvailable) {
				r.sleep()
				continue
			}
			if r.ctx.Err() != nil {
				return r.ctx.Err()
			}
			r.logger.Error().Err(err).Msg("worker: failed to claim task")
			r.sleep()
			continue
		}

		r.handle(*task)
	}
}

// handle runs one claimed task to an outcome. A nil Dispatch means the task
// did its work (job-level failures included); an error means infrastructure
// trouble and the task is released for another attempt, up to the cap.
func (r *taskRunner) handle(task domain.Task) {
	r.logger.Info().
		Str("task_id", task.ID).
		Str("task_type", string(task.Type)).
		Str("job_id", task.JobID).
		Int("attempt", task.Attempt).
		Msg("worker: picked task")

	err := r.workers.Dispatch(r.ctx, task)
	if err == nil {
		if err := r.queue.Complete(r.ctx, task.ID); err != nil {
			r.logger.Error().Err(err).Str("task_id", task.ID).Msg("worker: failed to complete task")
		}
		return
	}

	if task.Attempt >= r.maxAttempts {
		r.logger.Error().Err(err).
			Str("task_id", task.ID).
			Str("job_id", task.JobID).
			Int("attempt", task.Attempt).
			Msg("worker: task attempts exhausted, abandoning job")
		if err := r.workers.Abandon(r.ctx, task); err != nil {
			r.logger.Error().Err(err).Str("job_id", task.JobID).Msg("worker: failed to abandon job")
		}
		if err := r.queue.Complete(r.ctx, task.ID); err != nil {
			r.logger.Error().Err(err).Str("task_id", task.ID).Msg("worker: failed to drop task")
		}
		return
	}

	delay := time.Duration(task.Attempt) * releaseBackoff
	r.logger.Warn().Err(err).
		Str("task_id", task.ID).
		Int("attempt", task.Attempt).
		Dur("retry_in", delay).
		Msg("worker: task failed, releasing for retry")
	if err := r.queue.Release(r.ctx, task.ID, delay); err != nil {
		r.logger.Error().Err(err).Str("task_id", task.ID).Msg("worker: failed to release task")
	}
}

func (r *taskRunner) sleep() {
	select {
	case <-r.ctx.Done():
	case <-time.After(r.claimInterval):
	}
}
