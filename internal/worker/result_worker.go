package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/proktor-backend/internal/config"
	"github.com/stemsi/proktor-backend/internal/repository"
	"github.com/stemsi/proktor-backend/internal/service"
)

const ResultPollTimeout = 1 * time.Second

// ResultWorker consumes persist_results_queue. For each finalized attempt
// it replaces the autosaved rows with the graded set, then clears the live
// Redis hash. Grading already happened in RAM on the submit path; this is
// purely the durable write-behind.
type ResultWorker struct {
	answerRepo *repository.AnswerRepository
	rdb        *redis.Client
	log        zerolog.Logger
}

// NewResultWorker creates a new ResultWorker.
func NewResultWorker(answerRepo *repository.AnswerRepository, rdb *redis.Client, log zerolog.Logger) *ResultWorker {
	return &ResultWorker{
		answerRepo: answerRepo,
		rdb:        rdb,
		log:        log.With().Str("component", "result_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *ResultWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ResultWorker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Draining remaining results...")
			w.drain(context.Background())
			w.log.Info().Msg("ResultWorker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *ResultWorker) processNext(ctx context.Context) {
	item, err := w.rdb.BLPop(ctx, ResultPollTimeout, config.WorkerKey.PersistResultsQueue).Result()
	if err != nil {
		if err != redis.Nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}

	if len(item) < 2 {
		return
	}

	if err := w.persist(ctx, []byte(item[1])); err != nil {
		w.log.Error().Err(err).Msg("Persist error, requeueing in 5s")
		w.rdb.RPush(ctx, config.WorkerKey.PersistResultsQueue, item[1])
		time.Sleep(5 * time.Second)
	}
}

func (w *ResultWorker) persist(ctx context.Context, raw []byte) error {
	var job service.GradedResultJob
	if err := json.Unmarshal(raw, &job); err != nil {
		w.log.Error().Err(err).Msg("Invalid JSON payload, dropping")
		return nil
	}

	if err := w.answerRepo.ReplaceGraded(ctx, job.AttemptID, job.Answers); err != nil {
		return err
	}

	// The attempt is terminal; the autosave hash is dead weight now.
	answersKey := config.CacheKey.AttemptAnswersKey(job.AttemptID.String())
	if err := w.rdb.Del(ctx, answersKey).Err(); err != nil {
		w.log.Warn().Err(err).Str("attempt_id", job.AttemptID.String()).Msg("Failed to clear answer hash")
	}

	w.log.Debug().
		Str("attempt_id", job.AttemptID.String()).
		Int("answers", len(job.Answers)).
		Msg("Graded result persisted")
	return nil
}

// drain processes all remaining items in the queue before shutdown.
func (w *ResultWorker) drain(ctx context.Context) {
	drained := 0
	for {
		item, err := w.rdb.LPop(ctx, config.WorkerKey.PersistResultsQueue).Result()
		if err != nil {
			break
		}

		if err := w.persist(ctx, []byte(item)); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(ctx, config.WorkerKey.PersistResultsQueue, item)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining results")
	}
}
