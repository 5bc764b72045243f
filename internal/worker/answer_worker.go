package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/proktor-backend/internal/config"
	"github.com/stemsi/proktor-backend/internal/repository"
)

const (
	AnswerBatchSize    = 100
	AnswerBatchTimeout = 2 * time.Second
	AnswerPollTimeout  = 1 * time.Second
)

// AnswerWorker consumes persist_answers_queue and writes autosaved answers
// to PostgreSQL in batches. The Redis hash remains the live copy; these
// rows are the crash-recovery record.
type AnswerWorker struct {
	answerRepo *repository.AnswerRepository
	rdb        *redis.Client
	log        zerolog.Logger
}

// NewAnswerWorker creates a new AnswerWorker.
func NewAnswerWorker(answerRepo *repository.AnswerRepository, rdb *redis.Client, log zerolog.Logger) *AnswerWorker {
	return &AnswerWorker{
		answerRepo: answerRepo,
		rdb:        rdb,
		log:        log.With().Str("component", "answer_worker").Logger(),
	}
}

// Start begins the worker loop with batching. Call in a goroutine.
func (w *AnswerWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AnswerWorker started")

	batch := make([]repository.AnswerRow, 0, AnswerBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= AnswerBatchSize || time.Since(lastFlush) >= AnswerBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, AnswerPollTimeout, config.WorkerKey.PersistAnswersQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var row repository.AnswerRow
			if err := json.Unmarshal([]byte(item[1]), &row); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, row)
		}
	}
}

// flushSafe writes a batch, falling back to per-row upserts and requeueing
// anything that still fails.
func (w *AnswerWorker) flushSafe(ctx context.Context, batch []repository.AnswerRow) {
	if len(batch) == 0 {
		return
	}

	if err := w.answerRepo.UpsertBatch(ctx, batch); err == nil {
		return
	} else {
		w.log.Warn().Err(err).Int("batch", len(batch)).Msg("Batch upsert failed, using fallback")
	}

	for _, row := range batch {
		if err := w.answerRepo.Upsert(ctx, row); err != nil {
			w.log.Error().Err(err).
				Str("attempt_id", row.AttemptID.String()).
				Msg("Single upsert failed, requeueing")
			raw, _ := json.Marshal(row)
			w.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, raw)
		}
	}
}
