package notifier

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/proktor-backend/internal/config"
)

// Publisher pushes events into Redis Pub/Sub. Each event lands on three
// channels: the global instructor feed, the exam's feed, and the
// attempt's feed, so subscribers pick their own granularity.
type Publisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewPublisher creates a new Publisher.
func NewPublisher(rdb *redis.Client, log zerolog.Logger) *Publisher {
	return &Publisher{
		rdb: rdb,
		log: log.With().Str("component", "notifier_publisher").Logger(),
	}
}

// Publish sends the event. Delivery is best-effort: a Redis failure is
// logged, never surfaced to the caller, so the request path stays up
// when the event bus is down.
func (p *Publisher) Publish(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Str("type", string(ev.Type)).Msg("Marshal event failed")
		return
	}

	pipe := p.rdb.Pipeline()
	pipe.Publish(ctx, config.CacheKey.InstructorEventsChannel(), raw)
	pipe.Publish(ctx, config.CacheKey.ExamEventsChannel(ev.ExamID.String()), raw)
	pipe.Publish(ctx, config.CacheKey.AttemptEventsChannel(ev.AttemptID.String()), raw)

	if _, err := pipe.Exec(ctx); err != nil {
		p.log.Warn().Err(err).Str("type", string(ev.Type)).Msg("Publish event failed")
	}
}
