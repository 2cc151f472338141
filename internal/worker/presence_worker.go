package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// PresenceSink is where drained presence events end up.
type PresenceSink interface {
	CopyPresence(ctx context.Context, batch []model.PresenceEvent) (int64, error)
	InsertPresence(ctx context.Context, e model.PresenceEvent) error
}

// PresenceWorker drains persist_presence_queue into the proctor_presence
// table in batches.
type PresenceWorker struct {
	sink PresenceSink
	rdb  *redis.Client
	log  zerolog.Logger
}

func NewPresenceWorker(sink PresenceSink, rdb *redis.Client, log zerolog.Logger) *PresenceWorker {
	return &PresenceWorker{
		sink: sink,
		rdb:  rdb,
		log:  log.With().Str("component", "presence_worker").Logger(),
	}
}

// Start runs the worker loop until ctx is cancelled. Call in a goroutine.
func (w *PresenceWorker) Start(ctx context.Context) {
	w.log.Info().Msg("PresenceWorker started")

	buffer := make([]model.PresenceEvent, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// BLPop blocks for PollTimeout and returns immediately if data exists.
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistPresenceQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}

		if len(result) < 2 {
			continue
		}

		event, ok := w.decode(result[1])
		if !ok {
			continue
		}
		buffer = append(buffer, event)
	}
}

// decode parses one queued event. Malformed entries cannot be retried and
// are discarded.
func (w *PresenceWorker) decode(raw string) (model.PresenceEvent, bool) {
	var event model.PresenceEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		w.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed JSON")
		return event, false
	}
	if event.Action != model.PresenceJoined && event.Action != model.PresenceLeft {
		w.log.Error().Str("action", string(event.Action)).Msg("Discarding presence event with unknown action")
		return event, false
	}
	return event, true
}

// flushSafe attempts a bulk copy, then row-by-row inserts, then a requeue.
func (w *PresenceWorker) flushSafe(ctx context.Context, batch []model.PresenceEvent) {
	n, err := w.sink.CopyPresence(ctx, batch)
	if err == nil {
		w.log.Debug().Int64("count", n).Msg("Presence batch persisted")
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
	w.fallbackInsert(ctx, batch)
}

func (w *PresenceWorker) fallbackInsert(ctx context.Context, batch []model.PresenceEvent) {
	var requeueList []model.PresenceEvent
	for _, e := range batch {
		if err := w.sink.InsertPresence(ctx, e); err != nil {
			w.log.Error().Err(err).Str("exam_id", e.ExamID.String()).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, e)
		}
	}
	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *PresenceWorker) requeue(ctx context.Context, items []model.PresenceEvent) {
	if w.rdb == nil {
		w.log.Error().Int("count", len(items)).Msg("No queue to requeue presence events, dropping")
		return
	}
	pipe := w.rdb.Pipeline()
	for _, e := range items {
		data, _ := json.Marshal(e)
		pipe.RPush(ctx, config.WorkerKey.PersistPresenceQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue presence events. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	time.Sleep(2 * time.Second)
}

func (w *PresenceWorker) shutdown(buffer []model.PresenceEvent) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}
