package signal

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// PresenceQueue appends presence events to the Redis list drained by the
// presence worker.
type PresenceQueue struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewPresenceQueue creates a new PresenceQueue.
func NewPresenceQueue(rdb *redis.Client, log zerolog.Logger) *PresenceQueue {
	return &PresenceQueue{rdb: rdb, log: log.With().Str("component", "presence_queue").Logger()}
}

func (q *PresenceQueue) Record(ctx context.Context, event model.PresenceEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		q.log.Warn().Err(err).Msg("Failed to marshal presence event")
		return
	}
	if err := q.rdb.RPush(ctx, config.WorkerKey.PersistPresenceQueue, payload).Err(); err != nil {
		q.log.Warn().Err(err).Str("exam_id", event.ExamID.String()).Msg("Failed to queue presence event")
	}
}

// PresenceWriter persists one presence event.
type PresenceWriter interface {
	InsertPresence(ctx context.Context, e model.PresenceEvent) error
}

// DirectPresence writes presence events straight to the record store. It is
// used when no Redis queue is configured.
type DirectPresence struct {
	w   PresenceWriter
	log zerolog.Logger
}

// NewDirectPresence creates a new DirectPresence.
func NewDirectPresence(w PresenceWriter, log zerolog.Logger) *DirectPresence {
	return &DirectPresence{w: w, log: log.With().Str("component", "presence_direct").Logger()}
}

func (d *DirectPresence) Record(ctx context.Context, event model.PresenceEvent) {
	if err := d.w.InsertPresence(ctx, event); err != nil {
		d.log.Warn().Err(err).Str("exam_id", event.ExamID.String()).Msg("Failed to record presence")
	}
}
