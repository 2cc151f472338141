// Package monitor fans live reconciliation events out to proctor monitors.
// With Redis configured events travel over exam:<id>:monitor so every
// instance sees them; without it they stay inside this process.
package monitor

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const subscriberBuffer = 64

// Broker publishes and subscribes monitor events. rdb may be nil.
type Broker struct {
	rdb *redis.Client
	log zerolog.Logger

	mu   sync.Mutex
	subs map[uuid.UUID]map[chan []byte]struct{}
}

// NewBroker creates a new Broker.
func NewBroker(rdb *redis.Client, log zerolog.Logger) *Broker {
	return &Broker{
		rdb:  rdb,
		log:  log.With().Str("component", "monitor_broker").Logger(),
		subs: make(map[uuid.UUID]map[chan []byte]struct{}),
	}
}

// Publish sends the event to every monitor of its exam. Delivery is best-effort.
func (b *Broker) Publish(ctx context.Context, event model.MonitorEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.log.Warn().Err(err).Msg("Failed to marshal monitor event")
		return
	}

	if b.rdb != nil {
		channel := config.CacheKey.ExamMonitorChannel(event.ExamID.String())
		if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
			b.log.Warn().Err(err).Str("channel", channel).Msg("Failed to publish monitor event")
		}
		return
	}
	b.deliverLocal(event.ExamID, payload)
}

func (b *Broker) deliverLocal(examID uuid.UUID, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[examID] {
		select {
		case ch <- payload:
		default:
			b.log.Warn().Str("exam_id", examID.String()).Msg("Monitor subscriber lagging, event dropped")
		}
	}
}

// Subscribe streams the raw JSON events of one exam until ctx ends or the
// returned cancel func is called.
func (b *Broker) Subscribe(ctx context.Context, examID uuid.UUID) (<-chan []byte, func()) {
	if b.rdb != nil {
		return b.subscribeRedis(ctx, examID)
	}

	ch := make(chan []byte, subscriberBuffer)
	b.mu.Lock()
	set, ok := b.subs[examID]
	if !ok {
		set = make(map[chan []byte]struct{})
		b.subs[examID] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[examID], ch)
			if len(b.subs[examID]) == 0 {
				delete(b.subs, examID)
			}
		})
	}
}

func (b *Broker) subscribeRedis(ctx context.Context, examID uuid.UUID) (<-chan []byte, func()) {
	ctx, cancel := context.WithCancel(ctx)
	pubsub := b.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID.String()))
	out := make(chan []byte, subscriberBuffer)

	go func() {
		defer pubsub.Close()
		in := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					b.log.Warn().Str("exam_id", examID.String()).Msg("Monitor subscriber lagging, event dropped")
				}
			}
		}
	}()

	return out, cancel
}

// Subscribers returns the number of local subscribers of an exam.
func (b *Broker) Subscribers(examID uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[examID])
}
