package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/config"
)

const publishTimeout = 2 * time.Second

// envelope carries one encoded frame between instances. Frame travels as
// base64 so it arrives byte for byte.
type envelope struct {
	Origin string    `json:"origin"`
	From   uuid.UUID `json:"from"`
	Frame  []byte    `json:"frame"`
}

// fanout publishes frame for members connected to other instances.
func (r *Relay) fanout(examID, from uuid.UUID, frame []byte) {
	if r.rdb == nil {
		return
	}
	data, err := json.Marshal(envelope{Origin: r.instanceID, From: from, Frame: frame})
	if err != nil {
		r.log.Warn().Err(err).Msg("Failed to marshal fanout envelope")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	channel := config.CacheKey.ExamSignalChannel(examID.String())
	if err := r.rdb.Publish(ctx, channel, data).Err(); err != nil {
		r.log.Warn().Err(err).Str("channel", channel).Msg("Failed to publish signal frame")
	}
}

// subscribe delivers frames published by other instances to local members
// until the returned cancel func is called. It returns at once; the Redis
// subscription is opened by the background goroutine so callers holding
// r.mu never wait on the network.
func (r *Relay) subscribe(examID uuid.UUID) context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	channel := config.CacheKey.ExamSignalChannel(examID.String())

	go func() {
		pubsub := r.rdb.Subscribe(ctx, channel)
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
				var env envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					r.log.Warn().Err(err).Str("channel", channel).Msg("Discarding malformed signal envelope")
					continue
				}
				if env.Origin == r.instanceID {
					continue
				}
				r.deliver(examID, env.From, env.Frame)
			}
		}
	}()

	return cancel
}
