// Package signal relays WebRTC signaling messages between the participants
// of one exam. Each exam has its own room; messages never cross rooms.
package signal

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

const (
	defaultSendBuffer     = 64
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 64 << 10
)

// Options tunes per-connection behaviour. Zero values take defaults.
type Options struct {
	SendBuffer     int
	PongWait       time.Duration
	MaxMessageSize int64
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	return o
}

func (o Options) pingPeriod() time.Duration {
	return o.PongWait * 9 / 10
}

// PresenceRecorder receives room membership changes for auditing.
type PresenceRecorder interface {
	Record(ctx context.Context, event model.PresenceEvent)
}

type room struct {
	members    map[uuid.UUID]*client
	stopFanout context.CancelFunc
}

// Relay owns the rooms of this instance. With a Redis client every frame is
// also published on exam:<id>:signal for members connected elsewhere.
type Relay struct {
	opts       Options
	instanceID string
	rdb        *redis.Client
	presence   PresenceRecorder
	log        zerolog.Logger

	mu    sync.Mutex
	rooms map[uuid.UUID]*room
}

// NewRelay creates a new Relay. rdb and presence may be nil.
func NewRelay(opts Options, rdb *redis.Client, presence PresenceRecorder, log zerolog.Logger) *Relay {
	return &Relay{
		opts:       opts.withDefaults(),
		instanceID: uuid.NewString(),
		rdb:        rdb,
		presence:   presence,
		log:        log.With().Str("component", "signal_relay").Logger(),
		rooms:      make(map[uuid.UUID]*room),
	}
}

// Serve joins conn to the exam's room and relays until the connection ends
// or ctx is done. It always closes conn.
func (r *Relay) Serve(ctx context.Context, conn *websocket.Conn, examID uuid.UUID, p Participant) {
	c := newClient(conn, examID, p, r.opts.SendBuffer)
	log := r.log.With().
		Str("exam_id", examID.String()).
		Str("participant_id", p.ID.String()).
		Str("role", p.Role).
		Int("user_id", p.UserID).
		Logger()

	go c.writePump(r.opts.pingPeriod())
	go func() {
		select {
		case <-ctx.Done():
			c.close()
		case <-c.done:
		}
	}()

	joined := r.join(c)
	r.fanout(examID, c.ID, joined)
	r.recordPresence(c, model.PresenceJoined)
	log.Info().Msg("Participant joined")

	r.readPump(c, log)

	left := r.leave(c)
	r.fanout(examID, c.ID, left)
	r.recordPresence(c, model.PresenceLeft)
	log.Info().Msg("Participant left")
}

func (r *Relay) readPump(c *client, log zerolog.Logger) {
	c.conn.SetReadLimit(r.opts.MaxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(r.opts.PongWait))
	})

	for {
		data, err := ws.ReadFrame(c.conn, r.opts.PongWait)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !c.closed() {
				log.Warn().Err(err).Msg("Unexpected close")
			} else {
				log.Debug().Msg("Connection closed")
			}
			return
		}

		var msg ws.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.enqueue(ws.ErrorFrame("malformed message"))
			continue
		}
		if !msg.Type.Valid() {
			c.enqueue(ws.ErrorFrame("unknown message type: " + string(msg.Type)))
			continue
		}

		frame := ws.EncodeRelayed(msg.Type, c.ID.String(), msg.Payload)
		r.deliver(c.examID, c.ID, frame)
		r.fanout(c.examID, c.ID, frame)
	}
}

// join registers c, queues its welcome and announces it to the room. The
// returned peer_joined frame is for remote instances.
func (r *Relay) join(c *client) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[c.examID]
	if !ok {
		rm = &room{members: make(map[uuid.UUID]*client)}
		if r.rdb != nil {
			rm.stopFanout = r.subscribe(c.examID)
		}
		r.rooms[c.examID] = rm
		r.log.Debug().Str("exam_id", c.examID.String()).Msg("Room created")
	}

	peers := make([]ws.Peer, 0, len(rm.members))
	for _, m := range rm.members {
		peers = append(peers, m.peer())
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })

	c.enqueue(ws.Encode(ws.WelcomeResponse{
		Type:          ws.EventWelcome,
		ParticipantID: c.ID.String(),
		ExamID:        c.examID.String(),
		Peers:         peers,
	}))

	joined := ws.Encode(ws.PeerResponse{Type: ws.EventPeerJoined, Peer: c.peer()})
	r.deliverLocked(rm, c.ID, joined)
	rm.members[c.ID] = c
	return joined
}

// leave removes c and tears the room down when it empties.
func (r *Relay) leave(c *client) []byte {
	c.close()

	r.mu.Lock()
	defer r.mu.Unlock()

	left := ws.Encode(ws.PeerResponse{Type: ws.EventPeerLeft, Peer: c.peer()})
	rm, ok := r.rooms[c.examID]
	if !ok || rm.members[c.ID] != c {
		return left
	}
	delete(rm.members, c.ID)
	r.deliverLocked(rm, c.ID, left)

	if len(rm.members) == 0 {
		if rm.stopFanout != nil {
			rm.stopFanout()
		}
		delete(r.rooms, c.examID)
		r.log.Debug().Str("exam_id", c.examID.String()).Msg("Room closed")
	}
	return left
}

// deliver queues frame for every local member of the exam except from.
func (r *Relay) deliver(examID, from uuid.UUID, frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[examID]; ok {
		r.deliverLocked(rm, from, frame)
	}
}

func (r *Relay) deliverLocked(rm *room, from uuid.UUID, frame []byte) {
	for id, m := range rm.members {
		if id == from {
			continue
		}
		if !m.enqueue(frame) {
			r.log.Warn().
				Str("exam_id", m.examID.String()).
				Str("participant_id", id.String()).
				Msg("Send queue full, dropping participant")
			m.close()
		}
	}
}

func (r *Relay) recordPresence(c *client, action model.PresenceAction) {
	if r.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r.presence.Record(ctx, model.PresenceEvent{
		ExamID:        c.examID,
		ParticipantID: c.ID,
		Role:          c.Role,
		UserID:        c.UserID,
		Action:        action,
		At:            time.Now().UTC(),
	})
}

// Rooms returns the number of open rooms.
func (r *Relay) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Members returns the number of local members of an exam's room.
func (r *Relay) Members(examID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[examID]; ok {
		return len(rm.members)
	}
	return 0
}

// Close disconnects every participant. Serve calls return as their reads fail.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rm := range r.rooms {
		for _, m := range rm.members {
			m.close()
		}
	}
}
