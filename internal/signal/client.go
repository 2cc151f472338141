package signal

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// Participant is the verified identity behind one relay connection.
type Participant struct {
	ID     uuid.UUID
	Role   string
	UserID int
}

func (p Participant) peer() ws.Peer {
	return ws.Peer{ID: p.ID.String(), Role: p.Role, UserID: p.UserID}
}

// client is one room member. Only writePump writes to conn.
type client struct {
	Participant
	examID uuid.UUID
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func newClient(conn *websocket.Conn, examID uuid.UUID, p Participant, buffer int) *client {
	return &client{
		Participant: p,
		examID:      examID,
		conn:        conn,
		send:        make(chan []byte, buffer),
		done:        make(chan struct{}),
	}
}

// enqueue queues a frame without blocking. It reports false only when the
// queue is full; frames for a closed client are discarded.
func (c *client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *client) writePump(pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			if err := ws.WriteFrame(c.conn, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := ws.WritePing(c.conn); err != nil {
				return
			}
		}
	}
}
