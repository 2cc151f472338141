package websocket

import "encoding/json"

// ─── Kinds (Client → Server) ────────────────────────────────────────

type Kind string

const (
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
)

// Valid reports whether k is a signaling kind the relay forwards.
func (k Kind) Valid() bool {
	switch k {
	case KindOffer, KindAnswer, KindCandidate:
		return true
	}
	return false
}

// ClientMessage is a signaling message sent by a participant. Payload is
// opaque to the relay.
type ClientMessage struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventWelcome    Event = "welcome"
	EventPeerJoined Event = "peer_joined"
	EventPeerLeft   Event = "peer_left"
	EventError      Event = "error"
)

// Peer describes one room member.
type Peer struct {
	ID     string `json:"id"`
	Role   string `json:"role"`
	UserID int    `json:"user_id"`
}

// RelayedMessage is a ClientMessage as delivered to the other members.
type RelayedMessage struct {
	Type    Kind            `json:"type"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

type WelcomeResponse struct {
	Type          Event  `json:"type"`
	ParticipantID string `json:"participant_id"`
	ExamID        string `json:"exam_id"`
	Peers         []Peer `json:"peers"`
}

type PeerResponse struct {
	Type Event `json:"type"`
	Peer Peer  `json:"peer"`
}

type ErrorResponse struct {
	Type  Event  `json:"type"`
	Error string `json:"error"`
}
