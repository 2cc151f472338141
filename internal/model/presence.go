package model

import (
	"time"

	"github.com/google/uuid"
)

// PresenceAction is a signaling room membership change.
type PresenceAction string

const (
	PresenceJoined PresenceAction = "joined"
	PresenceLeft   PresenceAction = "left"
)

// PresenceEvent is the audit record of one participant joining or leaving
// an exam's signaling room. Signaling payloads are never recorded.
type PresenceEvent struct {
	ExamID        uuid.UUID      `json:"exam_id"`
	ParticipantID uuid.UUID      `json:"participant_id"`
	Role          string         `json:"role"`
	UserID        int            `json:"user_id"`
	Action        PresenceAction `json:"action"`
	At            time.Time      `json:"at"`
}
