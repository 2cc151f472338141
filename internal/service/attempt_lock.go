package service

import (
	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/keylock"
)

// AttemptKey identifies one student's attempt at one exam.
type AttemptKey struct {
	StudentID int
	ExamID    uuid.UUID
}

// AttemptLocks serializes reconciliation, opening and finalize of the same
// attempt inside this process. The row lock taken by the store covers other
// processes.
type AttemptLocks = keylock.Map[AttemptKey]

// NewAttemptLocks creates the lock map shared by the attempt services.
func NewAttemptLocks() *AttemptLocks {
	return keylock.New[AttemptKey]()
}
