package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// PresenceRepository stores the signaling room audit trail.
type PresenceRepository struct {
	pool *pgxpool.Pool
}

// NewPresenceRepository creates a new PresenceRepository.
func NewPresenceRepository(pool *pgxpool.Pool) *PresenceRepository {
	return &PresenceRepository{pool: pool}
}

// CopyPresence bulk-inserts a batch with the COPY protocol.
func (r *PresenceRepository) CopyPresence(ctx context.Context, batch []model.PresenceEvent) (int64, error) {
	rows := make([][]interface{}, 0, len(batch))
	for _, e := range batch {
		rows = append(rows, []interface{}{
			e.ExamID, e.ParticipantID, e.Role, e.UserID, string(e.Action), e.At,
		})
	}

	n, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"proctor_presence"},
		[]string{"exam_id", "participant_id", "role", "user_id", "action", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return n, mapError(err, "copy presence", "exam not found")
	}
	return n, nil
}

// InsertPresence inserts a single event.
func (r *PresenceRepository) InsertPresence(ctx context.Context, e model.PresenceEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO proctor_presence (exam_id, participant_id, role, user_id, action, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ExamID, e.ParticipantID, e.Role, e.UserID, string(e.Action), e.At,
	)
	return mapError(err, "insert presence", "exam not found")
}

// ListPresence returns the most recent events of an exam, newest first.
func (r *PresenceRepository) ListPresence(ctx context.Context, examID uuid.UUID, limit int) ([]model.PresenceEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT exam_id, participant_id, role, user_id, action, recorded_at
		 FROM proctor_presence
		 WHERE exam_id = $1
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT $2`,
		examID, limit,
	)
	if err != nil {
		return nil, mapError(err, "list presence", "exam not found")
	}
	defer rows.Close()

	var events []model.PresenceEvent
	for rows.Next() {
		var (
			e      model.PresenceEvent
			action string
		)
		if err := rows.Scan(&e.ExamID, &e.ParticipantID, &e.Role, &e.UserID, &action, &e.At); err != nil {
			return nil, mapError(err, "scan presence", "presence not found")
		}
		e.Action = model.PresenceAction(action)
		events = append(events, e)
	}
	return events, mapError(rows.Err(), "list presence", "exam not found")
}
