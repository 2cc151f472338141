package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const examColumns = `e.id, e.organization_id, e.title, e.description, e.scheduled_start, e.scheduled_end,
	e.duration_minutes, e.passing_score, e.created_at, e.updated_at`

// ExamRepository handles exam and entitlement data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

func scanExam(row pgx.Row, e *model.Exam) error {
	return row.Scan(&e.ID, &e.OrganizationID, &e.Title, &e.Description, &e.ScheduledStart, &e.ScheduledEnd,
		&e.DurationMinutes, &e.PassingScore, &e.CreatedAt, &e.UpdatedAt)
}

// GetExam retrieves an exam by its UUID.
func (r *ExamRepository) GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	err := scanExam(r.pool.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams e WHERE e.id = $1`, id), e)
	if err != nil {
		return nil, mapError(err, "get exam", "exam not found")
	}
	return e, nil
}

// CreateExam inserts a new exam. Two exams of one organization cannot share a start time.
func (r *ExamRepository) CreateExam(ctx context.Context, e *model.Exam) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO exams (organization_id, title, description, scheduled_start, scheduled_end,
		                    duration_minutes, passing_score)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		e.OrganizationID, e.Title, e.Description, e.ScheduledStart, e.ScheduledEnd,
		e.DurationMinutes, e.PassingScore,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	return mapError(err, "create exam", "organization not found")
}

// AddEntitledStudents appends students to the exam's entitlement list and
// returns how many were new.
func (r *ExamRepository) AddEntitledStudents(ctx context.Context, examID uuid.UUID, studentIDs []int) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO exam_entitlements (exam_id, student_id)
		 SELECT $1, UNNEST($2::int[])
		 ON CONFLICT (exam_id, student_id) DO NOTHING`,
		examID, studentIDs,
	)
	if err != nil {
		return 0, mapError(err, "add entitled students", "exam not found")
	}
	if _, err := r.pool.Exec(ctx, `UPDATE exams SET updated_at = NOW() WHERE id = $1`, examID); err != nil {
		return 0, mapError(err, "touch exam", "exam not found")
	}
	return int(tag.RowsAffected()), nil
}

// ListEntitledStudents returns the ids of students entitled to an exam.
func (r *ExamRepository) ListEntitledStudents(ctx context.Context, examID uuid.UUID) ([]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT student_id FROM exam_entitlements WHERE exam_id = $1 ORDER BY student_id`, examID)
	if err != nil {
		return nil, mapError(err, "list entitled students", "exam not found")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, mapError(err, "scan entitled students", "exam not found")
	}
	return ids, nil
}

// IsEntitled reports whether a student may attempt an exam.
func (r *ExamRepository) IsEntitled(ctx context.Context, examID uuid.UUID, studentID int) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM exam_entitlements WHERE exam_id = $1 AND student_id = $2)`,
		examID, studentID,
	).Scan(&ok)
	if err != nil {
		return false, mapError(err, "check entitlement", "exam not found")
	}
	return ok, nil
}

// ListEntitledExams returns every exam the student is entitled to.
func (r *ExamRepository) ListEntitledExams(ctx context.Context, studentID int) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+`
		 FROM exams e
		 JOIN exam_entitlements ee ON ee.exam_id = e.id
		 WHERE ee.student_id = $1
		 ORDER BY e.scheduled_start ASC NULLS LAST, e.id`, studentID)
	if err != nil {
		return nil, mapError(err, "list entitled exams", "student not found")
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := scanExam(rows, &e); err != nil {
			return nil, mapError(err, "scan exam", "exam not found")
		}
		exams = append(exams, e)
	}
	return exams, mapError(rows.Err(), "list entitled exams", "student not found")
}

// ListOpenedExamIDs returns the exams the student has already opened.
func (r *ExamRepository) ListOpenedExamIDs(ctx context.Context, studentID int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT exam_id FROM exam_openings WHERE student_id = $1`, studentID)
	if err != nil {
		return nil, mapError(err, "list opened exams", "student not found")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, mapError(err, "scan opened exams", "student not found")
	}
	return ids, nil
}

// UpsertOrganization creates or renames an organization.
func (r *ExamRepository) UpsertOrganization(ctx context.Context, org *model.Organization) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO organizations (id, name) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		org.ID, org.Name)
	return mapError(err, "upsert organization", "organization not found")
}
