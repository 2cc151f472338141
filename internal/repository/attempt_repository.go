package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/apperr"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	answerColumns = `student_id, exam_id, question_id, answer_text, duration_seconds,
	is_correct, is_answered, answer_marks, created_at, updated_at`
	resultColumns = `student_id, exam_id, exam_score, solved_count, status, is_submitted,
	submitted_at, created_at, updated_at`
)

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AttemptRepository handles student answers, results and exam openings.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// InTx runs fn inside a READ COMMITTED transaction. Result rows are locked
// with SELECT ... FOR UPDATE, which is what serializes one attempt.
func (r *AttemptRepository) InTx(ctx context.Context, fn func(tx service.AttemptTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapError(err, "begin tx", "")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgAttemptTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(err, "commit tx", "")
	}
	return nil
}

// GetResult retrieves the result of one attempt.
func (r *AttemptRepository) GetResult(ctx context.Context, studentID int, examID uuid.UUID) (*model.StudentResult, error) {
	return getResult(ctx, r.pool, studentID, examID, false)
}

// ListResults retrieves every attempt result of an exam.
func (r *AttemptRepository) ListResults(ctx context.Context, examID uuid.UUID) ([]model.StudentResult, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+resultColumns+` FROM student_results
		 WHERE exam_id = $1
		 ORDER BY student_id`, examID)
	if err != nil {
		return nil, mapError(err, "list results", "exam not found")
	}
	defer rows.Close()

	var results []model.StudentResult
	for rows.Next() {
		var res model.StudentResult
		if err := rows.Scan(&res.StudentID, &res.ExamID, &res.ExamScore, &res.SolvedCount, &res.Status,
			&res.IsSubmitted, &res.SubmittedAt, &res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, mapError(err, "scan result", "result not found")
		}
		results = append(results, res)
	}
	return results, mapError(rows.Err(), "list results", "exam not found")
}

// ListAnswers retrieves every answer of one attempt.
func (r *AttemptRepository) ListAnswers(ctx context.Context, studentID int, examID uuid.UUID) ([]model.StudentAnswer, error) {
	return listAnswers(ctx, r.pool, studentID, examID)
}

// ListAnswerHistory joins every answer of a student with its question, exam
// and organization.
func (r *AttemptRepository) ListAnswerHistory(ctx context.Context, studentID int) ([]model.AnswerHistoryRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT e.id, e.title, e.scheduled_start, e.duration_minutes,
		        o.id, o.name, q.id, sa.is_answered, sa.answer_marks
		 FROM student_answers sa
		 JOIN questions q ON q.id = sa.question_id
		 JOIN exams e ON e.id = q.exam_id
		 JOIN organizations o ON o.id = e.organization_id
		 WHERE sa.student_id = $1`, studentID)
	if err != nil {
		return nil, mapError(err, "list answer history", "student not found")
	}
	defer rows.Close()

	var history []model.AnswerHistoryRow
	for rows.Next() {
		var h model.AnswerHistoryRow
		if err := rows.Scan(&h.ExamID, &h.ExamTitle, &h.ExamDate, &h.DurationMinutes,
			&h.OrganizationID, &h.OrganizationName, &h.QuestionID, &h.IsAnswered, &h.AnswerMarks); err != nil {
			return nil, mapError(err, "scan answer history", "student not found")
		}
		history = append(history, h)
	}
	return history, mapError(rows.Err(), "list answer history", "student not found")
}

// pgAttemptTx implements service.AttemptTx on a pgx transaction.
type pgAttemptTx struct {
	tx pgx.Tx
}

func (t *pgAttemptTx) LockResult(ctx context.Context, studentID int, examID uuid.UUID, create bool) (*model.StudentResult, error) {
	if create {
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO student_results (student_id, exam_id, status)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (student_id, exam_id) DO NOTHING`,
			studentID, examID, model.ResultStatusPending,
		); err != nil {
			return nil, mapError(err, "create result", "exam not found")
		}
	}
	return getResult(ctx, t.tx, studentID, examID, true)
}

func (t *pgAttemptTx) GetAnswer(ctx context.Context, studentID int, examID, questionID uuid.UUID) (*model.StudentAnswer, error) {
	a := &model.StudentAnswer{}
	err := scanAnswer(t.tx.QueryRow(ctx,
		`SELECT `+answerColumns+` FROM student_answers
		 WHERE student_id = $1 AND exam_id = $2 AND question_id = $3`,
		studentID, examID, questionID), a)
	if err != nil {
		return nil, mapError(err, "get answer", "answer not found")
	}
	return a, nil
}

// SaveAnswer upserts the single live answer for (student, exam, question).
func (t *pgAttemptTx) SaveAnswer(ctx context.Context, a *model.StudentAnswer) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO student_answers (student_id, exam_id, question_id, answer_text, duration_seconds,
		                              is_correct, is_answered, answer_marks)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (student_id, exam_id, question_id) DO UPDATE
		 SET answer_text = EXCLUDED.answer_text,
		     duration_seconds = EXCLUDED.duration_seconds,
		     is_correct = EXCLUDED.is_correct,
		     is_answered = EXCLUDED.is_answered,
		     answer_marks = EXCLUDED.answer_marks,
		     updated_at = NOW()
		 RETURNING created_at, updated_at`,
		a.StudentID, a.ExamID, a.QuestionID, a.AnswerText, a.DurationSeconds,
		a.IsCorrect, a.IsAnswered, a.AnswerMarks,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	return mapError(err, "save answer", "question not found")
}

func (t *pgAttemptTx) SaveResult(ctx context.Context, r *model.StudentResult) error {
	err := t.tx.QueryRow(ctx,
		`UPDATE student_results
		 SET exam_score = $1, solved_count = $2, status = $3, is_submitted = $4,
		     submitted_at = $5, updated_at = NOW()
		 WHERE student_id = $6 AND exam_id = $7
		 RETURNING created_at, updated_at`,
		r.ExamScore, r.SolvedCount, r.Status, r.IsSubmitted, r.SubmittedAt, r.StudentID, r.ExamID,
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Internal(err, "save result: row for student %d exam %s is not locked", r.StudentID, r.ExamID)
	}
	return mapError(err, "save result", "result not found")
}

func (t *pgAttemptTx) ListAnswers(ctx context.Context, studentID int, examID uuid.UUID) ([]model.StudentAnswer, error) {
	return listAnswers(ctx, t.tx, studentID, examID)
}

func (t *pgAttemptTx) MarkOpened(ctx context.Context, studentID int, examID uuid.UUID) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO exam_openings (student_id, exam_id) VALUES ($1, $2)
		 ON CONFLICT (student_id, exam_id) DO NOTHING`,
		studentID, examID)
	if err != nil {
		return false, mapError(err, "mark opened", "exam not found")
	}
	return tag.RowsAffected() == 1, nil
}

func scanAnswer(row pgx.Row, a *model.StudentAnswer) error {
	return row.Scan(&a.StudentID, &a.ExamID, &a.QuestionID, &a.AnswerText, &a.DurationSeconds,
		&a.IsCorrect, &a.IsAnswered, &a.AnswerMarks, &a.CreatedAt, &a.UpdatedAt)
}

func getResult(ctx context.Context, q querier, studentID int, examID uuid.UUID, forUpdate bool) (*model.StudentResult, error) {
	sql := `SELECT ` + resultColumns + ` FROM student_results WHERE student_id = $1 AND exam_id = $2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	res := &model.StudentResult{}
	err := q.QueryRow(ctx, sql, studentID, examID).Scan(&res.StudentID, &res.ExamID, &res.ExamScore,
		&res.SolvedCount, &res.Status, &res.IsSubmitted, &res.SubmittedAt, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, mapError(err, "get result",
			fmt.Sprintf("no result for student %d in exam %s", studentID, examID))
	}
	return res, nil
}

func listAnswers(ctx context.Context, q querier, studentID int, examID uuid.UUID) ([]model.StudentAnswer, error) {
	rows, err := q.Query(ctx,
		`SELECT `+answerColumns+` FROM student_answers
		 WHERE student_id = $1 AND exam_id = $2
		 ORDER BY created_at, question_id`, studentID, examID)
	if err != nil {
		return nil, mapError(err, "list answers", "attempt not found")
	}
	defer rows.Close()

	var answers []model.StudentAnswer
	for rows.Next() {
		var a model.StudentAnswer
		if err := scanAnswer(rows, &a); err != nil {
			return nil, mapError(err, "scan answer", "answer not found")
		}
		answers = append(answers, a)
	}
	return answers, mapError(rows.Err(), "list answers", "attempt not found")
}
