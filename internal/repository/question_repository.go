package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const questionColumns = `id, exam_id, title, question_text, question_type, options, correct_answer,
	points, difficulty, order_num, created_at`

// QuestionRepository handles question data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

func scanQuestion(row pgx.Row, q *model.Question) error {
	return row.Scan(&q.ID, &q.ExamID, &q.Title, &q.QuestionText, &q.QuestionType, &q.Options,
		&q.CorrectAnswer, &q.Points, &q.Difficulty, &q.OrderNum, &q.CreatedAt)
}

// GetQuestion retrieves a question, scoped to the exam it must belong to.
func (r *QuestionRepository) GetQuestion(ctx context.Context, examID, questionID uuid.UUID) (*model.Question, error) {
	q := &model.Question{}
	err := scanQuestion(r.pool.QueryRow(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id = $1 AND exam_id = $2`,
		questionID, examID), q)
	if err != nil {
		return nil, mapError(err, "get question", "question not found in this exam")
	}
	return q, nil
}

// ListQuestions retrieves all questions for a given exam, ordered by order_num.
func (r *QuestionRepository) ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE exam_id = $1
		 ORDER BY order_num, created_at`, examID,
	)
	if err != nil {
		return nil, mapError(err, "list questions", "exam not found")
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := scanQuestion(rows, &q); err != nil {
			return nil, mapError(err, "scan question", "question not found")
		}
		questions = append(questions, q)
	}
	return questions, mapError(rows.Err(), "list questions", "exam not found")
}

// CreateQuestion inserts a new question. Titles are unique per exam.
func (r *QuestionRepository) CreateQuestion(ctx context.Context, q *model.Question) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO questions (exam_id, title, question_text, question_type, options, correct_answer,
		                        points, difficulty, order_num)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at`,
		q.ExamID, q.Title, q.QuestionText, q.QuestionType, q.Options, q.CorrectAnswer,
		q.Points, q.Difficulty, q.OrderNum,
	).Scan(&q.ID, &q.CreatedAt)
	return mapError(err, "create question", "exam not found")
}
