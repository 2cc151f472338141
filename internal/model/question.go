package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeShortText      QuestionType = "SHORT_TEXT"
	QuestionTypeEssay          QuestionType = "ESSAY"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// Question represents a single exam question.
type Question struct {
	ID            uuid.UUID       `json:"id"`
	ExamID        uuid.UUID       `json:"exam_id"`
	Title         string          `json:"title"`
	QuestionText  string          `json:"question_text"`
	QuestionType  QuestionType    `json:"question_type"`
	Options       json.RawMessage `json:"options,omitempty"`
	CorrectAnswer string          `json:"correct_answer"`
	Points        int             `json:"points"`
	Difficulty    Difficulty      `json:"difficulty"`
	OrderNum      int             `json:"order_num"`
	CreatedAt     time.Time       `json:"created_at"`
}

// QuestionForStudent is a question without the correct answer, sent to students.
type QuestionForStudent struct {
	ID           uuid.UUID       `json:"id"`
	Title        string          `json:"title"`
	QuestionText string          `json:"question_text"`
	QuestionType QuestionType    `json:"question_type"`
	Options      json.RawMessage `json:"options,omitempty"`
	Points       int             `json:"points"`
	Difficulty   Difficulty      `json:"difficulty"`
	OrderNum     int             `json:"order_num"`
}

// ForStudent strips the correct answer.
func (q *Question) ForStudent() QuestionForStudent {
	return QuestionForStudent{
		ID:           q.ID,
		Title:        q.Title,
		QuestionText: q.QuestionText,
		QuestionType: q.QuestionType,
		Options:      q.Options,
		Points:       q.Points,
		Difficulty:   q.Difficulty,
		OrderNum:     q.OrderNum,
	}
}

// AddQuestionRequest is the payload for adding a question to an exam.
type AddQuestionRequest struct {
	Title         string          `json:"title" binding:"required,notblank,max=255"`
	QuestionText  string          `json:"question_text" binding:"required,min=1,max=2000"`
	QuestionType  string          `json:"question_type" binding:"required,oneof=MULTIPLE_CHOICE SHORT_TEXT ESSAY"`
	Options       json.RawMessage `json:"options" binding:"omitempty"`
	CorrectAnswer string          `json:"correct_answer" binding:"required,max=2000"`
	Points        int             `json:"points" binding:"required,min=1,max=1000"`
	Difficulty    string          `json:"difficulty" binding:"required,oneof=EASY MEDIUM HARD"`
	OrderNum      int             `json:"order_num" binding:"min=0"`
}
