package model

import (
	"time"

	"github.com/google/uuid"
)

// ResultStatus enumerates the states of a student's exam result.
type ResultStatus string

const (
	ResultStatusPending ResultStatus = "pending"
	ResultStatusPassed  ResultStatus = "passed"
	ResultStatusFailed  ResultStatus = "failed"
)

// StudentAnswer is the live answer of one student to one question.
// There is at most one per (student, exam, question).
type StudentAnswer struct {
	StudentID       int       `json:"student_id"`
	ExamID          uuid.UUID `json:"exam_id"`
	QuestionID      uuid.UUID `json:"question_id"`
	AnswerText      string    `json:"answer_text"`
	DurationSeconds int       `json:"duration_seconds"`
	IsCorrect       bool      `json:"is_correct"`
	IsAnswered      bool      `json:"is_answered"`
	AnswerMarks     int       `json:"answer_marks"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// StudentResult is the running and final result of one attempt.
// There is at most one per (student, exam).
type StudentResult struct {
	StudentID   int          `json:"student_id"`
	ExamID      uuid.UUID    `json:"exam_id"`
	ExamScore   int          `json:"exam_score"`
	SolvedCount int          `json:"solved_count"`
	Status      ResultStatus `json:"status"`
	IsSubmitted bool         `json:"is_submitted"`
	SubmittedAt *time.Time   `json:"submitted_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// SubmitAnswerRequest is the payload for answering one question.
// DurationSeconds is a pointer so that an explicit zero passes "required".
type SubmitAnswerRequest struct {
	AnswerText      string `json:"answer_text" binding:"required,notblank,max=10000"`
	DurationSeconds *int   `json:"duration_seconds" binding:"required,min=0"`
}

// SubmitAnswerResult is returned by a reconciliation step.
type SubmitAnswerResult struct {
	Answer     StudentAnswer `json:"answer"`
	IsCorrect  bool          `json:"is_correct"`
	DeltaScore int           `json:"delta_score"`
	Result     StudentResult `json:"result"`
}

// ResultQuestion is one question row of a result view.
type ResultQuestion struct {
	QuestionID      uuid.UUID  `json:"question_id"`
	Title           string     `json:"title"`
	QuestionText    string     `json:"question_text"`
	Difficulty      Difficulty `json:"difficulty"`
	Points          int        `json:"points"`
	OrderNum        int        `json:"order_num"`
	IsAnswered      bool       `json:"is_answered"`
	AnswerText      string     `json:"answer_text,omitempty"`
	IsCorrect       bool       `json:"is_correct"`
	AnswerMarks     int        `json:"answer_marks"`
	DurationSeconds int        `json:"duration_seconds"`
	// CorrectAnswer is only revealed once the attempt is submitted.
	CorrectAnswer string `json:"correct_answer,omitempty"`
}

// ResultView is the denormalized result of one attempt.
type ResultView struct {
	Result        StudentResult    `json:"result"`
	Exam          Exam             `json:"exam"`
	TotalPoints   int              `json:"total_points"`
	QuestionCount int              `json:"question_count"`
	Questions     []ResultQuestion `json:"questions"`
}

// AnswerHistoryRow is one answer joined with its question, exam and organization.
type AnswerHistoryRow struct {
	ExamID           uuid.UUID
	ExamTitle        string
	ExamDate         *time.Time
	DurationMinutes  int
	OrganizationID   int
	OrganizationName string
	QuestionID       uuid.UUID
	IsAnswered       bool
	AnswerMarks      int
}

// HistoryEntry summarizes one exam in a student's history.
type HistoryEntry struct {
	ExamID           uuid.UUID  `json:"exam_id"`
	ExamTitle        string     `json:"exam_title"`
	ExamDate         *time.Time `json:"exam_date,omitempty"`
	DurationMinutes  int        `json:"duration_minutes"`
	OrganizationID   int        `json:"organization_id"`
	OrganizationName string     `json:"organization_name"`
	Score            int        `json:"score"`
	QuestionCount    int        `json:"question_count"`
}

// MonitorEventType enumerates live events published to proctors.
type MonitorEventType string

const (
	MonitorEventOpened    MonitorEventType = "opened"
	MonitorEventAnswered  MonitorEventType = "answered"
	MonitorEventFinalized MonitorEventType = "finalized"
)

// MonitorEvent is a live reconciliation event for one attempt.
type MonitorEvent struct {
	Type        MonitorEventType `json:"type"`
	StudentID   int              `json:"student_id"`
	ExamID      uuid.UUID        `json:"exam_id"`
	QuestionID  *uuid.UUID       `json:"question_id,omitempty"`
	DeltaScore  int              `json:"delta_score"`
	ExamScore   int              `json:"exam_score"`
	SolvedCount int              `json:"solved_count"`
	Status      ResultStatus     `json:"status"`
	At          time.Time        `json:"at"`
}
