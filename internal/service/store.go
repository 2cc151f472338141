package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Record store contracts. The PostgreSQL repositories and the in-memory
// store both satisfy them. Lookups of absent records return apperr NotFound.

// ExamStore reads and appends exam metadata and entitlements.
type ExamStore interface {
	GetExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error)
	CreateExam(ctx context.Context, exam *model.Exam) error
	AddEntitledStudents(ctx context.Context, examID uuid.UUID, studentIDs []int) (int, error)
	ListEntitledStudents(ctx context.Context, examID uuid.UUID) ([]int, error)
	IsEntitled(ctx context.Context, examID uuid.UUID, studentID int) (bool, error)
	ListEntitledExams(ctx context.Context, studentID int) ([]model.Exam, error)
	ListOpenedExamIDs(ctx context.Context, studentID int) ([]uuid.UUID, error)
}

// QuestionStore reads and creates questions.
type QuestionStore interface {
	GetQuestion(ctx context.Context, examID, questionID uuid.UUID) (*model.Question, error)
	ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
	CreateQuestion(ctx context.Context, q *model.Question) error
}

// AttemptStore owns answers, results and exam openings.
type AttemptStore interface {
	// InTx runs fn in one storage transaction. Writes made through tx are
	// committed together or not at all.
	InTx(ctx context.Context, fn func(tx AttemptTx) error) error
	GetResult(ctx context.Context, studentID int, examID uuid.UUID) (*model.StudentResult, error)
	ListResults(ctx context.Context, examID uuid.UUID) ([]model.StudentResult, error)
	ListAnswers(ctx context.Context, studentID int, examID uuid.UUID) ([]model.StudentAnswer, error)
	ListAnswerHistory(ctx context.Context, studentID int) ([]model.AnswerHistoryRow, error)
}

// AttemptTx is the transactional view used by reconciliation and finalize.
type AttemptTx interface {
	// LockResult returns the result for the pair and holds it until the
	// transaction ends. When create is true a pending, zero-score result is
	// inserted first if absent.
	LockResult(ctx context.Context, studentID int, examID uuid.UUID, create bool) (*model.StudentResult, error)
	GetAnswer(ctx context.Context, studentID int, examID, questionID uuid.UUID) (*model.StudentAnswer, error)
	SaveAnswer(ctx context.Context, a *model.StudentAnswer) error
	SaveResult(ctx context.Context, r *model.StudentResult) error
	ListAnswers(ctx context.Context, studentID int, examID uuid.UUID) ([]model.StudentAnswer, error)
	// MarkOpened records the first opening and reports whether it was new.
	MarkOpened(ctx context.Context, studentID int, examID uuid.UUID) (bool, error)
}

// PresenceStore keeps the audit trail of signaling room membership.
type PresenceStore interface {
	InsertPresence(ctx context.Context, e model.PresenceEvent) error
	CopyPresence(ctx context.Context, batch []model.PresenceEvent) (int64, error)
	ListPresence(ctx context.Context, examID uuid.UUID, limit int) ([]model.PresenceEvent, error)
}

// ContentCache caches the student-facing question list of an exam.
type ContentCache interface {
	GetQuestions(ctx context.Context, examID uuid.UUID) ([]model.QuestionForStudent, bool)
	SetQuestions(ctx context.Context, examID uuid.UUID, questions []model.QuestionForStudent)
	Invalidate(ctx context.Context, examID uuid.UUID)
}

// MonitorPublisher fans reconciliation events out to live proctor monitors.
type MonitorPublisher interface {
	Publish(ctx context.Context, event model.MonitorEvent)
}

type noopCache struct{}

func (noopCache) GetQuestions(context.Context, uuid.UUID) ([]model.QuestionForStudent, bool) {
	return nil, false
}
func (noopCache) SetQuestions(context.Context, uuid.UUID, []model.QuestionForStudent) {}
func (noopCache) Invalidate(context.Context, uuid.UUID)                               {}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, model.MonitorEvent) {}
