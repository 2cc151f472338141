package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/apperr"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ExamService is the organization-side catalog: exams, questions and
// entitlements. It also answers proctor authorization questions.
type ExamService struct {
	exams     ExamStore
	questions QuestionStore
	results   *ResultService
	cache     ContentCache
	log       zerolog.Logger
}

// NewExamService creates a new ExamService. cache may be nil.
func NewExamService(
	exams ExamStore,
	questions QuestionStore,
	results *ResultService,
	cache ContentCache,
	log zerolog.Logger,
) *ExamService {
	if cache == nil {
		cache = noopCache{}
	}
	return &ExamService{
		exams:     exams,
		questions: questions,
		results:   results,
		cache:     cache,
		log:       log.With().Str("component", "exam_service").Logger(),
	}
}

// CreateExam creates an exam owned by the organization.
func (s *ExamService) CreateExam(ctx context.Context, orgID int, req *model.CreateExamRequest) (*model.Exam, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, apperr.Validation("title is required")
	}
	if req.DurationMinutes <= 0 {
		return nil, apperr.Validation("duration_minutes must be positive")
	}
	if req.PassingScore < 0 {
		return nil, apperr.Validation("passing_score must not be negative")
	}

	exam := &model.Exam{
		OrganizationID:  orgID,
		Title:           strings.TrimSpace(req.Title),
		Description:     req.Description,
		ScheduledStart:  req.ScheduledStart,
		ScheduledEnd:    req.ScheduledEnd,
		DurationMinutes: req.DurationMinutes,
		PassingScore:    req.PassingScore,
	}
	if err := s.exams.CreateExam(ctx, exam); err != nil {
		return nil, err
	}

	s.log.Info().
		Int("organization_id", orgID).
		Str("exam_id", exam.ID.String()).
		Msg("Exam created")
	return exam, nil
}

// GetExam returns an exam owned by the organization.
func (s *ExamService) GetExam(ctx context.Context, orgID int, examID uuid.UUID) (*model.Exam, error) {
	return s.AuthorizeProctor(ctx, orgID, examID)
}

// AuthorizeProctor loads the exam and checks that it belongs to orgID.
func (s *ExamService) AuthorizeProctor(ctx context.Context, orgID int, examID uuid.UUID) (*model.Exam, error) {
	exam, err := s.exams.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	if exam.OrganizationID != orgID {
		return nil, apperr.Forbidden("exam belongs to another organization")
	}
	return exam, nil
}

// AuthorizeStudent checks that the exam exists and the student is entitled to it.
func (s *ExamService) AuthorizeStudent(ctx context.Context, studentID int, examID uuid.UUID) (*model.Exam, error) {
	exam, err := s.exams.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	ok, err := s.exams.IsEntitled(ctx, examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("check entitlement: %w", err)
	}
	if !ok {
		return nil, ErrNotEntitled
	}
	return exam, nil
}

// AddQuestion adds a question to an exam and drops the cached content.
func (s *ExamService) AddQuestion(ctx context.Context, orgID int, examID uuid.UUID, req *model.AddQuestionRequest) (*model.Question, error) {
	if _, err := s.AuthorizeProctor(ctx, orgID, examID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, apperr.Validation("title is required")
	}
	if req.Points <= 0 {
		return nil, apperr.Validation("points must be positive")
	}

	q := &model.Question{
		ExamID:        examID,
		Title:         strings.TrimSpace(req.Title),
		QuestionText:  req.QuestionText,
		QuestionType:  model.QuestionType(req.QuestionType),
		Options:       req.Options,
		CorrectAnswer: req.CorrectAnswer,
		Points:        req.Points,
		Difficulty:    model.Difficulty(req.Difficulty),
		OrderNum:      req.OrderNum,
	}
	if err := s.questions.CreateQuestion(ctx, q); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, examID)

	s.log.Debug().
		Str("exam_id", examID.String()).
		Str("question_id", q.ID.String()).
		Msg("Question added")
	return q, nil
}

// AddStudents appends students to the exam's entitlement list and returns
// how many were newly entitled.
func (s *ExamService) AddStudents(ctx context.Context, orgID int, examID uuid.UUID, studentIDs []int) (int, error) {
	if _, err := s.AuthorizeProctor(ctx, orgID, examID); err != nil {
		return 0, err
	}
	if len(studentIDs) == 0 {
		return 0, apperr.Validation("student_ids must not be empty")
	}
	for _, id := range studentIDs {
		if id <= 0 {
			return 0, apperr.Validation("invalid student id %d", id)
		}
	}

	added, err := s.exams.AddEntitledStudents(ctx, examID, studentIDs)
	if err != nil {
		return 0, err
	}

	s.log.Info().
		Str("exam_id", examID.String()).
		Int("requested", len(studentIDs)).
		Int("added", added).
		Msg("Students entitled")
	return added, nil
}

// ListStudents returns the entitled student ids of an exam.
func (s *ExamService) ListStudents(ctx context.Context, orgID int, examID uuid.UUID) ([]int, error) {
	if _, err := s.AuthorizeProctor(ctx, orgID, examID); err != nil {
		return nil, err
	}
	return s.exams.ListEntitledStudents(ctx, examID)
}

// GetStudentResult returns a student's result view for a proctor of the exam.
func (s *ExamService) GetStudentResult(ctx context.Context, orgID int, examID uuid.UUID, studentID int) (*model.ResultView, error) {
	if _, err := s.AuthorizeProctor(ctx, orgID, examID); err != nil {
		return nil, err
	}
	return s.results.GetResult(ctx, studentID, examID)
}
