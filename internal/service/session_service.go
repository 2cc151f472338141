package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// SessionService records exam openings and serves exam content to students.
type SessionService struct {
	exams      ExamStore
	questions  QuestionStore
	attempts   AttemptStore
	cache      ContentCache
	locks      *AttemptLocks
	publisher  MonitorPublisher
	maxRetries int
	log        zerolog.Logger
}

// NewSessionService creates a new SessionService. cache and publisher may be nil.
func NewSessionService(
	exams ExamStore,
	questions QuestionStore,
	attempts AttemptStore,
	cache ContentCache,
	locks *AttemptLocks,
	publisher MonitorPublisher,
	maxRetries int,
	log zerolog.Logger,
) *SessionService {
	if cache == nil {
		cache = noopCache{}
	}
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &SessionService{
		exams:      exams,
		questions:  questions,
		attempts:   attempts,
		cache:      cache,
		locks:      locks,
		publisher:  publisher,
		maxRetries: maxRetries,
		log:        log.With().Str("component", "session_service").Logger(),
	}
}

// OpenExam returns the student-facing content of an exam. The first call for
// a student records the opening and a pending zero-score result together.
func (s *SessionService) OpenExam(ctx context.Context, studentID int, examID uuid.UUID) (*model.ExamContentView, error) {
	exam, err := s.exams.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	entitled, err := s.exams.IsEntitled(ctx, examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("check entitlement: %w", err)
	}
	if !entitled {
		return nil, ErrNotEntitled
	}

	questions, err := s.studentQuestions(ctx, examID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(AttemptKey{StudentID: studentID, ExamID: examID})
	var firstOpen bool
	err = withRetry(ctx, s.maxRetries, func() error {
		return s.attempts.InTx(ctx, func(tx AttemptTx) error {
			created, err := tx.MarkOpened(ctx, studentID, examID)
			if err != nil {
				return fmt.Errorf("mark opened: %w", err)
			}
			firstOpen = created
			if !created {
				return nil
			}
			if _, err := tx.LockResult(ctx, studentID, examID, true); err != nil {
				return fmt.Errorf("init result: %w", err)
			}
			return nil
		})
	})
	unlock()
	if err != nil {
		return nil, err
	}

	if firstOpen {
		s.log.Info().
			Int("student_id", studentID).
			Str("exam_id", examID.String()).
			Msg("Exam opened")

		s.publisher.Publish(ctx, model.MonitorEvent{
			Type:      model.MonitorEventOpened,
			StudentID: studentID,
			ExamID:    examID,
			Status:    model.ResultStatusPending,
			At:        time.Now().UTC(),
		})
	}

	return &model.ExamContentView{
		ExamID:          exam.ID,
		Title:           exam.Title,
		Description:     exam.Description,
		ScheduledStart:  exam.ScheduledStart,
		ScheduledEnd:    exam.ScheduledEnd,
		DurationMinutes: exam.DurationMinutes,
		Questions:       questions,
		FirstOpen:       firstOpen,
	}, nil
}

// studentQuestions serves the answer-free question list, from the cache when warm.
func (s *SessionService) studentQuestions(ctx context.Context, examID uuid.UUID) ([]model.QuestionForStudent, error) {
	if cached, ok := s.cache.GetQuestions(ctx, examID); ok {
		return cached, nil
	}

	questions, err := s.questions.ListQuestions(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	out := make([]model.QuestionForStudent, len(questions))
	for i := range questions {
		out[i] = questions[i].ForStudent()
	}

	s.cache.SetQuestions(ctx, examID, out)
	return out, nil
}

// ListAvailable returns the exams the student is entitled to and has not
// opened yet. It is recomputed on every call.
func (s *SessionService) ListAvailable(ctx context.Context, studentID int) ([]model.Exam, error) {
	entitled, err := s.exams.ListEntitledExams(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list entitled exams: %w", err)
	}
	opened, err := s.exams.ListOpenedExamIDs(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list opened exams: %w", err)
	}

	seen := make(map[uuid.UUID]struct{}, len(opened))
	for _, id := range opened {
		seen[id] = struct{}{}
	}

	available := make([]model.Exam, 0, len(entitled))
	for _, e := range entitled {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		available = append(available, e)
	}
	return available, nil
}
