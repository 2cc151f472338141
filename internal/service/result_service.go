package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/apperr"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ResultService aggregates answers into final results and histories.
type ResultService struct {
	exams      ExamStore
	questions  QuestionStore
	attempts   AttemptStore
	locks      *AttemptLocks
	publisher  MonitorPublisher
	maxRetries int
	log        zerolog.Logger
}

// NewResultService creates a new ResultService. publisher may be nil.
func NewResultService(
	exams ExamStore,
	questions QuestionStore,
	attempts AttemptStore,
	locks *AttemptLocks,
	publisher MonitorPublisher,
	maxRetries int,
	log zerolog.Logger,
) *ResultService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &ResultService{
		exams:      exams,
		questions:  questions,
		attempts:   attempts,
		locks:      locks,
		publisher:  publisher,
		maxRetries: maxRetries,
		log:        log.With().Str("component", "result_service").Logger(),
	}
}

// Finalize recomputes the attempt result from its answers, applies the pass
// policy and marks it submitted. Finalizing twice yields the same result.
func (s *ResultService) Finalize(ctx context.Context, studentID int, examID uuid.UUID) (*model.StudentResult, error) {
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

	unlock := s.locks.Lock(AttemptKey{StudentID: studentID, ExamID: examID})
	defer unlock()

	var (
		result  *model.StudentResult
		changed bool
	)
	err = withRetry(ctx, s.maxRetries, func() error {
		return s.attempts.InTx(ctx, func(tx AttemptTx) error {
			current, err := tx.LockResult(ctx, studentID, examID, false)
			if errors.Is(err, apperr.ErrNotFound) {
				answers, listErr := tx.ListAnswers(ctx, studentID, examID)
				if listErr != nil {
					return fmt.Errorf("list answers: %w", listErr)
				}
				if len(answers) == 0 {
					return apperr.NotFound("student %d has no attempt for exam %s", studentID, examID)
				}
				current, err = tx.LockResult(ctx, studentID, examID, true)
			}
			if err != nil {
				return fmt.Errorf("lock result: %w", err)
			}

			answers, err := tx.ListAnswers(ctx, studentID, examID)
			if err != nil {
				return fmt.Errorf("list answers: %w", err)
			}

			next := *current
			next.ExamScore, next.SolvedCount = 0, 0
			for _, a := range answers {
				if !a.IsAnswered {
					continue
				}
				next.ExamScore += a.AnswerMarks
				next.SolvedCount++
			}
			next.Status = passStatus(next.ExamScore, exam.PassingScore)
			next.IsSubmitted = true
			if next.SubmittedAt == nil {
				now := time.Now().UTC()
				next.SubmittedAt = &now
			}

			changed = !current.IsSubmitted ||
				next.ExamScore != current.ExamScore ||
				next.SolvedCount != current.SolvedCount ||
				next.Status != current.Status
			if !changed {
				result = current
				return nil
			}

			if err := tx.SaveResult(ctx, &next); err != nil {
				return fmt.Errorf("save result: %w", err)
			}
			result = &next
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.log.Info().
			Int("student_id", studentID).
			Str("exam_id", examID.String()).
			Int("score", result.ExamScore).
			Str("status", string(result.Status)).
			Msg("Attempt finalized")

		s.publisher.Publish(ctx, model.MonitorEvent{
			Type:        model.MonitorEventFinalized,
			StudentID:   studentID,
			ExamID:      examID,
			ExamScore:   result.ExamScore,
			SolvedCount: result.SolvedCount,
			Status:      result.Status,
			At:          result.UpdatedAt,
		})
	}

	return result, nil
}

func passStatus(score, passingScore int) model.ResultStatus {
	if score >= passingScore {
		return model.ResultStatusPassed
	}
	return model.ResultStatusFailed
}

// GetResult joins the attempt result with its answers, questions and exam.
// Correct answers are revealed only after the attempt is submitted.
func (s *ResultService) GetResult(ctx context.Context, studentID int, examID uuid.UUID) (*model.ResultView, error) {
	exam, err := s.exams.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}

	result, err := s.attempts.GetResult(ctx, studentID, examID)
	if err != nil {
		return nil, err
	}

	answers, err := s.attempts.ListAnswers(ctx, studentID, examID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	byQuestion := make(map[uuid.UUID]model.StudentAnswer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}

	questions, err := s.questions.ListQuestions(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	view := &model.ResultView{
		Result:        *result,
		Exam:          *exam,
		QuestionCount: len(questions),
		Questions:     make([]model.ResultQuestion, 0, len(questions)),
	}
	for _, q := range questions {
		view.TotalPoints += q.Points

		row := model.ResultQuestion{
			QuestionID:   q.ID,
			Title:        q.Title,
			QuestionText: q.QuestionText,
			Difficulty:   q.Difficulty,
			Points:       q.Points,
			OrderNum:     q.OrderNum,
		}
		if a, ok := byQuestion[q.ID]; ok {
			row.IsAnswered = a.IsAnswered
			row.AnswerText = a.AnswerText
			row.IsCorrect = a.IsCorrect
			row.AnswerMarks = a.AnswerMarks
			row.DurationSeconds = a.DurationSeconds
		}
		if result.IsSubmitted {
			row.CorrectAnswer = q.CorrectAnswer
		}
		view.Questions = append(view.Questions, row)
	}

	return view, nil
}

// GetHistory returns one entry per exam the student answered, most recent
// exam first.
func (s *ResultService) GetHistory(ctx context.Context, studentID int) ([]model.HistoryEntry, error) {
	rows, err := s.attempts.ListAnswerHistory(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list answer history: %w", err)
	}
	return groupHistory(rows), nil
}

func groupHistory(rows []model.AnswerHistoryRow) []model.HistoryEntry {
	byExam := make(map[uuid.UUID]*model.HistoryEntry)
	for _, r := range rows {
		e, ok := byExam[r.ExamID]
		if !ok {
			e = &model.HistoryEntry{
				ExamID:           r.ExamID,
				ExamTitle:        r.ExamTitle,
				ExamDate:         r.ExamDate,
				DurationMinutes:  r.DurationMinutes,
				OrganizationID:   r.OrganizationID,
				OrganizationName: r.OrganizationName,
			}
			byExam[r.ExamID] = e
		}
		e.QuestionCount++
		if r.IsAnswered {
			e.Score += r.AnswerMarks
		}
	}

	entries := make([]model.HistoryEntry, 0, len(byExam))
	for _, e := range byExam {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].ExamDate, entries[j].ExamDate
		switch {
		case a == nil && b == nil:
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.After(*b)
		}
		return entries[i].ExamID.String() < entries[j].ExamID.String()
	})
	return entries
}
