package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/apperr"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ErrAttemptSubmitted is returned when an answer arrives for a finalized attempt.
var ErrAttemptSubmitted = apperr.Conflict("exam attempt is already submitted")

// ErrNotEntitled is returned when a student is not on an exam's entitlement list.
var ErrNotEntitled = apperr.Forbidden("student is not entitled to this exam")

const retryBackoff = 20 * time.Millisecond

// AnswerService reconciles answer submissions with the running result.
type AnswerService struct {
	exams      ExamStore
	questions  QuestionStore
	attempts   AttemptStore
	locks      *AttemptLocks
	publisher  MonitorPublisher
	maxRetries int
	log        zerolog.Logger
}

// NewAnswerService creates a new AnswerService. publisher may be nil.
func NewAnswerService(
	exams ExamStore,
	questions QuestionStore,
	attempts AttemptStore,
	locks *AttemptLocks,
	publisher MonitorPublisher,
	maxRetries int,
	log zerolog.Logger,
) *AnswerService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &AnswerService{
		exams:      exams,
		questions:  questions,
		attempts:   attempts,
		locks:      locks,
		publisher:  publisher,
		maxRetries: maxRetries,
		log:        log.With().Str("component", "answer_service").Logger(),
	}
}

// SubmitAnswer records one answer and applies the score delta to the attempt
// result. The answer upsert and the result update commit together.
func (s *AnswerService) SubmitAnswer(ctx context.Context, studentID int, examID, questionID uuid.UUID, answerText string, durationSeconds int) (*model.SubmitAnswerResult, error) {
	if strings.TrimSpace(answerText) == "" {
		return nil, apperr.Validation("answer_text is required")
	}
	if durationSeconds < 0 {
		return nil, apperr.Validation("duration_seconds must not be negative")
	}

	if _, err := s.exams.GetExam(ctx, examID); err != nil {
		return nil, err
	}
	entitled, err := s.exams.IsEntitled(ctx, examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("check entitlement: %w", err)
	}
	if !entitled {
		return nil, ErrNotEntitled
	}

	question, err := s.questions.GetQuestion(ctx, examID, questionID)
	if err != nil {
		return nil, err
	}

	isCorrect := answerText == question.CorrectAnswer
	marks := 0
	if isCorrect {
		marks = question.Points
	}

	unlock := s.locks.Lock(AttemptKey{StudentID: studentID, ExamID: examID})
	defer unlock()

	var out *model.SubmitAnswerResult
	err = withRetry(ctx, s.maxRetries, func() error {
		var txErr error
		out, txErr = s.reconcile(ctx, studentID, examID, questionID, answerText, durationSeconds, isCorrect, marks)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug().
		Int("student_id", studentID).
		Str("exam_id", examID.String()).
		Str("question_id", questionID.String()).
		Int("delta", out.DeltaScore).
		Int("score", out.Result.ExamScore).
		Msg("Answer reconciled")

	s.publisher.Publish(ctx, model.MonitorEvent{
		Type:        model.MonitorEventAnswered,
		StudentID:   studentID,
		ExamID:      examID,
		QuestionID:  &questionID,
		DeltaScore:  out.DeltaScore,
		ExamScore:   out.Result.ExamScore,
		SolvedCount: out.Result.SolvedCount,
		Status:      out.Result.Status,
		At:          out.Answer.UpdatedAt,
	})

	return out, nil
}

func (s *AnswerService) reconcile(ctx context.Context, studentID int, examID, questionID uuid.UUID, answerText string, durationSeconds int, isCorrect bool, marks int) (*model.SubmitAnswerResult, error) {
	var out model.SubmitAnswerResult

	err := s.attempts.InTx(ctx, func(tx AttemptTx) error {
		result, err := tx.LockResult(ctx, studentID, examID, true)
		if err != nil {
			return fmt.Errorf("lock result: %w", err)
		}
		if result.IsSubmitted {
			return ErrAttemptSubmitted
		}

		prev, err := tx.GetAnswer(ctx, studentID, examID, questionID)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return fmt.Errorf("get previous answer: %w", err)
		}

		delta := marks
		if prev != nil {
			delta = marks - prev.AnswerMarks
		}

		answer := &model.StudentAnswer{
			StudentID:       studentID,
			ExamID:          examID,
			QuestionID:      questionID,
			AnswerText:      answerText,
			DurationSeconds: durationSeconds,
			IsCorrect:       isCorrect,
			IsAnswered:      true,
			AnswerMarks:     marks,
		}
		if err := tx.SaveAnswer(ctx, answer); err != nil {
			return fmt.Errorf("save answer: %w", err)
		}

		result.ExamScore += delta
		if prev == nil {
			result.SolvedCount++
		}
		if err := tx.SaveResult(ctx, result); err != nil {
			return fmt.Errorf("save result: %w", err)
		}

		out = model.SubmitAnswerResult{
			Answer:     *answer,
			IsCorrect:  isCorrect,
			DeltaScore: delta,
			Result:     *result,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// withRetry reruns fn while it fails with a transaction conflict.
func withRetry(ctx context.Context, maxRetries int, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, apperr.ErrTxConflict) || attempt >= maxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * retryBackoff):
		}
	}
}
