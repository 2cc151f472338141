package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/apperr"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitAnswer_ExampleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exam := f.createExam(t, "Geography and Arithmetic", time.Now(), 0)
	q1 := f.addQuestion(t, exam.ID, "Capital of France", "Paris", 5, 1)
	q2 := f.addQuestion(t, exam.ID, "Six times seven", "42", 5, 2)
	f.entitle(t, exam.ID, 1001)

	res, err := f.answers.SubmitAnswer(ctx, 1001, exam.ID, q1.ID, "Paris", 30)
	require.NoError(t, err)
	assert.True(t, res.IsCorrect)
	assert.Equal(t, 5, res.DeltaScore)
	assert.Equal(t, 5, res.Result.ExamScore)

	res, err = f.answers.SubmitAnswer(ctx, 1001, exam.ID, q2.ID, "0", 12)
	require.NoError(t, err)
	assert.False(t, res.IsCorrect)
	assert.Equal(t, 0, res.DeltaScore)
	assert.Equal(t, 5, res.Result.ExamScore)

	res, err = f.answers.SubmitAnswer(ctx, 1001, exam.ID, q2.ID, "42", 20)
	require.NoError(t, err)
	assert.Equal(t, 5, res.DeltaScore)
	assert.Equal(t, 10, res.Result.ExamScore)
	assert.Equal(t, 2, res.Result.SolvedCount)

	final, err := f.results.Finalize(ctx, 1001, exam.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, final.ExamScore)
	assert.Equal(t, 2, final.SolvedCount)
	assert.True(t, final.IsSubmitted)
	assert.Equal(t, model.ResultStatusPassed, final.Status)
}

func TestSubmitAnswer_ResubmissionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exam := f.createExam(t, "Idempotence", time.Now(), 0)
	q := f.addQuestion(t, exam.ID, "Capital of France", "Paris", 5, 1)
	f.entitle(t, exam.ID, 1)

	first, err := f.answers.SubmitAnswer(ctx, 1, exam.ID, q.ID, "Paris", 10)
	require.NoError(t, err)
	second, err := f.answers.SubmitAnswer(ctx, 1, exam.ID, q.ID, "Paris", 10)
	require.NoError(t, err)

	assert.Equal(t, 5, first.DeltaScore)
	assert.Equal(t, 0, second.DeltaScore)
	assert.Equal(t, first.Result.ExamScore, second.Result.ExamScore)
	assert.Equal(t, first.Result.SolvedCount, second.Result.SolvedCount)

	answers, err := f.store.ListAnswers(ctx, 1, exam.ID)
	require.NoError(t, err)
	assert.Len(t, answers, 1)
}

func TestSubmitAnswer_CorrectionIsNegativeDelta(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exam := f.createExam(t, "Correction", time.Now(), 0)
	q := f.addQuestion(t, exam.ID, "Capital of France", "Paris", 8, 1)
	f.entitle(t, exam.ID, 1)

	_, err := f.answers.SubmitAnswer(ctx, 1, exam.ID, q.ID, "Paris", 5)
	require.NoError(t, err)

	res, err := f.answers.SubmitAnswer(ctx, 1, exam.ID, q.ID, "paris", 9)
	require.NoError(t, err)
	assert.False(t, res.IsCorrect, "match is case sensitive")
	assert.Equal(t, -8, res.DeltaScore)
	assert.Equal(t, 0, res.Result.ExamScore)
	assert.Equal(t, 1, res.Result.SolvedCount)
	assert.Equal(t, 9, res.Answer.DurationSeconds)
}

func TestSubmitAnswer_ScoreMatchesAnswerMarks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exam := f.createExam(t, "Invariant", time.Now(), 0)
	qs := []*model.Question{
		f.addQuestion(t, exam.ID, "A", "a", 1, 1),
		f.addQuestion(t, exam.ID, "B", "b", 2, 2),
		f.addQuestion(t, exam.ID, "C", "c", 4, 3),
	}
	f.entitle(t, exam.ID, 3)

	steps := []struct {
		q    int
		text string
	}{
		{0, "a"}, {1, "x"}, {2, "c"}, {1, "b"}, {0, "z"}, {2, "c"}, {0, "a"},
	}
	for _, st := range steps {
		res, err := f.answers.SubmitAnswer(ctx, 3, exam.ID, qs[st.q].ID, st.text, 1)
		require.NoError(t, err)

		answers, err := f.store.ListAnswers(ctx, 3, exam.ID)
		require.NoError(t, err)
		sum := 0
		for _, a := range answers {
			if a.IsAnswered {
				sum += a.AnswerMarks
			}
		}
		assert.Equal(t, sum, res.Result.ExamScore)
	}
}

func TestSubmitAnswer_ConcurrentSubmissionsDoNotLoseUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exam := f.createExam(t, "Concurrency", time.Now(), 0)
	const n = 20
	questions := make([]*model.Question, n)
	for i := range questions {
		questions[i] = f.addQuestion(t, exam.ID, uuid.NewString(), "yes", 3, i)
	}
	f.entitle(t, exam.ID, 42)

	var wg sync.WaitGroup
	for _, q := range questions {
		wg.Add(1)
		go func(q *model.Question) {
			defer wg.Done()
			_, err := f.answers.SubmitAnswer(ctx, 42, exam.ID, q.ID, "yes", 1)
			assert.NoError(t, err)
		}(q)
	}
	wg.Wait()

	result, err := f.store.GetResult(ctx, 42, exam.ID)
	require.NoError(t, err)
	assert.Equal(t, 3*n, result.ExamScore)
	assert.Equal(t, n, result.SolvedCount)
}

func TestSubmitAnswer_Gating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exam := f.createExam(t, "Gating", time.Now(), 0)
	other := f.createExam(t, "Other", time.Now().Add(time.Hour), 0)
	q := f.addQuestion(t, exam.ID, "Capital of France", "Paris", 5, 1)
	foreign := f.addQuestion(t, other.ID, "Elsewhere", "x", 5, 1)
	f.entitle(t, exam.ID, 1)

	tests := []struct {
		name       string
		studentID  int
		examID     uuid.UUID
		questionID uuid.UUID
		text       string
		duration   int
		kind       apperr.Kind
	}{
		{"blank answer", 1, exam.ID, q.ID, "   ", 1, apperr.KindValidation},
		{"negative duration", 1, exam.ID, q.ID, "Paris", -1, apperr.KindValidation},
		{"unknown exam", 1, uuid.New(), q.ID, "Paris", 1, apperr.KindNotFound},
		{"not entitled", 2, exam.ID, q.ID, "Paris", 1, apperr.KindForbidden},
		{"question of another exam", 1, exam.ID, foreign.ID, "x", 1, apperr.KindNotFound},
		{"unknown question", 1, exam.ID, uuid.New(), "x", 1, apperr.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.answers.SubmitAnswer(ctx, tt.studentID, tt.examID, tt.questionID, tt.text, tt.duration)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}

	_, err := f.store.GetResult(ctx, 2, exam.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestSubmitAnswer_RejectedAfterFinalize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exam := f.createExam(t, "Locked", time.Now(), 0)
	q := f.addQuestion(t, exam.ID, "Capital of France", "Paris", 5, 1)
	f.entitle(t, exam.ID, 1)

	_, err := f.answers.SubmitAnswer(ctx, 1, exam.ID, q.ID, "Lyon", 3)
	require.NoError(t, err)
	_, err = f.results.Finalize(ctx, 1, exam.ID)
	require.NoError(t, err)

	_, err = f.answers.SubmitAnswer(ctx, 1, exam.ID, q.ID, "Paris", 3)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	answers, err := f.store.ListAnswers(ctx, 1, exam.ID)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "Lyon", answers[0].AnswerText)
}

func TestSubmitAnswer_PublishesMonitorEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exam := f.createExam(t, "Monitor", time.Now(), 0)
	q := f.addQuestion(t, exam.ID, "Capital of France", "Paris", 5, 1)
	f.entitle(t, exam.ID, 1)

	_, err := f.answers.SubmitAnswer(ctx, 1, exam.ID, q.ID, "Paris", 3)
	require.NoError(t, err)

	require.Equal(t, []model.MonitorEventType{model.MonitorEventAnswered}, f.publisher.types())
	ev := f.publisher.events[0]
	assert.Equal(t, 5, ev.DeltaScore)
	require.NotNil(t, ev.QuestionID)
	assert.Equal(t, q.ID, *ev.QuestionID)
}
