package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/apperr"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinalize_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exam := f.createExam(t, "Finalize twice", time.Now(), 0)
	q := f.addQuestion(t, exam.ID, "Capital of France", "Paris", 5, 1)
	f.entitle(t, exam.ID, 1)

	_, err := f.answers.SubmitAnswer(ctx, 1, exam.ID, q.ID, "Paris", 3)
	require.NoError(t, err)

	first, err := f.results.Finalize(ctx, 1, exam.ID)
	require.NoError(t, err)
	second, err := f.results.Finalize(ctx, 1, exam.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.NotNil(t, first.SubmittedAt)

	finalized := 0
	for _, typ := range f.publisher.types() {
		if typ == model.MonitorEventFinalized {
			finalized++
		}
	}
	assert.Equal(t, 1, finalized)
}

func TestFinalize_PassingScore(t *testing.T) {
	tests := []struct {
		name         string
		passingScore int
		answer       string
		want         model.ResultStatus
	}{
		{"default threshold passes zero score", 0, "wrong", model.ResultStatusPassed},
		{"below threshold fails", 5, "wrong", model.ResultStatusFailed},
		{"at threshold passes", 5, "right", model.ResultStatusPassed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			exam := f.createExam(t, "Threshold", time.Now(), tt.passingScore)
			q := f.addQuestion(t, exam.ID, "Q", "right", 5, 1)
			f.entitle(t, exam.ID, 1)

			_, err := f.answers.SubmitAnswer(ctx, 1, exam.ID, q.ID, tt.answer, 3)
			require.NoError(t, err)

			res, err := f.results.Finalize(ctx, 1, exam.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)
		})
	}
}

func TestFinalize_WithoutAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exam := f.createExam(t, "Empty", time.Now(), 0)
	f.entitle(t, exam.ID, 1)

	_, err := f.results.Finalize(ctx, 1, exam.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.results.Finalize(ctx, 2, exam.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = f.results.Finalize(ctx, 1, uuid.New())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestFinalize_AfterOpenWithoutAnswers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exam := f.createExam(t, "Opened only", time.Now(), 1)
	f.addQuestion(t, exam.ID, "Q", "a", 1, 1)
	f.entitle(t, exam.ID, 1)

	_, err := f.sessions.OpenExam(ctx, 1, exam.ID)
	require.NoError(t, err)

	res, err := f.results.Finalize(ctx, 1, exam.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExamScore)
	assert.Equal(t, 0, res.SolvedCount)
	assert.Equal(t, model.ResultStatusFailed, res.Status)
}

func TestGetResult_RevealsAnswersAfterSubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exam := f.createExam(t, "Review", time.Now(), 0)
	q1 := f.addQuestion(t, exam.ID, "Capital of France", "Paris", 5, 1)
	f.addQuestion(t, exam.ID, "Six times seven", "42", 3, 2)
	f.entitle(t, exam.ID, 1)

	_, err := f.results.GetResult(ctx, 1, exam.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.answers.SubmitAnswer(ctx, 1, exam.ID, q1.ID, "Paris", 3)
	require.NoError(t, err)

	view, err := f.results.GetResult(ctx, 1, exam.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, view.TotalPoints)
	assert.Equal(t, 2, view.QuestionCount)
	require.Len(t, view.Questions, 2)
	assert.True(t, view.Questions[0].IsAnswered)
	assert.Equal(t, "Paris", view.Questions[0].AnswerText)
	assert.False(t, view.Questions[1].IsAnswered)
	assert.Empty(t, view.Questions[0].CorrectAnswer)

	_, err = f.results.Finalize(ctx, 1, exam.ID)
	require.NoError(t, err)

	view, err = f.results.GetResult(ctx, 1, exam.ID)
	require.NoError(t, err)
	assert.Equal(t, "Paris", view.Questions[0].CorrectAnswer)
	assert.Equal(t, "42", view.Questions[1].CorrectAnswer)
}

func TestGetHistory_OrderedByExamDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	older := f.createExam(t, "Older", base, 0)
	newer := f.createExam(t, "Newer", base.AddDate(0, 1, 0), 0)
	untouched := f.createExam(t, "Untouched", base.AddDate(0, 2, 0), 0)

	oq1 := f.addQuestion(t, older.ID, "A", "a", 2, 1)
	oq2 := f.addQuestion(t, older.ID, "B", "b", 3, 2)
	nq := f.addQuestion(t, newer.ID, "C", "c", 4, 1)
	f.addQuestion(t, untouched.ID, "D", "d", 4, 1)
	for _, e := range []*model.Exam{older, newer, untouched} {
		f.entitle(t, e.ID, 9)
	}

	for _, s := range []struct {
		exam uuid.UUID
		q    uuid.UUID
		text string
	}{
		{older.ID, oq1.ID, "a"},
		{older.ID, oq2.ID, "x"},
		{newer.ID, nq.ID, "c"},
	} {
		_, err := f.answers.SubmitAnswer(ctx, 9, s.exam, s.q, s.text, 1)
		require.NoError(t, err)
	}

	history, err := f.results.GetHistory(ctx, 9)
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, newer.ID, history[0].ExamID)
	assert.Equal(t, 4, history[0].Score)
	assert.Equal(t, 1, history[0].QuestionCount)
	assert.Equal(t, "Universitas Negeri", history[0].OrganizationName)

	assert.Equal(t, older.ID, history[1].ExamID)
	assert.Equal(t, 2, history[1].Score)
	assert.Equal(t, 2, history[1].QuestionCount)
}

func TestGetHistory_Empty(t *testing.T) {
	f := newFixture(t)

	history, err := f.results.GetHistory(context.Background(), 404)
	require.NoError(t, err)
	assert.Empty(t, history)
}
