package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository/memory"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stretchr/testify/require"
)

const testOrgID = 7

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.MonitorEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e model.MonitorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []model.MonitorEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.MonitorEventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	store     *memory.Store
	publisher *recordingPublisher
	answers   *service.AnswerService
	results   *service.ResultService
	sessions  *service.SessionService
	exams     *service.ExamService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	store.PutOrganization(model.Organization{ID: testOrgID, Name: "Universitas Negeri"})

	log := zerolog.Nop()
	pub := &recordingPublisher{}
	locks := service.NewAttemptLocks()

	results := service.NewResultService(store, store, store, locks, pub, 3, log)
	return &fixture{
		store:     store,
		publisher: pub,
		answers:   service.NewAnswerService(store, store, store, locks, pub, 3, log),
		results:   results,
		sessions:  service.NewSessionService(store, store, store, nil, locks, pub, 3, log),
		exams:     service.NewExamService(store, store, results, nil, log),
	}
}

func (f *fixture) createExam(t *testing.T, title string, start time.Time, passingScore int) *model.Exam {
	t.Helper()
	exam, err := f.exams.CreateExam(context.Background(), testOrgID, &model.CreateExamRequest{
		Title:           title,
		ScheduledStart:  &start,
		DurationMinutes: 90,
		PassingScore:    passingScore,
	})
	require.NoError(t, err)
	return exam
}

func (f *fixture) addQuestion(t *testing.T, examID uuid.UUID, title, answer string, points, order int) *model.Question {
	t.Helper()
	q, err := f.exams.AddQuestion(context.Background(), testOrgID, examID, &model.AddQuestionRequest{
		Title:         title,
		QuestionText:  title + "?",
		QuestionType:  string(model.QuestionTypeShortText),
		CorrectAnswer: answer,
		Points:        points,
		Difficulty:    string(model.DifficultyEasy),
		OrderNum:      order,
	})
	require.NoError(t, err)
	return q
}

func (f *fixture) entitle(t *testing.T, examID uuid.UUID, studentIDs ...int) {
	t.Helper()
	_, err := f.exams.AddStudents(context.Background(), testOrgID, examID, studentIDs)
	require.NoError(t, err)
}
