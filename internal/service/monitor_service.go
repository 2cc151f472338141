package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// MonitorService builds the live monitor view of an exam.
type MonitorService struct {
	exams     ExamStore
	questions QuestionStore
	attempts  AttemptStore
	presence  PresenceStore
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(exams ExamStore, questions QuestionStore, attempts AttemptStore, presence PresenceStore) *MonitorService {
	return &MonitorService{exams: exams, questions: questions, attempts: attempts, presence: presence}
}

// MaxPresenceEvents caps one presence listing.
const MaxPresenceEvents = 500

// RecentPresence lists the latest signaling room joins and leaves of an exam.
func (s *MonitorService) RecentPresence(ctx context.Context, examID uuid.UUID, limit int) ([]model.PresenceEvent, error) {
	if limit <= 0 || limit > MaxPresenceEvents {
		limit = MaxPresenceEvents
	}
	events, err := s.presence.ListPresence(ctx, examID, limit)
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}
	if events == nil {
		events = []model.PresenceEvent{}
	}
	return events, nil
}

// StudentProgress is one entitled student's attempt state.
type StudentProgress struct {
	StudentID   int                `json:"student_id"`
	Started     bool               `json:"started"`
	ExamScore   int                `json:"exam_score"`
	SolvedCount int                `json:"solved_count"`
	Status      model.ResultStatus `json:"status,omitempty"`
	IsSubmitted bool               `json:"is_submitted"`
}

// MonitorSnapshot is the first event a proctor monitor receives.
type MonitorSnapshot struct {
	ExamID          uuid.UUID         `json:"exam_id"`
	Title           string            `json:"title"`
	DurationMinutes int               `json:"duration_minutes"`
	TotalQuestions  int               `json:"total_questions"`
	TotalEntitled   int               `json:"total_entitled"`
	TotalStarted    int               `json:"total_started"`
	TotalSubmitted  int               `json:"total_submitted"`
	Students        []StudentProgress `json:"students"`
}

// Snapshot fetches entitlements, results and questions concurrently and
// merges them into one view. The caller authorizes access to the exam.
func (s *MonitorService) Snapshot(ctx context.Context, exam *model.Exam) (*MonitorSnapshot, error) {
	var (
		students     []int
		results      []model.StudentResult
		questions    []model.Question
		studentsErr  error
		resultsErr   error
		questionsErr error
		wg           sync.WaitGroup
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		students, studentsErr = s.exams.ListEntitledStudents(ctx, exam.ID)
	}()
	go func() {
		defer wg.Done()
		results, resultsErr = s.attempts.ListResults(ctx, exam.ID)
	}()
	go func() {
		defer wg.Done()
		questions, questionsErr = s.questions.ListQuestions(ctx, exam.ID)
	}()
	wg.Wait()

	if studentsErr != nil {
		return nil, fmt.Errorf("list entitled students: %w", studentsErr)
	}
	if resultsErr != nil {
		return nil, fmt.Errorf("list results: %w", resultsErr)
	}
	if questionsErr != nil {
		return nil, fmt.Errorf("list questions: %w", questionsErr)
	}

	byStudent := make(map[int]model.StudentResult, len(results))
	for _, r := range results {
		byStudent[r.StudentID] = r
	}

	snap := &MonitorSnapshot{
		ExamID:          exam.ID,
		Title:           exam.Title,
		DurationMinutes: exam.DurationMinutes,
		TotalQuestions:  len(questions),
		TotalEntitled:   len(students),
		Students:        make([]StudentProgress, 0, len(students)),
	}
	for _, id := range students {
		p := StudentProgress{StudentID: id}
		if r, ok := byStudent[id]; ok {
			p.Started = true
			p.ExamScore = r.ExamScore
			p.SolvedCount = r.SolvedCount
			p.Status = r.Status
			p.IsSubmitted = r.IsSubmitted
			snap.TotalStarted++
			if r.IsSubmitted {
				snap.TotalSubmitted++
			}
		}
		snap.Students = append(snap.Students, p)
	}
	return snap, nil
}
