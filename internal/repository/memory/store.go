// Package memory is an in-process record store used for local runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/apperr"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/service"
)

type answerKey struct {
	studentID  int
	examID     uuid.UUID
	questionID uuid.UUID
}

type attemptKey struct {
	studentID int
	examID    uuid.UUID
}

// Store keeps every record collection in maps.
//
// catalogMu guards organizations, exams, questions and entitlements.
// attemptMu guards answers, results and openings and is held for the whole
// of a transaction. Lock order is attemptMu before catalogMu.
type Store struct {
	catalogMu     sync.RWMutex
	organizations map[int]model.Organization
	exams         map[uuid.UUID]model.Exam
	questions     map[uuid.UUID]model.Question
	entitlements  map[uuid.UUID]map[int]struct{}

	attemptMu sync.Mutex
	answers   map[answerKey]model.StudentAnswer
	results   map[attemptKey]model.StudentResult
	openings  map[attemptKey]time.Time

	presenceMu sync.Mutex
	presence   []model.PresenceEvent

	now func() time.Time
}

var (
	_ service.ExamStore     = (*Store)(nil)
	_ service.QuestionStore = (*Store)(nil)
	_ service.AttemptStore  = (*Store)(nil)
	_ service.PresenceStore = (*Store)(nil)
)

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		organizations: make(map[int]model.Organization),
		exams:         make(map[uuid.UUID]model.Exam),
		questions:     make(map[uuid.UUID]model.Question),
		entitlements:  make(map[uuid.UUID]map[int]struct{}),
		answers:       make(map[answerKey]model.StudentAnswer),
		results:       make(map[attemptKey]model.StudentResult),
		openings:      make(map[attemptKey]time.Time),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// PutOrganization inserts or replaces an organization.
func (s *Store) PutOrganization(org model.Organization) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	s.organizations[org.ID] = org
}

// ─── ExamStore ───────────────────────────────────────────────────────

func (s *Store) GetExam(_ context.Context, examID uuid.UUID) (*model.Exam, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()

	e, ok := s.exams[examID]
	if !ok {
		return nil, apperr.NotFound("exam %s not found", examID)
	}
	return &e, nil
}

func (s *Store) CreateExam(_ context.Context, exam *model.Exam) error {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()

	if exam.ScheduledStart != nil {
		for _, other := range s.exams {
			if other.OrganizationID == exam.OrganizationID &&
				other.ScheduledStart != nil && other.ScheduledStart.Equal(*exam.ScheduledStart) {
				return apperr.Conflict("an exam is already scheduled at %s", exam.ScheduledStart.Format(time.RFC3339))
			}
		}
	}

	if exam.ID == uuid.Nil {
		exam.ID = uuid.New()
	}
	now := s.now()
	exam.CreatedAt = now
	exam.UpdatedAt = now
	s.exams[exam.ID] = *exam
	return nil
}

func (s *Store) AddEntitledStudents(_ context.Context, examID uuid.UUID, studentIDs []int) (int, error) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()

	if _, ok := s.exams[examID]; !ok {
		return 0, apperr.NotFound("exam %s not found", examID)
	}
	set, ok := s.entitlements[examID]
	if !ok {
		set = make(map[int]struct{})
		s.entitlements[examID] = set
	}
	added := 0
	for _, id := range studentIDs {
		if _, exists := set[id]; !exists {
			set[id] = struct{}{}
			added++
		}
	}
	return added, nil
}

func (s *Store) ListEntitledStudents(_ context.Context, examID uuid.UUID) ([]int, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()

	ids := make([]int, 0, len(s.entitlements[examID]))
	for id := range s.entitlements[examID] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (s *Store) IsEntitled(_ context.Context, examID uuid.UUID, studentID int) (bool, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()

	_, ok := s.entitlements[examID][studentID]
	return ok, nil
}

func (s *Store) ListEntitledExams(_ context.Context, studentID int) ([]model.Exam, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()

	var exams []model.Exam
	for examID, set := range s.entitlements {
		if _, ok := set[studentID]; ok {
			exams = append(exams, s.exams[examID])
		}
	}
	sortExams(exams)
	return exams, nil
}

func (s *Store) ListOpenedExamIDs(_ context.Context, studentID int) ([]uuid.UUID, error) {
	s.attemptMu.Lock()
	defer s.attemptMu.Unlock()

	var ids []uuid.UUID
	for k := range s.openings {
		if k.studentID == studentID {
			ids = append(ids, k.examID)
		}
	}
	return ids, nil
}

// ─── QuestionStore ───────────────────────────────────────────────────

func (s *Store) GetQuestion(_ context.Context, examID, questionID uuid.UUID) (*model.Question, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()

	q, ok := s.questions[questionID]
	if !ok || q.ExamID != examID {
		return nil, apperr.NotFound("question %s not found in exam %s", questionID, examID)
	}
	return &q, nil
}

func (s *Store) ListQuestions(_ context.Context, examID uuid.UUID) ([]model.Question, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()

	var qs []model.Question
	for _, q := range s.questions {
		if q.ExamID == examID {
			qs = append(qs, q)
		}
	}
	sort.Slice(qs, func(i, j int) bool {
		if qs[i].OrderNum != qs[j].OrderNum {
			return qs[i].OrderNum < qs[j].OrderNum
		}
		return qs[i].CreatedAt.Before(qs[j].CreatedAt)
	})
	return qs, nil
}

func (s *Store) CreateQuestion(_ context.Context, q *model.Question) error {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()

	if _, ok := s.exams[q.ExamID]; !ok {
		return apperr.NotFound("exam %s not found", q.ExamID)
	}
	for _, other := range s.questions {
		if other.ExamID == q.ExamID && other.Title == q.Title {
			return apperr.Conflict("question %q already exists in this exam", q.Title)
		}
	}
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	q.CreatedAt = s.now()
	s.questions[q.ID] = *q
	return nil
}

// ─── AttemptStore ────────────────────────────────────────────────────

func (s *Store) InTx(ctx context.Context, fn func(tx service.AttemptTx) error) error {
	s.attemptMu.Lock()
	defer s.attemptMu.Unlock()

	tx := &memTx{
		s:        s,
		answers:  make(map[answerKey]model.StudentAnswer),
		results:  make(map[attemptKey]model.StudentResult),
		openings: make(map[attemptKey]time.Time),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for k, v := range tx.answers {
		s.answers[k] = v
	}
	for k, v := range tx.results {
		s.results[k] = v
	}
	for k, v := range tx.openings {
		s.openings[k] = v
	}
	return nil
}

func (s *Store) GetResult(_ context.Context, studentID int, examID uuid.UUID) (*model.StudentResult, error) {
	s.attemptMu.Lock()
	defer s.attemptMu.Unlock()

	r, ok := s.results[attemptKey{studentID, examID}]
	if !ok {
		return nil, apperr.NotFound("no result for student %d in exam %s", studentID, examID)
	}
	return &r, nil
}

func (s *Store) ListResults(_ context.Context, examID uuid.UUID) ([]model.StudentResult, error) {
	s.attemptMu.Lock()
	defer s.attemptMu.Unlock()

	var results []model.StudentResult
	for k, r := range s.results {
		if k.examID == examID {
			results = append(results, r)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].StudentID < results[j].StudentID })
	return results, nil
}

func (s *Store) ListAnswers(_ context.Context, studentID int, examID uuid.UUID) ([]model.StudentAnswer, error) {
	s.attemptMu.Lock()
	defer s.attemptMu.Unlock()
	return s.listAnswersLocked(studentID, examID, nil), nil
}

func (s *Store) ListAnswerHistory(_ context.Context, studentID int) ([]model.AnswerHistoryRow, error) {
	s.attemptMu.Lock()
	defer s.attemptMu.Unlock()
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()

	var rows []model.AnswerHistoryRow
	for k, a := range s.answers {
		if k.studentID != studentID {
			continue
		}
		q, ok := s.questions[k.questionID]
		if !ok {
			continue
		}
		e, ok := s.exams[q.ExamID]
		if !ok {
			continue
		}
		org := s.organizations[e.OrganizationID]
		rows = append(rows, model.AnswerHistoryRow{
			ExamID:           e.ID,
			ExamTitle:        e.Title,
			ExamDate:         e.ScheduledStart,
			DurationMinutes:  e.DurationMinutes,
			OrganizationID:   e.OrganizationID,
			OrganizationName: org.Name,
			QuestionID:       q.ID,
			IsAnswered:       a.IsAnswered,
			AnswerMarks:      a.AnswerMarks,
		})
	}
	return rows, nil
}

func (s *Store) listAnswersLocked(studentID int, examID uuid.UUID, overlay map[answerKey]model.StudentAnswer) []model.StudentAnswer {
	merged := make(map[answerKey]model.StudentAnswer)
	for k, a := range s.answers {
		if k.studentID == studentID && k.examID == examID {
			merged[k] = a
		}
	}
	for k, a := range overlay {
		if k.studentID == studentID && k.examID == examID {
			merged[k] = a
		}
	}

	answers := make([]model.StudentAnswer, 0, len(merged))
	for _, a := range merged {
		answers = append(answers, a)
	}
	sort.Slice(answers, func(i, j int) bool {
		return answers[i].CreatedAt.Before(answers[j].CreatedAt) ||
			(answers[i].CreatedAt.Equal(answers[j].CreatedAt) &&
				answers[i].QuestionID.String() < answers[j].QuestionID.String())
	})
	return answers
}

// memTx buffers writes until InTx commits them.
type memTx struct {
	s        *Store
	answers  map[answerKey]model.StudentAnswer
	results  map[attemptKey]model.StudentResult
	openings map[attemptKey]time.Time
}

func (t *memTx) LockResult(_ context.Context, studentID int, examID uuid.UUID, create bool) (*model.StudentResult, error) {
	k := attemptKey{studentID, examID}
	if r, ok := t.results[k]; ok {
		return &r, nil
	}
	if r, ok := t.s.results[k]; ok {
		return &r, nil
	}
	if !create {
		return nil, apperr.NotFound("no result for student %d in exam %s", studentID, examID)
	}
	now := t.s.now()
	r := model.StudentResult{
		StudentID: studentID,
		ExamID:    examID,
		Status:    model.ResultStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.results[k] = r
	return &r, nil
}

func (t *memTx) GetAnswer(_ context.Context, studentID int, examID, questionID uuid.UUID) (*model.StudentAnswer, error) {
	k := answerKey{studentID, examID, questionID}
	if a, ok := t.answers[k]; ok {
		return &a, nil
	}
	if a, ok := t.s.answers[k]; ok {
		return &a, nil
	}
	return nil, apperr.NotFound("no answer for question %s", questionID)
}

func (t *memTx) SaveAnswer(_ context.Context, a *model.StudentAnswer) error {
	k := answerKey{a.StudentID, a.ExamID, a.QuestionID}
	now := t.s.now()
	if prev, ok := t.answers[k]; ok {
		a.CreatedAt = prev.CreatedAt
	} else if prev, ok := t.s.answers[k]; ok {
		a.CreatedAt = prev.CreatedAt
	} else {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	t.answers[k] = *a
	return nil
}

func (t *memTx) SaveResult(_ context.Context, r *model.StudentResult) error {
	k := attemptKey{r.StudentID, r.ExamID}
	if prev, ok := t.s.results[k]; ok && r.CreatedAt.IsZero() {
		r.CreatedAt = prev.CreatedAt
	}
	r.UpdatedAt = t.s.now()
	t.results[k] = *r
	return nil
}

func (t *memTx) ListAnswers(_ context.Context, studentID int, examID uuid.UUID) ([]model.StudentAnswer, error) {
	return t.s.listAnswersLocked(studentID, examID, t.answers), nil
}

func (t *memTx) MarkOpened(_ context.Context, studentID int, examID uuid.UUID) (bool, error) {
	k := attemptKey{studentID, examID}
	if _, ok := t.s.openings[k]; ok {
		return false, nil
	}
	if _, ok := t.openings[k]; ok {
		return false, nil
	}
	t.openings[k] = t.s.now()
	return true, nil
}

func sortExams(exams []model.Exam) {
	sort.Slice(exams, func(i, j int) bool {
		a, b := exams[i].ScheduledStart, exams[j].ScheduledStart
		switch {
		case a == nil && b == nil:
			return exams[i].ID.String() < exams[j].ID.String()
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return exams[i].ID.String() < exams[j].ID.String()
	})
}

// ─── PresenceStore ───────────────────────────────────────────────────

func (s *Store) InsertPresence(_ context.Context, e model.PresenceEvent) error {
	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()
	s.presence = append(s.presence, e)
	return nil
}

func (s *Store) CopyPresence(_ context.Context, batch []model.PresenceEvent) (int64, error) {
	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()
	s.presence = append(s.presence, batch...)
	return int64(len(batch)), nil
}

func (s *Store) ListPresence(_ context.Context, examID uuid.UUID, limit int) ([]model.PresenceEvent, error) {
	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()

	var events []model.PresenceEvent
	for i := len(s.presence) - 1; i >= 0 && (limit <= 0 || len(events) < limit); i-- {
		if s.presence[i].ExamID == examID {
			events = append(events, s.presence[i])
		}
	}
	return events, nil
}
