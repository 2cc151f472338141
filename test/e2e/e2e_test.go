//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	defaultBaseURL = "http://localhost:8080/api/v1"
	e2eOrgID       = 9001
	e2eOrgName     = "E2E Faculty"
	e2eProctorID   = 77
	e2eStudentID   = 424242

	concurrentQuestions = 8
	concurrentPoints    = 3
)

var (
	baseURL      string
	dbURL        string
	proctorToken string
	studentToken string
	examID       string
	questionID   string

	// Filled by ConcurrentSubmissions with the score every later step expects.
	expectedScore  = 10
	expectedSolved = 1
)

func TestMain(m *testing.M) {
	_ = godotenv.Load("../../.env")

	baseURL = os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	// Tokens are signed with the same JWT_SECRET the server reads.
	cfg := config.Load()
	dbURL = cfg.DatabaseURL

	if err := setupDatabase(); err != nil {
		fmt.Printf("Setup failed: %v\n", err)
		os.Exit(1)
	}

	auth := service.NewAuthService(cfg)
	var err error
	if proctorToken, err = auth.GenerateProctorToken(e2eProctorID, e2eOrgID); err != nil {
		fmt.Printf("Token failed: %v\n", err)
		os.Exit(1)
	}
	if studentToken, err = auth.GenerateStudentToken(e2eStudentID); err != nil {
		fmt.Printf("Token failed: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func setupDatabase() error {
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer conn.Close(ctx)

	// Exams cascade to questions, entitlements, answers, results and openings.
	if _, err := conn.Exec(ctx, `DELETE FROM exams WHERE organization_id = $1`, e2eOrgID); err != nil {
		return fmt.Errorf("cleanup exams: %w", err)
	}
	_, err = conn.Exec(ctx,
		`INSERT INTO organizations (id, name) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`, e2eOrgID, e2eOrgName)
	if err != nil {
		return fmt.Errorf("insert organization: %w", err)
	}
	return nil
}

func TestE2EFlow(t *testing.T) {
	t.Run("CreateExam", func(t *testing.T) {
		start := time.Now().Add(time.Hour).Truncate(time.Second)
		end := start.Add(2 * time.Hour)
		reqBody := model.CreateExamRequest{
			Title:           "E2E Test Exam",
			ScheduledStart:  &start,
			ScheduledEnd:    &end,
			DurationMinutes: 60,
			PassingScore:    10,
		}
		resp := mustDo(t, http.MethodPost, "/org/exams", reqBody, proctorToken, http.StatusCreated)

		var body struct {
			Data model.Exam `json:"data"`
		}
		decodeJSON(t, resp, &body)
		examID = body.Data.ID.String()
		t.Logf("Exam Created: %s", examID)
	})

	t.Run("AddQuestion", func(t *testing.T) {
		reqBody := model.AddQuestionRequest{
			Title:         "Capital of France",
			QuestionText:  "What is the capital of France?",
			QuestionType:  "SHORT_TEXT",
			CorrectAnswer: "Paris",
			Points:        10,
			Difficulty:    "EASY",
			OrderNum:      1,
		}
		resp := mustDo(t, http.MethodPost, fmt.Sprintf("/org/exams/%s/questions", examID), reqBody, proctorToken, http.StatusCreated)

		var body struct {
			Data model.Question `json:"data"`
		}
		decodeJSON(t, resp, &body)
		questionID = body.Data.ID.String()
	})

	t.Run("AddDuplicateQuestion", func(t *testing.T) {
		reqBody := model.AddQuestionRequest{
			Title:         "Capital of France",
			QuestionText:  "Again?",
			QuestionType:  "SHORT_TEXT",
			CorrectAnswer: "Paris",
			Points:        10,
			Difficulty:    "EASY",
		}
		mustDo(t, http.MethodPost, fmt.Sprintf("/org/exams/%s/questions", examID), reqBody, proctorToken, http.StatusConflict)
	})

	t.Run("SubmitBeforeEntitlement", func(t *testing.T) {
		mustDo(t, http.MethodPost, answerPath(), answer("Paris"), studentToken, http.StatusForbidden)
	})

	t.Run("AddStudents", func(t *testing.T) {
		reqBody := model.AddStudentsRequest{StudentIDs: []int{e2eStudentID}}
		mustDo(t, http.MethodPost, fmt.Sprintf("/org/exams/%s/students", examID), reqBody, proctorToken, http.StatusOK)
	})

	t.Run("OpenExam", func(t *testing.T) {
		resp := mustDo(t, http.MethodPost, fmt.Sprintf("/student/exams/%s/open", examID), nil, studentToken, http.StatusCreated)
		var body struct {
			Data model.ExamContentView `json:"data"`
		}
		decodeJSON(t, resp, &body)
		if len(body.Data.Questions) != 1 {
			t.Fatalf("expected 1 question, got %d", len(body.Data.Questions))
		}
	})

	t.Run("ReconcileAnswers", func(t *testing.T) {
		steps := []struct {
			text  string
			delta int
			score int
		}{
			{"Paris", 10, 10},
			{"Paris", 0, 10},
			{"Lyon", -10, 0},
			{"Paris", 10, 10},
		}
		for _, s := range steps {
			resp := mustDo(t, http.MethodPost, answerPath(), answer(s.text), studentToken, http.StatusOK)
			var body struct {
				Data model.SubmitAnswerResult `json:"data"`
			}
			decodeJSON(t, resp, &body)
			if body.Data.DeltaScore != s.delta || body.Data.Result.ExamScore != s.score {
				t.Fatalf("answer %q: got delta %d score %d, want %d %d",
					s.text, body.Data.DeltaScore, body.Data.Result.ExamScore, s.delta, s.score)
			}
			if body.Data.Result.SolvedCount != 1 {
				t.Fatalf("solved count %d, want 1", body.Data.Result.SolvedCount)
			}
		}
	})

	t.Run("ConcurrentSubmissions", func(t *testing.T) {
		ids := make([]string, concurrentQuestions)
		for i := range ids {
			reqBody := model.AddQuestionRequest{
				Title:         fmt.Sprintf("Concurrent %d", i),
				QuestionText:  fmt.Sprintf("Pick A (%d)", i),
				QuestionType:  "SHORT_TEXT",
				CorrectAnswer: "A",
				Points:        concurrentPoints,
				Difficulty:    "EASY",
				OrderNum:      i + 2,
			}
			resp := mustDo(t, http.MethodPost, fmt.Sprintf("/org/exams/%s/questions", examID), reqBody, proctorToken, http.StatusCreated)
			var body struct {
				Data model.Question `json:"data"`
			}
			decodeJSON(t, resp, &body)
			ids[i] = body.Data.ID.String()
		}

		// Even questions are answered correctly; every goroutine races on the
		// same student_results row.
		var wg sync.WaitGroup
		errs := make(chan error, len(ids)+1)
		for i, id := range ids {
			text := "B"
			if i%2 == 0 {
				text = "A"
			}
			wg.Add(1)
			go func(path, text string) {
				defer wg.Done()
				errs <- submit(path, text)
			}(fmt.Sprintf("/student/exams/%s/questions/%s/answer", examID, id), text)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- submit(answerPath(), "Paris")
		}()
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatal(err)
			}
		}

		expectedScore += (concurrentQuestions + 1) / 2 * concurrentPoints
		expectedSolved += concurrentQuestions

		ctx := context.Background()
		conn, err := pgx.Connect(ctx, dbURL)
		if err != nil {
			t.Fatalf("db connect: %v", err)
		}
		defer conn.Close(ctx)

		var score, solved int
		err = conn.QueryRow(ctx,
			`SELECT exam_score, solved_count FROM student_results WHERE student_id = $1 AND exam_id = $2`,
			e2eStudentID, examID).Scan(&score, &solved)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if score != expectedScore || solved != expectedSolved {
			t.Fatalf("after concurrent submissions: score %d solved %d, want %d %d",
				score, solved, expectedScore, expectedSolved)
		}
	})

	t.Run("ScoreMatchesAnswerMarks", func(t *testing.T) {
		ctx := context.Background()
		conn, err := pgx.Connect(ctx, dbURL)
		if err != nil {
			t.Fatalf("db connect: %v", err)
		}
		defer conn.Close(ctx)

		var score, marks int
		err = conn.QueryRow(ctx,
			`SELECT r.exam_score, COALESCE(SUM(a.answer_marks) FILTER (WHERE a.is_answered), 0)
			 FROM student_results r
			 LEFT JOIN student_answers a ON a.student_id = r.student_id AND a.exam_id = r.exam_id
			 WHERE r.student_id = $1 AND r.exam_id = $2
			 GROUP BY r.exam_score`, e2eStudentID, examID).Scan(&score, &marks)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if score != marks {
			t.Fatalf("exam_score %d != sum of answer marks %d", score, marks)
		}
	})

	t.Run("Finalize", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			resp := mustDo(t, http.MethodPost, fmt.Sprintf("/student/exams/%s/finalize", examID), nil, studentToken, http.StatusOK)
			var body struct {
				Data model.StudentResult `json:"data"`
			}
			decodeJSON(t, resp, &body)
			if !body.Data.IsSubmitted || body.Data.Status != model.ResultStatusPassed {
				t.Fatalf("unexpected result: %+v", body.Data)
			}
			if body.Data.ExamScore != expectedScore || body.Data.SolvedCount != expectedSolved {
				t.Fatalf("finalized score %d solved %d, want %d %d",
					body.Data.ExamScore, body.Data.SolvedCount, expectedScore, expectedSolved)
			}
		}
	})

	t.Run("SubmitAfterFinalize", func(t *testing.T) {
		mustDo(t, http.MethodPost, answerPath(), answer("Lyon"), studentToken, http.StatusConflict)
	})

	t.Run("History", func(t *testing.T) {
		resp := mustDo(t, http.MethodGet, "/student/history", nil, studentToken, http.StatusOK)
		var body struct {
			Data struct {
				History []model.HistoryEntry `json:"history"`
			} `json:"data"`
		}
		decodeJSON(t, resp, &body)
		for _, h := range body.Data.History {
			if h.ExamID.String() == examID {
				if h.Score != expectedScore || h.OrganizationName != e2eOrgName {
					t.Fatalf("unexpected history entry: %+v", h)
				}
				return
			}
		}
		t.Fatal("exam missing from history")
	})

	t.Run("VerifyPermissionFails", func(t *testing.T) {
		mustDo(t, http.MethodPost, "/org/exams", nil, studentToken, http.StatusForbidden)
	})
}

// Helpers

func answerPath() string {
	return fmt.Sprintf("/student/exams/%s/questions/%s/answer", examID, questionID)
}

func answer(text string) model.SubmitAnswerRequest {
	d := 5
	return model.SubmitAnswerRequest{AnswerText: text, DurationSeconds: &d}
}

// submit posts one answer and reports any status other than 200.
func submit(path, text string) error {
	jsonBytes, _ := json.Marshal(answer(text))
	req, err := http.NewRequest(http.MethodPost, baseURL+path, bytes.NewReader(jsonBytes))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+studentToken)
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("submit %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("submit %s: status %d: %s", path, resp.StatusCode, readBody(resp))
	}
	return nil
}

func mustDo(t *testing.T, method, path string, body interface{}, token string, want int) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequest(method, baseURL+path, bodyReader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	if resp.StatusCode != want {
		t.Fatalf("%s %s: status %d, want %d: %s", method, path, resp.StatusCode, want, readBody(resp))
	}
	return resp
}

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("json decode: %v", err)
	}
}
