package handler_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/monitor"
	"github.com/stemsi/exstem-proctor/internal/repository/memory"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/signal"
	"github.com/stemsi/exstem-proctor/internal/validator"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	orgID     = 4
	otherOrg  = 5
	proctorID = 900
	studentID = 1001
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    response.ErrCode  `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

type testServer struct {
	engine  *gin.Engine
	auth    *service.AuthService
	store   *memory.Store
	relay   *signal.Relay
	proctor string
	student string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	validator.Setup()

	cfg := &config.Config{
		GinMode:             gin.TestMode,
		JWTSecret:           "handler-test-secret",
		JWTExpiry:           time.Hour,
		ReconcileMaxRetries: 3,
		SignalSendBuffer:    16,
		SignalPongWait:      5 * time.Second,
	}
	log := zerolog.Nop()

	store := memory.NewStore()
	store.PutOrganization(model.Organization{ID: orgID, Name: "Faculty of Science"})
	store.PutOrganization(model.Organization{ID: otherOrg, Name: "Faculty of Law"})

	broker := monitor.NewBroker(nil, log)
	locks := service.NewAttemptLocks()
	auth := service.NewAuthService(cfg)

	answers := service.NewAnswerService(store, store, store, locks, broker, 3, log)
	results := service.NewResultService(store, store, store, locks, broker, 3, log)
	sessions := service.NewSessionService(store, store, store, nil, locks, broker, 3, log)
	exams := service.NewExamService(store, store, results, nil, log)
	monitors := service.NewMonitorService(store, store, store, store)

	relay := signal.NewRelay(signal.Options{SendBuffer: 16, PongWait: 5 * time.Second}, nil, signal.NewDirectPresence(store, log), log)
	t.Cleanup(relay.Close)

	engine := router.SetupRouter(auth, &router.Handlers{
		Attempt: handler.NewAttemptHandler(sessions, answers, results, log),
		Exam:    handler.NewExamHandler(exams, monitors, log),
		Monitor: handler.NewMonitorHandler(broker, exams, monitors, log),
		Signal:  handler.NewSignalHandler(relay, exams, log, nil),
		System:  handler.NewSystemHandler(nil, nil, relay, log),
	}, cfg)

	proctor, err := auth.GenerateProctorToken(proctorID, orgID)
	require.NoError(t, err)
	student, err := auth.GenerateStudentToken(studentID)
	require.NoError(t, err)

	return &testServer{engine: engine, auth: auth, store: store, relay: relay, proctor: proctor, student: student}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

// seedExam creates an exam with one 10 point question and entitles studentID.
func (s *testServer) seedExam(t *testing.T) (model.Exam, model.Question) {
	t.Helper()
	start := time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)

	code, env := s.do(t, http.MethodPost, "/api/v1/org/exams", s.proctor, map[string]interface{}{
		"title":            "Geography Quiz",
		"scheduled_start":  start,
		"duration_minutes": 30,
		"passing_score":    10,
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	var exam model.Exam
	require.NoError(t, json.Unmarshal(env.Data, &exam))

	code, env = s.do(t, http.MethodPost, "/api/v1/org/exams/"+exam.ID.String()+"/questions", s.proctor, map[string]interface{}{
		"title":          "Capital of France",
		"question_text":  "What is the capital of France?",
		"question_type":  "SHORT_TEXT",
		"correct_answer": "Paris",
		"points":         10,
		"difficulty":     "EASY",
		"order_num":      1,
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	var q model.Question
	require.NoError(t, json.Unmarshal(env.Data, &q))

	code, env = s.do(t, http.MethodPost, "/api/v1/org/exams/"+exam.ID.String()+"/students", s.proctor, map[string]interface{}{
		"student_ids": []int{studentID},
	})
	require.Equal(t, http.StatusOK, code, env.Error)

	return exam, q
}

func answerPath(exam model.Exam, q model.Question) string {
	return fmt.Sprintf("/api/v1/student/exams/%s/questions/%s/answer", exam.ID, q.ID)
}

func TestStudentAttemptFlow(t *testing.T) {
	s := newTestServer(t)
	exam, q := s.seedExam(t)
	examPath := "/api/v1/student/exams/" + exam.ID.String()

	code, env := s.do(t, http.MethodGet, "/api/v1/student/exams/available", s.student, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), exam.ID.String())

	code, env = s.do(t, http.MethodPost, examPath+"/open", s.student, nil)
	require.Equal(t, http.StatusCreated, code)
	var content model.ExamContentView
	require.NoError(t, json.Unmarshal(env.Data, &content))
	assert.True(t, content.FirstOpen)
	require.Len(t, content.Questions, 1)
	assert.NotContains(t, string(env.Data), "Paris")

	code, _ = s.do(t, http.MethodPost, examPath+"/open", s.student, nil)
	assert.Equal(t, http.StatusOK, code)

	code, env = s.do(t, http.MethodGet, "/api/v1/student/exams/available", s.student, nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, string(env.Data), exam.ID.String())

	code, env = s.do(t, http.MethodPost, answerPath(exam, q), s.student, map[string]interface{}{
		"answer_text": "Paris", "duration_seconds": 12,
	})
	require.Equal(t, http.StatusOK, code, env.Error)
	var submitted model.SubmitAnswerResult
	require.NoError(t, json.Unmarshal(env.Data, &submitted))
	assert.True(t, submitted.IsCorrect)
	assert.Equal(t, 10, submitted.DeltaScore)
	assert.Equal(t, 10, submitted.Result.ExamScore)

	code, env = s.do(t, http.MethodPost, examPath+"/finalize", s.student, nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	var final model.StudentResult
	require.NoError(t, json.Unmarshal(env.Data, &final))
	assert.True(t, final.IsSubmitted)
	assert.Equal(t, model.ResultStatusPassed, final.Status)

	code, env = s.do(t, http.MethodPost, answerPath(exam, q), s.student, map[string]interface{}{
		"answer_text": "Lyon", "duration_seconds": 3,
	})
	assert.Equal(t, http.StatusConflict, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, response.ErrAttemptSubmitted, env.Error.Code)

	code, env = s.do(t, http.MethodGet, examPath+"/result", s.student, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"correct_answer":"Paris"`)

	code, env = s.do(t, http.MethodGet, "/api/v1/student/history", s.student, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), "Faculty of Science")

	code, env = s.do(t, http.MethodGet,
		fmt.Sprintf("/api/v1/org/exams/%s/students/%d/result", exam.ID, studentID), s.proctor, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"exam_score":10`)
}

func TestSubmitAnswer_RequestErrors(t *testing.T) {
	s := newTestServer(t)
	exam, q := s.seedExam(t)

	outsider, err := s.auth.GenerateStudentToken(studentID + 1)
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		token  string
		body   interface{}
		status int
		code   response.ErrCode
	}{
		{"blank answer", answerPath(exam, q), s.student, map[string]interface{}{"answer_text": "   ", "duration_seconds": 1}, http.StatusBadRequest, response.ErrValidation},
		{"missing duration", answerPath(exam, q), s.student, map[string]interface{}{"answer_text": "Paris"}, http.StatusBadRequest, response.ErrValidation},
		{"negative duration", answerPath(exam, q), s.student, map[string]interface{}{"answer_text": "Paris", "duration_seconds": -1}, http.StatusBadRequest, response.ErrValidation},
		{"malformed exam id", "/api/v1/student/exams/nope/questions/" + q.ID.String() + "/answer", s.student, map[string]interface{}{"answer_text": "Paris", "duration_seconds": 1}, http.StatusBadRequest, response.ErrInvalidID},
		{"not entitled", answerPath(exam, q), outsider, map[string]interface{}{"answer_text": "Paris", "duration_seconds": 1}, http.StatusForbidden, response.ErrNotEntitled},
		{"proctor token", answerPath(exam, q), s.proctor, map[string]interface{}{"answer_text": "Paris", "duration_seconds": 1}, http.StatusForbidden, response.ErrStudentAccessOnly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := s.do(t, http.MethodPost, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.status, code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestOrgRoutes_ScopedToOrganization(t *testing.T) {
	s := newTestServer(t)
	exam, _ := s.seedExam(t)

	stranger, err := s.auth.GenerateProctorToken(proctorID+1, otherOrg)
	require.NoError(t, err)

	code, env := s.do(t, http.MethodGet, "/api/v1/org/exams/"+exam.ID.String(), stranger, nil)
	assert.Equal(t, http.StatusForbidden, code)
	require.NotNil(t, env.Error)

	code, env = s.do(t, http.MethodGet, "/api/v1/org/exams/"+exam.ID.String()+"/students", s.proctor, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, fmt.Sprintf(`{"student_ids":[%d]}`, studentID), string(env.Data))

	code, env = s.do(t, http.MethodPost, "/api/v1/org/exams", s.proctor, map[string]interface{}{
		"title":            "Duplicate slot",
		"scheduled_start":  exam.ScheduledStart,
		"duration_minutes": 30,
	})
	assert.Equal(t, http.StatusConflict, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, response.ErrConflict, env.Error.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"status":"ok"`)
}

func TestMonitorSSE_StreamsSnapshotAndEvents(t *testing.T) {
	s := newTestServer(t)
	exam, q := s.seedExam(t)

	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		srv.URL+"/api/v1/org/exams/"+exam.ID.String()+"/monitor?token="+s.proctor, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := bufio.NewReader(resp.Body)
	first := readSSEData(t, events)
	assert.Contains(t, first, `"type":"snapshot"`)
	assert.Contains(t, first, `"total_entitled":1`)

	code, _ := s.do(t, http.MethodPost, answerPath(exam, q), s.student, map[string]interface{}{
		"answer_text": "Paris", "duration_seconds": 4,
	})
	require.Equal(t, http.StatusOK, code)

	next := readSSEData(t, events)
	assert.Contains(t, next, `"type":"answered"`)
	assert.Contains(t, next, `"exam_score":10`)
}

func readSSEData(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
}

func TestSignal_RelaysBetweenStudentAndProctor(t *testing.T) {
	s := newTestServer(t)
	exam, _ := s.seedExam(t)

	srv := httptest.NewServer(s.engine)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/exams/" + exam.ID.String() + "/signal?token="

	student, _, err := websocket.DefaultDialer.Dial(wsURL+s.student, nil)
	require.NoError(t, err)
	defer student.Close()

	var welcome ws.WelcomeResponse
	readJSON(t, student, &welcome)
	assert.Equal(t, ws.EventWelcome, welcome.Type)
	assert.Empty(t, welcome.Peers)

	proctor, _, err := websocket.DefaultDialer.Dial(wsURL+s.proctor, nil)
	require.NoError(t, err)
	defer proctor.Close()

	var proctorWelcome ws.WelcomeResponse
	readJSON(t, proctor, &proctorWelcome)
	require.Len(t, proctorWelcome.Peers, 1)
	assert.Equal(t, string(service.TokenTypeStudent), proctorWelcome.Peers[0].Role)

	var joined ws.PeerResponse
	readJSON(t, student, &joined)
	assert.Equal(t, ws.EventPeerJoined, joined.Type)
	assert.Equal(t, proctorWelcome.ParticipantID, joined.Peer.ID)

	require.NoError(t, proctor.WriteJSON(map[string]interface{}{
		"type":    "offer",
		"payload": map[string]string{"sdp": "v=0"},
	}))

	var relayed ws.RelayedMessage
	readJSON(t, student, &relayed)
	assert.Equal(t, ws.KindOffer, relayed.Type)
	assert.Equal(t, proctorWelcome.ParticipantID, relayed.From)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(relayed.Payload))

	// A student of another exam or an outsider never reaches the room.
	outsider, err := s.auth.GenerateStudentToken(studentID + 50)
	require.NoError(t, err)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL+outsider, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func readJSON(t *testing.T, conn *websocket.Conn, dst interface{}) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, conn.ReadJSON(dst))
}
