package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/signal"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// SignalHandler upgrades proctoring participants into the exam's relay room.
type SignalHandler struct {
	relay       *signal.Relay
	examService *service.ExamService
	log         zerolog.Logger
	upgrader    websocket.Upgrader
}

// NewSignalHandler creates a new SignalHandler.
func NewSignalHandler(relay *signal.Relay, examService *service.ExamService, log zerolog.Logger, allowedOrigins []string) *SignalHandler {
	return &SignalHandler{
		relay:       relay,
		examService: examService,
		log:         log.With().Str("component", "signal_handler").Logger(),
		upgrader:    buildUpgrader(allowedOrigins),
	}
}

// ExamSignal godoc
// WS /ws/v1/exams/:exam_id/signal?token=...
// Students must be entitled to the exam, proctors must belong to its organization.
func (h *SignalHandler) ExamSignal(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	ctx := c.Request.Context()

	// Authorize before the upgrade so a rejected client gets a plain HTTP error.
	switch claims.TokenType {
	case service.TokenTypeStudent:
		_, err = h.examService.AuthorizeStudent(ctx, claims.UserID, examID)
	case service.TokenTypeProctor:
		_, err = h.examService.AuthorizeProctor(ctx, claims.OrganizationID, examID)
	default:
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.relay.Serve(ctx, conn, examID, signal.Participant{
		ID:     uuid.New(),
		Role:   string(claims.TokenType),
		UserID: claims.UserID,
	})
}
