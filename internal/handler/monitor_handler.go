package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/proktor-backend/internal/middleware"
	"github.com/stemsi/proktor-backend/internal/notifier"
	"github.com/stemsi/proktor-backend/internal/response"
	"github.com/stemsi/proktor-backend/internal/service"
)

var monitorUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS is enforced at the HTTP layer; the upgrade request already
	// passed the instructor token check.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// MonitorHandler exposes live exam monitoring: a point-in-time summary
// and a WebSocket stream of proctoring events.
type MonitorHandler struct {
	monitorService *service.MonitorService
	examService    *service.ExamService
	attemptService *service.AttemptService
	hub            *notifier.Hub
	log            zerolog.Logger
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(
	monitorService *service.MonitorService,
	examService *service.ExamService,
	attemptService *service.AttemptService,
	hub *notifier.Hub,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		monitorService: monitorService,
		examService:    examService,
		attemptService: attemptService,
		hub:            hub,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// GetSummary godoc
// GET /api/v1/instructor/exams/:exam_id/monitor
// Returns the live state of an owned exam: active attempts with answered
// counts from Redis, plus status totals.
func (h *MonitorHandler) GetSummary(c *gin.Context) {
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

	if _, err := h.examService.GetOwned(c.Request.Context(), examID, claims.UserID); err != nil {
		failExamError(c, err)
		return
	}

	summary, err := h.monitorService.GetSummary(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, summary)
}

// StreamEvents godoc
// GET /ws/v1/instructor/monitor?token=...&exam_id=...
// Upgrades to a WebSocket and relays proctoring events. Without exam_id
// the client receives the instructor-wide feed; with it, that exam's
// feed as well.
func (h *MonitorHandler) StreamEvents(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	groups := []string{notifier.GroupInstructors}
	if rawExamID := c.Query("exam_id"); rawExamID != "" {
		examID, err := uuid.Parse(rawExamID)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}
		if _, err := h.examService.GetOwned(c.Request.Context(), examID, claims.UserID); err != nil {
			failExamError(c, err)
			return
		}
		groups = append(groups, notifier.ExamGroup(examID))
	}

	conn, err := monitorUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := h.hub.Attach(conn, groups)
	h.log.Info().
		Int("instructor_id", claims.UserID).
		Strs("groups", groups).
		Msg("Instructor attached to live monitor")

	// Blocks until the client disconnects; detach happens inside.
	// Mid-connection subscribes are limited to exam feeds the
	// instructor owns.
	h.hub.ReadLoop(client, func(group string) bool {
		return h.authorizeGroup(c.Request.Context(), claims.UserID, group)
	})

	h.log.Info().Int("instructor_id", claims.UserID).Msg("Instructor disconnected from live monitor")
}

// authorizeGroup checks that a requested group key names an exam or
// attempt the instructor owns. The instructors baseline group is always
// allowed.
func (h *MonitorHandler) authorizeGroup(ctx context.Context, instructorID int, group string) bool {
	if group == notifier.GroupInstructors {
		return true
	}
	if raw, ok := strings.CutPrefix(group, "exam:"); ok {
		examID, err := uuid.Parse(raw)
		if err != nil {
			return false
		}
		_, err = h.examService.GetOwned(ctx, examID, instructorID)
		return err == nil
	}
	if raw, ok := strings.CutPrefix(group, "attempt:"); ok {
		attemptID, err := uuid.Parse(raw)
		if err != nil {
			return false
		}
		_, err = h.attemptService.GetForInstructor(ctx, attemptID, instructorID)
		return err == nil
	}
	return false
}
