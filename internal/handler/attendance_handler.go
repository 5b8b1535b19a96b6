package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mwalimu-mwangi/attendance-system/internal/middleware"
	"github.com/mwalimu-mwangi/attendance-system/internal/models"
	"github.com/mwalimu-mwangi/attendance-system/internal/service"
	appErrors "github.com/mwalimu-mwangi/attendance-system/pkg/errors"
	"github.com/mwalimu-mwangi/attendance-system/pkg/response"
)

// AttendanceHandler exposes attendance marking and reporting endpoints.
type AttendanceHandler struct {
	attendance *service.AttendanceService
	students   *service.StudentService
}

// NewAttendanceHandler constructs AttendanceHandler.
func NewAttendanceHandler(attendance *service.AttendanceService, students *service.StudentService) *AttendanceHandler {
	return &AttendanceHandler{attendance: attendance, students: students}
}

// Mark godoc
// @Summary Mark attendance for a lesson
// @Description Students may only mark themselves and only while the lesson's window is open. Teachers and admins may mark anyone at any time; marks outside the window are logged as overrides.
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body service.MarkAttendanceRequest true "Attendance payload"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /attendance [post]
func (h *AttendanceHandler) Mark(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.MarkAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	if claims.Role == models.RoleStudent {
		student, err := h.students.GetByUserID(c.Request.Context(), claims.UserID)
		if err != nil {
			response.Error(c, err)
			return
		}
		if req.StudentID == "" {
			req.StudentID = student.ID
		} else if req.StudentID != student.ID {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "students may only mark their own attendance"))
			return
		}
	}

	record, err := h.attendance.Mark(c.Request.Context(), actorFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// ListByLesson godoc
// @Summary List attendance marks for a lesson
// @Tags Attendance
// @Produce json
// @Param id path string true "Lesson ID"
// @Param status query string false "Filter by status (present|absent)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /lessons/{id}/attendance [get]
func (h *AttendanceHandler) ListByLesson(c *gin.Context) {
	var filter models.AttendanceFilter
	filter.LessonID = c.Param("id")
	if status := c.Query("status"); status != "" {
		s := models.AttendanceStatus(status)
		filter.Status = &s
	}
	filter.Page, filter.PageSize = queryPage(c)
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	records, pagination, err := h.attendance.ListByLesson(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, pagination, middleware.ResponseMeta(c))
}

// StudentHistory godoc
// @Summary A student's attendance history across lessons
// @Tags Attendance
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/attendance [get]
func (h *AttendanceHandler) StudentHistory(c *gin.Context) {
	studentID, err := h.resolveStudentScope(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	history, err := h.attendance.StudentHistory(c.Request.Context(), studentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}

// StudentSummary godoc
// @Summary A student's aggregated attendance totals
// @Tags Attendance
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/attendance/summary [get]
func (h *AttendanceHandler) StudentSummary(c *gin.Context) {
	studentID, err := h.resolveStudentScope(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	summary, err := h.attendance.StudentSummary(c.Request.Context(), studentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil, middleware.ResponseMeta(c))
}

// ClassReport godoc
// @Summary Per-student attendance marks across a class
// @Tags Attendance
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/attendance [get]
func (h *AttendanceHandler) ClassReport(c *gin.Context) {
	rows, err := h.attendance.ClassReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// ClearAll godoc
// @Summary Wipe all attendance records
// @Description Admin-only maintenance operation
// @Tags Attendance
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /attendance [delete]
func (h *AttendanceHandler) ClearAll(c *gin.Context) {
	deleted, err := h.attendance.ClearAll(c.Request.Context(), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"deleted": deleted}, nil)
}

// resolveStudentScope restricts student-scoped reads: students always act on
// their own profile regardless of the :id parameter.
func (h *AttendanceHandler) resolveStudentScope(c *gin.Context) (string, error) {
	claims := claimsFromContext(c)
	if claims == nil {
		return "", appErrors.ErrUnauthorized
	}
	if claims.Role != models.RoleStudent {
		return c.Param("id"), nil
	}
	student, err := h.students.GetByUserID(c.Request.Context(), claims.UserID)
	if err != nil {
		return "", err
	}
	if id := c.Param("id"); id != "" && id != student.ID {
		return "", appErrors.Clone(appErrors.ErrForbidden, "students may only view their own attendance")
	}
	return student.ID, nil
}
