package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwalimu-mwangi/attendance-system/internal/middleware"
	"github.com/mwalimu-mwangi/attendance-system/internal/models"
	"github.com/mwalimu-mwangi/attendance-system/internal/service"
)

// Tuesday 2026-03-10, the anchor the schedule tests use.
var handlerTuesday = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

const (
	handlerLessonID  = "6f1a2b3c-4d5e-4f60-8a9b-0c1d2e3f4a5b"
	handlerStudentID = "7a2b3c4d-5e6f-4a70-9b8c-1d2e3f4a5b6c"
	handlerClassID   = "8b3c4d5e-6f70-4b81-ac9d-2e3f4a5b6c7d"
)

type fakeAttendanceRepo struct {
	upserted []*models.Attendance
	summary  *models.AttendanceSummary
}

func (f *fakeAttendanceRepo) Upsert(ctx context.Context, record *models.Attendance) (*models.Attendance, error) {
	saved := *record
	saved.ID = "mark-1"
	f.upserted = append(f.upserted, &saved)
	return &saved, nil
}

func (f *fakeAttendanceRepo) ListByLesson(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int, error) {
	return nil, 0, nil
}

func (f *fakeAttendanceRepo) FindByLessonAndStudent(ctx context.Context, lessonID, studentID string) (*models.Attendance, error) {
	return nil, sql.ErrNoRows
}

func (f *fakeAttendanceRepo) StudentHistory(ctx context.Context, studentID string) ([]models.AttendanceHistoryRow, error) {
	return nil, nil
}

func (f *fakeAttendanceRepo) StudentSummary(ctx context.Context, studentID string) (*models.AttendanceSummary, error) {
	return f.summary, nil
}

func (f *fakeAttendanceRepo) ClassReport(ctx context.Context, classID string) ([]models.ClassReportRow, error) {
	return nil, nil
}

func (f *fakeAttendanceRepo) DeleteAll(ctx context.Context) (int64, error) {
	return 0, nil
}

type fakeLessonLookup struct {
	lesson *models.Lesson
}

func (f *fakeLessonLookup) FindByID(ctx context.Context, id string) (*models.Lesson, error) {
	if f.lesson == nil {
		return nil, sql.ErrNoRows
	}
	return f.lesson, nil
}

type fakeStudentRepo struct {
	student *models.Student
}

func (f *fakeStudentRepo) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	return nil, 0, nil
}

func (f *fakeStudentRepo) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if f.student == nil {
		return nil, sql.ErrNoRows
	}
	return f.student, nil
}

func (f *fakeStudentRepo) FindByUserID(ctx context.Context, userID string) (*models.Student, error) {
	if f.student == nil {
		return nil, sql.ErrNoRows
	}
	return f.student, nil
}

func (f *fakeStudentRepo) ExistsByAdmissionNo(ctx context.Context, admissionNo, excludeID string) (bool, error) {
	return false, nil
}

func (f *fakeStudentRepo) Create(ctx context.Context, student *models.Student) error { return nil }

func (f *fakeStudentRepo) Update(ctx context.Context, student *models.Student) error { return nil }

func (f *fakeStudentRepo) Deactivate(ctx context.Context, id string) error { return nil }

type fakeAccountRepo struct{}

func (f *fakeAccountRepo) ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error) {
	return false, nil
}

func (f *fakeAccountRepo) Create(ctx context.Context, user *models.User) error { return nil }

func (f *fakeAccountRepo) Deactivate(ctx context.Context, id string) error { return nil }

type fakeClassLookup struct{}

func (f *fakeClassLookup) FindByID(ctx context.Context, id string) (*models.Class, error) {
	return &models.Class{ID: handlerClassID}, nil
}

func newAttendanceTestHandler(repo *fakeAttendanceRepo, now time.Time) *AttendanceHandler {
	lesson := &models.Lesson{
		ID:                      handlerLessonID,
		Subject:                 "Mathematics",
		ClassID:                 handlerClassID,
		DayOfWeek:               2,
		StartTimeMinutes:        540,
		DurationMinutes:         60,
		LessonCount:             1,
		AttendanceWindowMinutes: 30,
		Active:                  true,
		CreatedAt:               now.AddDate(0, -2, 0),
	}
	student := &models.Student{ID: handlerStudentID, UserID: "user-1", ClassID: handlerClassID, Active: true}

	attendanceSvc := service.NewAttendanceService(
		repo, &fakeLessonLookup{lesson: lesson}, &fakeStudentRepo{student: student},
		nil, nil, nil, nil, nil,
		func() time.Time { return now },
		service.AttendanceCacheTTLs{},
	)
	studentSvc := service.NewStudentService(&fakeStudentRepo{student: student}, &fakeAccountRepo{}, &fakeClassLookup{}, nil, nil)
	return NewAttendanceHandler(attendanceSvc, studentSvc)
}

func markBody(t *testing.T, req service.MarkAttendanceRequest) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	return bytes.NewReader(body)
}

func TestAttendanceHandlerMarkStudentSelf(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := &fakeAttendanceRepo{}
	handler := newAttendanceTestHandler(repo, handlerTuesday.Add(9*time.Hour+15*time.Minute))

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/attendance", markBody(t, service.MarkAttendanceRequest{
		LessonID: handlerLessonID,
		Status:   models.AttendanceStatusPresent,
	}))
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1", Role: models.RoleStudent})

	handler.Mark(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, repo.upserted, 1)
	assert.Equal(t, handlerStudentID, repo.upserted[0].StudentID, "empty student_id resolves to the caller's own profile")
}

func TestAttendanceHandlerMarkStudentForOther(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newAttendanceTestHandler(&fakeAttendanceRepo{}, handlerTuesday.Add(9*time.Hour+15*time.Minute))

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/attendance", markBody(t, service.MarkAttendanceRequest{
		LessonID:  handlerLessonID,
		StudentID: "1c2d3e4f-5a6b-4c7d-8e9f-0a1b2c3d4e5f",
		Status:    models.AttendanceStatusPresent,
	}))
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1", Role: models.RoleStudent})

	handler.Mark(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAttendanceHandlerMarkWindowClosed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newAttendanceTestHandler(&fakeAttendanceRepo{}, handlerTuesday.Add(14*time.Hour))

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/attendance", markBody(t, service.MarkAttendanceRequest{
		LessonID: handlerLessonID,
		Status:   models.AttendanceStatusPresent,
	}))
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1", Role: models.RoleStudent})

	handler.Mark(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	var envelope struct {
		Error struct {
			Code    string                 `json:"code"`
			Details map[string]interface{} `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "WINDOW_CLOSED", envelope.Error.Code)
	assert.NotEmpty(t, envelope.Error.Details["opens_at"])
	assert.NotEmpty(t, envelope.Error.Details["closes_at"])
}

func TestAttendanceHandlerMarkTeacherOverride(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := &fakeAttendanceRepo{}
	handler := newAttendanceTestHandler(repo, handlerTuesday.Add(14*time.Hour))

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/attendance", markBody(t, service.MarkAttendanceRequest{
		LessonID:  handlerLessonID,
		StudentID: handlerStudentID,
		Status:    models.AttendanceStatusAbsent,
	}))
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "teacher-user", Role: models.RoleTeacher})

	handler.Mark(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, repo.upserted, 1)
}

func TestAttendanceHandlerMarkRejectsMalformedBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newAttendanceTestHandler(&fakeAttendanceRepo{}, handlerTuesday)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/attendance", bytes.NewReader([]byte("{")))
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "teacher-user", Role: models.RoleTeacher})

	handler.Mark(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAttendanceHandlerStudentSummaryScopesToSelf(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := &fakeAttendanceRepo{summary: &models.AttendanceSummary{Present: 5, Total: 5, Percent: 100}}
	handler := newAttendanceTestHandler(repo, handlerTuesday)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/students/"+handlerStudentID+"/attendance/summary", nil)
	c.Params = gin.Params{{Key: "id", Value: handlerStudentID}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1", Role: models.RoleStudent})

	handler.StudentSummary(c)

	assert.Equal(t, http.StatusOK, rec.Code)

	// A different student's ID is rejected outright.
	rec = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/students/other/attendance/summary", nil)
	c.Params = gin.Params{{Key: "id", Value: "other"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1", Role: models.RoleStudent})

	handler.StudentSummary(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAttendanceHandlerClearAllRequiresAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newAttendanceTestHandler(&fakeAttendanceRepo{}, handlerTuesday)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodDelete, "/attendance", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "teacher-user", Role: models.RoleTeacher})

	handler.ClearAll(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
