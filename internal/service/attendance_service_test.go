package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mwalimu-mwangi/attendance-system/internal/models"
	appErrors "github.com/mwalimu-mwangi/attendance-system/pkg/errors"
)

// Tuesday 2026-03-10, the same fixed anchor the schedule tests use.
var markTuesday = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

const (
	testLessonID  = "6f1a2b3c-4d5e-4f60-8a9b-0c1d2e3f4a5b"
	testStudentID = "7a2b3c4d-5e6f-4a70-9b8c-1d2e3f4a5b6c"
	testClassID   = "8b3c4d5e-6f70-4b81-ac9d-2e3f4a5b6c7d"
)

type mockAttendanceRepo struct {
	upserted  []*models.Attendance
	summary   *models.AttendanceSummary
	history   []models.AttendanceHistoryRow
	roster    []models.AttendanceRecord
	listCalls int
	deleted   int64
}

func (m *mockAttendanceRepo) Upsert(ctx context.Context, record *models.Attendance) (*models.Attendance, error) {
	saved := *record
	saved.ID = "mark-1"
	m.upserted = append(m.upserted, &saved)
	return &saved, nil
}

func (m *mockAttendanceRepo) ListByLesson(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int, error) {
	m.listCalls++
	return m.roster, len(m.roster), nil
}

func (m *mockAttendanceRepo) FindByLessonAndStudent(ctx context.Context, lessonID, studentID string) (*models.Attendance, error) {
	return nil, sql.ErrNoRows
}

func (m *mockAttendanceRepo) StudentHistory(ctx context.Context, studentID string) ([]models.AttendanceHistoryRow, error) {
	return m.history, nil
}

func (m *mockAttendanceRepo) StudentSummary(ctx context.Context, studentID string) (*models.AttendanceSummary, error) {
	return m.summary, nil
}

func (m *mockAttendanceRepo) ClassReport(ctx context.Context, classID string) ([]models.ClassReportRow, error) {
	return nil, nil
}

func (m *mockAttendanceRepo) DeleteAll(ctx context.Context) (int64, error) {
	return m.deleted, nil
}

type mockLessonLookup struct {
	lesson *models.Lesson
}

func (m *mockLessonLookup) FindByID(ctx context.Context, id string) (*models.Lesson, error) {
	if m.lesson == nil {
		return nil, sql.ErrNoRows
	}
	return m.lesson, nil
}

type mockStudentLookup struct {
	student *models.Student
}

func (m *mockStudentLookup) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if m.student == nil {
		return nil, sql.ErrNoRows
	}
	return m.student, nil
}

type mockAttendanceCache struct {
	values          map[string][]byte
	sets            int
	deletedPatterns []string
}

func (m *mockAttendanceCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *mockAttendanceCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.values == nil {
		m.values = make(map[string][]byte)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.values[key] = raw
	m.sets++
	return nil
}

func (m *mockAttendanceCache) DeleteByPattern(ctx context.Context, pattern string) error {
	m.deletedPatterns = append(m.deletedPatterns, pattern)
	return nil
}

type mockAttendanceMetrics struct {
	marks     int
	overrides int
	denials   []string
	cacheHits int
	cacheMiss int
}

func (m *mockAttendanceMetrics) RecordMark(role models.UserRole, status models.AttendanceStatus, override bool) {
	m.marks++
	if override {
		m.overrides++
	}
}

func (m *mockAttendanceMetrics) RecordDenial(reason string) {
	m.denials = append(m.denials, reason)
}

func (m *mockAttendanceMetrics) RecordCacheOperation(hit bool) {
	if hit {
		m.cacheHits++
	} else {
		m.cacheMiss++
	}
}

type mockAuditTrail struct {
	logs []*models.AuditLog
}

func (m *mockAuditTrail) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.logs = append(m.logs, log)
	return nil
}

type attendanceFixture struct {
	svc     *AttendanceService
	repo    *mockAttendanceRepo
	lessons *mockLessonLookup
	cache   *mockAttendanceCache
	metrics *mockAttendanceMetrics
	audits  *mockAuditTrail
}

func newAttendanceFixture(lesson *models.Lesson, now time.Time) *attendanceFixture {
	f := &attendanceFixture{
		repo:    &mockAttendanceRepo{},
		lessons: &mockLessonLookup{lesson: lesson},
		cache:   &mockAttendanceCache{},
		metrics: &mockAttendanceMetrics{},
		audits:  &mockAuditTrail{},
	}
	students := &mockStudentLookup{student: &models.Student{ID: testStudentID, ClassID: testClassID, Active: true}}
	f.svc = NewAttendanceService(
		f.repo, f.lessons, students, f.cache, f.metrics, f.audits,
		validator.New(), zap.NewNop(),
		func() time.Time { return now },
		AttendanceCacheTTLs{Summary: 5 * time.Minute, Roster: time.Minute},
	)
	return f
}

// 9:00 Tuesday lesson, 60 minutes, created long ago so it is never instant.
func scheduledLesson() *models.Lesson {
	return &models.Lesson{
		ID:                      testLessonID,
		Subject:                 "Mathematics",
		ClassID:                 testClassID,
		DayOfWeek:               2,
		StartTimeMinutes:        540,
		DurationMinutes:         60,
		LessonCount:             1,
		AttendanceWindowMinutes: 30,
		Active:                  true,
		CreatedAt:               markTuesday.AddDate(0, -2, 0),
	}
}

func markReq() MarkAttendanceRequest {
	return MarkAttendanceRequest{
		LessonID:  testLessonID,
		StudentID: testStudentID,
		Status:    models.AttendanceStatusPresent,
	}
}

func TestMarkStudentInsideWindow(t *testing.T) {
	f := newAttendanceFixture(scheduledLesson(), markTuesday.Add(9*time.Hour+15*time.Minute))

	saved, err := f.svc.Mark(context.Background(), Actor{UserID: "u1", Role: models.RoleStudent}, markReq())
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusPresent, saved.Status)
	assert.Len(t, f.repo.upserted, 1)
	assert.Equal(t, 1, f.metrics.marks)
	assert.Zero(t, f.metrics.overrides)
	assert.Contains(t, f.cache.deletedPatterns, "attendance:summary:"+testStudentID)
	assert.Contains(t, f.cache.deletedPatterns, "attendance:roster:"+testLessonID)
	require.Len(t, f.audits.logs, 1)
	assert.Equal(t, models.AuditActionAttendanceMark, f.audits.logs[0].Action)
}

func TestMarkStudentWindowClosed(t *testing.T) {
	f := newAttendanceFixture(scheduledLesson(), markTuesday.Add(10*time.Hour+30*time.Minute))

	_, err := f.svc.Mark(context.Background(), Actor{UserID: "u1", Role: models.RoleStudent}, markReq())
	require.Error(t, err)

	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrWindowClosed.Code, appErr.Code)
	details, ok := appErr.Details.(WindowDenialDetails)
	require.True(t, ok)
	assert.Equal(t, markTuesday.Add(8*time.Hour+50*time.Minute), details.OpensAt)
	assert.Equal(t, markTuesday.Add(10*time.Hour), details.ClosesAt)
	assert.False(t, details.IsInstantLesson)
	assert.Equal(t, []string{"WINDOW_CLOSED"}, f.metrics.denials)
	assert.Empty(t, f.repo.upserted)
}

func TestMarkStudentWrongWeekday(t *testing.T) {
	lesson := scheduledLesson()
	lesson.DayOfWeek = 4 // Thursday lesson, marking on Tuesday
	f := newAttendanceFixture(lesson, markTuesday.Add(9*time.Hour))

	_, err := f.svc.Mark(context.Background(), Actor{UserID: "u1", Role: models.RoleStudent}, markReq())
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrFutureLesson.Code, appErr.Code)
	assert.Equal(t, []string{"FUTURE_LESSON"}, f.metrics.denials)

	details, ok := appErr.Details.(WindowDenialDetails)
	require.True(t, ok)
	assert.Equal(t, markTuesday.AddDate(0, 0, 2).Add(8*time.Hour+50*time.Minute), details.OpensAt, "bounds reference Thursday's window")
	assert.Equal(t, markTuesday.AddDate(0, 0, 2).Add(10*time.Hour), details.ClosesAt)
	assert.True(t, details.OpensAt.After(details.CurrentTime), "payload must agree with the not-started message")
}

func TestMarkTeacherOverrideOutsideWindow(t *testing.T) {
	f := newAttendanceFixture(scheduledLesson(), markTuesday.Add(14*time.Hour))

	saved, err := f.svc.Mark(context.Background(), Actor{UserID: "t1", Role: models.RoleTeacher}, markReq())
	require.NoError(t, err)
	assert.NotNil(t, saved)
	assert.Equal(t, 1, f.metrics.overrides)
	assert.Empty(t, f.metrics.denials)
}

func TestMarkStudentForceBypassesWindow(t *testing.T) {
	f := newAttendanceFixture(scheduledLesson(), markTuesday.Add(14*time.Hour))

	req := markReq()
	req.Force = true
	_, err := f.svc.Mark(context.Background(), Actor{UserID: "u1", Role: models.RoleStudent}, req)
	require.NoError(t, err)
	assert.Equal(t, 1, f.metrics.overrides)
}

func TestMarkInactiveLessonUnrestricted(t *testing.T) {
	lesson := scheduledLesson()
	lesson.Active = false
	f := newAttendanceFixture(lesson, markTuesday.Add(23*time.Hour))

	_, err := f.svc.Mark(context.Background(), Actor{UserID: "u1", Role: models.RoleStudent}, markReq())
	require.NoError(t, err)
	assert.Zero(t, f.metrics.overrides)
}

func TestMarkInstantLessonInsideWindow(t *testing.T) {
	now := markTuesday.Add(11*time.Hour + 20*time.Minute)
	lesson := scheduledLesson()
	// Created 20 minutes ago with a 30 minute window; weekday does not matter.
	lesson.DayOfWeek = 5
	lesson.CreatedAt = markTuesday.Add(11 * time.Hour)
	f := newAttendanceFixture(lesson, now)

	_, err := f.svc.Mark(context.Background(), Actor{UserID: "u1", Role: models.RoleStudent}, markReq())
	require.NoError(t, err)
}

func TestMarkInstantLessonExpired(t *testing.T) {
	now := markTuesday.Add(12 * time.Hour)
	lesson := scheduledLesson()
	lesson.DayOfWeek = 5
	lesson.CreatedAt = markTuesday.Add(11 * time.Hour) // 30 minute window closed at 11:30
	f := newAttendanceFixture(lesson, now)

	_, err := f.svc.Mark(context.Background(), Actor{UserID: "u1", Role: models.RoleStudent}, markReq())
	require.Error(t, err)

	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrWindowClosed.Code, appErr.Code)
	details, ok := appErr.Details.(WindowDenialDetails)
	require.True(t, ok)
	assert.True(t, details.IsInstantLesson)
}

func TestMarkInvalidLessonTiming(t *testing.T) {
	lesson := scheduledLesson()
	lesson.StartTimeMinutes = 1430 // 23:50 + 60 minutes crosses midnight
	f := newAttendanceFixture(lesson, markTuesday.Add(9*time.Hour))

	_, err := f.svc.Mark(context.Background(), Actor{UserID: "u1", Role: models.RoleStudent}, markReq())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidLesson.Code, appErrors.FromError(err).Code)
	assert.Equal(t, []string{"INVALID_LESSON"}, f.metrics.denials)
}

func TestMarkStudentNotInClass(t *testing.T) {
	f := newAttendanceFixture(scheduledLesson(), markTuesday.Add(9*time.Hour))
	f.svc.students = &mockStudentLookup{student: &models.Student{ID: testStudentID, ClassID: "other-class"}}

	_, err := f.svc.Mark(context.Background(), Actor{UserID: "u1", Role: models.RoleStudent}, markReq())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestMarkLessonNotFound(t *testing.T) {
	f := newAttendanceFixture(nil, markTuesday.Add(9*time.Hour))

	_, err := f.svc.Mark(context.Background(), Actor{UserID: "u1", Role: models.RoleStudent}, markReq())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestMarkOverwritesPreviousStatus(t *testing.T) {
	f := newAttendanceFixture(scheduledLesson(), markTuesday.Add(9*time.Hour))
	actor := Actor{UserID: "u1", Role: models.RoleStudent}

	_, err := f.svc.Mark(context.Background(), actor, markReq())
	require.NoError(t, err)

	req := markReq()
	req.Status = models.AttendanceStatusAbsent
	saved, err := f.svc.Mark(context.Background(), actor, req)
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusAbsent, saved.Status)
	assert.Len(t, f.repo.upserted, 2)
}

func TestStudentSummaryCacheMissThenHit(t *testing.T) {
	f := newAttendanceFixture(scheduledLesson(), markTuesday)
	f.repo.summary = &models.AttendanceSummary{Present: 8, Absent: 2, Total: 10, Percent: 80}

	first, err := f.svc.StudentSummary(context.Background(), testStudentID)
	require.NoError(t, err)
	assert.Equal(t, 80.0, first.Percent)
	assert.Equal(t, 1, f.metrics.cacheMiss)
	assert.Equal(t, 1, f.cache.sets)

	second, err := f.svc.StudentSummary(context.Background(), testStudentID)
	require.NoError(t, err)
	assert.Equal(t, first.Total, second.Total)
	assert.Equal(t, 1, f.metrics.cacheHits)
	assert.Equal(t, 1, f.cache.sets, "hit must not rewrite the cache")
}

func TestListByLessonRosterCache(t *testing.T) {
	f := newAttendanceFixture(scheduledLesson(), markTuesday)
	f.repo.roster = []models.AttendanceRecord{
		{Attendance: models.Attendance{ID: "att-1", LessonID: testLessonID, StudentID: testStudentID, Status: models.AttendanceStatusPresent}, AdmissionNo: "ADM-001", StudentName: "Asha Njoroge"},
	}

	first, pagination, err := f.svc.ListByLesson(context.Background(), models.AttendanceFilter{LessonID: testLessonID})
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 1, pagination.TotalCount)
	assert.Equal(t, 1, f.repo.listCalls)
	assert.Equal(t, 1, f.metrics.cacheMiss)
	assert.Equal(t, 1, f.cache.sets)

	second, _, err := f.svc.ListByLesson(context.Background(), models.AttendanceFilter{LessonID: testLessonID})
	require.NoError(t, err)
	assert.Equal(t, first[0].AdmissionNo, second[0].AdmissionNo)
	assert.Equal(t, 1, f.repo.listCalls, "hit must not reach the repository")
	assert.Equal(t, 1, f.metrics.cacheHits)

	status := models.AttendanceStatusAbsent
	_, _, err = f.svc.ListByLesson(context.Background(), models.AttendanceFilter{LessonID: testLessonID, Status: &status})
	require.NoError(t, err)
	assert.Equal(t, 2, f.repo.listCalls, "filtered listing bypasses the cache")
	assert.Equal(t, 1, f.cache.sets)
}

func TestClearAllAdminOnly(t *testing.T) {
	f := newAttendanceFixture(scheduledLesson(), markTuesday)
	f.repo.deleted = 42

	_, err := f.svc.ClearAll(context.Background(), Actor{UserID: "t1", Role: models.RoleTeacher})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	deleted, err := f.svc.ClearAll(context.Background(), Actor{UserID: "a1", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, int64(42), deleted)
	assert.Contains(t, f.cache.deletedPatterns, "attendance:*")
	require.Len(t, f.audits.logs, 1)
	assert.Equal(t, models.AuditActionAttendanceClear, f.audits.logs[0].Action)
}
