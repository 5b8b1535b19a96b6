package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mwalimu-mwangi/attendance-system/internal/models"
	"github.com/mwalimu-mwangi/attendance-system/internal/schedule"
	appErrors "github.com/mwalimu-mwangi/attendance-system/pkg/errors"
)

const testTeacherID = "9c4d5e6f-7081-4c92-bdae-3f4a5b6c7d8e"

type mockLessonRepo struct {
	lessons     map[string]*models.Lesson
	listed      []models.LessonDetail
	created     []*models.Lesson
	bulkCreated [][]models.Lesson
	deletedIDs  []string
}

func (m *mockLessonRepo) List(ctx context.Context, filter models.LessonFilter) ([]models.LessonDetail, int, error) {
	return m.listed, len(m.listed), nil
}

func (m *mockLessonRepo) FindByID(ctx context.Context, id string) (*models.Lesson, error) {
	lesson, ok := m.lessons[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return lesson, nil
}

func (m *mockLessonRepo) Create(ctx context.Context, lesson *models.Lesson) error {
	lesson.ID = "lesson-created"
	m.created = append(m.created, lesson)
	return nil
}

func (m *mockLessonRepo) BulkCreate(ctx context.Context, lessons []models.Lesson) error {
	m.bulkCreated = append(m.bulkCreated, lessons)
	return nil
}

func (m *mockLessonRepo) Update(ctx context.Context, lesson *models.Lesson) error {
	return nil
}

func (m *mockLessonRepo) Delete(ctx context.Context, id string) error {
	m.deletedIDs = append(m.deletedIDs, id)
	return nil
}

type mockClassLookup struct {
	class *models.Class
}

func (m *mockClassLookup) FindByID(ctx context.Context, id string) (*models.Class, error) {
	if m.class == nil {
		return nil, sql.ErrNoRows
	}
	return m.class, nil
}

type mockTeacherLookup struct {
	teacher *models.Teacher
}

func (m *mockTeacherLookup) FindByID(ctx context.Context, id string) (*models.Teacher, error) {
	if m.teacher == nil {
		return nil, sql.ErrNoRows
	}
	return m.teacher, nil
}

func newTestLessonService(repo *mockLessonRepo, audits *mockAuditTrail, now time.Time) *LessonService {
	return NewLessonService(
		repo,
		&mockClassLookup{class: &models.Class{ID: testClassID}},
		&mockTeacherLookup{teacher: &models.Teacher{ID: testTeacherID}},
		audits,
		validator.New(), zap.NewNop(),
		func() time.Time { return now },
	)
}

func createLessonReq() CreateLessonRequest {
	return CreateLessonRequest{
		Subject:                 "Physics",
		ClassID:                 testClassID,
		TeacherID:               testTeacherID,
		DayOfWeek:               2,
		StartTimeMinutes:        540,
		DurationMinutes:         60,
		LessonCount:             1,
		AttendanceWindowMinutes: 30,
	}
}

func TestLessonCreate(t *testing.T) {
	repo := &mockLessonRepo{}
	audits := &mockAuditTrail{}
	svc := newTestLessonService(repo, audits, markTuesday)

	lesson, err := svc.Create(context.Background(), "admin-1", createLessonReq())
	require.NoError(t, err)
	assert.Equal(t, "lesson-created", lesson.ID)
	assert.True(t, lesson.Active)
	require.Len(t, audits.logs, 1)
	assert.Equal(t, models.AuditActionLessonCreate, audits.logs[0].Action)
}

func TestLessonCreateRejectsOvernight(t *testing.T) {
	svc := newTestLessonService(&mockLessonRepo{}, nil, markTuesday)

	req := createLessonReq()
	req.StartTimeMinutes = 1430 // 23:50 + 60 minutes crosses midnight
	_, err := svc.Create(context.Background(), "admin-1", req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidLesson.Code, appErrors.FromError(err).Code)
}

func TestLessonCreateRejectsShortDuration(t *testing.T) {
	svc := newTestLessonService(&mockLessonRepo{}, nil, markTuesday)

	req := createLessonReq()
	req.DurationMinutes = 10
	_, err := svc.Create(context.Background(), "admin-1", req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestLessonCreateUnknownClass(t *testing.T) {
	svc := NewLessonService(
		&mockLessonRepo{},
		&mockClassLookup{},
		&mockTeacherLookup{teacher: &models.Teacher{ID: testTeacherID}},
		nil, validator.New(), zap.NewNop(),
		func() time.Time { return markTuesday },
	)

	_, err := svc.Create(context.Background(), "admin-1", createLessonReq())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestLessonBulkCreateExpandsDays(t *testing.T) {
	repo := &mockLessonRepo{}
	svc := newTestLessonService(repo, &mockAuditTrail{}, markTuesday)

	req := BulkCreateLessonRequest{
		Subject:                 "Physics",
		ClassID:                 testClassID,
		TeacherID:               testTeacherID,
		Days:                    []int{1, 3, 5},
		StartTimeMinutes:        540,
		DurationMinutes:         60,
		LessonCount:             1,
		AttendanceWindowMinutes: 30,
	}
	lessons, err := svc.BulkCreate(context.Background(), "admin-1", req)
	require.NoError(t, err)
	require.Len(t, lessons, 3)
	assert.Equal(t, []int{1, 3, 5}, []int{lessons[0].DayOfWeek, lessons[1].DayOfWeek, lessons[2].DayOfWeek})
	require.Len(t, repo.bulkCreated, 1)
}

func TestLessonBulkCreateRejectsDuplicateDay(t *testing.T) {
	svc := newTestLessonService(&mockLessonRepo{}, nil, markTuesday)

	req := BulkCreateLessonRequest{
		Subject:                 "Physics",
		ClassID:                 testClassID,
		TeacherID:               testTeacherID,
		Days:                    []int{1, 1},
		StartTimeMinutes:        540,
		DurationMinutes:         60,
		LessonCount:             1,
		AttendanceWindowMinutes: 30,
	}
	_, err := svc.BulkCreate(context.Background(), "admin-1", req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestLessonCreateInstantAnchorsToClock(t *testing.T) {
	// Tuesday 11:07.
	now := markTuesday.Add(11*time.Hour + 7*time.Minute)
	repo := &mockLessonRepo{}
	svc := newTestLessonService(repo, &mockAuditTrail{}, now)

	lesson, err := svc.CreateInstant(context.Background(), "teacher-1", CreateInstantLessonRequest{
		Subject:                 "Remedial Maths",
		ClassID:                 testClassID,
		TeacherID:               testTeacherID,
		DurationMinutes:         45,
		AttendanceWindowMinutes: 15,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, lesson.DayOfWeek)
	assert.Equal(t, 11*60+7, lesson.StartTimeMinutes)
	assert.Equal(t, 1, lesson.LessonCount)
	assert.True(t, lesson.Active)
}

func TestLessonCreateInstantNearMidnight(t *testing.T) {
	// 23:30 + 45 minutes would cross midnight.
	now := markTuesday.Add(23*time.Hour + 30*time.Minute)
	svc := newTestLessonService(&mockLessonRepo{}, nil, now)

	_, err := svc.CreateInstant(context.Background(), "teacher-1", CreateInstantLessonRequest{
		Subject:                 "Late Session",
		ClassID:                 testClassID,
		TeacherID:               testTeacherID,
		DurationMinutes:         45,
		AttendanceWindowMinutes: 15,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidLesson.Code, appErrors.FromError(err).Code)
}

func TestLessonGetAnnotatesStatus(t *testing.T) {
	lesson := scheduledLesson()
	repo := &mockLessonRepo{lessons: map[string]*models.Lesson{lesson.ID: lesson}}

	// 9:30, mid-lesson.
	svc := newTestLessonService(repo, nil, markTuesday.Add(9*time.Hour+30*time.Minute))
	view, err := svc.Get(context.Background(), lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusInProgress, view.Status)
	assert.True(t, view.IsActiveNow)
	require.NotNil(t, view.WindowStart)
	assert.Equal(t, markTuesday.Add(8*time.Hour+50*time.Minute), *view.WindowStart)

	// 14:00, after the lesson ended.
	svc = newTestLessonService(repo, nil, markTuesday.Add(14*time.Hour))
	view, err = svc.Get(context.Background(), lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusCompleted, view.Status)
	assert.True(t, view.IsActiveNow, "active flag is independent of elapsed time")
}

func TestLessonUpdateNotFound(t *testing.T) {
	svc := newTestLessonService(&mockLessonRepo{}, nil, markTuesday)

	_, err := svc.Update(context.Background(), "admin-1", "missing", UpdateLessonRequest{
		Subject:                 "Physics",
		DayOfWeek:               2,
		StartTimeMinutes:        540,
		DurationMinutes:         60,
		LessonCount:             1,
		AttendanceWindowMinutes: 30,
		Active:                  true,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestLessonDelete(t *testing.T) {
	lesson := scheduledLesson()
	repo := &mockLessonRepo{lessons: map[string]*models.Lesson{lesson.ID: lesson}}
	audits := &mockAuditTrail{}
	svc := newTestLessonService(repo, audits, markTuesday)

	require.NoError(t, svc.Delete(context.Background(), "admin-1", lesson.ID))
	assert.Equal(t, []string{lesson.ID}, repo.deletedIDs)
	require.Len(t, audits.logs, 1)
	assert.Equal(t, models.AuditActionLessonDelete, audits.logs[0].Action)
}
