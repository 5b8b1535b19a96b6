package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mwalimu-mwangi/attendance-system/internal/models"
	"github.com/mwalimu-mwangi/attendance-system/internal/schedule"
	appErrors "github.com/mwalimu-mwangi/attendance-system/pkg/errors"
)

const minutesPerDay = 24 * 60

type lessonRepository interface {
	List(ctx context.Context, filter models.LessonFilter) ([]models.LessonDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Lesson, error)
	Create(ctx context.Context, lesson *models.Lesson) error
	BulkCreate(ctx context.Context, lessons []models.Lesson) error
	Update(ctx context.Context, lesson *models.Lesson) error
	Delete(ctx context.Context, id string) error
}

type lessonClassLookup interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

type lessonTeacherLookup interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
}

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CreateLessonRequest holds payload for creating a weekly recurring lesson.
type CreateLessonRequest struct {
	Subject                 string  `json:"subject" validate:"required"`
	ClassID                 string  `json:"class_id" validate:"required,uuid"`
	TeacherID               string  `json:"teacher_id" validate:"required,uuid"`
	DayOfWeek               int     `json:"day_of_week" validate:"min=0,max=6"`
	StartTimeMinutes        int     `json:"start_time_minutes" validate:"min=0,max=1439"`
	DurationMinutes         int     `json:"duration_minutes" validate:"required,min=15,max=480"`
	LessonCount             int     `json:"lesson_count" validate:"required,min=1,max=5"`
	AttendanceWindowMinutes int     `json:"attendance_window_minutes" validate:"required,min=5"`
	Location                *string `json:"location,omitempty"`
}

// BulkCreateLessonRequest expands the same slot across several weekdays.
type BulkCreateLessonRequest struct {
	Subject                 string  `json:"subject" validate:"required"`
	ClassID                 string  `json:"class_id" validate:"required,uuid"`
	TeacherID               string  `json:"teacher_id" validate:"required,uuid"`
	Days                    []int   `json:"days" validate:"required,min=1,max=7,dive,min=0,max=6"`
	StartTimeMinutes        int     `json:"start_time_minutes" validate:"min=0,max=1439"`
	DurationMinutes         int     `json:"duration_minutes" validate:"required,min=15,max=480"`
	LessonCount             int     `json:"lesson_count" validate:"required,min=1,max=5"`
	AttendanceWindowMinutes int     `json:"attendance_window_minutes" validate:"required,min=5"`
	Location                *string `json:"location,omitempty"`
}

// CreateInstantLessonRequest creates a lesson anchored to the present moment;
// its attendance window opens immediately.
type CreateInstantLessonRequest struct {
	Subject                 string  `json:"subject" validate:"required"`
	ClassID                 string  `json:"class_id" validate:"required,uuid"`
	TeacherID               string  `json:"teacher_id" validate:"required,uuid"`
	DurationMinutes         int     `json:"duration_minutes" validate:"required,min=15,max=480"`
	AttendanceWindowMinutes int     `json:"attendance_window_minutes" validate:"required,min=5"`
	Location                *string `json:"location,omitempty"`
}

// UpdateLessonRequest holds payload for updating a lesson.
type UpdateLessonRequest struct {
	Subject                 string  `json:"subject" validate:"required"`
	DayOfWeek               int     `json:"day_of_week" validate:"min=0,max=6"`
	StartTimeMinutes        int     `json:"start_time_minutes" validate:"min=0,max=1439"`
	DurationMinutes         int     `json:"duration_minutes" validate:"required,min=15,max=480"`
	LessonCount             int     `json:"lesson_count" validate:"required,min=1,max=5"`
	AttendanceWindowMinutes int     `json:"attendance_window_minutes" validate:"required,min=5"`
	Location                *string `json:"location,omitempty"`
	Active                  bool    `json:"active"`
}

// LessonView decorates a lesson row with its live schedule status and, when
// resolvable, the attendance window bounds at the time of the request.
type LessonView struct {
	models.LessonDetail
	Status      schedule.LessonStatus `json:"status"`
	IsActiveNow bool                  `json:"is_active_now"`
	WindowStart *time.Time            `json:"window_start,omitempty"`
	WindowEnd   *time.Time            `json:"window_end,omitempty"`
}

// LessonService handles lesson scheduling use-cases.
type LessonService struct {
	repo      lessonRepository
	classes   lessonClassLookup
	teachers  lessonTeacherLookup
	audits    auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
	clock     func() time.Time
}

// NewLessonService constructs the lesson service. A nil clock defaults to
// time.Now; tests inject a fixed clock.
func NewLessonService(repo lessonRepository, classes lessonClassLookup, teachers lessonTeacherLookup, audits auditRecorder, validate *validator.Validate, logger *zap.Logger, clock func() time.Time) *LessonService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	return &LessonService{repo: repo, classes: classes, teachers: teachers, audits: audits, validator: validate, logger: logger, clock: clock}
}

// List returns lessons annotated with their schedule status.
func (s *LessonService) List(ctx context.Context, filter models.LessonFilter) ([]LessonView, *models.Pagination, error) {
	lessons, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list lessons")
	}
	now := s.clock().UTC()
	views := make([]LessonView, 0, len(lessons))
	for _, lesson := range lessons {
		views = append(views, s.annotate(lesson, now))
	}
	return views, paginationFor(filter.Page, filter.PageSize, total), nil
}

// Get returns a lesson by ID annotated with its schedule status.
func (s *LessonService) Get(ctx context.Context, id string) (*LessonView, error) {
	lesson, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	view := s.annotate(models.LessonDetail{Lesson: *lesson}, s.clock().UTC())
	return &view, nil
}

// Create registers a weekly recurring lesson.
func (s *LessonService) Create(ctx context.Context, actorID string, req CreateLessonRequest) (*models.Lesson, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lesson payload")
	}
	if err := s.checkTiming(req.StartTimeMinutes, req.DurationMinutes); err != nil {
		return nil, err
	}
	if err := s.resolveRefs(ctx, req.ClassID, req.TeacherID); err != nil {
		return nil, err
	}
	lesson := &models.Lesson{
		Subject:                 req.Subject,
		ClassID:                 req.ClassID,
		TeacherID:               req.TeacherID,
		DayOfWeek:               req.DayOfWeek,
		StartTimeMinutes:        req.StartTimeMinutes,
		DurationMinutes:         req.DurationMinutes,
		LessonCount:             req.LessonCount,
		AttendanceWindowMinutes: req.AttendanceWindowMinutes,
		Location:                req.Location,
		Active:                  true,
	}
	if err := s.repo.Create(ctx, lesson); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create lesson")
	}
	s.audit(ctx, actorID, models.AuditActionLessonCreate, lesson.ID, lesson)
	return lesson, nil
}

// BulkCreate registers the same lesson slot across multiple weekdays in a
// single transaction, one row per day.
func (s *LessonService) BulkCreate(ctx context.Context, actorID string, req BulkCreateLessonRequest) ([]models.Lesson, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lesson payload")
	}
	if err := s.checkTiming(req.StartTimeMinutes, req.DurationMinutes); err != nil {
		return nil, err
	}
	if err := s.resolveRefs(ctx, req.ClassID, req.TeacherID); err != nil {
		return nil, err
	}
	seen := make(map[int]bool, len(req.Days))
	lessons := make([]models.Lesson, 0, len(req.Days))
	for _, day := range req.Days {
		if seen[day] {
			return nil, appErrors.Clone(appErrors.ErrValidation, "duplicate day in bulk request")
		}
		seen[day] = true
		lessons = append(lessons, models.Lesson{
			Subject:                 req.Subject,
			ClassID:                 req.ClassID,
			TeacherID:               req.TeacherID,
			DayOfWeek:               day,
			StartTimeMinutes:        req.StartTimeMinutes,
			DurationMinutes:         req.DurationMinutes,
			LessonCount:             req.LessonCount,
			AttendanceWindowMinutes: req.AttendanceWindowMinutes,
			Location:                req.Location,
			Active:                  true,
		})
	}
	if err := s.repo.BulkCreate(ctx, lessons); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create lessons")
	}
	for i := range lessons {
		s.audit(ctx, actorID, models.AuditActionLessonCreate, lessons[i].ID, &lessons[i])
	}
	return lessons, nil
}

// CreateInstant registers a lesson anchored at the current instant. The slot
// inherits today's weekday and the current minute so that once this lesson
// ages past the instant threshold it recurs in the same position.
func (s *LessonService) CreateInstant(ctx context.Context, actorID string, req CreateInstantLessonRequest) (*models.Lesson, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lesson payload")
	}
	now := s.clock().UTC()
	start := now.Hour()*60 + now.Minute()
	if err := s.checkTiming(start, req.DurationMinutes); err != nil {
		return nil, err
	}
	if err := s.resolveRefs(ctx, req.ClassID, req.TeacherID); err != nil {
		return nil, err
	}
	lesson := &models.Lesson{
		Subject:                 req.Subject,
		ClassID:                 req.ClassID,
		TeacherID:               req.TeacherID,
		DayOfWeek:               int(now.Weekday()),
		StartTimeMinutes:        start,
		DurationMinutes:         req.DurationMinutes,
		LessonCount:             1,
		AttendanceWindowMinutes: req.AttendanceWindowMinutes,
		Location:                req.Location,
		Active:                  true,
	}
	if err := s.repo.Create(ctx, lesson); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create lesson")
	}
	s.audit(ctx, actorID, models.AuditActionLessonCreate, lesson.ID, lesson)
	return lesson, nil
}

// Update modifies an existing lesson.
func (s *LessonService) Update(ctx context.Context, actorID, id string, req UpdateLessonRequest) (*models.Lesson, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lesson payload")
	}
	if err := s.checkTiming(req.StartTimeMinutes, req.DurationMinutes); err != nil {
		return nil, err
	}
	lesson, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	lesson.Subject = req.Subject
	lesson.DayOfWeek = req.DayOfWeek
	lesson.StartTimeMinutes = req.StartTimeMinutes
	lesson.DurationMinutes = req.DurationMinutes
	lesson.LessonCount = req.LessonCount
	lesson.AttendanceWindowMinutes = req.AttendanceWindowMinutes
	lesson.Location = req.Location
	lesson.Active = req.Active
	if err := s.repo.Update(ctx, lesson); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update lesson")
	}
	s.audit(ctx, actorID, models.AuditActionLessonUpdate, lesson.ID, lesson)
	return lesson, nil
}

// Delete removes a lesson together with its attendance records.
func (s *LessonService) Delete(ctx context.Context, actorID, id string) error {
	lesson, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete lesson")
	}
	s.audit(ctx, actorID, models.AuditActionLessonDelete, id, lesson)
	return nil
}

func (s *LessonService) find(ctx context.Context, id string) (*models.Lesson, error) {
	lesson, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson")
	}
	return lesson, nil
}

func (s *LessonService) annotate(lesson models.LessonDetail, now time.Time) LessonView {
	view := LessonView{LessonDetail: lesson}
	info := schedule.Status(lesson.Lesson, now)
	view.Status = info.Status
	view.IsActiveNow = info.Active
	if start, end, _, ok := schedule.Window(lesson.Lesson, now); ok {
		view.WindowStart = &start
		view.WindowEnd = &end
	}
	return view
}

// checkTiming rejects slots a weekly schedule cannot hold, in particular
// lessons that would spill past midnight.
func (s *LessonService) checkTiming(start, duration int) error {
	if start+duration > minutesPerDay {
		return appErrors.Clone(appErrors.ErrInvalidLesson, "lesson may not cross midnight")
	}
	return nil
}

func (s *LessonService) resolveRefs(ctx context.Context, classID, teacherID string) error {
	if _, err := s.classes.FindByID(ctx, classID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve class")
	}
	if _, err := s.teachers.FindByID(ctx, teacherID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve teacher")
	}
	return nil
}

func (s *LessonService) audit(ctx context.Context, actorID, action, lessonID string, lesson *models.Lesson) {
	if s.audits == nil {
		return
	}
	payload, err := json.Marshal(lesson)
	if err != nil {
		payload = nil
	}
	entry := &models.AuditLog{
		Action:     action,
		Resource:   "lesson",
		ResourceID: &lessonID,
		NewValues:  payload,
	}
	if actorID != "" {
		entry.UserID = &actorID
	}
	if err := s.audits.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record lesson audit log", zap.String("lesson_id", lessonID), zap.Error(err))
	}
}
