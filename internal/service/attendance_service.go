package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mwalimu-mwangi/attendance-system/internal/models"
	"github.com/mwalimu-mwangi/attendance-system/internal/schedule"
	appErrors "github.com/mwalimu-mwangi/attendance-system/pkg/errors"
)

type attendanceRepository interface {
	Upsert(ctx context.Context, record *models.Attendance) (*models.Attendance, error)
	ListByLesson(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int, error)
	FindByLessonAndStudent(ctx context.Context, lessonID, studentID string) (*models.Attendance, error)
	StudentHistory(ctx context.Context, studentID string) ([]models.AttendanceHistoryRow, error)
	StudentSummary(ctx context.Context, studentID string) (*models.AttendanceSummary, error)
	ClassReport(ctx context.Context, classID string) ([]models.ClassReportRow, error)
	DeleteAll(ctx context.Context) (int64, error)
}

type attendanceLessonLookup interface {
	FindByID(ctx context.Context, id string) (*models.Lesson, error)
}

type attendanceStudentLookup interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type attendanceCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type attendanceMetrics interface {
	RecordMark(role models.UserRole, status models.AttendanceStatus, override bool)
	RecordDenial(reason string)
	RecordCacheOperation(hit bool)
}

// Actor identifies who is performing an attendance operation.
type Actor struct {
	UserID string
	Role   models.UserRole
}

// MarkAttendanceRequest holds payload for recording a mark.
type MarkAttendanceRequest struct {
	LessonID  string                  `json:"lesson_id" validate:"required,uuid"`
	StudentID string                  `json:"student_id" validate:"required,uuid"`
	Status    models.AttendanceStatus `json:"status" validate:"required"`
	Force     bool                    `json:"force"`
}

// WindowDenialDetails is the structured payload attached to window denials so
// clients can show when marking becomes possible.
type WindowDenialDetails struct {
	Message         string    `json:"message"`
	OpensAt         time.Time `json:"opens_at"`
	ClosesAt        time.Time `json:"closes_at"`
	CurrentTime     time.Time `json:"current_time"`
	IsInstantLesson bool      `json:"is_instant_lesson"`
}

// AttendanceCacheTTLs configures caching for read-heavy aggregates. Zero TTLs
// disable the corresponding cache.
type AttendanceCacheTTLs struct {
	Summary time.Duration
	Roster  time.Duration
}

// AttendanceService handles attendance marking and reporting use-cases.
type AttendanceService struct {
	repo      attendanceRepository
	lessons   attendanceLessonLookup
	students  attendanceStudentLookup
	cache     attendanceCache
	metrics   attendanceMetrics
	audits    auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
	clock     func() time.Time
	ttls      AttendanceCacheTTLs
}

// NewAttendanceService constructs the attendance service. A nil clock
// defaults to time.Now; tests inject a fixed clock.
func NewAttendanceService(
	repo attendanceRepository,
	lessons attendanceLessonLookup,
	students attendanceStudentLookup,
	cache attendanceCache,
	metrics attendanceMetrics,
	audits auditRecorder,
	validate *validator.Validate,
	logger *zap.Logger,
	clock func() time.Time,
	ttls AttendanceCacheTTLs,
) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	return &AttendanceService{
		repo:      repo,
		lessons:   lessons,
		students:  students,
		cache:     cache,
		metrics:   metrics,
		audits:    audits,
		validator: validate,
		logger:    logger,
		clock:     clock,
		ttls:      ttls,
	}
}

// Mark records an attendance mark after evaluating the lesson's window for
// the acting role. Marking the same (lesson, student) pair again overwrites
// the previous mark.
func (s *AttendanceService) Mark(ctx context.Context, actor Actor, req MarkAttendanceRequest) (*models.Attendance, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}
	if !req.Status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "status must be present or absent")
	}

	lesson, err := s.lessons.FindByID(ctx, req.LessonID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson")
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.ClassID != lesson.ClassID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student is not enrolled in the lesson's class")
	}

	now := s.clock().UTC()
	decision := schedule.Evaluate(*lesson, now, actor.Role, req.Force)
	if !decision.Allowed {
		if s.metrics != nil {
			s.metrics.RecordDenial(string(decision.Reason))
		}
		return nil, s.denialError(decision, now)
	}

	if decision.Override {
		s.logger.Warn("attendance marked outside the window",
			zap.String("lesson_id", lesson.ID),
			zap.String("student_id", student.ID),
			zap.String("actor_id", actor.UserID),
			zap.String("role", string(actor.Role)),
			zap.Time("window_start", decision.WindowStart),
			zap.Time("window_end", decision.WindowEnd),
		)
	}

	record := &models.Attendance{
		LessonID:  lesson.ID,
		StudentID: student.ID,
		Status:    req.Status,
		MarkedAt:  now,
	}
	saved, err := s.repo.Upsert(ctx, record)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save attendance")
	}

	if s.metrics != nil {
		s.metrics.RecordMark(actor.Role, req.Status, decision.Override)
	}
	s.invalidate(ctx, lesson.ID, student.ID)
	s.audit(ctx, actor, saved)
	return saved, nil
}

// rosterCacheEntry is the cached shape of a default roster page.
type rosterCacheEntry struct {
	Records []models.AttendanceRecord `json:"records"`
	Total   int                       `json:"total"`
}

// ListByLesson returns the roster of marks for a lesson. The default page
// (no status filter, no custom sort) is cached; any mark on the lesson
// invalidates it.
func (s *AttendanceService) ListByLesson(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, *models.Pagination, error) {
	cacheable := s.cache != nil && s.ttls.Roster > 0 &&
		filter.Status == nil && filter.SortBy == "" && filter.Page <= 1 &&
		(filter.PageSize <= 0 || filter.PageSize == defaultPageSize)
	key := rosterCacheKey(filter.LessonID)

	if cacheable {
		var cached rosterCacheEntry
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			if s.metrics != nil {
				s.metrics.RecordCacheOperation(true)
			}
			return cached.Records, paginationFor(filter.Page, filter.PageSize, cached.Total), nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("roster cache read failed", zap.String("lesson_id", filter.LessonID), zap.Error(err))
		}
		if s.metrics != nil {
			s.metrics.RecordCacheOperation(false)
		}
	}

	records, total, err := s.repo.ListByLesson(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}

	if cacheable {
		if err := s.cache.Set(ctx, key, rosterCacheEntry{Records: records, Total: total}, s.ttls.Roster); err != nil {
			s.logger.Warn("roster cache write failed", zap.String("lesson_id", filter.LessonID), zap.Error(err))
		}
	}
	return records, paginationFor(filter.Page, filter.PageSize, total), nil
}

// Get returns the mark for a (lesson, student) pair, if any.
func (s *AttendanceService) Get(ctx context.Context, lessonID, studentID string) (*models.Attendance, error) {
	record, err := s.repo.FindByLessonAndStudent(ctx, lessonID, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance")
	}
	return record, nil
}

// StudentHistory returns a student's marks across lessons, newest first.
func (s *AttendanceService) StudentHistory(ctx context.Context, studentID string) ([]models.AttendanceHistoryRow, error) {
	history, err := s.repo.StudentHistory(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance history")
	}
	return history, nil
}

// StudentSummary aggregates a student's marks into totals and a percentage.
// Results are cached until the student's next mark invalidates them.
func (s *AttendanceService) StudentSummary(ctx context.Context, studentID string) (*models.AttendanceSummary, error) {
	key := summaryCacheKey(studentID)
	if s.cache != nil && s.ttls.Summary > 0 {
		var cached models.AttendanceSummary
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			if s.metrics != nil {
				s.metrics.RecordCacheOperation(true)
			}
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("summary cache read failed", zap.String("student_id", studentID), zap.Error(err))
		}
		if s.metrics != nil {
			s.metrics.RecordCacheOperation(false)
		}
	}

	summary, err := s.repo.StudentSummary(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance summary")
	}

	if s.cache != nil && s.ttls.Summary > 0 {
		if err := s.cache.Set(ctx, key, summary, s.ttls.Summary); err != nil {
			s.logger.Warn("summary cache write failed", zap.String("student_id", studentID), zap.Error(err))
		}
	}
	return summary, nil
}

// ClassReport returns per-student marks across a class's lessons.
func (s *AttendanceService) ClassReport(ctx context.Context, classID string) ([]models.ClassReportRow, error) {
	rows, err := s.repo.ClassReport(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build class report")
	}
	return rows, nil
}

// ClearAll wipes every attendance record. Admin-only maintenance operation.
func (s *AttendanceService) ClearAll(ctx context.Context, actor Actor) (int64, error) {
	if actor.Role != models.RoleAdmin {
		return 0, appErrors.Clone(appErrors.ErrForbidden, "only admins may clear attendance")
	}
	deleted, err := s.repo.DeleteAll(ctx)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear attendance")
	}
	s.logger.Info("attendance data cleared", zap.String("actor_id", actor.UserID), zap.Int64("deleted", deleted))
	if s.cache != nil {
		if err := s.cache.DeleteByPattern(ctx, "attendance:*"); err != nil {
			s.logger.Warn("failed to flush attendance caches", zap.Error(err))
		}
	}
	if s.audits != nil {
		payload := []byte(fmt.Sprintf(`{"deleted":%d}`, deleted))
		entry := &models.AuditLog{
			UserID:    &actor.UserID,
			Action:    models.AuditActionAttendanceClear,
			Resource:  "attendance",
			NewValues: payload,
		}
		if err := s.audits.CreateAuditLog(ctx, entry); err != nil {
			s.logger.Warn("failed to record attendance clear audit log", zap.Error(err))
		}
	}
	return deleted, nil
}

func (s *AttendanceService) denialError(decision schedule.Decision, now time.Time) error {
	switch decision.Reason {
	case schedule.DenialInvalidLesson:
		return appErrors.Clone(appErrors.ErrInvalidLesson, "")
	case schedule.DenialFutureLesson:
		return appErrors.WithDetails(appErrors.ErrFutureLesson, WindowDenialDetails{
			Message:         "this lesson has not started yet",
			OpensAt:         decision.WindowStart,
			ClosesAt:        decision.WindowEnd,
			CurrentTime:     now,
			IsInstantLesson: decision.Instant,
		})
	default:
		return appErrors.WithDetails(appErrors.ErrWindowClosed, WindowDenialDetails{
			Message:         "the attendance window for this lesson is closed",
			OpensAt:         decision.WindowStart,
			ClosesAt:        decision.WindowEnd,
			CurrentTime:     now,
			IsInstantLesson: decision.Instant,
		})
	}
}

func (s *AttendanceService) invalidate(ctx context.Context, lessonID, studentID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, summaryCacheKey(studentID)); err != nil {
		s.logger.Warn("failed to invalidate summary cache", zap.String("student_id", studentID), zap.Error(err))
	}
	if err := s.cache.DeleteByPattern(ctx, rosterCacheKey(lessonID)); err != nil {
		s.logger.Warn("failed to invalidate roster cache", zap.String("lesson_id", lessonID), zap.Error(err))
	}
}

func (s *AttendanceService) audit(ctx context.Context, actor Actor, record *models.Attendance) {
	if s.audits == nil {
		return
	}
	payload := []byte(fmt.Sprintf(`{"lesson_id":%q,"student_id":%q,"status":%q}`,
		record.LessonID, record.StudentID, record.Status))
	entry := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionAttendanceMark,
		Resource:   "attendance",
		ResourceID: &record.ID,
		NewValues:  payload,
	}
	if err := s.audits.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record attendance audit log", zap.Error(err))
	}
}

func summaryCacheKey(studentID string) string {
	return "attendance:summary:" + studentID
}

func rosterCacheKey(lessonID string) string {
	return "attendance:roster:" + lessonID
}
