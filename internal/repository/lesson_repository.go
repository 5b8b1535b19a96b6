package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mwalimu-mwangi/attendance-system/internal/models"
)

// LessonRepository manages persistence for lessons.
type LessonRepository struct {
	db *sqlx.DB
}

// NewLessonRepository constructs a LessonRepository.
func NewLessonRepository(db *sqlx.DB) *LessonRepository {
	return &LessonRepository{db: db}
}

const lessonColumns = `id, subject, class_id, teacher_id, day_of_week, start_time_minutes,
duration_minutes, lesson_count, attendance_window_minutes, location, active, created_at, updated_at`

// List returns lessons with roster metadata matching the filter.
func (r *LessonRepository) List(ctx context.Context, filter models.LessonFilter) ([]models.LessonDetail, int, error) {
	base := `FROM lessons ls
JOIN classes c ON c.id = ls.class_id
JOIN teachers t ON t.id = ls.teacher_id`
	where := []string{"1=1"}
	var args []interface{}

	if filter.ClassID != "" {
		where = append(where, fmt.Sprintf("ls.class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.TeacherID != "" {
		where = append(where, fmt.Sprintf("ls.teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.DayOfWeek != nil {
		where = append(where, fmt.Sprintf("ls.day_of_week = $%d", len(args)+1))
		args = append(args, *filter.DayOfWeek)
	}
	if filter.Active != nil {
		where = append(where, fmt.Sprintf("ls.active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	whereClause := strings.Join(where, " AND ")

	column := sortColumn(filter.SortBy, map[string]string{
		"subject":    "ls.subject",
		"day":        "ls.day_of_week",
		"start":      "ls.start_time_minutes",
		"created_at": "ls.created_at",
	}, "ls.day_of_week")
	order := sortOrder(filter.SortOrder)
	limit, offset := pageBounds(filter.Page, filter.PageSize)

	secondary := ""
	if column == "ls.day_of_week" {
		secondary = ", ls.start_time_minutes ASC"
	}
	query := fmt.Sprintf(`SELECT ls.id, ls.subject, ls.class_id, ls.teacher_id, ls.day_of_week, ls.start_time_minutes,
ls.duration_minutes, ls.lesson_count, ls.attendance_window_minutes, ls.location, ls.active, ls.created_at, ls.updated_at,
c.name AS class_name, t.full_name AS teacher_name
%s WHERE %s ORDER BY %s %s%s LIMIT %d OFFSET %d`, base, whereClause, column, order, secondary, limit, offset)

	var lessons []models.LessonDetail
	if err := r.db.SelectContext(ctx, &lessons, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list lessons: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count lessons: %w", err)
	}
	return lessons, total, nil
}

// FindByID fetches a lesson by ID.
func (r *LessonRepository) FindByID(ctx context.Context, id string) (*models.Lesson, error) {
	query := fmt.Sprintf("SELECT %s FROM lessons WHERE id = $1", lessonColumns)
	var lesson models.Lesson
	if err := r.db.GetContext(ctx, &lesson, query, id); err != nil {
		return nil, err
	}
	return &lesson, nil
}

// Create inserts a new lesson.
func (r *LessonRepository) Create(ctx context.Context, lesson *models.Lesson) error {
	if lesson.ID == "" {
		lesson.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if lesson.CreatedAt.IsZero() {
		lesson.CreatedAt = now
	}
	lesson.UpdatedAt = now
	const query = `INSERT INTO lessons (id, subject, class_id, teacher_id, day_of_week, start_time_minutes,
duration_minutes, lesson_count, attendance_window_minutes, location, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	if _, err := r.db.ExecContext(ctx, query, lesson.ID, lesson.Subject, lesson.ClassID, lesson.TeacherID,
		lesson.DayOfWeek, lesson.StartTimeMinutes, lesson.DurationMinutes, lesson.LessonCount,
		lesson.AttendanceWindowMinutes, lesson.Location, lesson.Active, lesson.CreatedAt, lesson.UpdatedAt); err != nil {
		return fmt.Errorf("create lesson: %w", err)
	}
	return nil
}

// BulkCreate inserts a batch of lessons atomically. Recurring creation
// expands a weekly cadence into one row per day before calling this.
func (r *LessonRepository) BulkCreate(ctx context.Context, lessons []models.Lesson) error {
	if len(lessons) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk lessons: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback() //nolint:errcheck
		}
	}()

	const query = `INSERT INTO lessons (id, subject, class_id, teacher_id, day_of_week, start_time_minutes,
duration_minutes, lesson_count, attendance_window_minutes, location, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	now := time.Now().UTC()
	for i := range lessons {
		lesson := &lessons[i]
		if lesson.ID == "" {
			lesson.ID = uuid.NewString()
		}
		if lesson.CreatedAt.IsZero() {
			lesson.CreatedAt = now
		}
		lesson.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, query, lesson.ID, lesson.Subject, lesson.ClassID, lesson.TeacherID,
			lesson.DayOfWeek, lesson.StartTimeMinutes, lesson.DurationMinutes, lesson.LessonCount,
			lesson.AttendanceWindowMinutes, lesson.Location, lesson.Active, lesson.CreatedAt, lesson.UpdatedAt); err != nil {
			return fmt.Errorf("bulk create lessons: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk lessons: %w", err)
	}
	committed = true
	return nil
}

// Update persists lesson changes.
func (r *LessonRepository) Update(ctx context.Context, lesson *models.Lesson) error {
	lesson.UpdatedAt = time.Now().UTC()
	const query = `UPDATE lessons SET subject = $2, class_id = $3, teacher_id = $4, day_of_week = $5,
start_time_minutes = $6, duration_minutes = $7, lesson_count = $8, attendance_window_minutes = $9,
location = $10, active = $11, updated_at = $12 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, lesson.ID, lesson.Subject, lesson.ClassID, lesson.TeacherID,
		lesson.DayOfWeek, lesson.StartTimeMinutes, lesson.DurationMinutes, lesson.LessonCount,
		lesson.AttendanceWindowMinutes, lesson.Location, lesson.Active, lesson.UpdatedAt); err != nil {
		return fmt.Errorf("update lesson: %w", err)
	}
	return nil
}

// Delete removes a lesson and its attendance records in one transaction.
func (r *LessonRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete lesson: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback() //nolint:errcheck
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM attendance WHERE lesson_id = $1`, id); err != nil {
		return fmt.Errorf("delete lesson attendance: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM lessons WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete lesson: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete lesson: %w", err)
	}
	committed = true
	return nil
}
