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

// AttendanceRepository handles persistence for attendance marks.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// Upsert inserts or updates the single mark for a (lesson, student) pair.
// The native ON CONFLICT primitive keeps concurrent marks from ever
// producing two rows for the same pair.
func (r *AttendanceRepository) Upsert(ctx context.Context, record *models.Attendance) (*models.Attendance, error) {
	now := time.Now().UTC()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.MarkedAt.IsZero() {
		record.MarkedAt = now
	}
	record.UpdatedAt = now
	const query = `INSERT INTO attendance (id, lesson_id, student_id, status, marked_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (lesson_id, student_id)
DO UPDATE SET status = EXCLUDED.status, marked_at = EXCLUDED.marked_at, updated_at = EXCLUDED.updated_at
RETURNING id, lesson_id, student_id, status, marked_at, created_at, updated_at`
	var stored models.Attendance
	if err := r.db.GetContext(ctx, &stored, query, record.ID, record.LessonID, record.StudentID, record.Status, record.MarkedAt, record.CreatedAt, record.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert attendance: %w", err)
	}
	return &stored, nil
}

// ListByLesson returns the marked roster for a lesson.
func (r *AttendanceRepository) ListByLesson(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int, error) {
	base := `FROM attendance a
JOIN students s ON s.id = a.student_id`
	where := []string{"a.lesson_id = $1"}
	args := []interface{}{filter.LessonID}

	if filter.Status != nil && filter.Status.Valid() {
		where = append(where, fmt.Sprintf("a.status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	whereClause := strings.Join(where, " AND ")

	column := sortColumn(filter.SortBy, map[string]string{
		"student":   "s.full_name",
		"status":    "a.status",
		"marked_at": "a.marked_at",
	}, "s.full_name")
	order := sortOrder(filter.SortOrder)
	if filter.SortBy == "" {
		order = "ASC"
	}
	limit, offset := pageBounds(filter.Page, filter.PageSize)

	query := fmt.Sprintf(`SELECT a.id, a.lesson_id, a.student_id, a.status, a.marked_at, a.created_at, a.updated_at,
s.admission_no, s.full_name AS student_name
%s WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, whereClause, column, order, limit, offset)

	var rows []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list lesson attendance: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count lesson attendance: %w", err)
	}
	return rows, total, nil
}

// FindByLessonAndStudent fetches the single mark for a pair, if any.
func (r *AttendanceRepository) FindByLessonAndStudent(ctx context.Context, lessonID, studentID string) (*models.Attendance, error) {
	const query = `SELECT id, lesson_id, student_id, status, marked_at, created_at, updated_at
FROM attendance WHERE lesson_id = $1 AND student_id = $2`
	var record models.Attendance
	if err := r.db.GetContext(ctx, &record, query, lessonID, studentID); err != nil {
		return nil, err
	}
	return &record, nil
}

// StudentHistory returns a student's marks across lessons.
func (r *AttendanceRepository) StudentHistory(ctx context.Context, studentID string) ([]models.AttendanceHistoryRow, error) {
	const query = `SELECT a.lesson_id, ls.subject, a.status, a.marked_at, ls.day_of_week
FROM attendance a
JOIN lessons ls ON ls.id = a.lesson_id
WHERE a.student_id = $1
ORDER BY a.marked_at DESC`
	var rows []models.AttendanceHistoryRow
	if err := r.db.SelectContext(ctx, &rows, query, studentID); err != nil {
		return nil, fmt.Errorf("student attendance history: %w", err)
	}
	return rows, nil
}

// StudentSummary aggregates a student's present/absent counts.
func (r *AttendanceRepository) StudentSummary(ctx context.Context, studentID string) (*models.AttendanceSummary, error) {
	const query = `SELECT a.status, COUNT(*) AS cnt
FROM attendance a
WHERE a.student_id = $1
GROUP BY a.status`
	rows := []struct {
		Status string `db:"status"`
		Count  int    `db:"cnt"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, studentID); err != nil {
		return nil, fmt.Errorf("student attendance summary: %w", err)
	}
	summary := &models.AttendanceSummary{}
	for _, row := range rows {
		switch models.AttendanceStatus(row.Status) {
		case models.AttendanceStatusPresent:
			summary.Present += row.Count
		case models.AttendanceStatusAbsent:
			summary.Absent += row.Count
		}
		summary.Total += row.Count
	}
	if summary.Total > 0 {
		summary.Percent = float64(summary.Present) / float64(summary.Total) * 100
	}
	return summary, nil
}

// ClassReport summarises marks for every lesson of a class.
func (r *AttendanceRepository) ClassReport(ctx context.Context, classID string) ([]models.ClassReportRow, error) {
	const query = `SELECT s.id AS student_id, s.admission_no, s.full_name AS student_name, ls.subject, a.status, a.marked_at
FROM attendance a
JOIN students s ON s.id = a.student_id
JOIN lessons ls ON ls.id = a.lesson_id
WHERE ls.class_id = $1
ORDER BY s.full_name ASC, ls.subject ASC`
	var rows []models.ClassReportRow
	if err := r.db.SelectContext(ctx, &rows, query, classID); err != nil {
		return nil, fmt.Errorf("class attendance report: %w", err)
	}
	return rows, nil
}

// LessonReport summarises the roster for one lesson.
func (r *AttendanceRepository) LessonReport(ctx context.Context, lessonID string) ([]models.ClassReportRow, error) {
	const query = `SELECT s.id AS student_id, s.admission_no, s.full_name AS student_name, ls.subject, a.status, a.marked_at
FROM attendance a
JOIN students s ON s.id = a.student_id
JOIN lessons ls ON ls.id = a.lesson_id
WHERE a.lesson_id = $1
ORDER BY s.full_name ASC`
	var rows []models.ClassReportRow
	if err := r.db.SelectContext(ctx, &rows, query, lessonID); err != nil {
		return nil, fmt.Errorf("lesson attendance report: %w", err)
	}
	return rows, nil
}

// DeleteAll wipes every attendance row. Admin data clear is the only
// deletion path for attendance in the normal flow.
func (r *AttendanceRepository) DeleteAll(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM attendance`)
	if err != nil {
		return 0, fmt.Errorf("clear attendance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear attendance: %w", err)
	}
	return affected, nil
}
