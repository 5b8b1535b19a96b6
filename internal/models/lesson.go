package models

import "time"

// Lesson is the scheduling unit. A lesson recurs weekly on DayOfWeek at
// StartTimeMinutes past midnight; recurrence is implicit and perpetual, there
// is no per-occurrence row. A lesson created "for right now" (instant lesson)
// is the same row, recognised at evaluation time by a recent CreatedAt.
type Lesson struct {
	ID                      string    `db:"id" json:"id"`
	Subject                 string    `db:"subject" json:"subject"`
	ClassID                 string    `db:"class_id" json:"class_id"`
	TeacherID               string    `db:"teacher_id" json:"teacher_id"`
	DayOfWeek               int       `db:"day_of_week" json:"day_of_week"`
	StartTimeMinutes        int       `db:"start_time_minutes" json:"start_time_minutes"`
	DurationMinutes         int       `db:"duration_minutes" json:"duration_minutes"`
	LessonCount             int       `db:"lesson_count" json:"lesson_count"`
	AttendanceWindowMinutes int       `db:"attendance_window_minutes" json:"attendance_window_minutes"`
	Location                *string   `db:"location" json:"location,omitempty"`
	Active                  bool      `db:"active" json:"active"`
	CreatedAt               time.Time `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time `db:"updated_at" json:"updated_at"`
}

// LessonDetail extends a lesson with roster metadata for listings.
type LessonDetail struct {
	Lesson
	ClassName   string `db:"class_name" json:"class_name"`
	TeacherName string `db:"teacher_name" json:"teacher_name"`
}

// LessonFilter scopes lesson listing queries.
type LessonFilter struct {
	ClassID   string
	TeacherID string
	DayOfWeek *int
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
