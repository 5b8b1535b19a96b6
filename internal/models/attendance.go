package models

import "time"

// AttendanceStatus represents the status for attendance records.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "present"
	AttendanceStatusAbsent  AttendanceStatus = "absent"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusAbsent:
		return true
	default:
		return false
	}
}

// Attendance is one mark per (lesson, student) pair. Because lessons recur
// weekly without per-occurrence identity, marking the same pair in a later
// week overwrites this row rather than adding a new one.
type Attendance struct {
	ID        string           `db:"id" json:"id"`
	LessonID  string           `db:"lesson_id" json:"lesson_id"`
	StudentID string           `db:"student_id" json:"student_id"`
	Status    AttendanceStatus `db:"status" json:"status"`
	MarkedAt  time.Time        `db:"marked_at" json:"marked_at"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}

// AttendanceRecord extends a mark with student metadata for rosters.
type AttendanceRecord struct {
	Attendance
	AdmissionNo string `db:"admission_no" json:"admission_no"`
	StudentName string `db:"student_name" json:"student_name"`
}

// AttendanceFilter scopes attendance listing queries.
type AttendanceFilter struct {
	LessonID  string
	StudentID string
	Status    *AttendanceStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// AttendanceHistoryRow captures one entry of a student's history.
type AttendanceHistoryRow struct {
	LessonID  string           `db:"lesson_id" json:"lesson_id"`
	Subject   string           `db:"subject" json:"subject"`
	Status    AttendanceStatus `db:"status" json:"status"`
	MarkedAt  time.Time        `db:"marked_at" json:"marked_at"`
	DayOfWeek int              `db:"day_of_week" json:"day_of_week"`
}

// AttendanceSummary aggregates a student's marks across lessons.
type AttendanceSummary struct {
	Present int     `json:"present"`
	Absent  int     `json:"absent"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
}

// ClassReportRow summarises one student's mark for a lesson roster report.
type ClassReportRow struct {
	StudentID   string           `db:"student_id" json:"student_id"`
	AdmissionNo string           `db:"admission_no" json:"admission_no"`
	StudentName string           `db:"student_name" json:"student_name"`
	Subject     string           `db:"subject" json:"subject"`
	Status      AttendanceStatus `db:"status" json:"status"`
	MarkedAt    time.Time        `db:"marked_at" json:"marked_at"`
}
