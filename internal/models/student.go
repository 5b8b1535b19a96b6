package models

import "time"

// Student is the learner profile linked to a STUDENT role user and a class.
type Student struct {
	ID          string    `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"user_id"`
	ClassID     string    `db:"class_id" json:"class_id"`
	AdmissionNo string    `db:"admission_no" json:"admission_no"`
	FullName    string    `db:"full_name" json:"full_name"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// StudentDetail extends a student with class metadata.
type StudentDetail struct {
	Student
	ClassName string `db:"class_name" json:"class_name"`
	LevelID   string `db:"level_id" json:"level_id"`
}

// StudentFilter scopes student listing queries.
type StudentFilter struct {
	ClassID   string
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
