package models

import "time"

// Class represents a taught group of students within a level.
type Class struct {
	ID        string    `db:"id" json:"id"`
	LevelID   string    `db:"level_id" json:"level_id"`
	Name      string    `db:"name" json:"name"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ClassDetail extends a class with hierarchy names for listings.
type ClassDetail struct {
	Class
	LevelName      string `db:"level_name" json:"level_name"`
	DepartmentID   string `db:"department_id" json:"department_id"`
	DepartmentName string `db:"department_name" json:"department_name"`
	StudentCount   int    `db:"student_count" json:"student_count"`
}

// ClassFilter scopes class listing queries.
type ClassFilter struct {
	LevelID      string
	DepartmentID string
	Active       *bool
	Search       string
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
