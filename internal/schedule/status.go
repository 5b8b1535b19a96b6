package schedule

import (
	"time"

	"github.com/mwalimu-mwangi/attendance-system/internal/models"
)

// LessonStatus labels a lesson relative to the current moment for display.
type LessonStatus string

const (
	StatusNotStarted LessonStatus = "Not Started"
	StatusInProgress LessonStatus = "In Progress"
	StatusCompleted  LessonStatus = "Completed"
)

// StatusInfo pairs the computed status with the lesson's active flag for UI.
type StatusInfo struct {
	Status LessonStatus `json:"status"`
	Active bool         `json:"is_active"`
}

// Classify labels a lesson against now's weekday and minutes since midnight.
// Weekdays are Sunday-first (index 0). A lesson on an earlier weekday index
// than today's is Completed; a later index is Not Started. This mirrors the
// backward-only occurrence resolution of Evaluate: both treat the week as
// ending today, so the two views never disagree about "already happened".
func Classify(lesson models.Lesson, now time.Time) LessonStatus {
	today := int(now.Weekday())
	nowMinutes := now.Hour()*60 + now.Minute()
	end := lesson.StartTimeMinutes + lesson.DurationMinutes

	if lesson.DayOfWeek == today {
		switch {
		case nowMinutes > end:
			return StatusCompleted
		case nowMinutes >= lesson.StartTimeMinutes:
			return StatusInProgress
		default:
			return StatusNotStarted
		}
	}
	if lesson.DayOfWeek < today {
		return StatusCompleted
	}
	return StatusNotStarted
}

// Status returns the classification together with the active flag.
func Status(lesson models.Lesson, now time.Time) StatusInfo {
	return StatusInfo{Status: Classify(lesson, now), Active: lesson.Active}
}
