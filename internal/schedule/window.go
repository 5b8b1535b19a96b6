// Package schedule holds the attendance-window and lesson-status logic.
// Everything here is a pure function of its inputs; the current time is
// always a parameter, never read from a clock, so callers own injection
// and tests stay deterministic.
package schedule

import (
	"time"

	"github.com/mwalimu-mwangi/attendance-system/internal/models"
)

const (
	// PreClassGrace is the fixed period before a recurring lesson's start
	// during which students may already mark themselves.
	PreClassGrace = 10 * time.Minute

	// InstantLessonMaxAge bounds how long after creation a lesson is still
	// treated as an ad-hoc "instant" lesson. Instant lessons anchor their
	// window at CreatedAt instead of the weekly slot.
	InstantLessonMaxAge = 24 * time.Hour

	minutesPerDay = 24 * 60
)

// DenialReason classifies why marking was not permitted.
type DenialReason string

const (
	DenialWindowClosed  DenialReason = "WINDOW_CLOSED"
	DenialFutureLesson  DenialReason = "FUTURE_LESSON"
	DenialInvalidLesson DenialReason = "INVALID_LESSON"
)

// Decision is the outcome of evaluating an attendance mark attempt. When
// Allowed is false, Reason says why and the window bounds describe the
// interval the caller should surface. Override is set when a privileged
// actor (or the force flag) marked outside the window; callers log it as a
// warning but never block on it.
type Decision struct {
	Allowed     bool
	Override    bool
	Instant     bool
	WindowStart time.Time
	WindowEnd   time.Time
	Reason      DenialReason
}

// InsideWindow reports whether now falls within the computed bounds.
func (d Decision) InsideWindow(now time.Time) bool {
	return !now.Before(d.WindowStart) && !now.After(d.WindowEnd)
}

// Evaluate decides whether the actor may mark attendance for the lesson at
// the given instant.
//
// Instant lessons (created within the last 24h) use the window
// [CreatedAt, CreatedAt + AttendanceWindowMinutes]. Recurring lessons resolve
// the most recent occurrence of their weekday (walking backward only, so a
// slot later today still counts as today) and use
// [occurrence − PreClassGrace, occurrence + DurationMinutes].
//
// Students are gated by the window unless the lesson is inactive (no
// restriction) or force is set. Teachers and admins always pass; outside the
// window their mark is flagged as an override. A student marking a recurring
// lesson on the wrong weekday is denied as a future lesson rather than a
// closed window; that denial carries the bounds of the upcoming occurrence,
// not the already-elapsed one, so the payload matches the message.
func Evaluate(lesson models.Lesson, now time.Time, role models.UserRole, force bool) Decision {
	if !validTiming(lesson) {
		return Decision{Allowed: false, Reason: DenialInvalidLesson}
	}

	instant := now.Sub(lesson.CreatedAt) < InstantLessonMaxAge
	start, end := window(lesson, now, instant)

	d := Decision{Instant: instant, WindowStart: start, WindowEnd: end}
	inside := d.InsideWindow(now)

	switch role {
	case models.RoleAdmin, models.RoleTeacher:
		d.Allowed = true
		d.Override = !inside
		return d
	default:
		// Students and anything unrecognised get the gated path.
		if !lesson.Active {
			d.Allowed = true
			return d
		}
		if force {
			d.Allowed = true
			d.Override = !inside
			return d
		}
		if inside {
			d.Allowed = true
			return d
		}
		if !instant && lesson.DayOfWeek != int(now.Weekday()) {
			d.Reason = DenialFutureLesson
			next := nextOccurrence(lesson, now)
			d.WindowStart = next.Add(-PreClassGrace)
			d.WindowEnd = next.Add(time.Duration(lesson.DurationMinutes) * time.Minute)
		} else {
			d.Reason = DenialWindowClosed
		}
		return d
	}
}

// Window exposes the raw bounds for a lesson at the given instant, along
// with whether the lesson evaluated as instant. Listing endpoints use it to
// annotate rows without running the full decision.
func Window(lesson models.Lesson, now time.Time) (start, end time.Time, instant bool, ok bool) {
	if !validTiming(lesson) {
		return time.Time{}, time.Time{}, false, false
	}
	instant = now.Sub(lesson.CreatedAt) < InstantLessonMaxAge
	start, end = window(lesson, now, instant)
	return start, end, instant, true
}

func window(lesson models.Lesson, now time.Time, instant bool) (time.Time, time.Time) {
	if instant {
		start := lesson.CreatedAt
		end := start.Add(time.Duration(lesson.AttendanceWindowMinutes) * time.Minute)
		return start, end
	}

	occurrence := lastOccurrence(lesson, now)
	start := occurrence.Add(-PreClassGrace)
	end := occurrence.Add(time.Duration(lesson.DurationMinutes) * time.Minute)
	return start, end
}

// lastOccurrence resolves the most recent calendar date of the lesson's
// weekday, today included. It never looks forward: if the weekday differs
// from today's the result is up to six days in the past.
func lastOccurrence(lesson models.Lesson, now time.Time) time.Time {
	daysBack := (int(now.Weekday()) - lesson.DayOfWeek + 7) % 7
	year, month, day := now.Date()
	occurrence := time.Date(year, month, day,
		lesson.StartTimeMinutes/60, lesson.StartTimeMinutes%60, 0, 0, now.Location())
	if daysBack == 0 {
		return occurrence
	}
	return occurrence.AddDate(0, 0, -daysBack)
}

// nextOccurrence resolves the soonest calendar date of the lesson's weekday
// strictly after today. Only called when the weekday differs from today's.
func nextOccurrence(lesson models.Lesson, now time.Time) time.Time {
	daysAhead := (lesson.DayOfWeek - int(now.Weekday()) + 7) % 7
	year, month, day := now.Date()
	occurrence := time.Date(year, month, day,
		lesson.StartTimeMinutes/60, lesson.StartTimeMinutes%60, 0, 0, now.Location())
	return occurrence.AddDate(0, 0, daysAhead)
}

// validTiming defensively rejects scheduling data that would produce
// nonsensical dates. Overnight lessons (crossing midnight) are rejected at
// creation time; the check here keeps the evaluator safe should one slip
// through another write path.
func validTiming(lesson models.Lesson) bool {
	if lesson.DayOfWeek < 0 || lesson.DayOfWeek > 6 {
		return false
	}
	if lesson.StartTimeMinutes < 0 || lesson.StartTimeMinutes >= minutesPerDay {
		return false
	}
	if lesson.DurationMinutes <= 0 {
		return false
	}
	if lesson.StartTimeMinutes+lesson.DurationMinutes > minutesPerDay {
		return false
	}
	if lesson.AttendanceWindowMinutes < 0 {
		return false
	}
	return true
}
