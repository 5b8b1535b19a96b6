package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwalimu-mwangi/attendance-system/internal/models"
)

// Tuesday 2026-03-10, a fixed anchor so weekday math is stable.
var tuesday = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return tuesday.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func recurringLesson(dayOfWeek, startMinutes, duration, windowMinutes int) models.Lesson {
	return models.Lesson{
		ID:                      "lesson-1",
		Subject:                 "Mathematics",
		DayOfWeek:               dayOfWeek,
		StartTimeMinutes:        startMinutes,
		DurationMinutes:         duration,
		LessonCount:             1,
		AttendanceWindowMinutes: windowMinutes,
		Active:                  true,
		// Created long ago so the lesson never evaluates as instant.
		CreatedAt: tuesday.AddDate(0, -2, 0),
	}
}

func TestEvaluateStudentInsideWindow(t *testing.T) {
	// 9:00 lesson, 60 minutes, marked at 9:15: window is 8:50-10:00.
	lesson := recurringLesson(2, 540, 60, 30)
	d := Evaluate(lesson, at(9, 15), models.RoleStudent, false)

	require.True(t, d.Allowed)
	assert.False(t, d.Override)
	assert.False(t, d.Instant)
	assert.Equal(t, at(8, 50), d.WindowStart)
	assert.Equal(t, at(10, 0), d.WindowEnd)
}

func TestEvaluateStudentPreClassGrace(t *testing.T) {
	lesson := recurringLesson(2, 540, 60, 30)

	d := Evaluate(lesson, at(8, 50), models.RoleStudent, false)
	assert.True(t, d.Allowed, "window opens 10 minutes before start")

	d = Evaluate(lesson, at(8, 49), models.RoleStudent, false)
	require.False(t, d.Allowed)
	assert.Equal(t, DenialWindowClosed, d.Reason)
}

func TestEvaluateStudentAfterWindowCloses(t *testing.T) {
	lesson := recurringLesson(2, 540, 60, 30)
	d := Evaluate(lesson, at(10, 30), models.RoleStudent, false)

	require.False(t, d.Allowed)
	assert.Equal(t, DenialWindowClosed, d.Reason)
	assert.Equal(t, at(10, 0), d.WindowEnd, "closesAt must report today 10:00")
}

func TestEvaluateStudentFutureLesson(t *testing.T) {
	// Lesson on Wednesday, marked on Tuesday. The denial reports the
	// upcoming occurrence's bounds, not last Wednesday's elapsed window.
	lesson := recurringLesson(3, 540, 60, 30)
	d := Evaluate(lesson, at(9, 0), models.RoleStudent, false)

	require.False(t, d.Allowed)
	assert.Equal(t, DenialFutureLesson, d.Reason)
	assert.Equal(t, at(8, 50).AddDate(0, 0, 1), d.WindowStart)
	assert.Equal(t, at(10, 0).AddDate(0, 0, 1), d.WindowEnd)
	assert.True(t, d.WindowStart.After(at(9, 0)), "a future-lesson denial must point forward")
}

func TestEvaluateStudentPastWeekdayStillDeniedAsFuture(t *testing.T) {
	// One row represents every weekly occurrence, so last Monday and next
	// Monday are indistinguishable; the wrong-weekday denial is uniform.
	lesson := recurringLesson(1, 540, 60, 30)
	d := Evaluate(lesson, at(9, 0), models.RoleStudent, false)

	require.False(t, d.Allowed)
	assert.Equal(t, DenialFutureLesson, d.Reason)
	assert.Equal(t, at(8, 50).AddDate(0, 0, 6), d.WindowStart, "bounds reference next Monday")
}

func TestEvaluateInactiveLessonBypassesWindow(t *testing.T) {
	lesson := recurringLesson(2, 540, 60, 30)
	lesson.Active = false

	for _, now := range []time.Time{at(0, 1), at(9, 15), at(23, 59)} {
		d := Evaluate(lesson, now, models.RoleStudent, false)
		assert.True(t, d.Allowed, "inactive lessons have no restriction at %v", now)
	}
}

func TestEvaluateForceOverridesClosedWindow(t *testing.T) {
	lesson := recurringLesson(2, 540, 60, 30)
	d := Evaluate(lesson, at(12, 0), models.RoleStudent, true)

	require.True(t, d.Allowed)
	assert.True(t, d.Override)
}

func TestEvaluateTeacherAlwaysPermitted(t *testing.T) {
	lesson := recurringLesson(2, 540, 60, 30)

	d := Evaluate(lesson, at(9, 15), models.RoleTeacher, false)
	require.True(t, d.Allowed)
	assert.False(t, d.Override)

	d = Evaluate(lesson, at(12, 0), models.RoleTeacher, false)
	require.True(t, d.Allowed)
	assert.True(t, d.Override, "outside window counts as override, not denial")

	d = Evaluate(lesson, at(12, 0), models.RoleAdmin, false)
	require.True(t, d.Allowed)
	assert.True(t, d.Override)
}

func TestEvaluateInstantLesson(t *testing.T) {
	now := at(14, 0)
	lesson := recurringLesson(2, 840, 60, 30)
	lesson.CreatedAt = now.Add(-5 * time.Minute)

	d := Evaluate(lesson, now, models.RoleStudent, false)
	require.True(t, d.Allowed)
	assert.True(t, d.Instant)
	assert.Equal(t, lesson.CreatedAt, d.WindowStart)
	assert.Equal(t, lesson.CreatedAt.Add(30*time.Minute), d.WindowEnd)
}

func TestEvaluateInstantLessonExpiredWindow(t *testing.T) {
	now := at(14, 0)
	lesson := recurringLesson(3, 840, 60, 30)
	lesson.CreatedAt = now.Add(-45 * time.Minute)

	d := Evaluate(lesson, now, models.RoleStudent, false)
	require.False(t, d.Allowed)
	// Wrong weekday, but instant lessons never classify as future.
	assert.Equal(t, DenialWindowClosed, d.Reason)
}

func TestEvaluateInstantCutoverAfter24Hours(t *testing.T) {
	lesson := recurringLesson(2, 540, 60, 30)
	lesson.CreatedAt = at(9, 15).Add(-InstantLessonMaxAge)

	d := Evaluate(lesson, at(9, 15), models.RoleStudent, false)
	require.True(t, d.Allowed, "day-old lesson falls back to the weekly window")
	assert.False(t, d.Instant)
	assert.Equal(t, at(8, 50), d.WindowStart)
}

func TestEvaluateInvalidTiming(t *testing.T) {
	cases := map[string]models.Lesson{
		"day of week too large":  recurringLesson(7, 540, 60, 30),
		"negative day of week":   recurringLesson(-1, 540, 60, 30),
		"start past midnight":    recurringLesson(2, 1440, 60, 30),
		"negative start":         recurringLesson(2, -10, 60, 30),
		"zero duration":          recurringLesson(2, 540, 0, 30),
		"crosses midnight":       recurringLesson(2, 1380, 120, 30),
		"negative window length": recurringLesson(2, 540, 60, -1),
	}
	for name, lesson := range cases {
		d := Evaluate(lesson, at(9, 15), models.RoleStudent, false)
		assert.False(t, d.Allowed, name)
		assert.Equal(t, DenialInvalidLesson, d.Reason, name)
	}
}

func TestRecurringWindowSpansDurationPlusGrace(t *testing.T) {
	for _, duration := range []int{15, 45, 60, 120, 480} {
		lesson := recurringLesson(2, 540, duration, 30)
		start, end, instant, ok := Window(lesson, at(9, 0))
		require.True(t, ok)
		require.False(t, instant)
		expected := time.Duration(duration)*time.Minute + PreClassGrace
		assert.Equal(t, expected, end.Sub(start))
	}
}

func TestInstantWindowSpansAttendanceWindow(t *testing.T) {
	for _, windowMinutes := range []int{5, 30, 90} {
		now := at(10, 0)
		lesson := recurringLesson(2, 540, 60, windowMinutes)
		lesson.CreatedAt = now.Add(-time.Minute)
		start, end, instant, ok := Window(lesson, now)
		require.True(t, ok)
		require.True(t, instant)
		assert.Equal(t, lesson.CreatedAt, start)
		assert.Equal(t, time.Duration(windowMinutes)*time.Minute, end.Sub(start))
	}
}

func TestLastOccurrenceWalksBackwardOnly(t *testing.T) {
	// Tuesday anchor: Sunday resolves two days back, Wednesday six days back.
	lesson := recurringLesson(0, 600, 60, 30)
	occ := lastOccurrence(lesson, at(9, 0))
	assert.Equal(t, tuesday.AddDate(0, 0, -2).Add(10*time.Hour), occ)

	lesson = recurringLesson(3, 600, 60, 30)
	occ = lastOccurrence(lesson, at(9, 0))
	assert.Equal(t, tuesday.AddDate(0, 0, -6).Add(10*time.Hour), occ)

	// Same weekday resolves to today even before the slot's time of day.
	lesson = recurringLesson(2, 600, 60, 30)
	occ = lastOccurrence(lesson, at(1, 0))
	assert.Equal(t, tuesday.Add(10*time.Hour), occ)
}
