package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mwalimu-mwangi/attendance-system/internal/models"
)

func TestClassifySameDay(t *testing.T) {
	lesson := recurringLesson(2, 540, 60, 30) // Tuesday 9:00-10:00

	assert.Equal(t, StatusNotStarted, Classify(lesson, at(8, 30)))
	assert.Equal(t, StatusInProgress, Classify(lesson, at(9, 0)))
	assert.Equal(t, StatusInProgress, Classify(lesson, at(9, 59)))
	assert.Equal(t, StatusInProgress, Classify(lesson, at(10, 0)), "end minute still counts as in progress")
	assert.Equal(t, StatusCompleted, Classify(lesson, at(10, 1)))
}

func TestClassifyOtherWeekdays(t *testing.T) {
	now := at(9, 0) // Tuesday

	monday := recurringLesson(1, 540, 60, 30)
	assert.Equal(t, StatusCompleted, Classify(monday, now))

	sunday := recurringLesson(0, 540, 60, 30)
	assert.Equal(t, StatusCompleted, Classify(sunday, now), "Sunday is index 0, before Tuesday")

	wednesday := recurringLesson(3, 540, 60, 30)
	assert.Equal(t, StatusNotStarted, Classify(wednesday, now))

	saturday := recurringLesson(6, 540, 60, 30)
	assert.Equal(t, StatusNotStarted, Classify(saturday, now))
}

func TestStatusCarriesActiveFlag(t *testing.T) {
	lesson := recurringLesson(2, 540, 60, 30)
	info := Status(lesson, at(9, 30))
	assert.Equal(t, StatusInProgress, info.Status)
	assert.True(t, info.Active)

	lesson.Active = false
	info = Status(lesson, at(9, 30))
	assert.False(t, info.Active)
}

func TestClassifyAgreesWithEvaluateOnSameDay(t *testing.T) {
	// While a same-day lesson is in progress the window must also be open:
	// the classifier and evaluator share the backward-only recurrence view.
	lesson := recurringLesson(2, 540, 60, 30)
	for _, now := range []struct{ h, m int }{{9, 0}, {9, 30}, {10, 0}} {
		ts := at(now.h, now.m)
		assert.Equal(t, StatusInProgress, Classify(lesson, ts))
		d := Evaluate(lesson, ts, models.RoleStudent, false)
		assert.True(t, d.Allowed)
	}
}
