// Package reminder computes when lesson reminders fire and what they say.
package reminder

import (
	"fmt"
	"time"

	"github.com/dukerupert/crochetcal/internal/model"
)

// Kind identifies one of the reminders a lesson can produce.
type Kind string

const (
	KindDayOf        Kind = "day_of"
	KindOneHour      Kind = "one_hour"
	KindThirtyMinute Kind = "thirty_minute"
)

// Kinds lists every reminder kind in firing order.
var Kinds = []Kind{KindDayOf, KindOneHour, KindThirtyMinute}

const (
	noAddress       = "No address"
	fallbackStudent = "Student"
	displayTime     = "3:04 PM"
)

// Reminder is a single notification due at FireAt.
type Reminder struct {
	LessonID int64     `json:"lesson_id"`
	Kind     Kind      `json:"kind"`
	FireAt   time.Time `json:"fire_at"`
	Title    string    `json:"title"`
	Body     string    `json:"body"`
}

// Tag groups OS-level notification display so a newer reminder for the same
// lesson replaces the older one on the device.
func (r Reminder) Tag() string {
	return fmt.Sprintf("lesson-%d", r.LessonID)
}

// Enabled reports whether settings allow reminders of kind k.
func Enabled(settings model.NotificationSettings, k Kind) bool {
	switch k {
	case KindDayOf:
		return settings.Enable8AM
	case KindOneHour:
		return settings.Enable1Hour
	case KindThirtyMinute:
		return settings.Enable30Min
	}
	return false
}

// Calculate returns the reminders for lesson that are still ahead of now.
// The lesson's date and time are read as wall clock in loc. Candidates at or
// before now are dropped; a day-of reminder must also fall before the lesson
// starts.
func Calculate(lesson model.Lesson, client model.Client, settings model.NotificationSettings, now time.Time, loc *time.Location) ([]Reminder, error) {
	start, err := lesson.Start(loc)
	if err != nil {
		return nil, err
	}

	student := client.StudentName
	if student == "" {
		student = fallbackStudent
	}
	address := client.LessonAddress
	if address == "" {
		address = noAddress
	}
	body := fmt.Sprintf("Time: %s\nAddress: %s", start.Format(displayTime), address)

	var out []Reminder
	add := func(kind Kind, fireAt time.Time, title string) {
		if !Enabled(settings, kind) || !fireAt.After(now) {
			return
		}
		out = append(out, Reminder{
			LessonID: lesson.ID,
			Kind:     kind,
			FireAt:   fireAt,
			Title:    title,
			Body:     body,
		})
	}

	dayOf := time.Date(start.Year(), start.Month(), start.Day(), settings.Custom8AMHour, settings.Custom8AMMinute, 0, 0, loc)
	if dayOf.Before(start) {
		add(KindDayOf, dayOf, "Lesson Today: "+student)
	}
	add(KindOneHour, start.Add(-time.Hour), "Lesson in 1 Hour: "+student)
	add(KindThirtyMinute, start.Add(-30*time.Minute), "Lesson in 30 Minutes: "+student)

	return out, nil
}
