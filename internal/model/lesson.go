package model

import (
	"fmt"
	"time"
)

// Wire formats for Lesson.Date and Lesson.Time.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

type Lesson struct {
	ID        int64     `json:"id"`
	ClientID  int64     `json:"client_id"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	CreatedAt time.Time `json:"created_at"`
	Client    *Client   `json:"client,omitempty"`
}

// Start returns the lesson's start instant in loc. Seconds in the stored
// time ("14:00:00") are accepted for compatibility with older rows.
func (l Lesson) Start(loc *time.Location) (time.Time, error) {
	start, err := time.ParseInLocation(DateLayout+" "+TimeLayout, l.Date+" "+l.Time, loc)
	if err == nil {
		return start, nil
	}
	start, err = time.ParseInLocation(DateLayout+" 15:04:05", l.Date+" "+l.Time, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse lesson %d start %q %q: %w", l.ID, l.Date, l.Time, err)
	}
	return start, nil
}
