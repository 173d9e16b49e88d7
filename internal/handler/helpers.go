// Package handler implements the JSON API.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/dukerupert/crochetcal/internal/model"
	"github.com/dukerupert/crochetcal/internal/reminder"
	"github.com/dukerupert/crochetcal/internal/websocket"
)

const maxBodyBytes = 1 << 20

// ReminderScheduler is notified when reminder inputs change.
type ReminderScheduler interface {
	OnLessonChanged(l model.Lesson)
	OnSettingsChanged()
	Forget(lessonID int64)
	Pending() []reminder.Reminder
}

// Publisher pushes change events to open calendars.
type Publisher interface {
	Publish(entity, action string, id int64, data any)
}

func parseIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a single JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return errors.New("invalid JSON")
	}
	return nil
}

func publish(p Publisher, entity, action string, id int64, data any) {
	if p != nil {
		p.Publish(entity, action, id, data)
	}
}

var (
	entityClient   = websocket.EntityClient
	entityLesson   = websocket.EntityLesson
	entitySettings = websocket.EntitySettings
)
