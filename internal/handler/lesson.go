package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/crochetcal/internal/model"
	"github.com/dukerupert/crochetcal/internal/store"
)

type LessonHandler struct {
	lessons   *store.LessonStore
	clients   *store.ClientStore
	scheduler ReminderScheduler
	events    Publisher
	logger    *slog.Logger
}

func NewLessonHandler(ls *store.LessonStore, cs *store.ClientStore, scheduler ReminderScheduler, events Publisher, logger *slog.Logger) *LessonHandler {
	return &LessonHandler{lessons: ls, clients: cs, scheduler: scheduler, events: events, logger: logger}
}

type lessonRequest struct {
	ClientID int64  `json:"client_id"`
	Date     string `json:"date"`
	Time     string `json:"time"`
}

// normalize validates the request and rewrites Time to HH:MM.
func (req *lessonRequest) normalize() string {
	req.Date = strings.TrimSpace(req.Date)
	req.Time = strings.TrimSpace(req.Time)
	if req.ClientID <= 0 || req.Date == "" || req.Time == "" {
		return "client_id, date, and time are required"
	}
	if _, err := time.Parse(model.DateLayout, req.Date); err != nil {
		return "date must be YYYY-MM-DD"
	}
	t, err := time.Parse(model.TimeLayout, req.Time)
	if err != nil {
		t, err = time.Parse("15:04:05", req.Time)
		if err != nil {
			return "time must be HH:MM"
		}
	}
	req.Time = t.Format(model.TimeLayout)
	return ""
}

func (h *LessonHandler) List(w http.ResponseWriter, r *http.Request) {
	lessons, err := h.lessons.List()
	if err != nil {
		h.logger.Error("list lessons", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list lessons")
		return
	}
	writeLessons(w, lessons)
}

// Range lists lessons with startDate <= date <= endDate.
func (h *LessonHandler) Range(w http.ResponseWriter, r *http.Request) {
	start := r.URL.Query().Get("startDate")
	end := r.URL.Query().Get("endDate")
	if start == "" || end == "" {
		writeError(w, http.StatusBadRequest, "startDate and endDate are required")
		return
	}
	if _, err := time.Parse(model.DateLayout, start); err != nil {
		writeError(w, http.StatusBadRequest, "startDate must be YYYY-MM-DD")
		return
	}
	if _, err := time.Parse(model.DateLayout, end); err != nil {
		writeError(w, http.StatusBadRequest, "endDate must be YYYY-MM-DD")
		return
	}

	lessons, err := h.lessons.ListByDateRange(start, end)
	if err != nil {
		h.logger.Error("list lessons by range", "start", start, "end", end, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list lessons")
		return
	}
	writeLessons(w, lessons)
}

func writeLessons(w http.ResponseWriter, lessons []model.Lesson) {
	if lessons == nil {
		lessons = []model.Lesson{}
	}
	writeJSON(w, http.StatusOK, lessons)
}

func (h *LessonHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	lesson, err := h.lessons.GetByID(id)
	if err != nil {
		h.logger.Error("get lesson", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get lesson")
		return
	}
	if lesson == nil {
		writeError(w, http.StatusNotFound, "lesson not found")
		return
	}
	writeJSON(w, http.StatusOK, lesson)
}

// decodeLesson reads and validates a lesson body. It writes the error
// response itself and returns false on failure.
func (h *LessonHandler) decodeLesson(w http.ResponseWriter, r *http.Request) (lessonRequest, bool) {
	var req lessonRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	if msg := req.normalize(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return req, false
	}

	client, err := h.clients.GetByID(req.ClientID)
	if err != nil {
		h.logger.Error("get lesson client", "client_id", req.ClientID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to look up client")
		return req, false
	}
	if client == nil {
		writeError(w, http.StatusBadRequest, "client not found")
		return req, false
	}
	return req, true
}

func (h *LessonHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeLesson(w, r)
	if !ok {
		return
	}

	lesson, err := h.lessons.Create(req.ClientID, req.Date, req.Time)
	if err != nil {
		h.logger.Error("create lesson", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create lesson")
		return
	}

	if h.scheduler != nil {
		h.scheduler.OnLessonChanged(*lesson)
	}
	publish(h.events, entityLesson, "created", lesson.ID, lesson)
	writeJSON(w, http.StatusCreated, lesson)
}

func (h *LessonHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	req, ok := h.decodeLesson(w, r)
	if !ok {
		return
	}

	lesson, err := h.lessons.Update(id, req.ClientID, req.Date, req.Time)
	if err != nil {
		h.logger.Error("update lesson", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update lesson")
		return
	}
	if lesson == nil {
		writeError(w, http.StatusNotFound, "lesson not found")
		return
	}

	if h.scheduler != nil {
		h.scheduler.OnLessonChanged(*lesson)
	}
	publish(h.events, entityLesson, "updated", lesson.ID, lesson)
	writeJSON(w, http.StatusOK, lesson)
}

func (h *LessonHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	found, err := h.lessons.Delete(id)
	if err != nil {
		h.logger.Error("delete lesson", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete lesson")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "lesson not found")
		return
	}

	if h.scheduler != nil {
		h.scheduler.Forget(id)
	}
	publish(h.events, entityLesson, "deleted", id, nil)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Lesson deleted successfully"})
}
